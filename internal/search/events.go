package search

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kon-rad/agent-tracker/internal/dates"
	"github.com/kon-rad/agent-tracker/internal/model"
	"github.com/kon-rad/agent-tracker/internal/storage"
)

type eventDoc struct {
	EventID        string     `bson:"_id"`
	AgentID        string     `bson:"agent_id"`
	Timestamp      string     `bson:"timestamp"`
	At             *time.Time `bson:"@timestamp,omitempty"`
	MessageType    string     `bson:"message_type"`
	Content        *string    `bson:"content,omitempty"`
	Metadata       bson.M     `bson:"metadata,omitempty"`
	ErrorDetails   *string    `bson:"error_details,omitempty"`
	ResponseTimeMS *int64     `bson:"response_time_ms,omitempty"`
	TokenCount     *int64     `bson:"token_count,omitempty"`
	ModelUsed      *string    `bson:"model_used,omitempty"`
	UserFeedback   *int64     `bson:"user_feedback,omitempty"`
	TraceID        string     `bson:"trace_id,omitempty"`
	ConversationID string     `bson:"conversation_id,omitempty"`
	UserID         string     `bson:"user_id,omitempty"`
}

func toEventDoc(rec model.EventRecord) eventDoc {
	doc := eventDoc{
		EventID:        rec.EventID,
		AgentID:        rec.AgentID,
		Timestamp:      rec.Timestamp,
		MessageType:    rec.MessageType,
		Content:        rec.Content,
		Metadata:       metadataToBSON(rec.Metadata),
		ErrorDetails:   rec.ErrorDetails,
		ResponseTimeMS: rec.ResponseTimeMS,
		TokenCount:     rec.TokenCount,
		ModelUsed:      rec.ModelUsed,
		UserFeedback:   rec.UserFeedback,
		TraceID:        rec.TraceID,
		ConversationID: rec.ConversationID,
		UserID:         rec.UserID,
	}
	if t, err := dates.ParseTimestamp(rec.Timestamp); err == nil {
		at := t.UTC()
		doc.At = &at
	}
	return doc
}

func (d eventDoc) record() model.EventRecord {
	return model.EventRecord{
		EventID:        d.EventID,
		TraceID:        d.TraceID,
		ConversationID: d.ConversationID,
		UserID:         d.UserID,
		Event: model.Event{
			AgentID:        d.AgentID,
			Timestamp:      d.Timestamp,
			MessageType:    d.MessageType,
			Content:        d.Content,
			Metadata:       metadataFromBSON(d.Metadata),
			ErrorDetails:   d.ErrorDetails,
			ResponseTimeMS: d.ResponseTimeMS,
			TokenCount:     d.TokenCount,
			ModelUsed:      d.ModelUsed,
			UserFeedback:   d.UserFeedback,
		},
	}
}

// IndexEvent upserts the mirror document keyed by event id.
func (s *Store) IndexEvent(ctx context.Context, rec model.EventRecord) error {
	doc := toEventDoc(rec)
	_, err := s.events.ReplaceOne(ctx, bson.M{"_id": doc.EventID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("index event %s: %w", rec.EventID, err)
	}
	return nil
}

// rangeFilter bounds @timestamp to whole UTC days, end inclusive.
func rangeFilter(r storage.TimeRange) (bson.M, error) {
	bounds := bson.M{}
	if r.StartDate != "" {
		start, err := dates.ParseDay(r.StartDate)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
		bounds["$gte"] = start
	}
	if r.EndDate != "" {
		end, err := dates.ParseDay(r.EndDate)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
		bounds["$lt"] = end.AddDate(0, 0, 1)
	}
	if len(bounds) == 0 {
		return nil, nil
	}
	return bounds, nil
}

func eventFilter(agentIDs []string, messageType string, r storage.TimeRange) (bson.M, error) {
	filter := bson.M{}
	switch len(agentIDs) {
	case 0:
	case 1:
		filter["agent_id"] = agentIDs[0]
	default:
		filter["agent_id"] = bson.M{"$in": agentIDs}
	}
	if messageType != "" {
		filter["message_type"] = messageType
	}
	bounds, err := rangeFilter(r)
	if err != nil {
		return nil, err
	}
	if bounds != nil {
		filter["@timestamp"] = bounds
	}
	return filter, nil
}

func (s *Store) SearchEvents(ctx context.Context, q storage.EventSearch) ([]model.EventRecord, error) {
	filter, err := eventFilter(q.AgentIDs, q.MessageType, q.Range)
	if err != nil {
		return nil, err
	}
	dir := 1
	if q.Order == storage.Descending {
		dir = -1
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: dir}, {Key: "_id", Value: dir}})
	if q.Size > 0 {
		opts.SetLimit(int64(q.Size))
	}

	cursor, err := s.events.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("search events: %w", err)
	}
	defer cursor.Close(ctx)

	var out []model.EventRecord
	for cursor.Next(ctx) {
		var doc eventDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, doc.record())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("search events cursor: %w", err)
	}
	return out, nil
}

// histogramPipeline groups raw events by UTC calendar day and model.
func histogramPipeline(match bson.M) []bson.D {
	return []bson.D{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{
			"_id": bson.M{
				"day":   bson.M{"$dateToString": bson.M{"format": "%Y-%m-%d", "date": "$@timestamp"}},
				"model": "$model_used",
			},
			"count":  bson.M{"$sum": 1},
			"errors": bson.M{"$sum": bson.M{"$cond": bson.A{bson.M{"$eq": bson.A{"$message_type", model.MessageTypeError}}, 1, 0}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id.day", Value: 1}}}},
	}
}

type histogramRow struct {
	ID struct {
		Day   string  `bson:"day"`
		Model *string `bson:"model"`
	} `bson:"_id"`
	Count  int64 `bson:"count"`
	Errors int64 `bson:"errors"`
}

func (s *Store) DailyHistogram(ctx context.Context, q storage.HistogramQuery) ([]storage.DayBucket, error) {
	match, err := eventFilter(q.AgentIDs, "", q.Range)
	if err != nil {
		return nil, err
	}
	if _, ok := match["@timestamp"]; !ok {
		match["@timestamp"] = bson.M{"$exists": true}
	}

	cursor, err := s.events.Aggregate(ctx, histogramPipeline(match))
	if err != nil {
		return nil, fmt.Errorf("aggregate histogram: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []histogramRow
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode histogram: %w", err)
	}
	return foldHistogram(rows), nil
}

// foldHistogram merges per-(day, model) rows into one bucket per day.
func foldHistogram(rows []histogramRow) []storage.DayBucket {
	var out []storage.DayBucket
	index := map[string]int{}
	for _, row := range rows {
		i, ok := index[row.ID.Day]
		if !ok {
			i = len(out)
			index[row.ID.Day] = i
			out = append(out, storage.DayBucket{Date: row.ID.Day, ModelUsage: map[string]int64{}})
		}
		out[i].Count += row.Count
		out[i].Errors += row.Errors
		if row.ID.Model != nil && *row.ID.Model != "" {
			out[i].ModelUsage[*row.ID.Model] += row.Count
		}
	}
	return out
}
