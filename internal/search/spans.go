package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kon-rad/agent-tracker/internal/dates"
	"github.com/kon-rad/agent-tracker/internal/model"
)

type spanDoc struct {
	TraceID      string     `bson:"trace_id"`
	SpanID       string     `bson:"span_id"`
	ParentSpanID *string    `bson:"parent_span_id,omitempty"`
	Name         string     `bson:"name"`
	StartTime    string     `bson:"start_time"`
	EndTime      *string    `bson:"end_time,omitempty"`
	Status       *string    `bson:"status,omitempty"`
	ServiceName  *string    `bson:"service_name,omitempty"`
	Attributes   bson.M     `bson:"attributes,omitempty"`
	At           *time.Time `bson:"@timestamp,omitempty"`
}

func toSpanDoc(sp model.Span) spanDoc {
	doc := spanDoc{
		TraceID:      sp.TraceID,
		SpanID:       sp.SpanID,
		ParentSpanID: sp.ParentSpanID,
		Name:         sp.Name,
		StartTime:    sp.StartTime,
		EndTime:      sp.EndTime,
		Status:       sp.Status,
		ServiceName:  sp.ServiceName,
	}
	if sp.Attributes != nil {
		doc.Attributes = bson.M(sp.Attributes)
	}
	if t, err := dates.ParseTimestamp(sp.StartTime); err == nil {
		at := t.UTC()
		doc.At = &at
	}
	return doc
}

func (d spanDoc) span() model.Span {
	return model.Span{
		TraceID:      d.TraceID,
		SpanID:       d.SpanID,
		ParentSpanID: d.ParentSpanID,
		Name:         d.Name,
		StartTime:    d.StartTime,
		EndTime:      d.EndTime,
		Status:       d.Status,
		ServiceName:  d.ServiceName,
		Attributes:   plainMap(d.Attributes),
	}
}

// IndexSpans inserts the batch unordered and reports how many documents
// were written. A partial failure returns the written count with the error.
func (s *Store) IndexSpans(ctx context.Context, spans []model.Span) (int, error) {
	if len(spans) == 0 {
		return 0, nil
	}
	docs := make([]any, len(spans))
	for i, sp := range spans {
		docs[i] = toSpanDoc(sp)
	}
	res, err := s.spans.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil {
		var bulkErr mongo.BulkWriteException
		if errors.As(err, &bulkErr) {
			written := len(spans) - len(bulkErr.WriteErrors)
			return written, fmt.Errorf("index spans: %d of %d failed: %w", len(bulkErr.WriteErrors), len(spans), err)
		}
		return 0, fmt.Errorf("index spans: %w", err)
	}
	return len(res.InsertedIDs), nil
}

// SpansByTrace returns a trace's spans in start order. @timestamp is the
// parsed start time; the raw text only breaks ties.
func (s *Store) SpansByTrace(ctx context.Context, traceID string, limit int) ([]model.Span, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "@timestamp", Value: 1},
		{Key: "start_time", Value: 1},
		{Key: "_id", Value: 1},
	})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.spans.Find(ctx, bson.M{"trace_id": traceID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find spans: %w", err)
	}
	defer cursor.Close(ctx)

	out := []model.Span{}
	for cursor.Next(ctx) {
		var doc spanDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode span: %w", err)
		}
		out = append(out, doc.span())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("spans cursor: %w", err)
	}
	return out, nil
}
