package query

import (
	"context"
	"sort"

	"github.com/kon-rad/agent-tracker/internal/dates"
	"github.com/kon-rad/agent-tracker/internal/model"
	"github.com/kon-rad/agent-tracker/internal/storage"
)

type ConversationBuilder struct {
	source        Source
	candidateSize int
}

func NewConversationBuilder(source Source, candidateSize int) *ConversationBuilder {
	return &ConversationBuilder{source: source, candidateSize: candidateSize}
}

// Build fetches up to candidateSize events in range and reconstructs
// conversations from them, most recent first.
func (b *ConversationBuilder) Build(ctx context.Context, r storage.TimeRange, agentID string, limit int) ([]model.Conversation, error) {
	q := EventQuery{Range: r, Order: storage.Ascending, Limit: b.candidateSize}
	if agentID != "" {
		q.AgentIDs = []string{agentID}
	}
	events, err := b.source.Events(ctx, q)
	if err != nil {
		return nil, err
	}
	return Reconstruct(events, limit), nil
}

// Reconstruct groups events by correlation key. Events without a
// conversation or trace id are dropped. Groups keep first-seen order until
// the final stable sort by startedAt descending.
func Reconstruct(events []model.EventRecord, limit int) []model.Conversation {
	var order []string
	groups := map[string][]model.EventRecord{}
	for _, ev := range events {
		key, ok := ev.CorrelationKey()
		if !ok {
			continue
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], ev)
	}

	convs := make([]model.Conversation, 0, len(order))
	for _, key := range order {
		convs = append(convs, summarize(key, groups[key]))
	}
	sort.SliceStable(convs, func(i, j int) bool {
		return dates.Compare(convs[i].StartedAt, convs[j].StartedAt) > 0
	})
	if limit >= 0 && len(convs) > limit {
		convs = convs[:limit]
	}
	return convs
}

func summarize(key string, evs []model.EventRecord) model.Conversation {
	sortRecords(evs, storage.Ascending)
	first, last := evs[0], evs[len(evs)-1]

	status := model.ConversationCompleted
	for _, ev := range evs {
		if ev.MessageType == model.MessageTypeError {
			status = model.ConversationError
			break
		}
	}
	return model.Conversation{
		ID:           key,
		AgentID:      first.AgentID,
		StartedAt:    first.Timestamp,
		Duration:     durationSeconds(first.Timestamp, last.Timestamp),
		MessageCount: len(evs),
		Status:       status,
	}
}

// durationSeconds is whole seconds between two timestamps, 0 when either
// does not parse.
func durationSeconds(from, to string) int64 {
	start, err := dates.ParseTimestamp(from)
	if err != nil {
		return 0
	}
	end, err := dates.ParseTimestamp(to)
	if err != nil {
		return 0
	}
	return int64(end.Sub(start).Seconds())
}

func sortRecords(recs []model.EventRecord, order storage.Order) {
	sort.SliceStable(recs, func(i, j int) bool {
		c := dates.Compare(recs[i].Timestamp, recs[j].Timestamp)
		if order == storage.Descending {
			return c > 0
		}
		return c < 0
	})
}
