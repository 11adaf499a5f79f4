// Package storagetest provides an in-memory SearchBackend for tests.
package storagetest

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/kon-rad/agent-tracker/internal/dates"
	"github.com/kon-rad/agent-tracker/internal/model"
	"github.com/kon-rad/agent-tracker/internal/storage"
)

var ErrDown = errors.New("search backend down")

// Search mimics the mongo backend's filtering and bucketing semantics.
type Search struct {
	mu     sync.Mutex
	events map[string]model.EventRecord
	spans  []model.Span

	// FailWrites makes IndexEvent and IndexSpans return ErrDown.
	FailWrites bool
}

var _ storage.SearchBackend = (*Search)(nil)

func NewSearch() *Search {
	return &Search{events: map[string]model.EventRecord{}}
}

func (s *Search) IndexEvent(_ context.Context, rec model.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return ErrDown
	}
	s.events[rec.EventID] = rec
	return nil
}

func (s *Search) EventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func inRange(ts string, r storage.TimeRange) bool {
	t, err := dates.ParseTimestamp(ts)
	if err != nil {
		return r.StartDate == "" && r.EndDate == ""
	}
	day := t.UTC().Format(dates.DayLayout)
	if r.StartDate != "" && day < r.StartDate {
		return false
	}
	if r.EndDate != "" && day > r.EndDate {
		return false
	}
	return true
}

func matchAgent(agent string, agents []string) bool {
	if len(agents) == 0 {
		return true
	}
	for _, a := range agents {
		if a == agent {
			return true
		}
	}
	return false
}

func (s *Search) SearchEvents(_ context.Context, q storage.EventSearch) ([]model.EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.EventRecord
	for _, rec := range s.events {
		if !matchAgent(rec.AgentID, q.AgentIDs) {
			continue
		}
		if q.MessageType != "" && rec.MessageType != q.MessageType {
			continue
		}
		if !inRange(rec.Timestamp, q.Range) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp == out[j].Timestamp {
			return out[i].EventID < out[j].EventID
		}
		if q.Order == storage.Descending {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].Timestamp < out[j].Timestamp
	})
	if q.Size > 0 && len(out) > q.Size {
		out = out[:q.Size]
	}
	return out, nil
}

func (s *Search) DailyHistogram(_ context.Context, q storage.HistogramQuery) ([]storage.DayBucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buckets := map[string]*storage.DayBucket{}
	for _, rec := range s.events {
		if !matchAgent(rec.AgentID, q.AgentIDs) {
			continue
		}
		t, err := dates.ParseTimestamp(rec.Timestamp)
		if err != nil || !inRange(rec.Timestamp, q.Range) {
			continue
		}
		day := t.UTC().Format(dates.DayLayout)
		b, ok := buckets[day]
		if !ok {
			b = &storage.DayBucket{Date: day, ModelUsage: map[string]int64{}}
			buckets[day] = b
		}
		b.Count++
		if rec.MessageType == model.MessageTypeError {
			b.Errors++
		}
		if rec.ModelUsed != nil && *rec.ModelUsed != "" {
			b.ModelUsage[*rec.ModelUsed]++
		}
	}
	out := make([]storage.DayBucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (s *Search) IndexSpans(_ context.Context, spans []model.Span) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return 0, ErrDown
	}
	s.spans = append(s.spans, spans...)
	return len(spans), nil
}

func (s *Search) SpansByTrace(_ context.Context, traceID string, limit int) ([]model.Span, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []model.Span{}
	for _, sp := range s.spans {
		if sp.TraceID == traceID {
			out = append(out, sp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return dates.Compare(out[i].StartTime, out[j].StartTime) < 0 })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Search) Ping(context.Context) error { return nil }

func (s *Search) Close() error { return nil }
