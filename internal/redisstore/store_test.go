package redisstore

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/kon-rad/agent-tracker/internal/model"
	"github.com/kon-rad/agent-tracker/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := New(context.Background(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func put(t *testing.T, s *Store, id, agent, ts, msgType string) {
	t.Helper()
	rec := model.NewRecord(id, model.Event{
		AgentID:     agent,
		Timestamp:   ts,
		MessageType: msgType,
		Metadata:    model.Metadata{"conversation_id": model.String("c-" + agent)},
	})
	if err := s.PutEvent(context.Background(), rec); err != nil {
		t.Fatalf("PutEvent(%s) error = %v", id, err)
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	t.Parallel()

	if _, err := New(context.Background(), "not a url"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestEventsRangeOrderAndFilter(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	put(t, s, "e1", "a1", "2025-07-24T23:59:59Z", model.MessageTypeUserMessage)
	put(t, s, "e2", "a1", "2025-07-25T00:00:00Z", model.MessageTypeUserMessage)
	put(t, s, "e3", "a1", "2025-07-25T18:00:00Z", model.MessageTypeError)
	put(t, s, "e4", "a1", "2025-07-26T00:00:00Z", model.MessageTypeUserMessage)
	put(t, s, "e5", "a2", "2025-07-25T12:00:00Z", model.MessageTypeError)

	ctx := context.Background()
	day := storage.TimeRange{StartDate: "2025-07-25", EndDate: "2025-07-25"}
	got, err := s.QueryEvents(ctx, "a1", day, storage.Descending, 0)
	if err != nil {
		t.Fatalf("QueryEvents() error = %v", err)
	}
	if len(got) != 2 || got[0].EventID != "e3" || got[1].EventID != "e2" {
		t.Fatalf("events = %+v, want [e3 e2]", got)
	}
	if got[0].ConversationID != "c-a1" {
		t.Fatalf("conversation id not persisted: %+v", got[0])
	}

	errs, err := s.ScanEvents(ctx, storage.EventFilter{MessageType: model.MessageTypeError, Range: day})
	if err != nil {
		t.Fatalf("ScanEvents() error = %v", err)
	}
	if len(errs) != 2 || errs[0].EventID != "e5" || errs[1].EventID != "e3" {
		t.Fatalf("error events = %+v, want [e5 e3]", errs)
	}

	limited, err := s.ScanEvents(ctx, storage.EventFilter{Limit: 3})
	if err != nil {
		t.Fatalf("ScanEvents() error = %v", err)
	}
	if len(limited) != 3 || limited[0].EventID != "e1" {
		t.Fatalf("limited scan = %+v", limited)
	}

	agents, err := s.ListAgents(ctx, 0)
	if err != nil {
		t.Fatalf("ListAgents() error = %v", err)
	}
	if len(agents) != 2 || agents[0] != "a1" || agents[1] != "a2" {
		t.Fatalf("agents = %v, want [a1 a2]", agents)
	}
}

func TestApplyDeltaAtomicIncrements(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	key := model.AggregateKey{AgentID: "a1", Date: "2025-07-25"}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := model.AggregateDelta{Messages: 1, Tokens: 5, UserID: "u1"}
			if i%2 == 0 {
				d.Responses = 1
				d.ResponseTime = 100
				d.ResponseN = 1
				d.Model = "gpt-4"
			}
			if err := s.ApplyDelta(ctx, key, d); err != nil {
				t.Errorf("ApplyDelta() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	aggs, err := s.QueryAggregates(ctx, "a1", "2025-07-24", "2025-07-26")
	if err != nil {
		t.Fatalf("QueryAggregates() error = %v", err)
	}
	if len(aggs) != 1 {
		t.Fatalf("len(aggregates) = %d, want 1", len(aggs))
	}
	a := aggs[0]
	if a.TotalMessages != 20 || a.TotalResponses != 10 || a.TotalTokensUsed != 100 {
		t.Fatalf("counters = %+v", a)
	}
	if a.ResponseTimeSum != 1000 || a.ResponseCount != 10 {
		t.Fatalf("response time = %d/%d, want 1000/10", a.ResponseTimeSum, a.ResponseCount)
	}
	if a.Visitors() != 1 || a.ModelUsage["gpt-4"] != 10 {
		t.Fatalf("visitors/models = %d/%v", a.Visitors(), a.ModelUsage)
	}
}

func TestScanAggregatesByDay(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	for _, k := range []model.AggregateKey{
		{AgentID: "a1", Date: "2025-07-24"},
		{AgentID: "a1", Date: "2025-07-25"},
		{AgentID: "a2", Date: "2025-07-25"},
		{AgentID: "a2", Date: "2025-08-01"},
	} {
		if err := s.ApplyDelta(ctx, k, model.AggregateDelta{Messages: 1}); err != nil {
			t.Fatalf("ApplyDelta() error = %v", err)
		}
	}

	aggs, err := s.ScanAggregates(ctx, "2025-07-25", "2025-07-31", 0)
	if err != nil {
		t.Fatalf("ScanAggregates() error = %v", err)
	}
	if len(aggs) != 2 {
		t.Fatalf("len(aggregates) = %d, want 2", len(aggs))
	}
	for _, a := range aggs {
		if a.Date != "2025-07-25" || a.TotalMessages != 1 {
			t.Fatalf("unexpected aggregate %+v", a)
		}
	}

	if _, err := s.ScanAggregates(ctx, "bad", "2025-07-31", 0); err == nil {
		t.Fatalf("expected invalid date error")
	}
}
