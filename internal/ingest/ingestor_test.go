package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kon-rad/agent-tracker/internal/db"
	"github.com/kon-rad/agent-tracker/internal/metrics"
	"github.com/kon-rad/agent-tracker/internal/model"
	"github.com/kon-rad/agent-tracker/internal/storage"
	"github.com/kon-rad/agent-tracker/internal/storage/storagetest"
)

func i64(n int64) *int64 { return &n }

func strp(s string) *string { return &s }

func newTestKV(t *testing.T) *db.Manager {
	t.Helper()
	dbm, err := db.Open(filepath.Join(t.TempDir(), "ingest.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = dbm.Close() })
	return dbm
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestRecordTwoEventsUpdatesDailyAggregate(t *testing.T) {
	t.Parallel()

	kv := newTestKV(t)
	ing := NewIngestor(discardLogger(), kv, nil, nil)
	ctx := context.Background()

	_, err := ing.Record(ctx, "a1", model.Event{
		Timestamp:   "2025-07-25T10:00:00Z",
		MessageType: model.MessageTypeUserMessage,
		TokenCount:  i64(50),
		Metadata:    model.Metadata{"user_id": model.String("u1")},
	})
	if err != nil {
		t.Fatalf("Record(user_message) error = %v", err)
	}
	_, err = ing.Record(ctx, "a1", model.Event{
		Timestamp:      "2025-07-25T10:00:02Z",
		MessageType:    model.MessageTypeAgentResponse,
		TokenCount:     i64(20),
		ResponseTimeMS: i64(240),
		ModelUsed:      strp("gpt-4"),
	})
	if err != nil {
		t.Fatalf("Record(agent_response) error = %v", err)
	}

	aggs, err := kv.QueryAggregates(ctx, "a1", "2025-07-25", "2025-07-25")
	if err != nil {
		t.Fatalf("QueryAggregates() error = %v", err)
	}
	if len(aggs) != 1 {
		t.Fatalf("len(aggregates) = %d, want 1", len(aggs))
	}
	a := aggs[0]
	if a.TotalMessages != 2 || a.TotalResponses != 1 || a.TotalErrors != 0 || a.TotalTokensUsed != 70 {
		t.Fatalf("counters = %+v, want 2/1/0/70", a)
	}
	if avg := float64(a.ResponseTimeSum) / float64(a.ResponseCount); avg != 240.0 {
		t.Fatalf("average response time = %v, want 240", avg)
	}
	if a.Visitors() != 1 || a.ModelUsage["gpt-4"] != 1 {
		t.Fatalf("visitors/models = %d/%v", a.Visitors(), a.ModelUsage)
	}
}

func TestRecordOverridesAgentAndHoistsIDs(t *testing.T) {
	t.Parallel()

	kv := newTestKV(t)
	search := storagetest.NewSearch()
	ing := NewIngestor(discardLogger(), kv, search, nil)
	ctx := context.Background()

	id, err := ing.Record(ctx, "path-agent", model.Event{
		AgentID:     "body-agent",
		Timestamp:   "2025-07-25T10:00:00Z",
		MessageType: model.MessageTypeUserMessage,
		Metadata:    model.Metadata{"trace_id": model.String("tr-1"), "conversation_id": model.String("c-1")},
	})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if id == "" {
		t.Fatalf("expected generated event id")
	}

	recs, err := kv.QueryEvents(ctx, "path-agent", storage.TimeRange{}, storage.Ascending, 0)
	if err != nil {
		t.Fatalf("QueryEvents() error = %v", err)
	}
	if len(recs) != 1 || recs[0].EventID != id || recs[0].TraceID != "tr-1" || recs[0].ConversationID != "c-1" {
		t.Fatalf("stored records = %+v", recs)
	}
	if search.EventCount() != 1 {
		t.Fatalf("mirror count = %d, want 1", search.EventCount())
	}
}

func TestRecordSwallowsMirrorFailure(t *testing.T) {
	t.Parallel()

	kv := newTestKV(t)
	search := storagetest.NewSearch()
	search.FailWrites = true
	rec := metrics.NewRecorder()
	ing := NewIngestor(discardLogger(), kv, search, rec)

	id, err := ing.Record(context.Background(), "a1", model.Event{
		Timestamp:   "2025-07-25T10:00:00Z",
		MessageType: model.MessageTypeError,
	})
	if err != nil {
		t.Fatalf("Record() error = %v, want mirror failure swallowed", err)
	}
	if id == "" {
		t.Fatalf("expected event id")
	}
	aggs, _ := kv.QueryAggregates(context.Background(), "a1", "2025-07-25", "2025-07-25")
	if len(aggs) != 1 || aggs[0].TotalErrors != 1 {
		t.Fatalf("aggregate not updated after mirror failure: %+v", aggs)
	}
}

func TestRecordResubmissionDuplicates(t *testing.T) {
	t.Parallel()

	kv := newTestKV(t)
	ing := NewIngestor(discardLogger(), kv, nil, nil)
	ctx := context.Background()
	ev := model.Event{Timestamp: "2025-07-25T10:00:00Z", MessageType: model.MessageTypeUserMessage, TokenCount: i64(5)}

	first, err := ing.Record(ctx, "a1", ev)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	second, err := ing.Record(ctx, "a1", ev)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if first == second {
		t.Fatalf("resubmission reused event id %q", first)
	}
	count, _ := kv.EventCount(ctx)
	if count != 2 {
		t.Fatalf("event count = %d, want 2", count)
	}
	aggs, _ := kv.QueryAggregates(ctx, "a1", "2025-07-25", "2025-07-25")
	if aggs[0].TotalMessages != 2 || aggs[0].TotalTokensUsed != 10 {
		t.Fatalf("aggregate = %+v, want double counted", aggs[0])
	}
}

func TestRecordValidation(t *testing.T) {
	t.Parallel()

	kv := newTestKV(t)
	ing := NewIngestor(discardLogger(), kv, nil, nil)
	ctx := context.Background()

	cases := map[string]struct {
		agent string
		ev    model.Event
		want  string
	}{
		"missing timestamp": {"a1", model.Event{MessageType: "x"}, "timestamp is required"},
		"missing type":      {"a1", model.Event{Timestamp: "2025-07-25"}, "message_type is required"},
		"missing agent":     {"", model.Event{Timestamp: "2025-07-25", MessageType: "x"}, "agent_id is required"},
		"feedback zero":     {"a1", model.Event{Timestamp: "2025-07-25", MessageType: "x", UserFeedback: i64(0)}, "user_feedback"},
		"feedback six":      {"a1", model.Event{Timestamp: "2025-07-25", MessageType: "x", UserFeedback: i64(6)}, "user_feedback must be <= 5"},
		"negative tokens":   {"a1", model.Event{Timestamp: "2025-07-25", MessageType: "x", TokenCount: i64(-1)}, "token_count"},
	}
	for name, tc := range cases {
		_, err := ing.Record(ctx, tc.agent, tc.ev)
		if !errors.Is(err, storage.ErrInvalidInput) {
			t.Fatalf("%s: error = %v, want ErrInvalidInput", name, err)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: error = %q, want mention of %q", name, err, tc.want)
		}
	}
	if count, _ := kv.EventCount(ctx); count != 0 {
		t.Fatalf("rejected events were stored: %d", count)
	}
}

type failingKV struct {
	storage.KeyValueBackend
}

func (failingKV) PutEvent(context.Context, model.EventRecord) error {
	return errors.New("disk full")
}

func TestRecordPrimaryFailureIsUnavailable(t *testing.T) {
	t.Parallel()

	search := storagetest.NewSearch()
	ing := NewIngestor(discardLogger(), failingKV{}, search, nil)
	_, err := ing.Record(context.Background(), "a1", model.Event{Timestamp: "2025-07-25", MessageType: "x"})
	if !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
	if search.EventCount() != 0 {
		t.Fatalf("mirror written after primary failure")
	}
}

func TestDeltaFor(t *testing.T) {
	t.Parallel()

	key, d := DeltaFor(model.Event{
		AgentID:      "a1",
		Timestamp:    "2025-07-25T23:30:00-05:00",
		MessageType:  model.MessageTypeFeedback,
		UserFeedback: i64(4),
		Metadata:     model.Metadata{"user_id": model.Number(12)},
	})
	if key.Date != "2025-07-25" {
		t.Fatalf("date = %q, want offset-local 2025-07-25", key.Date)
	}
	if d.Messages != 1 || d.Feedback != 4 || d.FeedbackN != 1 || d.UserID != "12" || d.Responses != 0 {
		t.Fatalf("delta = %+v", d)
	}
}
