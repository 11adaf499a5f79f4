package query

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/kon-rad/agent-tracker/internal/ingest"
	"github.com/kon-rad/agent-tracker/internal/model"
	"github.com/kon-rad/agent-tracker/internal/storage"
	"github.com/kon-rad/agent-tracker/internal/storage/storagetest"
)

func newTestService(t *testing.T, search storage.SearchBackend) *Service {
	t.Helper()
	kv := newTestKV(t)
	logger := discardLogger()
	var svc *Service
	if search == nil {
		svc = NewService(logger, ingest.NewIngestor(logger, kv, nil, nil), NewRouter(logger, kv, nil, Limits{}), nil)
	} else {
		svc = NewService(logger, ingest.NewIngestor(logger, kv, search, nil), NewRouter(logger, kv, search, Limits{}), nil)
	}
	svc.SetClock(fixedClock)
	return svc
}

func TestServiceAgentMetricsRoundTrip(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)
	ctx := context.Background()
	if _, err := svc.RecordEvent(ctx, "a1", model.Event{
		Timestamp:   "2025-07-25T10:00:00Z",
		MessageType: model.MessageTypeUserMessage,
		TokenCount:  i64(50),
	}); err != nil {
		t.Fatalf("RecordEvent() error = %v", err)
	}
	resp, err := svc.RecordEvent(ctx, "a1", model.Event{
		Timestamp:      "2025-07-25T10:00:02Z",
		MessageType:    model.MessageTypeAgentResponse,
		TokenCount:     i64(20),
		ResponseTimeMS: i64(240),
	})
	if err != nil {
		t.Fatalf("RecordEvent() error = %v", err)
	}
	if resp.EventID == "" || resp.Status != "success" {
		t.Fatalf("response = %+v", resp)
	}

	got, err := svc.AgentMetrics(ctx, "a1", MetricsParams{StartDate: "2025-07-25", EndDate: "2025-07-25"})
	if err != nil {
		t.Fatalf("AgentMetrics() error = %v", err)
	}
	m := got.Metrics
	if m.TotalMessages != 2 || m.TotalResponses != 1 || m.TotalErrors != 0 || m.TotalTokensUsed != 70 || m.AverageResponseTime != 240.0 {
		t.Fatalf("metrics = %+v, want {2,1,0,70,240}", m)
	}
	if m.AverageFeedbackScore != 0 {
		t.Fatalf("average feedback = %v, want 0", m.AverageFeedbackScore)
	}
	if m.Date != "2025-07-25_to_2025-07-25" || got.TimeRange != "2025-07-25 to 2025-07-25" {
		t.Fatalf("labels = %q / %q", m.Date, got.TimeRange)
	}
}

func TestServiceAgentMetricsDefaultWindow(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)
	got, err := svc.AgentMetrics(context.Background(), "a1", MetricsParams{Days: 3})
	if err != nil {
		t.Fatalf("AgentMetrics() error = %v", err)
	}
	if got.TimeRange != "2025-07-23 to 2025-07-26" {
		t.Fatalf("time range = %q, want 2025-07-23 to 2025-07-26", got.TimeRange)
	}
	if _, err := svc.AgentMetrics(context.Background(), "a1", MetricsParams{StartDate: "yesterday"}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Fatalf("bad start error = %v, want ErrInvalidInput", err)
	}
}

func TestServiceConcurrentIngestCountsEverySubmission(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)
	ctx := context.Background()
	const n = 40

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.RecordEvent(ctx, "a1", model.Event{
				Timestamp:   fmt.Sprintf("2025-07-25T10:00:%02dZ", i%60),
				MessageType: model.MessageTypeUserMessage,
				TokenCount:  i64(1),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("RecordEvent() error = %v", err)
		}
	}

	got, err := svc.AgentMetrics(ctx, "a1", MetricsParams{StartDate: "2025-07-25", EndDate: "2025-07-25"})
	if err != nil {
		t.Fatalf("AgentMetrics() error = %v", err)
	}
	if got.Metrics.TotalMessages != n || got.Metrics.TotalTokensUsed != n {
		t.Fatalf("totals = %d/%d, want %d", got.Metrics.TotalMessages, got.Metrics.TotalTokensUsed, n)
	}
}

func TestServiceDashboardKPIsWithoutEvents(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)
	got, err := svc.DashboardKPIs(context.Background(), RangeParams{})
	if err != nil {
		t.Fatalf("DashboardKPIs() error = %v", err)
	}
	if got.StartDate != "2025-07-19" || got.EndDate != "2025-07-26" || got.Agents != nil {
		t.Fatalf("window = %s..%s agents=%v", got.StartDate, got.EndDate, got.Agents)
	}
	for _, k := range got.KPIs {
		if k.Value != 0 {
			t.Fatalf("%s = %v, want 0", k.Title, k.Value)
		}
	}
}

func TestServiceSeriesDefaultsToThirtyDays(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)
	got, err := svc.MetricsSeries(context.Background(), RangeParams{Agents: []string{"a1"}})
	if err != nil {
		t.Fatalf("MetricsSeries() error = %v", err)
	}
	if len(got.Items) != 31 || got.StartDate != "2025-06-26" {
		t.Fatalf("series = %d points from %s, want 31 from 2025-06-26", len(got.Items), got.StartDate)
	}
	if len(got.Agents) != 1 {
		t.Fatalf("agents = %v", got.Agents)
	}
}

func TestServiceListEventsFromEitherSource(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name   string
		search storage.SearchBackend
	}{
		{name: "kv"},
		{name: "search", search: storagetest.NewSearch()},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			svc := newTestService(t, tc.search)
			ctx := context.Background()
			for i, mt := range []string{model.MessageTypeUserMessage, model.MessageTypeError, model.MessageTypeUserMessage} {
				_, err := svc.RecordEvent(ctx, "a1", model.Event{
					Timestamp:   fmt.Sprintf("2025-07-25T10:00:0%dZ", i),
					MessageType: mt,
					Content:     strp(fmt.Sprint(i)),
				})
				if err != nil {
					t.Fatalf("RecordEvent() error = %v", err)
				}
			}

			got, err := svc.ListEvents(ctx, EventsParams{AgentID: "a1", StartDate: "2025-07-25", EndDate: "2025-07-25", Limit: 2})
			if err != nil {
				t.Fatalf("ListEvents() error = %v", err)
			}
			if len(got.Items) != 2 || *got.Items[0].Content != "2" || *got.Items[1].Content != "1" {
				t.Fatalf("items = %+v, want newest two", got.Items)
			}
			if got.NextKey != nil {
				t.Fatalf("next_key = %v, want nil", got.NextKey)
			}

			errs, err := svc.ListEvents(ctx, EventsParams{MessageType: model.MessageTypeError, StartDate: "2025-07-25", EndDate: "2025-07-25"})
			if err != nil || len(errs.Items) != 1 {
				t.Fatalf("filtered = %+v/%v, want one error event", errs.Items, err)
			}

			outside, err := svc.ListEvents(ctx, EventsParams{AgentID: "a1", StartDate: "2025-07-26"})
			if err != nil || len(outside.Items) != 0 {
				t.Fatalf("open end = %+v/%v, want empty", outside.Items, err)
			}
		})
	}
}

func TestServiceConversationsAndAgents(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)
	ctx := context.Background()
	for _, ev := range []struct {
		agent, ts, mt, conv string
	}{
		{"a2", "2025-07-24T09:00:00Z", model.MessageTypeUserMessage, "c1"},
		{"a2", "2025-07-24T09:00:30Z", model.MessageTypeError, "c1"},
		{"a1", "2025-07-25T09:00:00Z", model.MessageTypeUserMessage, "c2"},
		{"a1", "2025-07-25T09:01:00Z", model.MessageTypeUserMessage, ""},
	} {
		e := model.Event{Timestamp: ev.ts, MessageType: ev.mt}
		if ev.conv != "" {
			e.Metadata = model.Metadata{"conversation_id": model.String(ev.conv)}
		}
		if _, err := svc.RecordEvent(ctx, ev.agent, e); err != nil {
			t.Fatalf("RecordEvent() error = %v", err)
		}
	}

	got, err := svc.ListConversations(ctx, ConversationParams{})
	if err != nil {
		t.Fatalf("ListConversations() error = %v", err)
	}
	if len(got.Items) != 2 || got.Items[0].ID != "c2" || got.Items[1].Status != model.ConversationError || got.Items[1].Duration != 30 {
		t.Fatalf("conversations = %+v", got.Items)
	}

	byAgent, err := svc.ListConversations(ctx, ConversationParams{AgentID: "a2", Limit: 5})
	if err != nil || len(byAgent.Items) != 1 || byAgent.Items[0].ID != "c1" {
		t.Fatalf("by agent = %+v/%v", byAgent.Items, err)
	}

	agents, err := svc.ListAgents(ctx)
	if err != nil || len(agents) != 2 || agents[0] != "a1" {
		t.Fatalf("agents = %v/%v", agents, err)
	}
}

func TestServiceTraceWithoutSearch(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)
	ctx := context.Background()
	resp, err := svc.IngestSpans(ctx, model.SpanIngestRequest{Spans: []model.SpanInput{{TraceID: "t1"}}})
	if err != nil || resp.Ingested != 0 {
		t.Fatalf("IngestSpans() = %+v/%v, want 0 ingested", resp, err)
	}
	detail, err := svc.GetTrace(ctx, "t1")
	if err != nil || detail.TraceID != "t1" || len(detail.Spans) != 0 || detail.DurationMS != nil {
		t.Fatalf("GetTrace() = %+v/%v", detail, err)
	}
}

type brokenKV struct {
	storage.KeyValueBackend
}

func (brokenKV) ListAgents(context.Context, int) ([]string, error) {
	return nil, errors.New("connection refused")
}

func TestServiceWrapsBackendErrors(t *testing.T) {
	t.Parallel()

	logger := discardLogger()
	svc := NewService(logger, nil, NewRouter(logger, brokenKV{}, nil, Limits{}), nil)
	if _, err := svc.ListAgents(context.Background()); !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("ListAgents() error = %v, want ErrUnavailable", err)
	}
}
