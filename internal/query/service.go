package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kon-rad/agent-tracker/internal/dates"
	"github.com/kon-rad/agent-tracker/internal/ingest"
	"github.com/kon-rad/agent-tracker/internal/metrics"
	"github.com/kon-rad/agent-tracker/internal/model"
	"github.com/kon-rad/agent-tracker/internal/storage"
)

const (
	DefaultWindowDays       = 7
	DefaultSeriesWindowDays = 30
	DefaultLimit            = 100
)

// Service exposes the external operations over one Router. It holds no
// per-request state.
type Service struct {
	logger        *slog.Logger
	ingestor      *ingest.Ingestor
	router        *Router
	series        *SeriesBuilder
	conversations *ConversationBuilder
	traces        *TraceAssembler
	now           func() time.Time
}

func NewService(logger *slog.Logger, ingestor *ingest.Ingestor, router *Router, rec *metrics.Recorder) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	limits := router.Limits()
	return &Service{
		logger:        logger,
		ingestor:      ingestor,
		router:        router,
		series:        NewSeriesBuilder(router.Source()),
		conversations: NewConversationBuilder(router.Source(), limits.ConversationScanLimit),
		traces:        NewTraceAssembler(router.Search(), rec, limits.TraceSpanLimit),
		now:           time.Now,
	}
}

// SetClock replaces the wall clock used for default date windows.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// unavailable wraps backend failures. Errors already classified pass
// through unchanged.
func unavailable(err error) error {
	if err == nil || errors.Is(err, storage.ErrInvalidInput) || errors.Is(err, storage.ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", storage.ErrUnavailable, err)
}

// window resolves missing bounds to the trailing days ending today. A
// caller-supplied bound is kept and validated.
func (s *Service) window(startDate, endDate string, days int) (string, string, error) {
	defStart, defEnd := dates.Window(s.now(), days)
	if startDate == "" {
		startDate = defStart
	}
	if endDate == "" {
		endDate = defEnd
	}
	if _, err := dates.ParseDay(startDate); err != nil {
		return "", "", fmt.Errorf("%w: start_date: %v", storage.ErrInvalidInput, err)
	}
	if _, err := dates.ParseDay(endDate); err != nil {
		return "", "", fmt.Errorf("%w: end_date: %v", storage.ErrInvalidInput, err)
	}
	return startDate, endDate, nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}

func (s *Service) RecordEvent(ctx context.Context, agentID string, ev model.Event) (model.AgentEventResponse, error) {
	id, err := s.ingestor.Record(ctx, agentID, ev)
	if err != nil {
		return model.AgentEventResponse{}, err
	}
	return model.AgentEventResponse{
		EventID: id,
		Status:  "success",
		Message: "Event recorded successfully",
	}, nil
}

func (s *Service) ListAgents(ctx context.Context) ([]string, error) {
	agents, err := s.router.KV().ListAgents(ctx, 0)
	if err != nil {
		return nil, unavailable(err)
	}
	return agents, nil
}

type MetricsParams struct {
	Days      int
	StartDate string
	EndDate   string
}

// AgentMetrics folds one agent's daily aggregates over the range. Averages
// stay zero when nothing was counted.
func (s *Service) AgentMetrics(ctx context.Context, agentID string, p MetricsParams) (model.MetricsResponse, error) {
	days := p.Days
	if days <= 0 {
		days = DefaultWindowDays
	}
	start, end, err := s.window(p.StartDate, p.EndDate, days)
	if err != nil {
		return model.MetricsResponse{}, err
	}
	aggs, err := s.router.KV().QueryAggregates(ctx, agentID, start, end)
	if err != nil {
		return model.MetricsResponse{}, unavailable(err)
	}

	m := model.AgentMetrics{AgentID: agentID, Date: start + "_to_" + end}
	var rtSum, rtCount, fbSum, fbCount int64
	for _, a := range aggs {
		m.TotalMessages += a.TotalMessages
		m.TotalResponses += a.TotalResponses
		m.TotalErrors += a.TotalErrors
		m.TotalTokensUsed += a.TotalTokensUsed
		m.UniqueUsers += a.Visitors()
		rtSum += a.ResponseTimeSum
		rtCount += a.ResponseCount
		fbSum += a.FeedbackSum
		fbCount += a.FeedbackCount
	}
	if rtCount > 0 {
		m.AverageResponseTime = float64(rtSum) / float64(rtCount)
	}
	if fbCount > 0 {
		m.AverageFeedbackScore = float64(fbSum) / float64(fbCount)
	}
	return model.MetricsResponse{
		AgentID:   agentID,
		Metrics:   m,
		TimeRange: start + " to " + end,
	}, nil
}

type EventsParams struct {
	AgentID     string
	MessageType string
	StartDate   string
	EndDate     string
	Limit       int
}

// ListEvents returns events newest first. next_key is always null.
func (s *Service) ListEvents(ctx context.Context, p EventsParams) (model.EventsResponse, error) {
	start, end, err := s.window(p.StartDate, p.EndDate, DefaultWindowDays)
	if err != nil {
		return model.EventsResponse{}, err
	}
	q := EventQuery{
		MessageType: p.MessageType,
		Range:       storage.TimeRange{StartDate: start, EndDate: end},
		Order:       storage.Descending,
		Limit:       limitOrDefault(p.Limit),
	}
	if p.AgentID != "" {
		q.AgentIDs = []string{p.AgentID}
	}
	recs, err := s.router.Source().Events(ctx, q)
	if err != nil {
		return model.EventsResponse{}, unavailable(err)
	}
	items := make([]model.EventItem, 0, len(recs))
	for _, rec := range recs {
		items = append(items, rec.Item())
	}
	return model.EventsResponse{Items: items}, nil
}

type RangeParams struct {
	StartDate string
	EndDate   string
	Agents    []string
}

func (s *Service) DashboardKPIs(ctx context.Context, p RangeParams) (model.DashboardKPIsResponse, error) {
	start, end, err := s.window(p.StartDate, p.EndDate, DefaultWindowDays)
	if err != nil {
		return model.DashboardKPIsResponse{}, err
	}
	aggs, err := s.router.Aggregates(ctx, start, end, p.Agents)
	if err != nil {
		return model.DashboardKPIsResponse{}, unavailable(err)
	}
	return model.DashboardKPIsResponse{
		StartDate: start,
		EndDate:   end,
		Agents:    agentsOrNil(p.Agents),
		KPIs:      KPIs(aggs),
	}, nil
}

// KPIs computes the four dashboard figures. Every ratio is zero-guarded.
func KPIs(aggs []model.DailyAggregate) []model.DashboardKPI {
	var calls, errs, tokens, rtSum, rtCount int64
	for _, a := range aggs {
		calls += a.TotalMessages
		errs += a.TotalErrors
		tokens += a.TotalTokensUsed
		rtSum += a.ResponseTimeSum
		rtCount += a.ResponseCount
	}
	var errorRate, latency float64
	if calls > 0 {
		errorRate = float64(errs) / float64(calls) * 100
	}
	if rtCount > 0 {
		latency = float64(rtSum) / float64(rtCount)
	}
	return []model.DashboardKPI{
		{Title: "LLM Calls", Value: float64(calls), ChangeType: "increase", Description: "Total API calls"},
		{Title: "Error Rate", Value: errorRate, ChangeType: "decrease", Description: "Failed requests %"},
		{Title: "Avg Latency (ms)", Value: latency, ChangeType: "decrease", Description: "Mean response time"},
		{Title: "Tokens Used", Value: float64(tokens), ChangeType: "increase", Description: "Total tokens processed"},
	}
}

func (s *Service) MetricsSeries(ctx context.Context, p RangeParams) (model.MetricsSeriesResponse, error) {
	start, end, err := s.window(p.StartDate, p.EndDate, DefaultSeriesWindowDays)
	if err != nil {
		return model.MetricsSeriesResponse{}, err
	}
	points, err := s.series.Build(ctx, start, end, p.Agents)
	if err != nil {
		return model.MetricsSeriesResponse{}, unavailable(err)
	}
	return model.MetricsSeriesResponse{
		StartDate: start,
		EndDate:   end,
		Agents:    agentsOrNil(p.Agents),
		Items:     points,
	}, nil
}

type ConversationParams struct {
	StartDate string
	EndDate   string
	AgentID   string
	Limit     int
}

func (s *Service) ListConversations(ctx context.Context, p ConversationParams) (model.ConversationsResponse, error) {
	start, end, err := s.window(p.StartDate, p.EndDate, DefaultWindowDays)
	if err != nil {
		return model.ConversationsResponse{}, err
	}
	convs, err := s.conversations.Build(ctx, storage.TimeRange{StartDate: start, EndDate: end}, p.AgentID, limitOrDefault(p.Limit))
	if err != nil {
		return model.ConversationsResponse{}, unavailable(err)
	}
	return model.ConversationsResponse{Items: convs}, nil
}

func (s *Service) IngestSpans(ctx context.Context, req model.SpanIngestRequest) (model.SpanIngestResponse, error) {
	n, err := s.traces.IngestSpans(ctx, req.Spans)
	if err != nil {
		return model.SpanIngestResponse{Ingested: n}, err
	}
	return model.SpanIngestResponse{Ingested: n}, nil
}

func (s *Service) GetTrace(ctx context.Context, traceID string) (model.TraceDetail, error) {
	return s.traces.GetTrace(ctx, traceID)
}

func agentsOrNil(agents []string) []string {
	if len(agents) == 0 {
		return nil
	}
	return agents
}
