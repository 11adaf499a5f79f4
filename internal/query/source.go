// Package query is the read side: one response contract served from either
// the key-value aggregates or the search index, chosen once at startup.
package query

import (
	"context"
	"log/slog"

	"github.com/kon-rad/agent-tracker/internal/model"
	"github.com/kon-rad/agent-tracker/internal/storage"
)

// DayStats is one calendar day of series input before gap-filling.
type DayStats struct {
	Calls      int64
	Errors     int64
	Visitors   int64
	ModelUsage map[string]int64
}

func (d *DayStats) addModels(usage map[string]int64) {
	if len(usage) == 0 {
		return
	}
	if d.ModelUsage == nil {
		d.ModelUsage = map[string]int64{}
	}
	for m, n := range usage {
		d.ModelUsage[m] += n
	}
}

// EventQuery selects raw events. Range bounds are already resolved.
type EventQuery struct {
	AgentIDs    []string
	MessageType string
	Range       storage.TimeRange
	Order       storage.Order
	Limit       int
}

// Source is one backend's implementation of the read operations that can
// be served from either store.
type Source interface {
	Name() string
	Events(ctx context.Context, q EventQuery) ([]model.EventRecord, error)
	DailyStats(ctx context.Context, startDate, endDate string, agents []string) (map[string]*DayStats, error)
}

type Limits struct {
	// MaxScanItems caps unfiltered scans across all agents.
	MaxScanItems int
	// ConversationScanLimit caps candidate events for conversations.
	ConversationScanLimit int
	// TraceSpanLimit caps spans fetched per trace.
	TraceSpanLimit int
}

func (l Limits) withDefaults() Limits {
	if l.MaxScanItems <= 0 {
		l.MaxScanItems = 5000
	}
	if l.ConversationScanLimit <= 0 {
		l.ConversationScanLimit = 1000
	}
	if l.TraceSpanLimit <= 0 {
		l.TraceSpanLimit = 1000
	}
	return l
}

// Router holds the read strategy picked at construction.
type Router struct {
	source Source
	kv     storage.KeyValueBackend
	search storage.SearchBackend
	logger *slog.Logger
	limits Limits
}

// NewRouter serves reads from search when it is non-nil, otherwise from kv.
func NewRouter(logger *slog.Logger, kv storage.KeyValueBackend, search storage.SearchBackend, limits Limits) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	limits = limits.withDefaults()
	r := &Router{kv: kv, search: search, logger: logger, limits: limits}
	if search != nil {
		r.source = &searchSource{search: search}
	} else {
		r.source = &kvSource{kv: kv, logger: logger, maxScan: limits.MaxScanItems}
	}
	logger.Info("query router configured", "source", r.source.Name())
	return r
}

func (r *Router) Source() Source { return r.source }

func (r *Router) KV() storage.KeyValueBackend { return r.kv }

// Search returns nil when no search backend is configured.
func (r *Router) Search() storage.SearchBackend { return r.search }

func (r *Router) Limits() Limits { return r.limits }

// Aggregates reads daily aggregate records from the key-value store: one
// query per agent, or a capped scan over the date range when agents is
// empty. Counters only live there, whichever source serves events.
func (r *Router) Aggregates(ctx context.Context, startDate, endDate string, agents []string) ([]model.DailyAggregate, error) {
	return loadAggregates(ctx, r.kv, r.logger, r.limits.MaxScanItems, startDate, endDate, agents)
}

func loadAggregates(ctx context.Context, kv storage.KeyValueBackend, logger *slog.Logger, maxScan int, startDate, endDate string, agents []string) ([]model.DailyAggregate, error) {
	if len(agents) == 0 {
		scanned, err := kv.ScanAggregates(ctx, startDate, endDate, maxScan)
		if err != nil {
			return nil, err
		}
		if len(scanned) >= maxScan {
			logger.Warn("aggregate scan truncated",
				"start_date", startDate,
				"end_date", endDate,
				"limit", maxScan,
			)
		}
		return scanned, nil
	}

	var out []model.DailyAggregate
	for _, agent := range agents {
		got, err := kv.QueryAggregates(ctx, agent, startDate, endDate)
		if err != nil {
			return nil, err
		}
		out = append(out, got...)
	}
	return out, nil
}

type kvSource struct {
	kv      storage.KeyValueBackend
	logger  *slog.Logger
	maxScan int
}

func (s *kvSource) Name() string { return "kv" }

// Events queries each agent partition, or scans when no agent is given.
func (s *kvSource) Events(ctx context.Context, q EventQuery) ([]model.EventRecord, error) {
	if len(q.AgentIDs) == 0 {
		limit := q.Limit
		if limit <= 0 || limit > s.maxScan {
			limit = s.maxScan
		}
		return s.kv.ScanEvents(ctx, storage.EventFilter{
			MessageType: q.MessageType,
			Range:       q.Range,
			Order:       q.Order,
			Limit:       limit,
		})
	}

	var out []model.EventRecord
	for _, agent := range q.AgentIDs {
		recs, err := s.kv.ScanEvents(ctx, storage.EventFilter{
			AgentID:     agent,
			MessageType: q.MessageType,
			Range:       q.Range,
			Order:       q.Order,
			Limit:       q.Limit,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	if len(q.AgentIDs) > 1 {
		sortRecords(out, q.Order)
		if q.Limit > 0 && len(out) > q.Limit {
			out = out[:q.Limit]
		}
	}
	return out, nil
}

func (s *kvSource) DailyStats(ctx context.Context, startDate, endDate string, agents []string) (map[string]*DayStats, error) {
	aggs, err := loadAggregates(ctx, s.kv, s.logger, s.maxScan, startDate, endDate, agents)
	if err != nil {
		return nil, err
	}

	out := map[string]*DayStats{}
	for _, a := range aggs {
		d, ok := out[a.Date]
		if !ok {
			d = &DayStats{}
			out[a.Date] = d
		}
		d.Calls += a.TotalMessages
		d.Errors += a.TotalErrors
		d.Visitors += a.Visitors()
		d.addModels(a.ModelUsage)
	}
	return out, nil
}

type searchSource struct {
	search storage.SearchBackend
}

func (s *searchSource) Name() string { return "search" }

func (s *searchSource) Events(ctx context.Context, q EventQuery) ([]model.EventRecord, error) {
	return s.search.SearchEvents(ctx, storage.EventSearch{
		AgentIDs:    q.AgentIDs,
		MessageType: q.MessageType,
		Range:       q.Range,
		Order:       q.Order,
		Size:        q.Limit,
	})
}

// DailyStats folds histogram buckets. Visitors are not derivable from raw
// event counts and stay zero.
func (s *searchSource) DailyStats(ctx context.Context, startDate, endDate string, agents []string) (map[string]*DayStats, error) {
	buckets, err := s.search.DailyHistogram(ctx, storage.HistogramQuery{
		AgentIDs: agents,
		Range:    storage.TimeRange{StartDate: startDate, EndDate: endDate},
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]*DayStats, len(buckets))
	for _, b := range buckets {
		d, ok := out[b.Date]
		if !ok {
			d = &DayStats{}
			out[b.Date] = d
		}
		d.Calls += b.Count
		d.Errors += b.Errors
		d.addModels(b.ModelUsage)
	}
	return out, nil
}
