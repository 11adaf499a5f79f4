// Package storage defines the two backend contracts the query engine runs
// on: a key-value store addressed by partition and sort key, and a document
// search index with range filters and aggregation.
package storage

import (
	"context"
	"errors"

	"github.com/kon-rad/agent-tracker/internal/model"
)

var (
	// ErrInvalidInput marks caller errors: malformed or missing input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnavailable wraps any failure reaching a backend.
	ErrUnavailable = errors.New("backend unavailable")
)

type Order int

const (
	Ascending Order = iota
	Descending
)

// TimeRange bounds event timestamps by calendar day, both ends inclusive.
// Empty bounds are open.
type TimeRange struct {
	StartDate string
	EndDate   string
}

type EventFilter struct {
	AgentID     string
	MessageType string
	Range       TimeRange
	Order       Order
	Limit       int
}

// KeyValueBackend is the primary store. Events are partitioned by agent id
// and sorted by timestamp; aggregates by agent id and date.
type KeyValueBackend interface {
	PutEvent(ctx context.Context, rec model.EventRecord) error
	// QueryEvents reads one agent partition over a sort-key range.
	QueryEvents(ctx context.Context, agentID string, r TimeRange, order Order, limit int) ([]model.EventRecord, error)
	// ScanEvents reads across partitions. Limit caps the result.
	ScanEvents(ctx context.Context, f EventFilter) ([]model.EventRecord, error)
	// ApplyDelta must be a single atomic server-side update: numeric adds,
	// set adds and create-if-absent identity fields. Concurrent callers on
	// the same key never lose increments.
	ApplyDelta(ctx context.Context, key model.AggregateKey, d model.AggregateDelta) error
	QueryAggregates(ctx context.Context, agentID, startDate, endDate string) ([]model.DailyAggregate, error)
	ScanAggregates(ctx context.Context, startDate, endDate string, limit int) ([]model.DailyAggregate, error)
	ListAgents(ctx context.Context, limit int) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

type EventSearch struct {
	AgentIDs    []string
	MessageType string
	Range       TimeRange
	Order       Order
	Size        int
}

type HistogramQuery struct {
	AgentIDs []string
	Range    TimeRange
}

// DayBucket is one calendar-day bucket of a histogram over raw events.
type DayBucket struct {
	Date       string
	Count      int64
	Errors     int64
	ModelUsage map[string]int64
}

// SearchBackend is the secondary document index.
type SearchBackend interface {
	IndexEvent(ctx context.Context, rec model.EventRecord) error
	SearchEvents(ctx context.Context, q EventSearch) ([]model.EventRecord, error)
	DailyHistogram(ctx context.Context, q HistogramQuery) ([]DayBucket, error)
	IndexSpans(ctx context.Context, spans []model.Span) (int, error)
	// SpansByTrace returns spans ordered by start time ascending.
	SpansByTrace(ctx context.Context, traceID string, limit int) ([]model.Span, error)
	Ping(ctx context.Context) error
	Close() error
}
