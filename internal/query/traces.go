package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/kon-rad/agent-tracker/internal/dates"
	"github.com/kon-rad/agent-tracker/internal/metrics"
	"github.com/kon-rad/agent-tracker/internal/model"
	"github.com/kon-rad/agent-tracker/internal/storage"
)

// TraceAssembler writes spans to the search index and rebuilds traces from
// them. Without a search backend spans are accepted and dropped.
type TraceAssembler struct {
	search    storage.SearchBackend
	validate  *validator.Validate
	metrics   *metrics.Recorder
	spanLimit int
}

func NewTraceAssembler(search storage.SearchBackend, rec *metrics.Recorder, spanLimit int) *TraceAssembler {
	return &TraceAssembler{
		search:    search,
		validate:  validator.New(),
		metrics:   rec,
		spanLimit: spanLimit,
	}
}

// IngestSpans returns how many spans were indexed.
func (a *TraceAssembler) IngestSpans(ctx context.Context, inputs []model.SpanInput) (int, error) {
	if len(inputs) == 0 {
		return 0, fmt.Errorf("%w: body must include non-empty 'spans' array", storage.ErrInvalidInput)
	}
	spans := make([]model.Span, 0, len(inputs))
	for i, in := range inputs {
		if err := a.validate.Struct(in); err != nil {
			return 0, fmt.Errorf("%w: spans[%d]: trace_id is required", storage.ErrInvalidInput, i)
		}
		spans = append(spans, in.Normalize())
	}
	if a.search == nil {
		return 0, nil
	}

	n, err := a.search.IndexSpans(ctx, spans)
	a.metrics.SpansIndexed(n)
	if err != nil {
		return n, fmt.Errorf("%w: index spans: %w", storage.ErrUnavailable, err)
	}
	return n, nil
}

func (a *TraceAssembler) GetTrace(ctx context.Context, traceID string) (model.TraceDetail, error) {
	if a.search == nil {
		return Timeline(traceID, nil), nil
	}
	spans, err := a.search.SpansByTrace(ctx, traceID, a.spanLimit)
	if err != nil {
		return model.TraceDetail{}, fmt.Errorf("%w: load spans: %w", storage.ErrUnavailable, err)
	}
	sortSpans(spans)
	return Timeline(traceID, spans), nil
}

// sortSpans orders spans chronologically by start time. Backends index
// start times at coarser precision than the text carries.
func sortSpans(spans []model.Span) {
	sort.SliceStable(spans, func(i, j int) bool {
		return dates.Compare(spans[i].StartTime, spans[j].StartTime) < 0
	})
}

// Timeline summarizes spans already ordered by start time. The end is the
// last span's end time, or its start when it has none.
func Timeline(traceID string, spans []model.Span) model.TraceDetail {
	detail := model.TraceDetail{TraceID: traceID, Spans: spans}
	if detail.Spans == nil {
		detail.Spans = []model.Span{}
	}
	if len(spans) == 0 {
		return detail
	}

	first, last := spans[0], spans[len(spans)-1]
	start := first.StartTime
	end := last.StartTime
	if last.EndTime != nil && *last.EndTime != "" {
		end = *last.EndTime
	}
	detail.StartTime = &start
	detail.EndTime = &end

	if start == "" || end == "" {
		return detail
	}
	st, err := dates.ParseTimestamp(start)
	if err != nil {
		return detail
	}
	et, err := dates.ParseTimestamp(end)
	if err != nil {
		return detail
	}
	ms := et.Sub(st).Milliseconds()
	detail.DurationMS = &ms
	return detail
}
