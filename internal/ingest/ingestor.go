package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/kon-rad/agent-tracker/internal/metrics"
	"github.com/kon-rad/agent-tracker/internal/model"
	"github.com/kon-rad/agent-tracker/internal/storage"
)

// Ingestor records one event: primary write, best-effort search mirror,
// then the aggregate update, all before returning.
type Ingestor struct {
	logger   *slog.Logger
	kv       storage.KeyValueBackend
	search   storage.SearchBackend
	updater  *AggregateUpdater
	validate *validator.Validate
	metrics  *metrics.Recorder
	newID    func() string
}

// NewIngestor wires the write path. search and rec may be nil.
func NewIngestor(logger *slog.Logger, kv storage.KeyValueBackend, search storage.SearchBackend, rec *metrics.Recorder) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		logger:   logger,
		kv:       kv,
		search:   search,
		updater:  NewAggregateUpdater(kv),
		validate: validator.New(),
		metrics:  rec,
		newID:    uuid.NewString,
	}
}

// Record stores ev under agentID and returns the generated event id. The
// path agent id always overrides the body's.
func (i *Ingestor) Record(ctx context.Context, agentID string, ev model.Event) (string, error) {
	ev.AgentID = agentID
	if err := i.Validate(ev); err != nil {
		return "", err
	}

	rec := model.NewRecord(i.newID(), ev)
	if err := i.kv.PutEvent(ctx, rec); err != nil {
		return "", fmt.Errorf("%w: store event: %w", storage.ErrUnavailable, err)
	}
	i.metrics.EventIngested(rec.MessageType)

	if i.search != nil {
		err := i.search.IndexEvent(ctx, rec)
		i.metrics.MirrorWrite(err)
		if err != nil {
			i.logger.Warn("search mirror write failed",
				"event_id", rec.EventID,
				"agent_id", rec.AgentID,
				"error", err,
			)
		}
	}

	err := i.updater.Apply(ctx, ev)
	i.metrics.AggregateUpdate(err)
	if err != nil {
		return "", fmt.Errorf("%w: update aggregates: %w", storage.ErrUnavailable, err)
	}

	i.logger.Debug("event recorded",
		"event_id", rec.EventID,
		"agent_id", rec.AgentID,
		"message_type", rec.MessageType,
	)
	return rec.EventID, nil
}

// Validate checks required fields and numeric bounds.
func (i *Ingestor) Validate(ev model.Event) error {
	err := i.validate.Struct(ev)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", storage.ErrInvalidInput, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := jsonName(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "gte":
		return field + " must be >= " + fe.Param()
	case "min":
		return field + " must be >= " + fe.Param()
	case "max":
		return field + " must be <= " + fe.Param()
	default:
		return field + " failed " + fe.Tag()
	}
}

var fieldNames = map[string]string{
	"AgentID":        "agent_id",
	"Timestamp":      "timestamp",
	"MessageType":    "message_type",
	"ResponseTimeMS": "response_time_ms",
	"TokenCount":     "token_count",
	"UserFeedback":   "user_feedback",
	"TraceID":        "trace_id",
}

func jsonName(field string) string {
	if name, ok := fieldNames[field]; ok {
		return name
	}
	return field
}
