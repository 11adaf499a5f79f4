package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kon-rad/agent-tracker/internal/model"
	"github.com/kon-rad/agent-tracker/internal/storage"
)

const QueueCapacity = 512

// Submission is an event that arrived outside HTTP, e.g. from the feed file.
type Submission struct {
	AgentID string
	Event   model.Event
}

// Worker drains submissions into the Ingestor one at a time.
type Worker struct {
	logger   *slog.Logger
	ingestor *Ingestor
	timeout  time.Duration
}

func NewWorker(logger *slog.Logger, ingestor *Ingestor, timeout time.Duration) *Worker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Worker{
		logger:   logger,
		ingestor: ingestor,
		timeout:  timeout,
	}
}

// Run returns when subs is closed or ctx is done. Invalid submissions are
// logged and dropped; backend failures are logged and the loop continues.
func (w *Worker) Run(ctx context.Context, subs <-chan Submission) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sub, ok := <-subs:
			if !ok {
				return nil
			}
			w.handle(ctx, sub)
		}
	}
}

func (w *Worker) handle(ctx context.Context, sub Submission) {
	callCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	agentID := sub.AgentID
	if agentID == "" {
		agentID = sub.Event.AgentID
	}
	id, err := w.ingestor.Record(callCtx, agentID, sub.Event)
	switch {
	case err == nil:
		w.logger.Debug("feed event recorded", "event_id", id, "agent_id", agentID)
	case errors.Is(err, storage.ErrInvalidInput):
		w.logger.Warn("feed event rejected", "agent_id", agentID, "error", err)
	default:
		w.logger.Error("feed event failed", "agent_id", agentID, "error", err)
	}
}
