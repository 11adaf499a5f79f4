package ingest

import (
	"context"
	"testing"

	"github.com/kon-rad/agent-tracker/internal/model"
	"github.com/kon-rad/agent-tracker/internal/storage"
)

func TestWorkerDrainsSubmissions(t *testing.T) {
	t.Parallel()

	kv := newTestKV(t)
	ing := NewIngestor(discardLogger(), kv, nil, nil)
	worker := NewWorker(discardLogger(), ing, 0)

	subs := make(chan Submission, 3)
	subs <- Submission{AgentID: "a1", Event: model.Event{Timestamp: "2025-07-25T10:00:00Z", MessageType: "user_message"}}
	subs <- Submission{Event: model.Event{AgentID: "a2", Timestamp: "2025-07-25T10:00:00Z", MessageType: "user_message"}}
	subs <- Submission{AgentID: "a1", Event: model.Event{MessageType: "missing timestamp"}}
	close(subs)

	if err := worker.Run(context.Background(), subs); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	agents, err := kv.ListAgents(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListAgents() error = %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("agents = %v, want [a1 a2]", agents)
	}
	recs, _ := kv.ScanEvents(context.Background(), storage.EventFilter{})
	if len(recs) != 2 {
		t.Fatalf("stored events = %d, want 2 (invalid one dropped)", len(recs))
	}
}
