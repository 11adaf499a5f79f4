package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/kon-rad/agent-tracker/internal/model"
)

func TestCheckpointIfWALExceeds(t *testing.T) {
	t.Parallel()

	dbm := openTestDB(t)
	ctx := context.Background()

	// Generate write activity so WAL file exists.
	for i := 0; i < 10; i++ {
		rec := model.EventRecord{
			EventID: fmt.Sprintf("evt-%d", i),
			Event: model.Event{
				AgentID:     "a1",
				Timestamp:   "2025-07-25T10:00:00Z",
				MessageType: model.MessageTypeUserMessage,
			},
		}
		if err := dbm.PutEvent(ctx, rec); err != nil {
			t.Fatalf("PutEvent() error = %v", err)
		}
	}

	did, err := dbm.CheckpointIfWALExceeds(ctx, 0)
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if !did {
		t.Fatalf("expected checkpoint to run when threshold is 0")
	}
	if err := dbm.IncrementalVacuum(ctx, 100); err != nil {
		t.Fatalf("incremental vacuum: %v", err)
	}

	did, err = dbm.CheckpointIfWALExceeds(ctx, 1<<40)
	if err != nil || did {
		t.Fatalf("checkpoint under threshold = %v/%v, want false/nil", did, err)
	}
}
