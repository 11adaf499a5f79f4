// Package feed tails a JSONL file of agent events into the ingest worker.
// The consumed position is saved so a restart does not replay the file.
package feed

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/kon-rad/agent-tracker/internal/ingest"
	"github.com/kon-rad/agent-tracker/internal/model"
)

type Tailer struct {
	path      string
	statePath string
	poll      time.Duration
	out       chan<- ingest.Submission
	logger    *slog.Logger
}

// New tails path. The consumed position is kept in statePath, or next to
// the feed as <path>.offset when statePath is empty.
func New(path, statePath string, poll time.Duration, out chan<- ingest.Submission, logger *slog.Logger) *Tailer {
	if statePath == "" {
		statePath = path + ".offset"
	}
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tailer{
		path:      path,
		statePath: statePath,
		poll:      poll,
		out:       out,
		logger:    logger,
	}
}

// Run follows the file until ctx is done, resuming from the saved
// position. A new inode or a shrinking file restarts from offset zero.
func (t *Tailer) Run(ctx context.Context) error {
	pos, _, err := loadPosition(t.statePath)
	if err != nil {
		return err
	}
	saved := pos

	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fi, err := os.Stat(t.path)
			if err != nil {
				continue
			}
			if stat, ok := fi.Sys().(*syscall.Stat_t); ok {
				if pos.Inode != 0 && stat.Ino != pos.Inode {
					pos.Offset = 0
				}
				pos.Inode = stat.Ino
			}
			if fi.Size() < pos.Offset {
				pos.Offset = 0
			}
			newOffset, err := t.readFromOffset(ctx, pos.Offset)
			if err != nil && !errors.Is(err, context.Canceled) {
				t.logger.Warn("feed read failed", "path", t.path, "error", err)
			}
			pos.Offset = newOffset
			if pos != saved {
				if err := savePosition(t.statePath, pos); err != nil {
					t.logger.Warn("feed position not saved", "path", t.statePath, "error", err)
					continue
				}
				saved = pos
			}
		}
	}
}

// readFromOffset submits every complete line after offset and returns the
// offset just past the last line handed off. A trailing partial line is
// left for the next poll.
func (t *Tailer) readFromOffset(ctx context.Context, offset int64) (int64, error) {
	f, err := os.Open(t.path)
	if err != nil {
		return offset, err
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset, err
	}

	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return offset, nil
			}
			return offset, err
		}
		next := offset + int64(len(line))

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			offset = next
			continue
		}
		sub, ok := t.parse(line)
		if !ok {
			offset = next
			continue
		}
		select {
		case t.out <- sub:
			offset = next
		case <-ctx.Done():
			return offset, ctx.Err()
		}
	}
}

func (t *Tailer) parse(line []byte) (ingest.Submission, bool) {
	var ev model.Event
	if err := json.Unmarshal(line, &ev); err != nil {
		t.logger.Warn("feed line skipped", "path", t.path, "error", err)
		return ingest.Submission{}, false
	}
	if ev.AgentID == "" {
		t.logger.Warn("feed line skipped", "path", t.path, "error", "missing agent_id")
		return ingest.Submission{}, false
	}
	return ingest.Submission{AgentID: ev.AgentID, Event: ev}, true
}
