package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Position is how far the feed has been consumed. Inode is zero on
// platforms that do not report one.
type Position struct {
	Inode  uint64 `json:"inode"`
	Offset int64  `json:"offset"`
}

// loadPosition reads the saved position. A missing file means nothing has
// been consumed yet.
func loadPosition(path string) (Position, bool, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Position{}, false, nil
	}
	if err != nil {
		return Position{}, false, fmt.Errorf("read feed position: %w", err)
	}
	var pos Position
	if err := json.Unmarshal(raw, &pos); err != nil {
		return Position{}, false, fmt.Errorf("decode feed position %s: %w", path, err)
	}
	if pos.Offset < 0 {
		pos.Offset = 0
	}
	return pos, true, nil
}

// savePosition replaces the position file through a rename so a crash
// leaves either the old or the new position.
func savePosition(path string, pos Position) error {
	raw, err := json.Marshal(pos)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create feed position: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write feed position: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close feed position: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace feed position: %w", err)
	}
	return nil
}
