package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"modernc.org/sqlite"

	"github.com/kon-rad/agent-tracker/internal/storage"
)

var _ storage.KeyValueBackend = (*Manager)(nil)

const (
	busyTimeoutMS         = 10000
	readerConns           = 4
	autoVacuumIncremental = 2
)

// Applied to every new connection, reader and writer alike.
var connectionPragmas = []string{
	"journal_mode = WAL",
	"synchronous = NORMAL",
	fmt.Sprintf("busy_timeout = %d", busyTimeoutMS),
	"temp_store = MEMORY",
	"foreign_keys = ON",
	"cache_size = -8000",
}

func init() {
	var sb strings.Builder
	for _, p := range connectionPragmas {
		sb.WriteString("PRAGMA " + p + ";\n")
	}
	stmt := sb.String()
	sqlite.RegisterConnectionHook(func(conn sqlite.ExecQuerierContext, _ string) error {
		_, err := conn.ExecContext(context.Background(), stmt, []driver.NamedValue{})
		return err
	})
}

// Manager is the sqlite key-value backend. Writes go through a single
// connection so read-modify-write upserts serialize; reads use a small pool.
type Manager struct {
	path   string
	writer *sql.DB
	reader *sql.DB
}

// Open creates the database file if needed, switches it to incremental
// auto-vacuum and applies the schema.
func Open(path string) (*Manager, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	dsn := "file:" + path
	writer, err := openPool(dsn, 1)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	writer.SetConnMaxLifetime(0)
	reader, err := openPool(dsn, readerConns)
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("open reader: %w", err)
	}
	m := &Manager{path: path, writer: writer, reader: reader}

	if err := m.prepare(context.Background()); err != nil {
		_ = m.Close()
		return nil, err
	}
	return m, nil
}

func openPool(dsn string, conns int) (*sql.DB, error) {
	pool, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	pool.SetMaxOpenConns(conns)
	pool.SetMaxIdleConns(conns)
	if err := pool.PingContext(context.Background()); err != nil {
		_ = pool.Close()
		return nil, err
	}
	return pool, nil
}

func (m *Manager) prepare(ctx context.Context) error {
	var mode int
	if err := m.writer.QueryRowContext(ctx, "PRAGMA auto_vacuum").Scan(&mode); err != nil {
		return fmt.Errorf("read auto_vacuum: %w", err)
	}
	// Changing auto_vacuum on an existing file only takes effect after VACUUM.
	if mode != autoVacuumIncremental {
		for _, stmt := range []string{"PRAGMA auto_vacuum = INCREMENTAL", "VACUUM"} {
			if _, err := m.writer.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("enable incremental auto_vacuum: %w", err)
			}
		}
	}
	if _, err := m.writer.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (m *Manager) Checkpoint(ctx context.Context) error {
	_, err := m.writer.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

func (m *Manager) Close() error {
	return errors.Join(m.writer.Close(), m.reader.Close())
}

func (m *Manager) Ping(ctx context.Context) error {
	return m.writer.PingContext(ctx)
}

// Settings are the effective connection pragmas, logged at startup.
type Settings struct {
	JournalMode   string
	BusyTimeoutMS int
	AutoVacuum    int
}

func (m *Manager) Settings(ctx context.Context) (Settings, error) {
	var s Settings
	for _, q := range []struct {
		pragma string
		dest   any
	}{
		{"journal_mode", &s.JournalMode},
		{"busy_timeout", &s.BusyTimeoutMS},
		{"auto_vacuum", &s.AutoVacuum},
	} {
		if err := m.writer.QueryRowContext(ctx, "PRAGMA "+q.pragma).Scan(q.dest); err != nil {
			return Settings{}, fmt.Errorf("read %s: %w", q.pragma, err)
		}
	}
	return s, nil
}

// HealthStats feeds the kv fields of the health response.
type HealthStats struct {
	Status       string
	SizeBytes    int64
	WALSizeBytes int64
	DiskUsedPct  float64
}

func (m *Manager) Health(ctx context.Context) HealthStats {
	stats := HealthStats{
		Status:       "ok",
		SizeBytes:    m.DBSizeBytes(),
		WALSizeBytes: m.WALSizeBytes(),
		DiskUsedPct:  diskUsagePercent(filepath.Dir(m.path)),
	}
	if err := m.Ping(ctx); err != nil {
		stats.Status = "error"
	}
	return stats
}
