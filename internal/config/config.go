package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	SearchNone    = "none"
	SearchMongo   = "mongo"
)

type Config struct {
	Port                   string        `env:"AGT_PORT,default=8001"`
	LogLevel               string        `env:"AGT_LOG_LEVEL,default=info"`
	KVBackend              string        `env:"AGT_KV_BACKEND,default=sqlite"`
	DBPath                 string        `env:"AGT_DB_PATH,default=/data/agent-tracker.db"`
	RedisURL               string        `env:"AGT_REDIS_URL,default=redis://localhost:6379/0"`
	SearchBackend          string        `env:"AGT_SEARCH_BACKEND,default=none"`
	MongoURI               string        `env:"AGT_MONGO_URI"`
	MongoDatabase          string        `env:"AGT_MONGO_DATABASE,default=agent_tracker"`
	MongoEventsCollection  string        `env:"AGT_MONGO_EVENTS_COLLECTION,default=events-v1"`
	MongoSpansCollection   string        `env:"AGT_MONGO_SPANS_COLLECTION,default=spans-v1"`
	BackendTimeout         time.Duration `env:"AGT_BACKEND_TIMEOUT,default=10s"`
	MaxScanItems           int           `env:"AGT_MAX_SCAN_ITEMS,default=5000"`
	ConversationScanLimit  int           `env:"AGT_CONVERSATION_SCAN_LIMIT,default=1000"`
	TraceSpanLimit         int           `env:"AGT_TRACE_SPAN_LIMIT,default=1000"`
	EventFeedPath          string        `env:"AGT_EVENT_FEED_PATH"`
	EventFeedPoll          time.Duration `env:"AGT_EVENT_FEED_POLL,default=500ms"`
	EventFeedStatePath     string        `env:"AGT_EVENT_FEED_STATE_PATH"`
	MetricsInterval        time.Duration `env:"AGT_METRICS_INTERVAL,default=15s"`
	WALCheckpointInterval  time.Duration `env:"AGT_WAL_CHECKPOINT_INTERVAL,default=10m"`
	WALRestartThresholdB   int64         `env:"AGT_WAL_RESTART_THRESHOLD_BYTES,default=52428800"`
	IncrementalVacuumPages int           `env:"AGT_INCREMENTAL_VACUUM_PAGES,default=256"`
}

// Load reads an optional dotenv file, then the process environment.
// Variables already set in the environment win over the file.
func Load(ctx context.Context, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return LoadWith(ctx, envconfig.OsLookuper())
}

func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("AGT_PORT is required"))
	}
	switch c.KVBackend {
	case BackendSQLite:
		if c.DBPath == "" {
			errs = append(errs, errors.New("AGT_DB_PATH is required for the sqlite backend"))
		}
	case BackendRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("AGT_REDIS_URL is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("AGT_KV_BACKEND %q: want sqlite or redis", c.KVBackend))
	}
	switch c.SearchBackend {
	case SearchNone:
	case SearchMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("AGT_MONGO_URI is required when AGT_SEARCH_BACKEND=mongo"))
		}
	default:
		errs = append(errs, fmt.Errorf("AGT_SEARCH_BACKEND %q: want none or mongo", c.SearchBackend))
	}
	if c.BackendTimeout <= 0 {
		errs = append(errs, errors.New("AGT_BACKEND_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) SearchEnabled() bool {
	return c.SearchBackend == SearchMongo
}

func WriteHelp(w io.Writer, version string) {
	fmt.Fprintf(w, "agent-tracker %s\n\n", version)
	fmt.Fprintln(w, "Environment variables (also read from --env-file):")
	fmt.Fprintln(w, "  AGT_PORT=8001")
	fmt.Fprintln(w, "  AGT_LOG_LEVEL=info")
	fmt.Fprintln(w, "  AGT_KV_BACKEND=sqlite            sqlite | redis")
	fmt.Fprintln(w, "  AGT_DB_PATH=/data/agent-tracker.db")
	fmt.Fprintln(w, "  AGT_REDIS_URL=redis://localhost:6379/0")
	fmt.Fprintln(w, "  AGT_SEARCH_BACKEND=none          none | mongo")
	fmt.Fprintln(w, "  AGT_MONGO_URI=")
	fmt.Fprintln(w, "  AGT_MONGO_DATABASE=agent_tracker")
	fmt.Fprintln(w, "  AGT_MONGO_EVENTS_COLLECTION=events-v1")
	fmt.Fprintln(w, "  AGT_MONGO_SPANS_COLLECTION=spans-v1")
	fmt.Fprintln(w, "  AGT_BACKEND_TIMEOUT=10s")
	fmt.Fprintln(w, "  AGT_MAX_SCAN_ITEMS=5000")
	fmt.Fprintln(w, "  AGT_CONVERSATION_SCAN_LIMIT=1000")
	fmt.Fprintln(w, "  AGT_TRACE_SPAN_LIMIT=1000")
	fmt.Fprintln(w, "  AGT_EVENT_FEED_PATH=")
	fmt.Fprintln(w, "  AGT_EVENT_FEED_POLL=500ms")
	fmt.Fprintln(w, "  AGT_EVENT_FEED_STATE_PATH=       defaults to <feed path>.offset")
	fmt.Fprintln(w, "  AGT_METRICS_INTERVAL=15s")
	fmt.Fprintln(w, "  AGT_WAL_CHECKPOINT_INTERVAL=10m")
	fmt.Fprintln(w, "  AGT_WAL_RESTART_THRESHOLD_BYTES=52428800")
	fmt.Fprintln(w, "  AGT_INCREMENTAL_VACUUM_PAGES=256")
}
