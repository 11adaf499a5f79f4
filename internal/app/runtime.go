package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/kon-rad/agent-tracker/internal/config"
	"github.com/kon-rad/agent-tracker/internal/db"
	"github.com/kon-rad/agent-tracker/internal/feed"
	"github.com/kon-rad/agent-tracker/internal/ingest"
	"github.com/kon-rad/agent-tracker/internal/metrics"
	"github.com/kon-rad/agent-tracker/internal/query"
	"github.com/kon-rad/agent-tracker/internal/redisstore"
	"github.com/kon-rad/agent-tracker/internal/search"
	"github.com/kon-rad/agent-tracker/internal/server"
	"github.com/kon-rad/agent-tracker/internal/storage"
)

type Runtime struct {
	cfg        *config.Config
	logger     *slog.Logger
	version    string
	startedAt  time.Time
	backends   *Backends
	recorder   *metrics.Recorder
	httpServer *http.Server
	feedCh     chan ingest.Submission
	workerDone chan error
	bgCancel   context.CancelFunc
	bgWG       sync.WaitGroup
}

func New(cfg *config.Config, logger *slog.Logger, version string) *Runtime {
	return &Runtime{
		cfg:       cfg,
		logger:    logger,
		version:   version,
		startedAt: time.Now(),
		recorder:  metrics.NewRecorder(),
	}
}

// Backends holds the opened stores. DB is set only for the sqlite backend
// and Search only when a search backend is configured.
type Backends struct {
	KV     storage.KeyValueBackend
	DB     *db.Manager
	Search *search.Store
}

// SearchBackend returns an untyped nil when search is disabled so callers
// can compare the interface against nil.
func (b *Backends) SearchBackend() storage.SearchBackend {
	if b.Search == nil {
		return nil
	}
	return b.Search
}

func (b *Backends) Close() error {
	var errs []error
	if b.KV != nil {
		if err := b.KV.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kv close: %w", err))
		}
	}
	if b.Search != nil {
		if err := b.Search.Close(); err != nil {
			errs = append(errs, fmt.Errorf("search close: %w", err))
		}
	}
	return errors.Join(errs...)
}

// OpenBackends connects every configured store. On failure anything already
// opened is closed.
func OpenBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backends, error) {
	b := &Backends{}
	switch cfg.KVBackend {
	case config.BackendRedis:
		rs, err := redisstore.New(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("open redis: %w", err)
		}
		b.KV = rs
		logger.Info("redis connected", "url", redactURL(cfg.RedisURL))
	default:
		dbm, err := db.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		b.KV = dbm
		b.DB = dbm

		settings, err := dbm.Settings(ctx)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("query sqlite pragmas: %w", err)
		}
		logger.Info("SQLite opened",
			"path", cfg.DBPath,
			"journal_mode", settings.JournalMode,
			"busy_timeout", settings.BusyTimeoutMS,
			"auto_vacuum", settings.AutoVacuum,
		)
	}

	if cfg.SearchEnabled() {
		st, err := search.Connect(ctx, search.Options{
			URI:              cfg.MongoURI,
			Database:         cfg.MongoDatabase,
			EventsCollection: cfg.MongoEventsCollection,
			SpansCollection:  cfg.MongoSpansCollection,
			Timeout:          cfg.BackendTimeout,
		}, logger)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("connect search backend: %w", err)
		}
		b.Search = st
	}
	return b, nil
}

func (r *Runtime) Run(ctx context.Context) error {
	backends, err := OpenBackends(ctx, r.cfg, r.logger)
	if err != nil {
		return err
	}
	r.backends = backends

	searchBackend := backends.SearchBackend()
	ingestor := ingest.NewIngestor(r.logger, backends.KV, searchBackend, r.recorder)
	router := query.NewRouter(r.logger, backends.KV, searchBackend, query.Limits{
		MaxScanItems:          r.cfg.MaxScanItems,
		ConversationScanLimit: r.cfg.ConversationScanLimit,
		TraceSpanLimit:        r.cfg.TraceSpanLimit,
	})
	svc := query.NewService(r.logger, ingestor, router, r.recorder)

	if r.cfg.EventFeedPath != "" {
		r.feedCh = make(chan ingest.Submission, ingest.QueueCapacity)
		r.workerDone = make(chan error, 1)
		worker := ingest.NewWorker(r.logger, ingestor, r.cfg.BackendTimeout)
		go func() {
			r.workerDone <- worker.Run(context.Background(), r.feedCh)
		}()
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	r.bgCancel = bgCancel
	r.startBackgroundLoops(bgCtx)

	health := server.NewHealthHandler(backends.KV, r.cfg.KVBackend, searchBackend, r.cfg.SearchBackend, r.startedAt, r.version)
	handler := server.NewRouter(server.Deps{
		Logger:  r.logger,
		Service: svc,
		Health:  health,
		Metrics: r.recorder,
	})
	r.httpServer = server.New(":"+r.cfg.Port, handler)

	serverErr := make(chan error, 1)
	go func() {
		r.logger.Info("Listening", "addr", ":"+r.cfg.Port, "read_source", router.Source().Name())
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		shutdownErr := r.shutdown(context.Background())
		if err != nil {
			return errors.Join(fmt.Errorf("http server failed: %w", err), shutdownErr)
		}
		return shutdownErr
	case <-ctx.Done():
		r.logger.Info("Signal received, shutting down...")
		return r.shutdown(context.Background())
	}
}

func (r *Runtime) shutdown(ctx context.Context) error {
	var joined error

	if r.httpServer != nil {
		httpCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := r.httpServer.Shutdown(httpCtx); err != nil {
			joined = errors.Join(joined, fmt.Errorf("http shutdown: %w", err))
		}
	}

	if r.bgCancel != nil {
		r.bgCancel()
		done := make(chan struct{})
		go func() {
			r.bgWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			joined = errors.Join(joined, errors.New("background loop shutdown timeout"))
		}
	}

	if r.feedCh != nil {
		r.logger.Info("Draining feed channel", "remaining", len(r.feedCh))
		close(r.feedCh)
		r.feedCh = nil
		select {
		case err := <-r.workerDone:
			if err != nil {
				joined = errors.Join(joined, fmt.Errorf("worker shutdown: %w", err))
			}
		case <-time.After(5 * time.Second):
			joined = errors.Join(joined, errors.New("worker drain timeout"))
		}
	}

	if r.backends != nil {
		if dbm := r.backends.DB; dbm != nil {
			cpCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := dbm.Checkpoint(cpCtx); err != nil {
				r.logger.Warn("WAL checkpoint failed", "error", err)
				joined = errors.Join(joined, fmt.Errorf("wal checkpoint: %w", err))
			}
		}
		if err := r.backends.Close(); err != nil {
			joined = errors.Join(joined, err)
		}
	}

	r.logger.Info("Shutdown complete", "uptime", time.Since(r.startedAt).String())
	return joined
}

func (r *Runtime) startBackgroundLoops(ctx context.Context) {
	var sizer metrics.StoreSizer
	if r.backends.DB != nil {
		sizer = r.backends.DB
	}
	collector := metrics.NewCollector(r.cfg.MetricsInterval, r.recorder, sizer)
	r.bgWG.Add(1)
	go func() {
		defer r.bgWG.Done()
		if err := collector.Run(ctx); err != nil {
			r.logger.Warn("metrics collector stopped", "error", err)
		}
	}()

	if r.feedCh != nil {
		r.bgWG.Add(1)
		go func() {
			defer r.bgWG.Done()
			tailer := feed.New(r.cfg.EventFeedPath, r.cfg.EventFeedStatePath, r.cfg.EventFeedPoll, r.feedCh, r.logger)
			if err := tailer.Run(ctx); err != nil {
				r.logger.Warn("event feed stopped", "error", err)
			}
		}()
	}

	if dbm := r.backends.DB; dbm != nil {
		r.bgWG.Add(1)
		go func() {
			defer r.bgWG.Done()
			ticker := time.NewTicker(r.cfg.WALCheckpointInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					r.maintainSQLite(dbm)
				}
			}
		}()
	}
}

func (r *Runtime) maintainSQLite(dbm *db.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	restarted, err := dbm.CheckpointIfWALExceeds(ctx, r.cfg.WALRestartThresholdB)
	if err != nil {
		r.logger.Warn("wal checkpoint loop failed", "error", err)
		return
	}
	if restarted {
		r.logger.Info("WAL checkpoint restarted", "threshold_bytes", r.cfg.WALRestartThresholdB)
	}
	if err := dbm.IncrementalVacuum(ctx, r.cfg.IncrementalVacuumPages); err != nil {
		r.logger.Warn("incremental vacuum failed", "error", err)
	}
}
