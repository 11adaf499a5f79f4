package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/kon-rad/agent-tracker/internal/config"
)

// Provision creates backend schema and indexes, then closes everything.
// Opening the sqlite backend applies its DDL; mongo needs explicit indexes.
func Provision(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	b, err := OpenBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	if err := b.KV.Ping(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", cfg.KVBackend, err)
	}
	logger.Info("kv backend ready", "backend", cfg.KVBackend)

	if b.Search != nil {
		if err := b.Search.EnsureIndexes(ctx); err != nil {
			return fmt.Errorf("ensure search indexes: %w", err)
		}
		logger.Info("search indexes ready",
			"database", cfg.MongoDatabase,
			"events", cfg.MongoEventsCollection,
			"spans", cfg.MongoSpansCollection,
		)
	}
	return nil
}

// redactURL drops credentials before a connection string is logged.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid"
	}
	return u.Redacted()
}
