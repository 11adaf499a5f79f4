// Package search implements the document search backend on MongoDB: a
// mirror of every event with a parsed @timestamp for range filters and
// aggregation pipelines, and the trace span collection.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kon-rad/agent-tracker/internal/storage"
)

var _ storage.SearchBackend = (*Store)(nil)

type Options struct {
	URI              string
	Database         string
	EventsCollection string
	SpansCollection  string
	Timeout          time.Duration
}

type Store struct {
	client *mongo.Client
	events *mongo.Collection
	spans  *mongo.Collection
	logger *slog.Logger
}

// Connect dials MongoDB and verifies the connection with a ping.
func Connect(ctx context.Context, opts Options, logger *slog.Logger) (*Store, error) {
	if opts.URI == "" {
		return nil, fmt.Errorf("mongo connection uri is empty")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientOptions := options.Client().ApplyURI(opts.URI).
		SetMaxPoolSize(50).
		SetMinPoolSize(2).
		SetConnectTimeout(5 * time.Second).
		SetTimeout(opts.Timeout)

	connectCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancelPing := context.WithTimeout(ctx, 2*time.Second)
	defer cancelPing()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(opts.Database)
	logger.Info("connected to mongo search backend",
		"database", opts.Database,
		"events_collection", opts.EventsCollection,
		"spans_collection", opts.SpansCollection,
	)
	return &Store{
		client: client,
		events: db.Collection(opts.EventsCollection),
		spans:  db.Collection(opts.SpansCollection),
		logger: logger,
	}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the range and lookup indexes both collections rely
// on. It is idempotent.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	eventIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "agent_id", Value: 1}, {Key: "@timestamp", Value: 1}},
			Options: options.Index().SetName("agent_timestamp"),
		},
		{
			Keys:    bson.D{{Key: "message_type", Value: 1}, {Key: "@timestamp", Value: 1}},
			Options: options.Index().SetName("type_timestamp"),
		},
	}
	if _, err := s.events.Indexes().CreateMany(ctx, eventIndexes); err != nil {
		return fmt.Errorf("create event indexes: %w", err)
	}

	spanIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "trace_id", Value: 1}, {Key: "@timestamp", Value: 1}},
			Options: options.Index().SetName("trace_timestamp"),
		},
	}
	if _, err := s.spans.Indexes().CreateMany(ctx, spanIndexes); err != nil {
		return fmt.Errorf("create span indexes: %w", err)
	}
	s.logger.Info("search indexes ensured")
	return nil
}
