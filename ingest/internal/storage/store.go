// Package storage writes events and liveness records to the durable
// document store. MongoDB is the primary backend; OpenSearch is supported
// for deployments that already run a search cluster.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Backend names accepted by Open.
const (
	BackendMongo      = "mongo"
	BackendOpenSearch = "opensearch"
	BackendMemory     = "memory"
)

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = errors.New("storage: document not found")

// DocumentStore is the durable store contract.
type DocumentStore interface {
	// InsertOne stores doc in collection.
	InsertOne(ctx context.Context, collection string, doc map[string]any) error

	// UpsertOne finds the document whose keyField equals keyValue in
	// collection, overwrites the set fields, and writes onInsert only when
	// the document is created.
	UpsertOne(ctx context.Context, collection, keyField, keyValue string, set, onInsert map[string]any) error

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Config selects and configures a backend.
type Config struct {
	Backend string

	MongoURI      string
	MongoDatabase string

	OpenSearch OpenSearchConfig

	// StartupRetries and StartupRetryDelay bound the initial connectivity check.
	StartupRetries    int
	StartupRetryDelay time.Duration

	// OpTimeout bounds each store call.
	OpTimeout time.Duration
}

// Open connects to the configured backend and verifies connectivity,
// retrying a fixed number of times with a fixed delay.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (DocumentStore, error) {
	var connect func(context.Context) (DocumentStore, error)
	switch cfg.Backend {
	case BackendMongo, "":
		connect = func(ctx context.Context) (DocumentStore, error) {
			return NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.OpTimeout)
		}
	case BackendOpenSearch:
		connect = func(ctx context.Context) (DocumentStore, error) {
			c, err := NewOpenSearchStore(cfg.OpenSearch)
			if err != nil {
				return nil, err
			}
			if err := c.Initialize(ctx); err != nil {
				return nil, err
			}
			return c, nil
		}
	case BackendMemory:
		connect = func(context.Context) (DocumentStore, error) {
			return NewMemoryStore(), nil
		}
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}
	return ConnectWithRetry(ctx, cfg.StartupRetries, cfg.StartupRetryDelay, connect, logger)
}

// ConnectWithRetry calls connect until it returns a store that answers Ping,
// at most attempts times, sleeping delay between tries.
func ConnectWithRetry(ctx context.Context, attempts int, delay time.Duration, connect func(context.Context) (DocumentStore, error), logger *slog.Logger) (DocumentStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		store, err := connect(ctx)
		if err == nil {
			if err = store.Ping(ctx); err == nil {
				if attempt > 1 {
					logger.Info("store connected", slog.Int("attempt", attempt))
				}
				return store, nil
			}
			_ = store.Close(context.WithoutCancel(ctx))
		}
		lastErr = err
		logger.Warn("store not reachable",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.String("error", err.Error()))

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("store unreachable after %d attempts: %w", attempts, lastErr)
}
