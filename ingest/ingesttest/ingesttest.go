// Package ingesttest runs the ingest HTTP API in process for tests in other
// services. Events go to the given broker and to an in-memory store.
package ingesttest

import (
	"net/http/httptest"
	"testing"

	"github.com/lightwatch/lightwatch/common/auth"
	"github.com/lightwatch/lightwatch/common/logging"
	"github.com/lightwatch/lightwatch/common/messaging"
	"github.com/lightwatch/lightwatch/common/middleware"
	"github.com/lightwatch/lightwatch/ingest/internal/handlers"
	"github.com/lightwatch/lightwatch/ingest/internal/query"
	"github.com/lightwatch/lightwatch/ingest/internal/server"
	"github.com/lightwatch/lightwatch/ingest/internal/service"
	"github.com/lightwatch/lightwatch/ingest/internal/storage"
)

// Server is a running ingest API.
type Server struct {
	URL string

	store *storage.MemoryStore
}

type config struct {
	jwtSecret string
	apiKey    string
	logger    *logging.Logger
}

// Option configures a test server.
type Option func(*config)

// WithAuth requires the given JWT secret or API key on every request.
func WithAuth(jwtSecret, apiKey string) Option {
	return func(c *config) {
		c.jwtSecret = jwtSecret
		c.apiKey = apiKey
	}
}

// WithLogger routes server logs to logger instead of discarding them.
func WithLogger(logger *logging.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// NewServer starts the ingest router, read API included, over broker.
// The server is closed when the test ends.
func NewServer(t testing.TB, broker messaging.Appender, opts ...Option) *Server {
	t.Helper()

	cfg := &config{logger: logging.Discard()}
	for _, opt := range opts {
		opt(cfg)
	}

	authn := auth.NewAuthenticator(cfg.jwtSecret, cfg.apiKey)
	store := storage.NewMemoryStore()
	pipeline := service.New(store, broker, service.WithLogger(cfg.logger.Component("pipeline").Logger))
	ingest := handlers.NewIngestHandler(pipeline, authn, nil, handlers.Options{}, cfg.logger)
	reads := query.NewHandler(store, authn, nil, query.Options{}, cfg.logger)

	srv := httptest.NewServer(server.NewRouter(ingest, reads, middleware.DefaultIngestCORS(), cfg.logger))
	t.Cleanup(srv.Close)

	return &Server{URL: srv.URL, store: store}
}

// Documents returns a copy of every document stored in collection.
func (s *Server) Documents(collection string) []map[string]any {
	return s.store.All(collection)
}
