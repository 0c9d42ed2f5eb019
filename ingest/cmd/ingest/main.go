package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lightwatch/lightwatch/common/auth"
	"github.com/lightwatch/lightwatch/common/logging"
	"github.com/lightwatch/lightwatch/common/messaging"
	"github.com/lightwatch/lightwatch/common/messaging/redisstream"
	"github.com/lightwatch/lightwatch/common/middleware"
	"github.com/lightwatch/lightwatch/ingest/internal/alerting"
	"github.com/lightwatch/lightwatch/ingest/internal/config"
	"github.com/lightwatch/lightwatch/ingest/internal/dlq"
	"github.com/lightwatch/lightwatch/ingest/internal/handlers"
	"github.com/lightwatch/lightwatch/ingest/internal/query"
	"github.com/lightwatch/lightwatch/ingest/internal/ratelimit"
	"github.com/lightwatch/lightwatch/ingest/internal/server"
	"github.com/lightwatch/lightwatch/ingest/internal/service"
	"github.com/lightwatch/lightwatch/ingest/internal/storage"

	natsclient "github.com/lightwatch/lightwatch/common/messaging/nats"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("ingest"))
	logging.SetDefault(logger)

	fatal := func(msg string, err error) {
		logger.Error(msg, logging.Error(err))
		os.Exit(1)
	}

	slog.Info("Starting ingest service",
		slog.Int("port", cfg.Server.Port),
		slog.String("store_backend", cfg.Store.Backend),
		slog.String("rate_limit_backend", cfg.RateLimit.Backend),
		slog.Bool("auth_enabled", cfg.AuthEnabled()),
	)
	if *configPath != "" {
		slog.Info("Loaded configuration", slog.String("config_path", *configPath))
	}

	// Durable store: bounded startup retries, then fatal.
	osCfg := storage.DefaultOpenSearchConfig()
	osCfg.URL = cfg.Store.OpenSearch.URL
	osCfg.Username = cfg.Store.OpenSearch.Username
	osCfg.Password = cfg.Store.OpenSearch.Password
	osCfg.TLSSkipVerify = cfg.Store.OpenSearch.TLSSkipVerify
	osCfg.IndexPrefix = cfg.Store.OpenSearch.IndexPrefix

	startupCtx, cancelStartup := context.WithTimeout(context.Background(),
		time.Duration(cfg.Store.StartupRetries)*(cfg.Store.StartupRetryDelay+10*time.Second))
	store, err := storage.Open(startupCtx, storage.Config{
		Backend:           cfg.Store.Backend,
		MongoURI:          cfg.Store.MongoURI,
		MongoDatabase:     cfg.Store.MongoDatabase,
		OpenSearch:        osCfg,
		StartupRetries:    cfg.Store.StartupRetries,
		StartupRetryDelay: cfg.Store.StartupRetryDelay,
		OpTimeout:         cfg.Store.OpTimeout,
	}, logger.Component("storage").Logger)
	if err != nil {
		cancelStartup()
		fatal("failed to connect to document store", err)
	}
	if mongo, ok := store.(*storage.MongoStore); ok {
		if err := mongo.EnsureIndexes(startupCtx); err != nil {
			slog.Warn("failed to ensure store indexes", logging.Error(err))
		}
	}
	cancelStartup()

	// Stream broker: the client reconnects on its own and is not a startup gate.
	broker, err := redisstream.NewFromURL(cfg.Redis.URL, redisstream.WithMaxLen(cfg.Redis.StreamMaxLen))
	if err != nil {
		fatal("invalid redis url", err)
	}

	limiter, err := ratelimit.New(ratelimit.Config{
		Backend:       cfg.RateLimit.Backend,
		Max:           cfg.RateLimit.Max,
		Window:        cfg.RateLimit.Window,
		IdleTimeout:   cfg.RateLimit.IdleTimeout,
		PurgeInterval: cfg.RateLimit.PurgeInterval,
	}, broker.Client())
	if err != nil {
		fatal("failed to initialize rate limiter", err)
	}
	slog.Info("Rate limiting configured",
		slog.String("backend", cfg.RateLimit.Backend),
		slog.Int("max", cfg.RateLimit.Max),
		slog.Duration("window", cfg.RateLimit.Window))

	deps := map[string]messaging.HealthChecker{
		"store":  store,
		"broker": broker,
	}

	var deadLetters dlq.Queue
	switch cfg.DLQ.Backend {
	case dlq.BackendJetStream:
		natsCfg := natsclient.DefaultConfig()
		natsCfg.URL = cfg.DLQ.NATSURL
		natsCfg.Logger = logger.Component("nats").Logger
		js, err := natsclient.NewJetStreamClient(natsCfg)
		if err != nil {
			fatal("failed to connect to NATS for DLQ", err)
		}
		q, err := dlq.NewJetStreamQueue(context.Background(), js, logger.Component("dlq").Logger)
		if err != nil {
			fatal("failed to initialize JetStream DLQ", err)
		}
		deadLetters = q
		deps["dlq"] = js
		slog.Info("Dead letter queue enabled", slog.String("backend", "jetstream"), slog.String("nats", cfg.DLQ.NATSURL))
	case dlq.BackendFile:
		q, err := dlq.NewFileQueue(cfg.DLQ.Path, logger.Component("dlq").Logger)
		if err != nil {
			fatal("failed to initialize file DLQ", err)
		}
		deadLetters = q
		slog.Info("Dead letter queue enabled", slog.String("backend", "file"), slog.String("path", cfg.DLQ.Path))
		slog.Warn("File-based DLQ does not support multiple ingest instances")
	default:
		slog.Info("Dead letter queue disabled")
	}

	opts := []service.Option{service.WithLogger(logger.Component("pipeline").Logger)}
	if deadLetters != nil {
		opts = append(opts, service.WithDLQ(deadLetters))
	}
	pipeline := service.New(store, broker, opts...)

	rules := make([]alerting.Rule, len(cfg.Alerting.Rules))
	for i, r := range cfg.Alerting.Rules {
		rules[i] = alerting.Rule{
			Name:      r.Name,
			Service:   r.Service,
			Metric:    r.Metric,
			Operator:  r.Operator,
			Threshold: r.Threshold,
			Cooldown:  r.Cooldown,
		}
	}
	evaluator, err := alerting.NewEvaluator(rules, pipeline, alerting.WithLogger(logger.Component("alerting").Logger))
	if err != nil {
		fatal("invalid alert rule", err)
	}
	pipeline.SetAlertEvaluator(evaluator)

	bgCtx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()

	queryStore, canQuery := store.(query.Store)
	var ruleSyncer *alerting.Syncer
	if canQuery {
		ruleSyncer = alerting.NewSyncer(queryStore, evaluator, rules, cfg.Alerting.SyncInterval, logger.Component("alerting").Logger)
		if n, err := ruleSyncer.Sync(bgCtx); err != nil {
			slog.Warn("failed to load stored alert rules", logging.Error(err))
		} else {
			slog.Info("Stored alert rules loaded", slog.Int("rules", n))
		}
		go ruleSyncer.Run(bgCtx)
	}
	slog.Info("Alerting configured", slog.Int("rules", evaluator.Rules()))

	authn := auth.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.APIKey)
	if !authn.Enabled() {
		slog.Warn("No JWT secret or API key configured, ingestion is unauthenticated")
	}

	handler := handlers.NewIngestHandler(pipeline, authn, limiter, handlers.Options{
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		TrustProxy:   cfg.Server.TrustProxy,
		RetryAfter:   cfg.RateLimit.Window,
		Dependencies: deps,
	}, logger)

	cors := middleware.DefaultIngestCORS()
	if len(cfg.Server.AllowedOrigins) > 0 {
		cors.AllowedOrigins = cfg.Server.AllowedOrigins
	}
	var queryHandler *query.Handler
	if cfg.Query.Enabled && canQuery {
		queryOpts := query.Options{
			DefaultLimit: cfg.Query.DefaultLimit,
			TrustProxy:   cfg.Server.TrustProxy,
			RetryAfter:   cfg.RateLimit.Window,
		}
		if ruleSyncer != nil {
			queryOpts.OnRuleCreated = ruleSyncer.Trigger
		}
		queryHandler = query.NewHandler(queryStore, authn, limiter, queryOpts, logger)
		slog.Info("Read API enabled", slog.Int("default_limit", cfg.Query.DefaultLimit))
	}
	router := server.NewRouter(handler, queryHandler, cors, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Ingest service listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("server error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server...")
	cancelBackground()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", logging.Error(err))
	}

	if err := limiter.Close(); err != nil {
		slog.Warn("failed to stop rate limiter", logging.Error(err))
	}
	if deadLetters != nil {
		if err := deadLetters.Close(); err != nil {
			slog.Warn("failed to close DLQ", logging.Error(err))
		}
	}
	if err := broker.Close(); err != nil {
		slog.Warn("failed to close broker", logging.Error(err))
	}
	if err := store.Close(shutdownCtx); err != nil {
		slog.Warn("failed to close store", logging.Error(err))
	}

	slog.Info("Server stopped")
}
