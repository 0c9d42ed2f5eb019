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
	"github.com/lightwatch/lightwatch/realtime/internal/config"
	"github.com/lightwatch/lightwatch/realtime/internal/consumer"
	"github.com/lightwatch/lightwatch/realtime/internal/hub"
	"github.com/lightwatch/lightwatch/realtime/internal/server"
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
	).With(logging.Service("realtime"))
	logging.SetDefault(logger)

	slog.Info("Starting realtime service",
		slog.Int("port", cfg.Server.Port),
		slog.String("group", cfg.Consumer.Group),
		slog.String("consumer", cfg.Consumer.Name),
	)

	broker, err := redisstream.NewFromURL(cfg.Redis.URL)
	if err != nil {
		logger.Error("invalid redis url", logging.Error(err))
		os.Exit(1)
	}
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := broker.Ping(pingCtx); err != nil {
		// The consumer retries group creation until Redis is reachable.
		slog.Warn("redis not reachable at startup", logging.Error(err))
	}
	cancelPing()

	h := hub.New(
		hub.WithWriteTimeout(cfg.Hub.WriteTimeout),
		hub.WithSendQueue(cfg.Hub.SendQueue),
		hub.WithLogger(logger.Component("hub").Logger),
	)

	c := consumer.New(broker, h, consumer.Config{
		Group:     cfg.Consumer.Group,
		Name:      cfg.Consumer.Name,
		BatchSize: cfg.Consumer.BatchSize,
		Block:     cfg.Consumer.Block,
		Backoff:   cfg.Consumer.Backoff,
	}, logger.Component("consumer").Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Start(ctx); err != nil {
		logger.Error("failed to start consumer", logging.Error(err))
		os.Exit(1)
	}
	go h.RunKeepalive(ctx, cfg.Hub.PingInterval)

	authn := auth.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.APIKey)
	if !authn.Enabled() {
		slog.Warn("No JWT secret or API key configured, subscriptions are unauthenticated")
	}

	handler := server.NewHandler(h, authn, server.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		PingInterval:   cfg.Hub.PingInterval,
		Dependencies:   map[string]messaging.HealthChecker{"broker": broker},
	}, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.NewRouter(handler, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Realtime service listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", logging.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Consumer first so nothing is broadcast to connections being closed.
	if err := c.Stop(shutdownCtx); err != nil {
		slog.Warn("consumer did not stop in time", logging.Error(err))
	}
	cancel()

	// Shutdown does not wait for hijacked connections; CloseAll ends them.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", logging.Error(err))
	}
	h.CloseAll()

	if err := broker.Close(); err != nil {
		slog.Warn("failed to close broker", logging.Error(err))
	}

	slog.Info("Realtime service stopped")
}
