// Package server exposes the realtime WebSocket channels over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lightwatch/lightwatch/common/auth"
	"github.com/lightwatch/lightwatch/common/httputil"
	"github.com/lightwatch/lightwatch/common/logging"
	"github.com/lightwatch/lightwatch/common/messaging"
	"github.com/lightwatch/lightwatch/common/middleware"
	"github.com/lightwatch/lightwatch/common/models"
	"github.com/lightwatch/lightwatch/realtime/internal/hub"
	"github.com/lightwatch/lightwatch/realtime/internal/metrics"
)

// Upgrade outcomes recorded in metrics.UpgradesTotal.
const (
	OutcomeAccepted       = "accepted"
	OutcomeUnauthorized   = "unauthorized"
	OutcomeUnknownChannel = "unknown_channel"
	OutcomeFailed         = "failed"
)

// Options tunes the upgrade handler.
type Options struct {
	// AllowedOrigins restricts browser upgrades by Origin header. Empty, or
	// an entry of "*", allows any origin.
	AllowedOrigins []string

	// PingInterval is the hub keepalive period. Connections that stay silent
	// for two intervals are dropped. Zero disables the read deadline.
	PingInterval time.Duration

	// Dependencies are pinged by the readiness check, keyed by name.
	Dependencies map[string]messaging.HealthChecker
}

// Handler admits WebSocket subscribers onto hub channels.
type Handler struct {
	hub      *hub.Hub
	auth     *auth.Authenticator
	upgrader websocket.Upgrader
	pongWait time.Duration
	deps     map[string]messaging.HealthChecker
	logger   *logging.Logger
}

func NewHandler(h *hub.Hub, authn *auth.Authenticator, opts Options, logger *logging.Logger) *Handler {
	if authn == nil {
		authn = auth.NewAuthenticator("", "")
	}
	if logger == nil {
		logger = logging.Default()
	}
	origins := opts.AllowedOrigins
	return &Handler{
		hub:  h,
		auth: authn,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(origins, r.Header.Get("Origin"))
			},
		},
		pongWait: 2 * opts.PingInterval,
		deps:     opts.Dependencies,
		logger:   logger,
	}
}

// Subscribe handles GET /ws/{channel}. Authentication and channel
// resolution happen before the upgrade so rejected clients get a plain
// HTTP error and never occupy a hub slot.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	log := h.logger.WithContext(r.Context())

	if _, err := h.auth.AuthenticateQuery(r); err != nil {
		metrics.UpgradesTotal.WithLabelValues(OutcomeUnauthorized).Inc()
		log.Debug("websocket upgrade rejected", logging.Error(err))
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid or missing token")
		return
	}

	channel, ok := models.ParseChannel(r.PathValue("channel"))
	if !ok {
		metrics.UpgradesTotal.WithLabelValues(OutcomeUnknownChannel).Inc()
		httputil.WriteError(w, http.StatusNotFound, "not_found", "unknown channel")
		return
	}

	// The hijacked 101 response only carries headers passed here.
	var respHeader http.Header
	if id := middleware.GetRequestID(r.Context()); id != "" {
		respHeader = http.Header{middleware.RequestIDHeader: {id}}
	}
	conn, err := h.upgrader.Upgrade(w, r, respHeader)
	if err != nil {
		// Upgrade has already written the HTTP error.
		metrics.UpgradesTotal.WithLabelValues(OutcomeFailed).Inc()
		log.Warn("websocket upgrade failed", logging.Channel(string(channel)), logging.Error(err))
		return
	}

	client, err := h.hub.Subscribe(channel, conn)
	if err != nil {
		metrics.UpgradesTotal.WithLabelValues(OutcomeFailed).Inc()
		log.Warn("subscribe failed", logging.Channel(string(channel)), logging.Error(err))
		_ = conn.Close()
		return
	}
	metrics.UpgradesTotal.WithLabelValues(OutcomeAccepted).Inc()
	log.Debug("websocket subscribed", logging.Channel(string(channel)), logging.ConnID(client.ID))

	// The request goroutine owns the read side for the connection's lifetime.
	h.hub.ReadPump(client, conn, h.pongWait)
}

// Health reports liveness and the subscriber count per channel.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": h.hub.Counts(),
	})
}

// Ready answers 503 while any dependency fails its ping. A broker outage
// stalls fan-out but leaves existing subscriptions open.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	deps, ok := messaging.CheckAll(ctx, h.deps)
	if !ok {
		for name, d := range deps {
			if !d.Connected {
				h.logger.WithContext(ctx).Warn("dependency not ready", slog.String("dependency", name), slog.String("error", d.Error))
			}
		}
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "dependencies": deps})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"status": "ready", "dependencies": deps})
}

func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 || origin == "" {
		return true
	}
	for _, a := range allowed {
		switch {
		case a == "*":
			return true
		case strings.HasPrefix(a, "*."):
			if strings.HasSuffix(origin, strings.TrimPrefix(a, "*")) {
				return true
			}
		case strings.EqualFold(a, origin):
			return true
		}
	}
	return false
}
