package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/lightwatch/lightwatch/common/auth"
	"github.com/lightwatch/lightwatch/common/httputil"
	"github.com/lightwatch/lightwatch/common/logging"
	"github.com/lightwatch/lightwatch/common/messaging"
	"github.com/lightwatch/lightwatch/common/models"
	"github.com/lightwatch/lightwatch/ingest/internal/metrics"
	"github.com/lightwatch/lightwatch/ingest/internal/ratelimit"
	"github.com/lightwatch/lightwatch/ingest/internal/service"
	"github.com/lightwatch/lightwatch/ingest/internal/validator"
)

// Error codes returned in the "error" field.
const (
	CodeTooLarge     = "payload_too_large"
	CodeInvalidJSON  = "invalid_json"
	CodeUnauthorized = "unauthorized"
	CodeRateLimited  = "rate_limited"
	CodeValidation   = "validation_error"
	CodeInternal     = "internal"
)

// Pipeline is the part of ingestion behind the request gates.
type Pipeline interface {
	Ingest(ctx context.Context, category models.Category, payload any) (*models.Event, error)
	Heartbeat(ctx context.Context, payload any) (*models.ServiceRecord, error)
}

// Options tunes the request gates.
type Options struct {
	MaxBodyBytes int64

	// TrustProxy keys the limiter on proxy headers instead of the peer address.
	TrustProxy bool

	// RetryAfter is advertised on 429 responses when positive.
	RetryAfter time.Duration

	// Dependencies are pinged by the readiness check, keyed by name.
	Dependencies map[string]messaging.HealthChecker
}

// IngestHandler serves the per-category ingestion endpoints. Every request
// passes the gates in order: body size, JSON parse, authentication, rate
// limit. Validation and the writes happen in the pipeline.
type IngestHandler struct {
	pipeline Pipeline
	auth     *auth.Authenticator
	limiter  ratelimit.RateLimiter
	opts     Options
	logger   *logging.Logger
}

func NewIngestHandler(p Pipeline, authn *auth.Authenticator, limiter ratelimit.RateLimiter, opts Options, logger *logging.Logger) *IngestHandler {
	if limiter == nil {
		limiter = &ratelimit.NoOpRateLimiter{}
	}
	if authn == nil {
		authn = auth.NewAuthenticator("", "")
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &IngestHandler{
		pipeline: p,
		auth:     authn,
		limiter:  limiter,
		opts:     opts,
		logger:   logger,
	}
}

func (h *IngestHandler) Logs(w http.ResponseWriter, r *http.Request) {
	h.handleEvent(w, r, models.CategoryLog)
}

func (h *IngestHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	h.handleEvent(w, r, models.CategoryMetric)
}

func (h *IngestHandler) Security(w http.ResponseWriter, r *http.Request) {
	h.handleEvent(w, r, models.CategorySecurity)
}

func (h *IngestHandler) handleEvent(w http.ResponseWriter, r *http.Request, category models.Category) {
	start := time.Now()
	defer func() {
		metrics.RequestDuration.WithLabelValues(string(category)).Observe(time.Since(start).Seconds())
	}()

	payload, ctx, ok := h.admit(w, r, category)
	if !ok {
		return
	}

	ev, err := h.pipeline.Ingest(ctx, category, payload)
	if err != nil {
		h.writePipelineError(ctx, w, category, err)
		return
	}

	metrics.EventsTotal.WithLabelValues(string(category), metrics.OutcomeAccepted).Inc()
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{
		"status": "accepted",
		"id":     ev.EventID,
	})
}

// Heartbeat upserts the caller's liveness record.
func (h *IngestHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	category := models.CategoryHeartbeat
	start := time.Now()
	defer func() {
		metrics.RequestDuration.WithLabelValues(string(category)).Observe(time.Since(start).Seconds())
	}()

	payload, ctx, ok := h.admit(w, r, category)
	if !ok {
		return
	}

	rec, err := h.pipeline.Heartbeat(ctx, payload)
	if err != nil {
		h.writePipelineError(ctx, w, category, err)
		return
	}

	metrics.EventsTotal.WithLabelValues(string(category), metrics.OutcomeAccepted).Inc()
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": rec.Name,
	})
}

// Health is unauthenticated and always answers ok while the process serves.
func (h *IngestHandler) Health(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready pings every configured dependency and answers 503 if any is down.
func (h *IngestHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	deps, ok := messaging.CheckAll(ctx, h.opts.Dependencies)
	status, code := "ready", http.StatusOK
	if !ok {
		status, code = "unavailable", http.StatusServiceUnavailable
		for name, d := range deps {
			if !d.Connected {
				h.logger.WithContext(ctx).Warn("dependency not ready", slog.String("dependency", name), slog.String("error", d.Error))
			}
		}
	}
	httputil.WriteJSON(w, code, map[string]any{"status": status, "dependencies": deps})
}

// admit runs the request gates. On rejection the response is already
// written and ok is false.
func (h *IngestHandler) admit(w http.ResponseWriter, r *http.Request, category models.Category) (payload any, ctx context.Context, ok bool) {
	ctx = r.Context()
	log := h.logger.WithContext(ctx).With(logging.Category(string(category)))
	reject := func(status int, outcome, code string) {
		metrics.EventsTotal.WithLabelValues(string(category), outcome).Inc()
		httputil.WriteError(w, status, code, "")
	}

	body, err := httputil.ReadBody(w, r, h.opts.MaxBodyBytes)
	if err != nil {
		if errors.Is(err, httputil.ErrBodyTooLarge) {
			reject(http.StatusRequestEntityTooLarge, metrics.OutcomeTooLarge, CodeTooLarge)
			return nil, ctx, false
		}
		log.Warn("failed to read request body", logging.Error(err))
		reject(http.StatusBadRequest, metrics.OutcomeInvalidJSON, CodeInvalidJSON)
		return nil, ctx, false
	}
	metrics.EventBytesTotal.Add(float64(len(body)))

	payload, err = validator.Decode(body)
	if err != nil {
		reject(http.StatusBadRequest, metrics.OutcomeInvalidJSON, CodeInvalidJSON)
		return nil, ctx, false
	}

	principal, err := h.auth.AuthenticateRequest(r)
	if err != nil {
		log.Debug("authentication failed", logging.IP(httputil.RemoteIP(r)), logging.Error(err))
		reject(http.StatusUnauthorized, metrics.OutcomeUnauthorized, CodeUnauthorized)
		return nil, ctx, false
	}
	ctx = auth.WithPrincipal(ctx, principal)

	source := h.sourceID(r)
	allowed, err := h.limiter.Allow(ctx, source)
	if err != nil {
		// The limiter backend is unavailable; admit rather than drop telemetry.
		log.Warn("rate limiter error, allowing request", logging.IP(source), logging.Error(err))
		allowed = true
	}
	if !allowed {
		metrics.RateLimitHits.WithLabelValues(string(category)).Inc()
		if h.opts.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(h.opts.RetryAfter.Seconds())))
		}
		reject(http.StatusTooManyRequests, metrics.OutcomeRateLimited, CodeRateLimited)
		return nil, ctx, false
	}

	return payload, ctx, true
}

func (h *IngestHandler) sourceID(r *http.Request) string {
	if h.opts.TrustProxy {
		return httputil.GetClientIP(r)
	}
	return httputil.RemoteIP(r)
}

func (h *IngestHandler) writePipelineError(ctx context.Context, w http.ResponseWriter, category models.Category, err error) {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		metrics.EventsTotal.WithLabelValues(string(category), metrics.OutcomeInvalid).Inc()
		httputil.WriteErrorDetails(w, http.StatusBadRequest, CodeValidation, verr.Details)
		return
	}

	metrics.EventsTotal.WithLabelValues(string(category), metrics.OutcomeError).Inc()
	attrs := []any{logging.Category(string(category)), logging.Error(err)}
	var uerr *service.UpstreamError
	if errors.As(err, &uerr) {
		attrs = append(attrs, logging.Sink(uerr.Sink))
	}
	if p, ok := auth.PrincipalFrom(ctx); ok {
		attrs = append(attrs, logging.Subject(p.Subject))
	}
	h.logger.ErrorContext(ctx, "ingestion failed", attrs...)
	httputil.WriteError(w, http.StatusInternalServerError, CodeInternal, "")
}
