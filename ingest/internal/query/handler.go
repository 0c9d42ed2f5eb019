// Package query serves the read API over the document store: event search
// per category, the service liveness registry and alert rule management.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lightwatch/lightwatch/common/auth"
	"github.com/lightwatch/lightwatch/common/httputil"
	"github.com/lightwatch/lightwatch/common/logging"
	"github.com/lightwatch/lightwatch/common/models"
	"github.com/lightwatch/lightwatch/ingest/internal/alerting"
	"github.com/lightwatch/lightwatch/ingest/internal/metrics"
	"github.com/lightwatch/lightwatch/ingest/internal/ratelimit"
	"github.com/lightwatch/lightwatch/ingest/internal/storage"
)

// Error codes returned in the "error" field.
const (
	CodeUnauthorized = "unauthorized"
	CodeRateLimited  = "rate_limited"
	CodeBadRequest   = "bad_request"
	CodeInvalidJSON  = "invalid_json"
	CodeValidation   = "validation_error"
	CodeInternal     = "internal"
)

// Store is the part of the document store the read API needs.
type Store interface {
	storage.Finder
	InsertOne(ctx context.Context, collection string, doc map[string]any) error
}

// Options tunes the read API.
type Options struct {
	// DefaultLimit applies when a request has no usable limit.
	DefaultLimit int

	MaxBodyBytes int64
	TrustProxy   bool
	RetryAfter   time.Duration

	// OnRuleCreated runs after a rule is stored.
	OnRuleCreated func()
}

// Page is the envelope of every paginated list.
type Page struct {
	Data  []map[string]any `json:"data"`
	Total int64            `json:"total"`
	Page  int              `json:"page"`
	Limit int              `json:"limit"`
}

type Handler struct {
	store   Store
	auth    *auth.Authenticator
	limiter ratelimit.RateLimiter
	opts    Options
	logger  *logging.Logger
	now     func() time.Time
	newID   func() string
}

func NewHandler(store Store, authn *auth.Authenticator, limiter ratelimit.RateLimiter, opts Options, logger *logging.Logger) *Handler {
	if authn == nil {
		authn = auth.NewAuthenticator("", "")
	}
	if limiter == nil {
		limiter = &ratelimit.NoOpRateLimiter{}
	}
	if opts.DefaultLimit <= 0 || opts.DefaultLimit > storage.MaxQueryLimit {
		opts.DefaultLimit = 50
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 64 << 10
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		store:   store,
		auth:    authn,
		limiter: limiter,
		opts:    opts,
		logger:  logger.Component("query"),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Logs handles GET /api/logs. Filters: service, level, trace_id, q, from, to.
func (h *Handler) Logs(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, "logs", models.CollectionLogs, models.KeyTimestamp, func(v url.Values, q *storage.Query) {
		equal(q, v, "service", models.KeyService)
		equal(q, v, "level", "level")
		equal(q, v, "trace_id", models.KeyTraceID)
		if s := strings.TrimSpace(v.Get("q")); s != "" {
			q.Contains = map[string]string{"message": s}
		}
	})
}

// Metrics handles GET /api/metrics. Filters: service, name, trace_id, from, to.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, "metrics", models.CollectionMetrics, models.KeyTimestamp, func(v url.Values, q *storage.Query) {
		equal(q, v, "service", models.KeyService)
		equal(q, v, "name", "name")
		equal(q, v, "trace_id", models.KeyTraceID)
	})
}

// Security handles GET /api/security. Filters: service, ip, type, severity,
// trace_id, from, to.
func (h *Handler) Security(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, "security", models.CollectionSecurityEvents, models.KeyTimestamp, func(v url.Values, q *storage.Query) {
		equal(q, v, "service", models.KeyService)
		equal(q, v, "ip", "source_ip")
		equal(q, v, "type", "type")
		equal(q, v, "severity", "severity")
		equal(q, v, "trace_id", models.KeyTraceID)
	})
}

// AlertEvents handles GET /api/alerts/events. Filters: service, alert_name, from, to.
func (h *Handler) AlertEvents(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, "alert_events", models.CollectionAlertEvents, models.KeyTimestamp, func(v url.Values, q *storage.Query) {
		equal(q, v, "service", models.KeyService)
		equal(q, v, "alert_name", "alert_name")
	})
}

// Services handles GET /api/services, newest heartbeat first. Filter: status.
func (h *Handler) Services(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, "services", models.CollectionServices, "last_heartbeat", func(v url.Values, q *storage.Query) {
		equal(q, v, "status", "status")
		// The registry has no event timestamp; from/to bound the last heartbeat.
		q.TimeField = "last_heartbeat"
	})
}

// ListAlerts handles GET /api/alerts, newest rule first. Filter: service.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	if !h.admit(w, r) {
		return
	}
	start := time.Now()
	defer observe("alerts", start)

	q := storage.Query{SortField: "created_at", Limit: storage.MaxQueryLimit}
	equal(&q, r.URL.Query(), "service", models.KeyService)

	page, err := h.store.Find(r.Context(), models.CollectionAlertRules, q)
	if err != nil {
		h.storeFailed(r.Context(), w, "alerts", err)
		return
	}

	rules := make([]models.AlertRule, 0, len(page.Docs))
	for _, doc := range page.Docs {
		rule, err := models.AlertRuleFromDocument(doc)
		if err != nil {
			h.logger.WithContext(r.Context()).Warn("skipping unreadable alert rule", logging.Error(err))
			continue
		}
		rules = append(rules, rule)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"data": rules})
}

// CreateAlert handles POST /api/alerts. Type defaults to threshold.
func (h *Handler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	if !h.admit(w, r) {
		return
	}
	start := time.Now()
	defer observe("alerts_create", start)

	body, err := httputil.ReadBody(w, r, h.opts.MaxBodyBytes)
	if err != nil {
		if errors.Is(err, httputil.ErrBodyTooLarge) {
			httputil.WriteError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "")
			return
		}
		httputil.WriteError(w, http.StatusBadRequest, CodeInvalidJSON, "")
		return
	}

	var rule models.AlertRule
	if err := json.Unmarshal(body, &rule); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, CodeInvalidJSON, "invalid JSON body")
		return
	}
	if details := validateRule(rule); len(details) > 0 {
		httputil.WriteErrorDetails(w, http.StatusBadRequest, CodeValidation, details)
		return
	}

	now := h.now().UTC()
	rule.ID = h.newID()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if rule.Type == "" {
		rule.Type = models.AlertTypeThreshold
	}

	if err := h.store.InsertOne(r.Context(), models.CollectionAlertRules, rule.Document()); err != nil {
		h.storeFailed(r.Context(), w, "alerts_create", err)
		return
	}
	h.logger.WithContext(r.Context()).Info("alert rule created",
		logging.Service(rule.Service),
		slog.String("rule", rule.Name),
		slog.String("id", rule.ID))

	if h.opts.OnRuleCreated != nil {
		h.opts.OnRuleCreated()
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"id": rule.ID})
}

func validateRule(r models.AlertRule) []string {
	var details []string
	if strings.TrimSpace(r.Name) == "" {
		details = append(details, "name is required")
	}
	if strings.TrimSpace(r.Service) == "" {
		details = append(details, "service is required")
	}
	if r.Condition.Metric == "" {
		details = append(details, "condition.metric is required")
	}
	switch r.Condition.Operator {
	case "":
		details = append(details, "condition.operator is required")
	case alerting.OpGT, alerting.OpGTE, alerting.OpLT, alerting.OpLTE, alerting.OpEQ:
	default:
		details = append(details, fmt.Sprintf("condition.operator %q must be one of gt, gte, lt, lte, eq", r.Condition.Operator))
	}
	if r.Condition.Duration != "" {
		if d, err := time.ParseDuration(r.Condition.Duration); err != nil || d < 0 {
			details = append(details, "condition.duration must be a duration such as 5m")
		}
	}
	switch r.Type {
	case "", models.AlertTypeThreshold, models.AlertTypeRateChange, models.AlertTypeAnomaly:
	default:
		details = append(details, fmt.Sprintf("type %q is not supported", r.Type))
	}
	return details
}

// list answers a paginated, newest-first search of collection.
func (h *Handler) list(w http.ResponseWriter, r *http.Request, endpoint, collection, sortField string, filters func(url.Values, *storage.Query)) {
	if !h.admit(w, r) {
		return
	}
	start := time.Now()
	defer observe(endpoint, start)

	v := r.URL.Query()
	page, limit := h.pagination(v)
	q := storage.Query{
		TimeField: models.KeyTimestamp,
		SortField: sortField,
		Skip:      (page - 1) * limit,
		Limit:     limit,
	}
	filters(v, &q)

	var err error
	if q.From, err = parseTime(v, "from"); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	if q.To, err = parseTime(v, "to"); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.From.After(q.To) {
		httputil.WriteError(w, http.StatusBadRequest, CodeBadRequest, "from must not be after to")
		return
	}

	result, err := h.store.Find(r.Context(), collection, q)
	if err != nil {
		h.storeFailed(r.Context(), w, endpoint, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, Page{
		Data:  result.Docs,
		Total: result.Total,
		Page:  page,
		Limit: limit,
	})
}

// admit authenticates and rate limits a read request. On rejection the
// response is already written.
func (h *Handler) admit(w http.ResponseWriter, r *http.Request) bool {
	log := h.logger.WithContext(r.Context())

	if _, err := h.auth.AuthenticateRequest(r); err != nil {
		log.Debug("authentication failed", logging.IP(httputil.RemoteIP(r)), logging.Error(err))
		httputil.WriteError(w, http.StatusUnauthorized, CodeUnauthorized, "")
		return false
	}

	source := httputil.RemoteIP(r)
	if h.opts.TrustProxy {
		source = httputil.GetClientIP(r)
	}
	allowed, err := h.limiter.Allow(r.Context(), "query:"+source)
	if err != nil {
		log.Warn("rate limiter error, allowing request", logging.IP(source), logging.Error(err))
		allowed = true
	}
	if !allowed {
		if h.opts.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(h.opts.RetryAfter.Seconds())))
		}
		httputil.WriteError(w, http.StatusTooManyRequests, CodeRateLimited, "")
		return false
	}
	return true
}

func (h *Handler) storeFailed(ctx context.Context, w http.ResponseWriter, endpoint string, err error) {
	metrics.QueryErrors.WithLabelValues(endpoint).Inc()
	h.logger.ErrorContext(ctx, "query failed", slog.String("endpoint", endpoint), logging.Error(err))
	httputil.WriteError(w, http.StatusInternalServerError, CodeInternal, "")
}

// pagination reads page (at least 1) and limit (1..MaxQueryLimit).
func (h *Handler) pagination(v url.Values) (page, limit int) {
	page, _ = strconv.Atoi(v.Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ = strconv.Atoi(v.Get("limit"))
	if limit < 1 {
		limit = h.opts.DefaultLimit
	}
	if limit > storage.MaxQueryLimit {
		limit = storage.MaxQueryLimit
	}
	return page, limit
}

func equal(q *storage.Query, v url.Values, param, field string) {
	s := strings.TrimSpace(v.Get(param))
	if s == "" {
		return
	}
	if q.Equals == nil {
		q.Equals = make(map[string]string)
	}
	q.Equals[field] = s
}

func parseTime(v url.Values, param string) (time.Time, error) {
	s := strings.TrimSpace(v.Get(param))
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an RFC 3339 timestamp", param)
	}
	return t.UTC(), nil
}

func observe(endpoint string, start time.Time) {
	metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}
