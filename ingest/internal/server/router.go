package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lightwatch/lightwatch/common/httputil"
	"github.com/lightwatch/lightwatch/common/logging"
	"github.com/lightwatch/lightwatch/common/middleware"
	"github.com/lightwatch/lightwatch/ingest/internal/handlers"
	"github.com/lightwatch/lightwatch/ingest/internal/query"
)

// NewRouter constructs a ServeMux with ingest API routes registered and
// wraps it in the shared middleware chain. The read API under /api is
// mounted when q is non-nil.
func NewRouter(h *handlers.IngestHandler, q *query.Handler, cors middleware.CORSConfig, logger *logging.Logger) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	mux := http.NewServeMux()

	route(mux, http.MethodPost, "/ingest/logs", h.Logs)
	route(mux, http.MethodPost, "/ingest/metrics", h.Metrics)
	route(mux, http.MethodPost, "/ingest/security", h.Security)
	route(mux, http.MethodPost, "/ingest/heartbeat", h.Heartbeat)

	if q != nil {
		route(mux, http.MethodGet, "/api/logs", q.Logs)
		route(mux, http.MethodGet, "/api/metrics", q.Metrics)
		route(mux, http.MethodGet, "/api/security", q.Security)
		route(mux, http.MethodGet, "/api/services", q.Services)
		route(mux, http.MethodGet, "/api/alerts/events", q.AlertEvents)
		mux.HandleFunc("GET /api/alerts", q.ListAlerts)
		mux.HandleFunc("POST /api/alerts", q.CreateAlert)
		mux.HandleFunc("/api/alerts", func(w http.ResponseWriter, _ *http.Request) {
			httputil.MethodNotAllowed(w, http.MethodGet, http.MethodPost)
		})
	}

	route(mux, http.MethodGet, "/health", h.Health)
	route(mux, http.MethodGet, "/ready", h.Ready)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("/", httputil.NotFound)

	var handler http.Handler = mux
	handler = middleware.CORS(cors)(handler)
	handler = middleware.AccessLog(logger.Component("http").Logger)(handler)
	handler = middleware.Recovery(logger.Logger)(handler)
	return middleware.RequestID(handler)
}

// route registers fn for method on path and answers any other method with 405.
func route(mux *http.ServeMux, method, path string, fn http.HandlerFunc) {
	mux.HandleFunc(method+" "+path, fn)
	mux.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
		httputil.MethodNotAllowed(w, method)
	})
}
