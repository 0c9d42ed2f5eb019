package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lightwatch/lightwatch/common/httputil"
	"github.com/lightwatch/lightwatch/common/logging"
	"github.com/lightwatch/lightwatch/common/middleware"
)

// NewRouter registers the realtime routes and wraps them in the shared
// middleware chain.
func NewRouter(h *Handler, logger *logging.Logger) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ws/{channel}", h.Subscribe)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("/", httputil.NotFound)

	var handler http.Handler = mux
	handler = middleware.AccessLog(logger.Component("http").Logger)(handler)
	handler = middleware.Recovery(logger.Logger)(handler)
	return middleware.RequestID(handler)
}
