package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name        string
		inbound     string
		expectNewID bool
	}{
		{name: "generates new request ID when not present", inbound: "", expectNewID: true},
		{name: "propagates existing request ID", inbound: "existing-req-123", expectNewID: false},
		{name: "replaces oversized request ID", inbound: strings.Repeat("x", 200), expectNewID: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured string
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				captured = GetRequestID(r.Context())
			})

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			if tt.inbound != "" {
				req.Header.Set(RequestIDHeader, tt.inbound)
			}
			w := httptest.NewRecorder()
			RequestID(handler).ServeHTTP(w, req)

			header := w.Header().Get(RequestIDHeader)
			if header == "" {
				t.Fatal("expected X-Request-ID header in response")
			}
			if header != captured {
				t.Errorf("response header %q doesn't match context %q", header, captured)
			}
			if tt.expectNewID {
				if _, err := uuid.Parse(captured); err != nil {
					t.Errorf("expected valid UUID, got %q: %v", captured, err)
				}
			} else if captured != tt.inbound {
				t.Errorf("expected request ID %q, got %q", tt.inbound, captured)
			}
		})
	}
}

func TestGetRequestID_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := GetRequestID(req.Context()); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func TestCORS(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name           string
		config         CORSConfig
		origin         string
		method         string
		expectedOrigin string
		expectedStatus int
	}{
		{
			name:           "wildcard allows any origin",
			config:         DefaultIngestCORS(),
			origin:         "https://dashboard.local",
			method:         http.MethodPost,
			expectedOrigin: "*",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "subdomain match",
			config:         CORSConfig{AllowedOrigins: []string{"*.example.com"}},
			origin:         "https://app.example.com",
			method:         http.MethodGet,
			expectedOrigin: "https://app.example.com",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "origin not allowed",
			config:         CORSConfig{AllowedOrigins: []string{"https://example.com"}},
			origin:         "https://evil.com",
			method:         http.MethodGet,
			expectedOrigin: "",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "preflight short-circuits",
			config:         DefaultIngestCORS(),
			origin:         "https://dashboard.local",
			method:         http.MethodOptions,
			expectedOrigin: "*",
			expectedStatus: http.StatusNoContent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/ingest/logs", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()

			CORS(tt.config)(ok).ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.expectedOrigin {
				t.Errorf("expected origin %q, got %q", tt.expectedOrigin, got)
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	panicky := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	Recovery(logger)(panicky).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/ingest/logs", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "internal" {
		t.Errorf("expected error=internal, got %q", body["error"])
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Error("expected panic to be logged")
	}
}

func TestAccessLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := RequestID(AccessLog(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected one JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["status"] != float64(http.StatusTeapot) {
		t.Errorf("expected status 418, got %v", entry["status"])
	}
	if entry["request_id"] != "req-42" {
		t.Errorf("expected request_id req-42, got %v", entry["request_id"])
	}
	if entry["path"] != "/health" {
		t.Errorf("expected path /health, got %v", entry["path"])
	}
}
