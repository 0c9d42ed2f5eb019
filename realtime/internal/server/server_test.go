package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightwatch/lightwatch/common/auth"
	"github.com/lightwatch/lightwatch/common/logging"
	"github.com/lightwatch/lightwatch/common/messaging"
	"github.com/lightwatch/lightwatch/common/middleware"
	"github.com/lightwatch/lightwatch/common/models"
	"github.com/lightwatch/lightwatch/realtime/internal/hub"
)

const (
	testSecret = "realtime-test-secret"
	testAPIKey = "realtime-test-key"
)

func newTestServer(t *testing.T, authn *auth.Authenticator, opts Options) (*hub.Hub, *httptest.Server) {
	t.Helper()
	h := hub.New(hub.WithWriteTimeout(time.Second), hub.WithLogger(logging.Discard().Logger))
	srv := httptest.NewServer(NewRouter(NewHandler(h, authn, opts, logging.Discard()), logging.Discard()))
	t.Cleanup(func() {
		h.CloseAll()
		srv.Close()
	})
	return h, srv
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func signToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func dial(t *testing.T, url string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

func TestSubscribe_ReceivesBroadcasts(t *testing.T) {
	h, srv := newTestServer(t, nil, Options{})

	conn, resp, err := dial(t, wsURL(srv, "/ws/logs"), nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader))

	require.Eventually(t, func() bool { return h.Count(models.ChannelLogs) == 1 }, 2*time.Second, 10*time.Millisecond)

	payload := `{"event_id":"e1","category":"log","message":"hello"}`
	assert.Equal(t, 1, h.Broadcast(models.ChannelLogs, []byte(payload)))
	assert.Equal(t, 0, h.Broadcast(models.ChannelAlerts, []byte(payload)), "other channels are not delivered")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	mt, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.JSONEq(t, payload, string(msg))
}

func TestSubscribe_Authentication(t *testing.T) {
	authn := auth.NewAuthenticator(testSecret, testAPIKey)

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"wrong key", "?token=nope", http.StatusUnauthorized},
		{"expired jwt", "?token=" + signToken(t, "ops", time.Now().Add(-time.Minute)), http.StatusUnauthorized},
		{"api key", "?token=" + testAPIKey, http.StatusSwitchingProtocols},
		{"valid jwt", "?token=" + signToken(t, "ops", time.Now().Add(time.Hour)), http.StatusSwitchingProtocols},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, srv := newTestServer(t, authn, Options{})

			_, resp, err := dial(t, wsURL(srv, "/ws/security"+tt.query), nil)
			require.NotNil(t, resp)
			assert.Equal(t, tt.status, resp.StatusCode)

			if tt.status != http.StatusSwitchingProtocols {
				assert.ErrorIs(t, err, websocket.ErrBadHandshake)
				var body map[string]any
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.Equal(t, "unauthorized", body["error"])
				assert.Zero(t, h.Count(models.ChannelSecurity), "rejected clients never join the hub")
				return
			}
			require.NoError(t, err)
			assert.Eventually(t, func() bool { return h.Count(models.ChannelSecurity) == 1 }, 2*time.Second, 10*time.Millisecond)
		})
	}
}

func TestSubscribe_UnknownChannel(t *testing.T) {
	h, srv := newTestServer(t, nil, Options{})

	_, resp, err := dial(t, wsURL(srv, "/ws/traces"), nil)
	assert.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	for _, n := range h.Counts() {
		assert.Zero(t, n)
	}
}

func TestSubscribe_AuthCheckedBeforeChannel(t *testing.T) {
	_, srv := newTestServer(t, auth.NewAuthenticator("", testAPIKey), Options{})

	_, resp, _ := dial(t, wsURL(srv, "/ws/traces"), nil)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSubscribe_OriginCheck(t *testing.T) {
	_, srv := newTestServer(t, nil, Options{AllowedOrigins: []string{"https://ui.example.com"}})

	_, resp, err := dial(t, wsURL(srv, "/ws/metrics"), http.Header{"Origin": {"https://evil.example.org"}})
	assert.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = dial(t, wsURL(srv, "/ws/metrics"), http.Header{"Origin": {"https://ui.example.com"}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
}

func TestSubscribe_ClientCloseUnsubscribes(t *testing.T) {
	h, srv := newTestServer(t, nil, Options{})

	conn, _, err := dial(t, wsURL(srv, "/ws/alerts"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.Count(models.ChannelAlerts) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	_ = conn.Close()

	assert.Eventually(t, func() bool { return h.Count(models.ChannelAlerts) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSubscribe_ClientFramesAreIgnored(t *testing.T) {
	h, srv := newTestServer(t, nil, Options{PingInterval: time.Second})

	conn, _, err := dial(t, wsURL(srv, "/ws/logs"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.Count(models.ChannelLogs) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("subscribe everything")))
	require.Equal(t, 1, h.Broadcast(models.ChannelLogs, []byte(`{"n":1}`)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, string(msg))
	assert.Equal(t, 1, h.Count(models.ChannelLogs))
}

func TestSubscribe_ShutdownSendsGoingAway(t *testing.T) {
	h, srv := newTestServer(t, nil, Options{})

	conn, _, err := dial(t, wsURL(srv, "/ws/logs"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.Count(models.ChannelLogs) == 1 }, 2*time.Second, 10*time.Millisecond)

	h.CloseAll()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestHealth(t *testing.T) {
	h, srv := newTestServer(t, auth.NewAuthenticator(testSecret, ""), Options{})
	fake := &nopTransport{}
	_, err := h.Subscribe(models.ChannelMetrics, fake)
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health is unauthenticated")

	var body struct {
		Status      string         `json:"status"`
		Connections map[string]int `json:"connections"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, map[string]int{"logs": 0, "alerts": 0, "metrics": 1, "security": 0}, body.Connections)
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestReady(t *testing.T) {
	var down atomic.Bool
	broker := pingFunc(func(context.Context) error {
		if down.Load() {
			return errors.New("connection refused")
		}
		return nil
	})
	_, srv := newTestServer(t, auth.NewAuthenticator(testSecret, ""), Options{
		Dependencies: map[string]messaging.HealthChecker{"broker": broker},
	})

	resp, err := http.Get(srv.URL + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	down.Store(true)
	resp, err = http.Get(srv.URL + "/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body struct {
		Status       string                            `json:"status"`
		Dependencies map[string]messaging.HealthStatus `json:"dependencies"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "unavailable", body.Status)
	assert.Equal(t, "connection refused", body.Dependencies["broker"].Error)
}

func TestRouter_MetricsAndNotFound(t *testing.T) {
	_, srv := newTestServer(t, nil, Options{})

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "not_found", body["error"])
}

func TestOriginAllowed(t *testing.T) {
	tests := []struct {
		allowed []string
		origin  string
		want    bool
	}{
		{nil, "https://any.example", true},
		{[]string{"https://ui.example.com"}, "", true},
		{[]string{"*"}, "https://any.example", true},
		{[]string{"https://ui.example.com"}, "https://ui.example.com", true},
		{[]string{"https://ui.example.com"}, "https://UI.example.com", true},
		{[]string{"https://ui.example.com"}, "https://other.example.com", false},
		{[]string{"*.example.com"}, "https://ops.example.com", true},
		{[]string{"*.example.com"}, "https://example.org", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, originAllowed(tt.allowed, tt.origin), "%v %q", tt.allowed, tt.origin)
	}
}

type nopTransport struct{}

func (nopTransport) WriteMessage(int, []byte) error   { return nil }
func (nopTransport) SetWriteDeadline(time.Time) error { return nil }
func (nopTransport) Close() error                     { return nil }
