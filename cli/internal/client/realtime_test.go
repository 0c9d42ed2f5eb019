package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelURL(t *testing.T) {
	tests := []struct {
		base, token, want string
	}{
		{"ws://localhost:3002", "", "ws://localhost:3002/ws/logs"},
		{"http://localhost:3002/", "abc", "ws://localhost:3002/ws/logs?token=abc"},
		{"https://rt.example.com/base", "a b", "wss://rt.example.com/base/ws/logs?token=a+b"},
	}
	for _, tt := range tests {
		got, err := NewRealtimeClient(tt.base, tt.token).ChannelURL("logs")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := NewRealtimeClient("ftp://x", "").ChannelURL("logs")
	assert.Error(t, err)
}

// pushServer upgrades every request, records the token and writes msgs.
func pushServer(t *testing.T, msgs []string, closeAfter bool, gotToken chan<- string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws/alerts" {
			http.NotFound(w, r)
			return
		}
		if gotToken != nil {
			gotToken <- r.URL.Query().Get("token")
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, m := range msgs {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		if closeAfter {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"))
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTail_ReceivesUntilServerCloses(t *testing.T) {
	tokens := make(chan string, 1)
	srv := pushServer(t, []string{`{"n":1}`, `{"n":2}`}, true, tokens)

	var got []string
	err := NewRealtimeClient(srv.URL, "secret").Tail(context.Background(), "alerts", func(b []byte) error {
		got = append(got, string(b))
		return nil
	})
	require.NoError(t, err, "a going-away close ends the tail cleanly")
	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`}, got)
	assert.Equal(t, "secret", <-tokens)
}

func TestTail_StopFromCallback(t *testing.T) {
	srv := pushServer(t, []string{"a", "b", "c"}, false, nil)

	var got []string
	err := NewRealtimeClient(srv.URL, "").Tail(context.Background(), "alerts", func(b []byte) error {
		got = append(got, string(b))
		if len(got) == 2 {
			return ErrStopTail
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestTail_CallbackError(t *testing.T) {
	srv := pushServer(t, []string{"a"}, false, nil)
	boom := errors.New("boom")

	err := NewRealtimeClient(srv.URL, "").Tail(context.Background(), "alerts", func([]byte) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestTail_ContextCancel(t *testing.T) {
	srv := pushServer(t, nil, false, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := NewRealtimeClient(srv.URL, "").Tail(ctx, "alerts", func([]byte) error { return nil })
	assert.NoError(t, err)
}

func TestTail_Rejected(t *testing.T) {
	srv := pushServer(t, nil, false, nil)

	err := NewRealtimeClient(srv.URL, "").Tail(context.Background(), "traces", func([]byte) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
