package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// RealtimeClient subscribes to realtime channels.
type RealtimeClient struct {
	baseURL string
	token   string
	dialer  *websocket.Dialer
}

func NewRealtimeClient(baseURL, token string) *RealtimeClient {
	return &RealtimeClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// ChannelURL returns the WebSocket URL for channel, with the token query
// parameter when a token is set. http and https base URLs are mapped to ws
// and wss.
func (c *RealtimeClient) ChannelURL(channel string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid realtime url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported realtime url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/" + url.PathEscape(channel)
	if c.token != "" {
		q := u.Query()
		q.Set("token", c.token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Tail calls fn with every message pushed on channel until ctx is done, the
// server closes the connection, or fn returns an error. A stop requested
// through ctx or a normal close returns nil.
func (c *RealtimeClient) Tail(ctx context.Context, channel string, fn func([]byte) error) error {
	target, err := c.ChannelURL(channel)
	if err != nil {
		return err
	}

	conn, resp, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("subscribe to %s rejected with status %d", channel, resp.StatusCode)
		}
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if err := fn(msg); err != nil {
			if errors.Is(err, ErrStopTail) {
				return nil
			}
			return err
		}
	}
}

// ErrStopTail may be returned by a Tail callback to end the subscription
// without error.
var ErrStopTail = errors.New("stop tail")
