package hub

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lightwatch/lightwatch/common/logging"
)

// Reader is the read side of a WebSocket. *websocket.Conn satisfies it.
type Reader interface {
	ReadMessage() (messageType int, p []byte, err error)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// ReadPump discards client frames until the connection fails, then
// unsubscribes c. With a positive pongWait the connection must answer a
// ping (or send anything) within pongWait. ReadPump blocks.
func (h *Hub) ReadPump(c *Client, conn Reader, pongWait time.Duration) {
	defer h.Unsubscribe(c.Channel, c.ID)

	if pongWait > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) && !c.Closed() {
				h.logger.Debug("connection read failed",
					logging.Channel(string(c.Channel)),
					logging.ConnID(c.ID),
					logging.Error(err))
			}
			return
		}
		if pongWait > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		}
	}
}

// Ping sends a ping to every connection and removes those that fail.
func (h *Hub) Ping() {
	for ch, r := range h.rooms {
		for _, c := range r.snapshot() {
			if c.Closed() {
				continue
			}
			if err := c.write(websocket.PingMessage, nil, h.writeTimeout); err != nil {
				h.logger.Debug("ping failed, removing connection",
					logging.Channel(string(ch)),
					logging.ConnID(c.ID),
					logging.Error(err))
				h.Unsubscribe(ch, c.ID)
			}
		}
	}
}

// RunKeepalive pings every interval until ctx is done.
func (h *Hub) RunKeepalive(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Ping()
		}
	}
}
