// Package hub tracks WebSocket subscribers per channel and fans stream
// payloads out to them. Each channel has its own lock; there is no lock
// spanning channels.
package hub

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lightwatch/lightwatch/common/logging"
	"github.com/lightwatch/lightwatch/common/models"
	"github.com/lightwatch/lightwatch/realtime/internal/metrics"
)

var (
	// ErrUnknownChannel is returned by Subscribe for a channel the hub does not serve.
	ErrUnknownChannel = errors.New("hub: unknown channel")

	// ErrClosed is returned when writing to a connection that is closing.
	ErrClosed = errors.New("hub: connection closed")
)

// Transport is the write side of a WebSocket. *websocket.Conn satisfies it.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client is one subscribed connection. Broadcast payloads are queued on
// send and written by the client's own writer goroutine.
type Client struct {
	ID      string
	Channel models.Channel

	transport Transport
	send      chan []byte
	quit      chan struct{}
	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
}

func newClient(id string, channel models.Channel, t Transport, queue int) *Client {
	return &Client{
		ID:        id,
		Channel:   channel,
		transport: t,
		send:      make(chan []byte, queue),
		quit:      make(chan struct{}),
	}
}

// Closed reports whether the connection has been closed by the hub.
func (c *Client) Closed() bool {
	return c.closed.Load()
}

// enqueue queues payload without blocking. It returns false when the queue
// is full.
func (c *Client) enqueue(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) write(messageType int, data []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return ErrClosed
	}
	_ = c.transport.SetWriteDeadline(time.Now().Add(timeout))
	return c.transport.WriteMessage(messageType, data)
}

// close marks the client closed, stops its writer and releases the
// transport. When goingAway is set a close frame is attempted first, unless
// a write is in progress.
func (c *Client) close(goingAway bool, timeout time.Duration) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.quit)
		if goingAway && c.writeMu.TryLock() {
			_ = c.transport.SetWriteDeadline(time.Now().Add(timeout))
			_ = c.transport.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			c.writeMu.Unlock()
		}
		// Closing the transport unblocks a writer stuck on a stalled peer.
		_ = c.transport.Close()
	})
}

type room struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func (r *room) snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// Hub owns channel membership.
type Hub struct {
	rooms        map[models.Channel]*room
	writeTimeout time.Duration
	sendQueue    int
	logger       *slog.Logger
}

// Option configures a Hub.
type Option func(*Hub)

// WithWriteTimeout bounds each write to a subscriber.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) { h.writeTimeout = d }
}

// WithSendQueue sets how many payloads may wait for a slow subscriber
// before it is dropped.
func WithSendQueue(n int) Option {
	return func(h *Hub) { h.sendQueue = n }
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) { h.logger = logger }
}

// New creates a hub serving every channel in models.Channels. The channel
// set is fixed for the hub's lifetime.
func New(opts ...Option) *Hub {
	h := &Hub{
		rooms:        make(map[models.Channel]*room, len(models.Channels)),
		writeTimeout: 10 * time.Second,
		sendQueue:    256,
		logger:       slog.Default(),
	}
	for _, ch := range models.Channels {
		h.rooms[ch] = &room{clients: make(map[string]*Client)}
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.sendQueue <= 0 {
		h.sendQueue = 1
	}
	return h
}

// Subscribe adds t to channel under a fresh connection id.
func (h *Hub) Subscribe(channel models.Channel, t Transport) (*Client, error) {
	r, ok := h.rooms[channel]
	if !ok {
		return nil, ErrUnknownChannel
	}

	c := newClient(uuid.NewString(), channel, t, h.sendQueue)

	r.mu.Lock()
	r.clients[c.ID] = c
	r.mu.Unlock()
	go h.writePump(c)

	metrics.Connections.WithLabelValues(string(channel)).Inc()
	h.logger.Debug("client subscribed", logging.Channel(string(channel)), logging.ConnID(c.ID))
	return c, nil
}

// Unsubscribe removes id from channel and closes its transport. Unknown
// channels and ids are ignored.
func (h *Hub) Unsubscribe(channel models.Channel, id string) {
	r, ok := h.rooms[channel]
	if !ok {
		return
	}

	r.mu.Lock()
	c, ok := r.clients[id]
	if ok {
		delete(r.clients, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	c.close(false, h.writeTimeout)
	metrics.Connections.WithLabelValues(string(channel)).Dec()
	h.logger.Debug("client unsubscribed", logging.Channel(string(channel)), logging.ConnID(id))
}

// Broadcast queues payload as a text frame for every open connection on
// channel and returns how many connections accepted it. It never waits on
// a socket: a connection whose queue is full is removed. Unknown channels
// are a no-op.
func (h *Hub) Broadcast(channel models.Channel, payload []byte) int {
	r, ok := h.rooms[channel]
	if !ok {
		return 0
	}

	queued := 0
	for _, c := range r.snapshot() {
		if c.Closed() {
			continue
		}
		if !c.enqueue(payload) {
			metrics.WriteErrors.WithLabelValues(string(channel)).Inc()
			h.logger.Warn("send queue full, removing connection",
				logging.Channel(string(channel)),
				logging.ConnID(c.ID))
			h.Unsubscribe(channel, c.ID)
			continue
		}
		queued++
	}
	return queued
}

// writePump writes queued payloads to c until it is closed. A failed write
// removes the connection.
func (h *Hub) writePump(c *Client) {
	for {
		select {
		case <-c.quit:
			return
		case payload := <-c.send:
			if err := c.write(websocket.TextMessage, payload, h.writeTimeout); err != nil {
				if !errors.Is(err, ErrClosed) && !c.Closed() {
					metrics.WriteErrors.WithLabelValues(string(c.Channel)).Inc()
					h.logger.Warn("write failed, removing connection",
						logging.Channel(string(c.Channel)),
						logging.ConnID(c.ID),
						logging.Error(err))
				}
				h.Unsubscribe(c.Channel, c.ID)
				return
			}
			metrics.MessagesSent.WithLabelValues(string(c.Channel)).Inc()
		}
	}
}

// Count returns the number of connections on channel.
func (h *Hub) Count(channel models.Channel) int {
	r, ok := h.rooms[channel]
	if !ok {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Counts returns the connection count of every channel.
func (h *Hub) Counts() map[string]int {
	out := make(map[string]int, len(h.rooms))
	for ch := range h.rooms {
		out[string(ch)] = h.Count(ch)
	}
	return out
}

// CloseAll sends a going-away close frame to every connection and removes it.
func (h *Hub) CloseAll() {
	for ch, r := range h.rooms {
		r.mu.Lock()
		clients := r.clients
		r.clients = make(map[string]*Client)
		r.mu.Unlock()

		for _, c := range clients {
			c.close(true, h.writeTimeout)
		}
		metrics.Connections.WithLabelValues(string(ch)).Sub(float64(len(clients)))
	}
}
