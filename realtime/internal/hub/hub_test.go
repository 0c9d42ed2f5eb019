package hub

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightwatch/lightwatch/common/logging"
	"github.com/lightwatch/lightwatch/common/models"
)

type fakeTransport struct {
	mu       sync.Mutex
	messages []string
	types    []int
	writeErr error
	closed   bool
}

func (f *fakeTransport) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("use of closed connection")
	}
	if f.writeErr != nil {
		return f.writeErr
	}
	f.types = append(f.types, messageType)
	if messageType == websocket.TextMessage {
		f.messages = append(f.messages, string(data))
	}
	return nil
}

func (f *fakeTransport) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestHub() *Hub {
	return New(WithLogger(logging.Discard().Logger), WithWriteTimeout(time.Second))
}

func TestSubscribe_AssignsFreshIDs(t *testing.T) {
	h := newTestHub()

	a, err := h.Subscribe(models.ChannelLogs, &fakeTransport{})
	require.NoError(t, err)
	b, err := h.Subscribe(models.ChannelLogs, &fakeTransport{})
	require.NoError(t, err)

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, h.Count(models.ChannelLogs))
}

func TestSubscribe_UnknownChannel(t *testing.T) {
	h := newTestHub()
	_, err := h.Subscribe(models.Channel("traces"), &fakeTransport{})
	assert.ErrorIs(t, err, ErrUnknownChannel)
	assert.Zero(t, h.Count(models.Channel("traces")))
}

func TestBroadcast_ChannelIsolation(t *testing.T) {
	h := newTestHub()
	logs := &fakeTransport{}
	metricsConn := &fakeTransport{}
	_, err := h.Subscribe(models.ChannelLogs, logs)
	require.NoError(t, err)
	_, err = h.Subscribe(models.ChannelMetrics, metricsConn)
	require.NoError(t, err)

	assert.Equal(t, 1, h.Broadcast(models.ChannelLogs, []byte(`{"level":"error"}`)))

	assert.Eventually(t, func() bool { return len(logs.received()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{`{"level":"error"}`}, logs.received())
	assert.Empty(t, metricsConn.received())
}

func TestBroadcast_UnknownChannelIsNoop(t *testing.T) {
	h := newTestHub()
	assert.Zero(t, h.Broadcast(models.Channel("nope"), []byte("x")))
}

func TestUnsubscribe_NoDeliveryAfterRemoval(t *testing.T) {
	h := newTestHub()
	tr := &fakeTransport{}
	c, err := h.Subscribe(models.ChannelSecurity, tr)
	require.NoError(t, err)

	h.Unsubscribe(models.ChannelSecurity, c.ID)
	assert.True(t, tr.isClosed())
	assert.True(t, c.Closed())
	assert.Zero(t, h.Count(models.ChannelSecurity))

	assert.Zero(t, h.Broadcast(models.ChannelSecurity, []byte("late")))
	assert.Empty(t, tr.received())

	// Repeated and unknown removals are ignored.
	h.Unsubscribe(models.ChannelSecurity, c.ID)
	h.Unsubscribe(models.Channel("nope"), c.ID)
}

func TestBroadcast_RemovesFailingConnection(t *testing.T) {
	h := newTestHub()
	good := &fakeTransport{}
	bad := &fakeTransport{writeErr: errors.New("broken pipe")}
	_, err := h.Subscribe(models.ChannelAlerts, good)
	require.NoError(t, err)
	_, err = h.Subscribe(models.ChannelAlerts, bad)
	require.NoError(t, err)

	assert.Equal(t, 2, h.Broadcast(models.ChannelAlerts, []byte("a1")))
	assert.Eventually(t, func() bool { return h.Count(models.ChannelAlerts) == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, bad.isClosed())

	assert.Equal(t, 1, h.Broadcast(models.ChannelAlerts, []byte("a2")))
	assert.Eventually(t, func() bool { return len(good.received()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a1", "a2"}, good.received())
}

// stalledTransport blocks every write until it is closed, like a peer that
// stopped reading.
type stalledTransport struct {
	closeOnce sync.Once
	closed    chan struct{}
}

func newStalledTransport() *stalledTransport {
	return &stalledTransport{closed: make(chan struct{})}
}

func (s *stalledTransport) WriteMessage(int, []byte) error {
	<-s.closed
	return errors.New("use of closed connection")
}

func (s *stalledTransport) SetWriteDeadline(time.Time) error { return nil }

func (s *stalledTransport) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func TestBroadcast_StalledClientDoesNotBlock(t *testing.T) {
	h := New(WithLogger(logging.Discard().Logger), WithWriteTimeout(time.Hour), WithSendQueue(1))
	fast := &fakeTransport{}
	slow := newStalledTransport()
	_, err := h.Subscribe(models.ChannelLogs, fast)
	require.NoError(t, err)
	_, err = h.Subscribe(models.ChannelLogs, slow)
	require.NoError(t, err)

	start := time.Now()
	for _, msg := range []string{"m1", "m2", "m3", "m4"} {
		h.Broadcast(models.ChannelLogs, []byte(msg))
		// Let the fast writer drain its single slot.
		assert.Eventually(t, func() bool { return len(fast.received()) > 0 && fast.received()[len(fast.received())-1] == msg },
			time.Second, time.Millisecond)
	}
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, fast.received())
	assert.Equal(t, 1, h.Count(models.ChannelLogs), "the stalled client is dropped once its queue is full")
	select {
	case <-slow.closed:
	default:
		t.Fatal("stalled transport was not closed")
	}
}

func TestBroadcast_PreservesOrderPerClient(t *testing.T) {
	h := newTestHub()
	tr := &fakeTransport{}
	_, err := h.Subscribe(models.ChannelMetrics, tr)
	require.NoError(t, err)

	want := make([]string, 50)
	for i := range want {
		want[i] = strconv.Itoa(i)
		require.Equal(t, 1, h.Broadcast(models.ChannelMetrics, []byte(want[i])))
	}
	assert.Eventually(t, func() bool { return len(tr.received()) == len(want) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, tr.received())
}

func TestClient_NoWriteAfterClose(t *testing.T) {
	tr := &fakeTransport{}
	c := newClient("c1", models.ChannelLogs, tr, 1)
	c.close(false, time.Second)

	err := c.write(websocket.TextMessage, []byte("x"), time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCounts(t *testing.T) {
	h := newTestHub()
	_, _ = h.Subscribe(models.ChannelLogs, &fakeTransport{})
	_, _ = h.Subscribe(models.ChannelLogs, &fakeTransport{})
	_, _ = h.Subscribe(models.ChannelAlerts, &fakeTransport{})

	assert.Equal(t, map[string]int{"logs": 2, "alerts": 1, "metrics": 0, "security": 0}, h.Counts())
}

func TestCloseAll(t *testing.T) {
	h := newTestHub()
	a, b := &fakeTransport{}, &fakeTransport{}
	_, _ = h.Subscribe(models.ChannelLogs, a)
	_, _ = h.Subscribe(models.ChannelMetrics, b)

	h.CloseAll()

	assert.True(t, a.isClosed())
	assert.True(t, b.isClosed())
	a.mu.Lock()
	assert.Contains(t, a.types, websocket.CloseMessage)
	a.mu.Unlock()
	for _, n := range h.Counts() {
		assert.Zero(t, n)
	}
}

func TestPing_RemovesDeadConnections(t *testing.T) {
	h := newTestHub()
	alive := &fakeTransport{}
	dead := &fakeTransport{writeErr: errors.New("reset by peer")}
	_, _ = h.Subscribe(models.ChannelLogs, alive)
	_, _ = h.Subscribe(models.ChannelLogs, dead)

	h.Ping()

	assert.Equal(t, 1, h.Count(models.ChannelLogs))
	alive.mu.Lock()
	assert.Equal(t, []int{websocket.PingMessage}, alive.types)
	alive.mu.Unlock()
}

func TestRunKeepalive_StopsOnCancel(t *testing.T) {
	h := newTestHub()
	tr := &fakeTransport{}
	_, _ = h.Subscribe(models.ChannelLogs, tr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.RunKeepalive(ctx, 10*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return len(tr.types) > 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("keepalive did not stop")
	}
}

func TestConcurrentSubscribeAndBroadcast(t *testing.T) {
	h := newTestHub()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c, err := h.Subscribe(models.ChannelLogs, &fakeTransport{})
			if err == nil {
				h.Unsubscribe(models.ChannelLogs, c.ID)
			}
		}()
		go func() {
			defer wg.Done()
			h.Broadcast(models.ChannelLogs, []byte("x"))
		}()
	}
	wg.Wait()
	assert.Zero(t, h.Count(models.ChannelLogs))
}

func TestReadPump_WebSocket(t *testing.T) {
	h := newTestHub()
	upgrader := websocket.Upgrader{}
	subscribed := make(chan *Client, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c, err := h.Subscribe(models.ChannelLogs, conn)
		if err != nil {
			_ = conn.Close()
			return
		}
		subscribed <- c
		h.ReadPump(c, conn, time.Second)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	select {
	case <-subscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("client was not subscribed")
	}

	require.Equal(t, 1, h.Broadcast(models.ChannelLogs, []byte(`{"event_id":"e1"}`)))

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)
	assert.JSONEq(t, `{"event_id":"e1"}`, string(data))

	require.NoError(t, ws.Close())
	assert.Eventually(t, func() bool { return h.Count(models.ChannelLogs) == 0 },
		2*time.Second, 10*time.Millisecond, "a closed client is removed by its read pump")
}
