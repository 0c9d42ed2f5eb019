// Package consumer reads the channel streams as a member of a consumer
// group and hands every entry to the hub before acknowledging it.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightwatch/lightwatch/common/logging"
	"github.com/lightwatch/lightwatch/common/messaging"
	"github.com/lightwatch/lightwatch/common/models"
	"github.com/lightwatch/lightwatch/realtime/internal/metrics"
)

// State is the consumer lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StatePolling
	StateDispatching
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StatePolling:
		return "polling"
	case StateDispatching:
		return "dispatching"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Broadcaster delivers a payload to a channel's subscribers.
type Broadcaster interface {
	Broadcast(channel models.Channel, payload []byte) int
}

// Config sizes the poll loop.
type Config struct {
	Group     string
	Name      string
	BatchSize int64
	Block     time.Duration
	Backoff   time.Duration
	// Streams defaults to every channel stream.
	Streams []string
}

// Consumer is the single long-lived poll task of a realtime process.
type Consumer struct {
	broker messaging.GroupReader
	hub    Broadcaster
	cfg    Config
	logger *slog.Logger

	state atomic.Int32

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
	started  bool
}

func New(broker messaging.GroupReader, hub Broadcaster, cfg Config, logger *slog.Logger) *Consumer {
	if len(cfg.Streams) == 0 {
		cfg.Streams = models.Streams()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		broker: broker,
		hub:    hub,
		cfg:    cfg,
		logger: logger.With(logging.Group(cfg.Group), logging.Consumer(cfg.Name)),
		done:   make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Consumer) State() State {
	return State(c.state.Load())
}

func (c *Consumer) setState(s State) {
	c.state.Store(int32(s))
}

// Start launches the poll loop in the background. It returns an error if
// the consumer was already started.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("consumer: already started")
	}
	c.started = true

	ctx, c.cancel = context.WithCancel(ctx)
	go func() {
		defer c.closeDone()
		c.run(ctx)
	}()
	return nil
}

// Stop asks the loop to finish and waits for it, or for ctx to expire.
// The in-flight read is abandoned; entries it returned are not acked and
// will be redelivered.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		// Stopped before it ran: later Starts fail and Done is closed.
		c.started = true
		c.mu.Unlock()
		c.setState(StateStopped)
		c.closeDone()
		return nil
	}
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the loop has exited, or by a Stop that came before
// any Start.
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}

func (c *Consumer) closeDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Consumer) run(ctx context.Context) {
	defer c.setState(StateStopped)

	c.setState(StateStarting)
	if !c.ensureGroups(ctx) {
		return
	}
	c.logger.Info("consumer started", slog.Any("streams", c.cfg.Streams))

	// Drain entries this consumer received before a restart but never acked.
	for ctx.Err() == nil {
		n, ok := c.poll(ctx, true)
		if !ok {
			c.sleep(ctx)
			continue
		}
		if int64(n) < c.cfg.BatchSize {
			break
		}
	}

	for ctx.Err() == nil {
		if _, ok := c.poll(ctx, false); !ok {
			c.sleep(ctx)
		}
	}
	c.logger.Info("consumer stopped")
}

// ensureGroups creates the group on every stream, retrying until it
// succeeds or ctx ends.
func (c *Consumer) ensureGroups(ctx context.Context) bool {
	for _, stream := range c.cfg.Streams {
		for {
			err := c.broker.EnsureGroup(ctx, stream, c.cfg.Group)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return false
			}
			metrics.ConsumerErrors.WithLabelValues("ensure_group").Inc()
			c.logger.Error("failed to create consumer group", logging.Stream(stream), logging.Error(err))
			if !c.sleep(ctx) {
				return false
			}
		}
	}
	return true
}

// poll performs one read and dispatches its entries. It returns the number
// of entries read and false when the read or an ack failed, so the caller
// backs off.
func (c *Consumer) poll(ctx context.Context, pending bool) (int, bool) {
	c.setState(StatePolling)
	entries, err := c.broker.ReadGroup(ctx, messaging.ReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Name,
		Streams:  c.cfg.Streams,
		Count:    c.cfg.BatchSize,
		Block:    c.cfg.Block,
		Pending:  pending,
	})
	if err != nil {
		if ctx.Err() != nil {
			return 0, true
		}
		metrics.ConsumerErrors.WithLabelValues("read").Inc()
		c.logger.Error("stream read failed", logging.Error(err))
		return 0, false
	}
	if len(entries) == 0 {
		return 0, true
	}

	c.setState(StateDispatching)
	ok := true
	for _, e := range entries {
		metrics.EntriesConsumed.WithLabelValues(e.Stream).Inc()
		c.dispatch(e)

		// Acks are not tied to ctx so a stop between hand-off and ack does
		// not strand an entry that was already delivered.
		ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Block)
		err := c.broker.Ack(ackCtx, e.Stream, c.cfg.Group, e.ID)
		cancel()
		if err != nil {
			metrics.ConsumerErrors.WithLabelValues("ack").Inc()
			c.logger.Error("ack failed", logging.Stream(e.Stream), logging.EntryID(e.ID), logging.Error(err))
			ok = false
		}
	}
	return len(entries), ok
}

func (c *Consumer) dispatch(e messaging.Entry) {
	ch, known := models.ChannelForStream(e.Stream)
	if !known {
		c.logger.Warn("entry from unmapped stream", logging.Stream(e.Stream), logging.EntryID(e.ID))
		return
	}
	if len(e.Data) == 0 {
		c.logger.Warn("entry without data field", logging.Stream(e.Stream), logging.EntryID(e.ID))
		return
	}
	c.hub.Broadcast(ch, e.Data)
}

// sleep waits one backoff period. It returns false if ctx ended first.
func (c *Consumer) sleep(ctx context.Context) bool {
	t := time.NewTimer(c.cfg.Backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
