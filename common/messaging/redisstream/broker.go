// Package redisstream implements messaging.StreamBroker on Redis Streams.
package redisstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/lightwatch/lightwatch/common/messaging"
)

// Broker is a Redis Streams client.
type Broker struct {
	client *redis.Client
	maxLen int64
	closed atomic.Bool
}

// Option configures a Broker.
type Option func(*Broker)

// WithMaxLen trims each stream to roughly n entries on append. Zero disables trimming.
func WithMaxLen(n int64) Option {
	return func(b *Broker) { b.maxLen = n }
}

// New wraps an existing client.
func New(client *redis.Client, opts ...Option) *Broker {
	b := &Broker{client: client}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewFromURL parses a redis:// URL and returns a Broker. The client
// reconnects on its own; no connection is made here.
func NewFromURL(url string, opts ...Option) (*Broker, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return New(redis.NewClient(ropts), opts...), nil
}

// Client exposes the underlying client for components sharing the connection.
func (b *Broker) Client() *redis.Client { return b.client }

// Append adds data under messaging.DataField.
func (b *Broker) Append(ctx context.Context, stream string, data []byte) (string, error) {
	if b.closed.Load() {
		return "", messaging.ErrClosed
	}
	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{messaging.DataField: data},
	}
	if b.maxLen > 0 {
		args.MaxLen = b.maxLen
		args.Approx = true
	}
	id, err := b.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

// EnsureGroup creates group reading stream from the beginning.
func (b *Broker) EnsureGroup(ctx context.Context, stream, group string) error {
	if b.closed.Load() {
		return messaging.ErrClosed
	}
	err := b.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("xgroup create %s %s: %w", stream, group, err)
	}
	return nil
}

// ReadGroup issues XREADGROUP ... STREAMS s1..sn > .. >, or 0 .. 0 for a
// pending read.
func (b *Broker) ReadGroup(ctx context.Context, args messaging.ReadGroupArgs) ([]messaging.Entry, error) {
	if b.closed.Load() {
		return nil, messaging.ErrClosed
	}
	if len(args.Streams) == 0 {
		return nil, nil
	}
	start, block := ">", args.Block
	if args.Pending {
		// A negative block omits BLOCK from the command.
		start, block = "0", -1
	} else if args.Block <= 0 {
		return nil, fmt.Errorf("xreadgroup: block must be positive, got %s", args.Block)
	}

	streams := make([]string, 0, 2*len(args.Streams))
	streams = append(streams, args.Streams...)
	for range args.Streams {
		streams = append(streams, start)
	}

	res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    args.Group,
		Consumer: args.Consumer,
		Streams:  streams,
		Count:    args.Count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup %s: %w", args.Group, err)
	}

	var entries []messaging.Entry
	for _, s := range res {
		for _, msg := range s.Messages {
			entries = append(entries, messaging.Entry{
				Stream: s.Stream,
				ID:     msg.ID,
				Data:   payload(msg.Values),
			})
		}
	}
	return entries, nil
}

// Ack acknowledges ids in group on stream.
func (b *Broker) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if b.closed.Load() {
		return messaging.ErrClosed
	}
	if len(ids) == 0 {
		return nil
	}
	if err := b.client.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return fmt.Errorf("xack %s %s: %w", stream, group, err)
	}
	return nil
}

// Ping checks connectivity.
func (b *Broker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the client. Further calls return messaging.ErrClosed.
func (b *Broker) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.client.Close()
}

func isBusyGroup(err error) bool {
	return strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// payload extracts the data field. Entries written by other producers
// without it are returned as nil.
func payload(values map[string]any) []byte {
	switch v := values[messaging.DataField].(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	}
	return nil
}

var _ messaging.StreamBroker = (*Broker)(nil)
