// Package messaging defines the broker abstractions used by the services:
// append-only streams read through consumer groups, and fire-and-forget
// subject publishing for side channels such as the dead-letter queue.
package messaging

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by a broker after Close.
var ErrClosed = errors.New("messaging: broker closed")

// DataField is the single field an entry's payload is stored under.
const DataField = "data"

// Entry is one record read from a stream.
type Entry struct {
	// Stream is the key of the log the entry was read from.
	Stream string

	// ID is the broker-assigned, monotonically increasing position.
	ID string

	// Data is the serialized payload.
	Data []byte
}

// ReadGroupArgs describes one blocking consumer-group read.
type ReadGroupArgs struct {
	Group    string
	Consumer string
	Streams  []string

	// Count bounds the number of entries returned per stream.
	Count int64

	// Block bounds how long the read waits for new entries. Must be positive
	// unless Pending is set.
	Block time.Duration

	// Pending re-reads entries already delivered to Consumer but never
	// acknowledged, instead of new entries. Such reads do not block.
	Pending bool
}

// Appender appends payloads to a stream.
type Appender interface {
	// Append adds data to the end of stream and returns the entry ID.
	Append(ctx context.Context, stream string, data []byte) (string, error)
}

// GroupReader reads streams as a member of a consumer group.
type GroupReader interface {
	// EnsureGroup creates group on stream, creating the stream if needed.
	// An existing group is not an error.
	EnsureGroup(ctx context.Context, stream, group string) error

	// ReadGroup returns entries never delivered to the group. A block timeout
	// with nothing to read returns an empty slice and a nil error.
	ReadGroup(ctx context.Context, args ReadGroupArgs) ([]Entry, error)

	// Ack marks entries as processed by the group.
	Ack(ctx context.Context, stream, group string, ids ...string) error
}

// StreamBroker is the full stream contract.
type StreamBroker interface {
	Appender
	GroupReader
	HealthChecker

	// Close releases the underlying connection.
	Close() error
}

// Publisher publishes messages to subjects.
type Publisher interface {
	// Publish sends data to subject and waits for the broker to persist it.
	Publish(ctx context.Context, subject string, data []byte) error

	// Close releases any resources held by the publisher.
	Close() error
}
