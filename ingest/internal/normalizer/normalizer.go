// Package normalizer turns a validated payload into a models.Event: it
// assigns an event ID and schema version when absent, resolves the business
// timestamp, and always stamps received_at with the server clock.
package normalizer

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lightwatch/lightwatch/common/models"
)

// IDBytes is the number of random bytes in a generated event ID.
const IDBytes = 16

// Normalizer is safe for concurrent use.
type Normalizer struct {
	now   func() time.Time
	newID func() (string, error)
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// WithIDGenerator overrides event ID generation.
func WithIDGenerator(gen func() (string, error)) Option {
	return func(n *Normalizer) { n.newID = gen }
}

func New(opts ...Option) *Normalizer {
	n := &Normalizer{now: time.Now, newID: NewEventID}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NewEventID returns 32 lowercase hex characters from a CSPRNG.
func NewEventID() (string, error) {
	b := make([]byte, IDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate event id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Normalize builds an Event from a payload that already passed validation.
// Client-supplied event_id, schema_version and timestamp are kept; received_at
// is always overwritten.
func (n *Normalizer) Normalize(category models.Category, payload map[string]any) (*models.Event, error) {
	now := n.now().UTC()

	ev := &models.Event{
		Category:   category,
		ReceivedAt: now,
		Fields:     make(map[string]any, len(payload)),
	}

	for k, v := range payload {
		switch k {
		case models.KeyEventID:
			ev.EventID, _ = v.(string)
		case models.KeySchemaVersion:
			ev.SchemaVersion = schemaVersion(v)
		case models.KeyService:
			ev.Service, _ = v.(string)
		case models.KeyTraceID:
			ev.TraceID, _ = v.(string)
		case models.KeyTimestamp:
			ev.Timestamp = parseTime(v)
		case models.KeyReceivedAt:
			// server-assigned only
		default:
			ev.Fields[k] = plain(v)
		}
	}

	if ev.EventID == "" {
		id, err := n.newID()
		if err != nil {
			return nil, err
		}
		ev.EventID = id
	}
	if ev.SchemaVersion <= 0 {
		ev.SchemaVersion = models.CurrentSchemaVersion
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}

	return ev, nil
}

func schemaVersion(v any) int {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
		if f, err := n.Float64(); err == nil {
			return int(f)
		}
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	}
	return 0
}

func parseTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}

// plain replaces json.Number with int64 or float64, recursively, so store
// drivers see numeric values rather than strings.
func plain(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = plain(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = plain(vv)
		}
		return out
	}
	return v
}
