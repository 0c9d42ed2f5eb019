package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// CurrentSchemaVersion is stamped on events that do not carry one.
const CurrentSchemaVersion = 2

// Reserved top-level keys shared by every category.
const (
	KeyEventID       = "event_id"
	KeySchemaVersion = "schema_version"
	KeyService       = "service"
	KeyTimestamp     = "timestamp"
	KeyReceivedAt    = "received_at"
	KeyTraceID       = "trace_id"
)

// Event is a normalized record. Category-specific fields (level, message,
// value, ...) live in Fields and are flattened on serialization.
type Event struct {
	Category      Category
	EventID       string
	SchemaVersion int
	Service       string
	TraceID       string
	Timestamp     time.Time
	ReceivedAt    time.Time
	Fields        map[string]any
}

// Document returns the flattened representation stored and published.
// Time values stay time.Time so BSON encoders store them as dates.
func (e *Event) Document() map[string]any {
	doc := make(map[string]any, len(e.Fields)+6)
	for k, v := range e.Fields {
		doc[k] = v
	}
	doc[KeyEventID] = e.EventID
	doc[KeySchemaVersion] = e.SchemaVersion
	doc[KeyService] = e.Service
	doc[KeyTimestamp] = e.Timestamp
	doc[KeyReceivedAt] = e.ReceivedAt
	if e.TraceID != "" {
		doc[KeyTraceID] = e.TraceID
	}
	return doc
}

// MarshalJSON flattens the event. Instants are RFC 3339 with millisecond precision in UTC.
func (e Event) MarshalJSON() ([]byte, error) {
	doc := e.Document()
	doc[KeyTimestamp] = FormatTime(e.Timestamp)
	doc[KeyReceivedAt] = FormatTime(e.ReceivedAt)
	return json.Marshal(doc)
}

// UnmarshalJSON reverses MarshalJSON. Category is not part of the wire form.
func (e *Event) UnmarshalJSON(data []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	out := Event{Category: e.Category, Fields: map[string]any{}}
	for k, v := range doc {
		switch k {
		case KeyEventID:
			out.EventID, _ = v.(string)
		case KeySchemaVersion:
			if n, ok := v.(float64); ok {
				out.SchemaVersion = int(n)
			}
		case KeyService:
			out.Service, _ = v.(string)
		case KeyTraceID:
			out.TraceID, _ = v.(string)
		case KeyTimestamp, KeyReceivedAt:
			s, _ := v.(string)
			ts, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			if k == KeyTimestamp {
				out.Timestamp = ts
			} else {
				out.ReceivedAt = ts
			}
		default:
			out.Fields[k] = v
		}
	}
	*e = out
	return nil
}

// String returns the named category-specific field as a string.
func (e *Event) String(key string) string {
	s, _ := e.Fields[key].(string)
	return s
}

// Number returns the named category-specific field as a float64.
func (e *Event) Number(key string) (float64, bool) {
	switch v := e.Fields[key].(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// FormatTime renders t the way events carry instants on the wire.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
