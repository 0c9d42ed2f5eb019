package logging

import "log/slog"

// Common field names for consistent logging across services.
const (
	FieldService   = "service"
	FieldComponent = "component"
	FieldRequestID = "request_id"
	FieldIP        = "ip"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldDuration  = "duration_ms"
	FieldError     = "error"
	FieldEventID   = "event_id"
	FieldCategory  = "category"
	FieldChannel   = "channel"
	FieldStream    = "stream"
	FieldEntryID   = "entry_id"
	FieldConnID    = "conn_id"
	FieldSink      = "sink"
	FieldGroup     = "group"
	FieldConsumer  = "consumer"
	FieldSubject   = "sub"
)

func Service(name string) slog.Attr { return slog.String(FieldService, name) }

func IP(ip string) slog.Attr { return slog.String(FieldIP, ip) }

func Method(method string) slog.Attr { return slog.String(FieldMethod, method) }

func Path(path string) slog.Attr { return slog.String(FieldPath, path) }

func Status(code int) slog.Attr { return slog.Int(FieldStatus, code) }

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr { return slog.Int64(FieldDuration, ms) }

// Error returns a slog attribute for an error. A nil error logs as "<nil>".
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "<nil>")
	}
	return slog.String(FieldError, err.Error())
}

func EventID(id string) slog.Attr { return slog.String(FieldEventID, id) }

func Category(c string) slog.Attr { return slog.String(FieldCategory, c) }

func Channel(name string) slog.Attr { return slog.String(FieldChannel, name) }

func Stream(key string) slog.Attr { return slog.String(FieldStream, key) }

func EntryID(id string) slog.Attr { return slog.String(FieldEntryID, id) }

func ConnID(id string) slog.Attr { return slog.String(FieldConnID, id) }

// Sink names the persistence target (store, broker, dlq) an error relates to.
func Sink(name string) slog.Attr { return slog.String(FieldSink, name) }

func Group(name string) slog.Attr { return slog.String(FieldGroup, name) }

func Consumer(name string) slog.Attr { return slog.String(FieldConsumer, name) }

// Subject is the authenticated principal ("anonymous", "api_key" or a JWT sub).
func Subject(sub string) slog.Attr { return slog.String(FieldSubject, sub) }
