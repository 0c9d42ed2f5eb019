package logging

import (
	"errors"
	"log/slog"
	"testing"
)

func TestFieldHelpers(t *testing.T) {
	tests := []struct {
		name    string
		attr    slog.Attr
		wantKey string
		wantVal string
	}{
		{"service", Service("ingest"), FieldService, "ingest"},
		{"ip", IP("10.0.0.1"), FieldIP, "10.0.0.1"},
		{"method", Method("POST"), FieldMethod, "POST"},
		{"path", Path("/ingest/logs"), FieldPath, "/ingest/logs"},
		{"event id", EventID("abc"), FieldEventID, "abc"},
		{"category", Category("metrics"), FieldCategory, "metrics"},
		{"channel", Channel("logs"), FieldChannel, "logs"},
		{"stream", Stream("stream:logs"), FieldStream, "stream:logs"},
		{"entry id", EntryID("1-0"), FieldEntryID, "1-0"},
		{"conn id", ConnID("c1"), FieldConnID, "c1"},
		{"sink", Sink("store"), FieldSink, "store"},
		{"group", Group("realtime-group"), FieldGroup, "realtime-group"},
		{"consumer", Consumer("realtime-host-1"), FieldConsumer, "realtime-host-1"},
		{"subject", Subject("anonymous"), FieldSubject, "anonymous"},
		{"error", Error(errors.New("boom")), FieldError, "boom"},
		{"nil error", Error(nil), FieldError, "<nil>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.attr.Key != tt.wantKey {
				t.Errorf("expected key %q, got %q", tt.wantKey, tt.attr.Key)
			}
			if tt.attr.Value.String() != tt.wantVal {
				t.Errorf("expected value %q, got %q", tt.wantVal, tt.attr.Value.String())
			}
		})
	}
}

func TestNumericFields(t *testing.T) {
	if got := Status(429); got.Key != FieldStatus || got.Value.Int64() != 429 {
		t.Errorf("Status(429) = %v", got)
	}
	if got := Duration(15); got.Key != FieldDuration || got.Value.Int64() != 15 {
		t.Errorf("Duration(15) = %v", got)
	}
}
