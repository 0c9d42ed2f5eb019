package dlq

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lightwatch/lightwatch/common/models"
)

// Backend names accepted by configuration.
const (
	BackendFile      = "file"
	BackendJetStream = "jetstream"
)

// Sink names recorded on a FailedEvent.
const (
	SinkStore  = "store"
	SinkBroker = "broker"
)

// FailedEvent captures an event that reached only one side of the dual
// write so it can be replayed into the other.
type FailedEvent struct {
	ID         string        `json:"id"`
	Timestamp  time.Time     `json:"timestamp"`
	Category   string        `json:"category"`
	FailedSink string        `json:"failed_sink"`
	Error      string        `json:"error"`
	Event      *models.Event `json:"event"`
}

// NewFailedEvent builds a record for ev whose write to sink failed with err.
func NewFailedEvent(ev *models.Event, sink string, err error) FailedEvent {
	fe := FailedEvent{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		FailedSink: sink,
		Event:      ev,
	}
	if ev != nil {
		fe.Category = string(ev.Category)
	}
	if err != nil {
		fe.Error = err.Error()
	}
	return fe
}

// Queue persists failed events.
type Queue interface {
	Write(ctx context.Context, failed FailedEvent) error
	Stats(ctx context.Context) map[string]any
	Close() error
}
