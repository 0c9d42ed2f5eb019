package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/lightwatch/lightwatch/common/logging"
	"github.com/lightwatch/lightwatch/common/messaging"
	"github.com/lightwatch/lightwatch/common/messaging/nats"
)

// JetStreamQueue publishes failed events to the shared DLQ stream so that
// every ingest instance feeds one place.
type JetStreamQueue struct {
	pub     messaging.Publisher
	logger  *slog.Logger
	written atomic.Uint64
}

// NewJetStreamQueue ensures the DLQ stream exists and returns a queue
// publishing into it.
func NewJetStreamQueue(ctx context.Context, js *nats.JetStreamClient, logger *slog.Logger) (*JetStreamQueue, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream client is nil")
	}
	if err := js.EnsureStream(ctx, nats.DLQStream); err != nil {
		return nil, fmt.Errorf("create dlq stream: %w", err)
	}
	q := NewPublisherQueue(js, logger)
	q.logger.Info("dlq stream ready", logging.Stream(nats.DLQStream.Name))
	return q, nil
}

// NewPublisherQueue wraps any publisher. Subjects follow ingest.dlq.<sink>.
func NewPublisherQueue(pub messaging.Publisher, logger *slog.Logger) *JetStreamQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &JetStreamQueue{pub: pub, logger: logger}
}

func (q *JetStreamQueue) Write(ctx context.Context, failed FailedEvent) error {
	data, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}

	subject := messaging.DLQSubject(failed.FailedSink)
	if err := q.pub.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish dlq entry: %w", err)
	}

	q.written.Add(1)
	q.logger.Info("dlq entry published",
		slog.String("subject", subject),
		logging.Category(failed.Category))
	return nil
}

func (q *JetStreamQueue) Stats(_ context.Context) map[string]any {
	return map[string]any{
		"enabled":       true,
		"backend":       BackendJetStream,
		"written_local": q.written.Load(),
	}
}

func (q *JetStreamQueue) Close() error {
	return q.pub.Close()
}

var _ Queue = (*JetStreamQueue)(nil)
