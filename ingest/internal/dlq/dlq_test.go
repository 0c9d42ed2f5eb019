package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightwatch/lightwatch/common/logging"
	"github.com/lightwatch/lightwatch/common/models"
)

func testEvent(id string) *models.Event {
	return &models.Event{
		Category:      models.CategoryLog,
		EventID:       id,
		SchemaVersion: models.CurrentSchemaVersion,
		Service:       "api",
		Timestamp:     time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		ReceivedAt:    time.Date(2025, 1, 2, 3, 4, 6, 0, time.UTC),
		Fields:        map[string]any{"level": "error", "message": "boom"},
	}
}

func TestNewFailedEvent(t *testing.T) {
	fe := NewFailedEvent(testEvent("e1"), SinkBroker, errors.New("redis down"))

	assert.NotEmpty(t, fe.ID)
	assert.Equal(t, "log", fe.Category)
	assert.Equal(t, SinkBroker, fe.FailedSink)
	assert.Equal(t, "redis down", fe.Error)
	assert.False(t, fe.Timestamp.IsZero())
}

func TestFileQueue_WriteAndList(t *testing.T) {
	dir := t.TempDir()
	q, err := NewFileQueue(dir, logging.Discard().Logger)
	require.NoError(t, err)

	ctx := context.Background()
	first := NewFailedEvent(testEvent("e1"), SinkStore, errors.New("mongo timeout"))
	second := NewFailedEvent(testEvent("e2"), SinkBroker, errors.New("redis down"))
	second.Timestamp = first.Timestamp.Add(time.Millisecond)

	require.NoError(t, q.Write(ctx, first))
	require.NoError(t, q.Write(ctx, second))

	events, err := q.List(10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e1", events[0].Event.EventID)
	assert.Equal(t, SinkStore, events[0].FailedSink)
	assert.Equal(t, "e2", events[1].Event.EventID)
	assert.Equal(t, "boom", events[1].Event.Fields["message"])

	limited, err := q.List(1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	stats := q.Stats(ctx)
	assert.Equal(t, uint64(2), stats["written"])
	assert.Equal(t, 2, stats["pending_files"])
	assert.Equal(t, BackendFile, stats["backend"])
}

func TestFileQueue_CreatesDirectory(t *testing.T) {
	dir := t.TempDir() + "/nested/dlq"
	q, err := NewFileQueue(dir, nil)
	require.NoError(t, err)
	require.NoError(t, q.Write(context.Background(), NewFailedEvent(testEvent("e1"), SinkStore, nil)))

	events, err := q.List(0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
	closed   bool
}

func (p *fakePublisher) Publish(_ context.Context, subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

func (p *fakePublisher) Close() error {
	p.closed = true
	return nil
}

func TestPublisherQueue_Write(t *testing.T) {
	pub := &fakePublisher{}
	q := NewPublisherQueue(pub, logging.Discard().Logger)

	fe := NewFailedEvent(testEvent("e9"), SinkBroker, errors.New("redis down"))
	require.NoError(t, q.Write(context.Background(), fe))

	require.Len(t, pub.subjects, 1)
	assert.Equal(t, "ingest.dlq.broker", pub.subjects[0])

	var decoded FailedEvent
	require.NoError(t, json.Unmarshal(pub.payloads[0], &decoded))
	assert.Equal(t, fe.ID, decoded.ID)
	assert.Equal(t, "e9", decoded.Event.EventID)

	assert.Equal(t, uint64(1), q.Stats(context.Background())["written_local"])

	require.NoError(t, q.Close())
	assert.True(t, pub.closed)
}

func TestPublisherQueue_PublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("no responders")}
	q := NewPublisherQueue(pub, nil)

	err := q.Write(context.Background(), NewFailedEvent(testEvent("e1"), SinkStore, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no responders")
	assert.Equal(t, uint64(0), q.Stats(context.Background())["written_local"])
}
