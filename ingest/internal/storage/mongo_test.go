package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/lightwatch/lightwatch/common/models"
)

// setupMongo starts a throwaway MongoDB container.
func setupMongo(t *testing.T) *MongoStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping MongoDB container test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "27017")
	require.NoError(t, err)

	uri := fmt.Sprintf("mongodb://%s:%s/monitoring_test", host, port.Port())
	store, err := ConnectWithRetry(ctx, 10, 500*time.Millisecond, func(ctx context.Context) (DocumentStore, error) {
		return NewMongoStore(ctx, uri, "", 5*time.Second)
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	ms := store.(*MongoStore)
	require.NoError(t, ms.EnsureIndexes(ctx))
	return ms
}

func TestMongoStore_InsertOne(t *testing.T) {
	store := setupMongo(t)
	ctx := context.Background()

	ev := &models.Event{
		EventID:       "0123456789abcdef0123456789abcdef",
		SchemaVersion: 2,
		Service:       "svc1",
		Timestamp:     time.Now().UTC().Truncate(time.Millisecond),
		ReceivedAt:    time.Now().UTC().Truncate(time.Millisecond),
		Fields:        map[string]any{"level": "error", "message": "boom"},
	}
	require.NoError(t, store.InsertOne(ctx, models.CollectionLogs, ev.Document()))

	var got struct {
		Service   string    `bson:"service"`
		Level     string    `bson:"level"`
		Timestamp time.Time `bson:"timestamp"`
	}
	require.NoError(t, store.FindOne(ctx, models.CollectionLogs, models.KeyEventID, ev.EventID, &got))
	assert.Equal(t, "svc1", got.Service)
	assert.Equal(t, "error", got.Level)
	assert.True(t, ev.Timestamp.Equal(got.Timestamp), "timestamps are stored as dates")
}

func TestMongoStore_HeartbeatUpsert(t *testing.T) {
	store := setupMongo(t)
	ctx := context.Background()

	first := time.Now().UTC().Truncate(time.Millisecond)
	rec := models.ServiceRecord{Name: "svc2", Status: models.StatusHealthy, Host: "web-1", LastHeartbeat: first, CreatedAt: first}
	require.NoError(t, store.UpsertOne(ctx, models.CollectionServices, "name", rec.Name, rec.SetFields(), rec.InsertFields()))

	second := first.Add(time.Minute)
	rec2 := models.ServiceRecord{Name: "svc2", Status: models.StatusDegraded, LastHeartbeat: second, CreatedAt: second}
	require.NoError(t, store.UpsertOne(ctx, models.CollectionServices, "name", rec2.Name, rec2.SetFields(), rec2.InsertFields()))

	var got models.ServiceRecord
	require.NoError(t, store.FindOne(ctx, models.CollectionServices, "name", "svc2", &got))
	assert.Equal(t, models.StatusDegraded, got.Status)
	assert.Equal(t, "web-1", got.Host, "fields absent from the second heartbeat are kept")
	assert.True(t, first.Equal(got.CreatedAt), "created_at is only set on insert")
	assert.True(t, second.Equal(got.LastHeartbeat))
}

func TestMongoStore_FindOneMissing(t *testing.T) {
	store := setupMongo(t)
	var out map[string]any
	err := store.FindOne(context.Background(), models.CollectionServices, "name", "nobody", &out)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMongoStore_Find(t *testing.T) {
	store := setupMongo(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, msg := range []string{"Disk full", "started", "disk slow"} {
		ev := &models.Event{
			EventID:       fmt.Sprintf("%032d", i),
			SchemaVersion: 2,
			Service:       "svc1",
			Timestamp:     base.Add(time.Duration(i) * time.Second),
			ReceivedAt:    base,
			Fields:        map[string]any{"level": "error", "message": msg},
		}
		require.NoError(t, store.InsertOne(ctx, models.CollectionLogs, ev.Document()))
	}

	page, err := store.Find(ctx, models.CollectionLogs, Query{
		Equals:    map[string]string{"service": "svc1"},
		Contains:  map[string]string{"message": "DISK"},
		TimeField: models.KeyTimestamp,
		From:      base,
		SortField: models.KeyTimestamp,
		Limit:     1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	require.Len(t, page.Docs, 1)
	assert.Equal(t, "disk slow", page.Docs[0]["message"])
	assert.NotContains(t, page.Docs[0], "_id")
}
