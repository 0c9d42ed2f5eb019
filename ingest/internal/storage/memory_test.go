package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_InsertCopiesDocument(t *testing.T) {
	m := NewMemoryStore()
	doc := map[string]any{"event_id": "e1", "level": "info"}
	require.NoError(t, m.InsertOne(context.Background(), "logs", doc))

	doc["level"] = "mutated"
	got := m.All("logs")
	require.Len(t, got, 1)
	assert.Equal(t, "info", got[0]["level"])
}

func TestMemoryStore_UpsertKeepsCreatedAt(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	t1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	require.NoError(t, m.UpsertOne(ctx, "services", "name", "api",
		map[string]any{"status": "healthy", "last_heartbeat": t1},
		map[string]any{"created_at": t1}))
	require.NoError(t, m.UpsertOne(ctx, "services", "name", "api",
		map[string]any{"status": "degraded", "last_heartbeat": t2},
		map[string]any{"created_at": t2}))

	assert.Len(t, m.All("services"), 1)
	doc, err := m.FindOne("services", "name", "api")
	require.NoError(t, err)
	assert.Equal(t, "degraded", doc["status"])
	assert.Equal(t, t2, doc["last_heartbeat"])
	assert.Equal(t, t1, doc["created_at"])

	_, err = m.FindOne("services", "name", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen_MemoryBackend(t *testing.T) {
	s, err := Open(context.Background(), Config{Backend: BackendMemory, StartupRetries: 1}, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
}

func seedLogs(t *testing.T, m *MemoryStore) time.Time {
	t.Helper()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	docs := []map[string]any{
		{"service": "api", "level": "error", "message": "Database timeout", "timestamp": base},
		{"service": "api", "level": "info", "message": "started", "timestamp": base.Add(time.Minute)},
		{"service": "worker", "level": "error", "message": "queue TIMEOUT", "timestamp": base.Add(2 * time.Minute)},
		{"service": "api", "level": "error", "message": "timeout again", "timestamp": base.Add(3 * time.Minute)},
	}
	for _, d := range docs {
		require.NoError(t, m.InsertOne(context.Background(), "logs", d))
	}
	return base
}

func TestMemoryStore_FindFilters(t *testing.T) {
	m := NewMemoryStore()
	base := seedLogs(t, m)
	ctx := context.Background()

	tests := []struct {
		name     string
		query    Query
		wantMsgs []string
	}{
		{
			name:     "equality",
			query:    Query{Equals: map[string]string{"service": "api", "level": "error"}, SortField: "timestamp"},
			wantMsgs: []string{"timeout again", "Database timeout"},
		},
		{
			name:     "substring ignores case",
			query:    Query{Contains: map[string]string{"message": "timeout"}, SortField: "timestamp"},
			wantMsgs: []string{"timeout again", "queue TIMEOUT", "Database timeout"},
		},
		{
			name:     "time bounds are inclusive",
			query:    Query{TimeField: "timestamp", From: base.Add(time.Minute), To: base.Add(2 * time.Minute), SortField: "timestamp"},
			wantMsgs: []string{"queue TIMEOUT", "started"},
		},
		{
			name:     "unsorted keeps insertion order",
			query:    Query{Equals: map[string]string{"level": "error"}},
			wantMsgs: []string{"Database timeout", "queue TIMEOUT", "timeout again"},
		},
		{
			name:     "no match",
			query:    Query{Equals: map[string]string{"service": "billing"}},
			wantMsgs: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := m.Find(ctx, "logs", tt.query)
			require.NoError(t, err)
			msgs := []string{}
			for _, d := range page.Docs {
				msgs = append(msgs, d["message"].(string))
			}
			assert.Equal(t, tt.wantMsgs, msgs)
			assert.Equal(t, int64(len(tt.wantMsgs)), page.Total)
		})
	}
}

func TestMemoryStore_FindPages(t *testing.T) {
	m := NewMemoryStore()
	seedLogs(t, m)
	ctx := context.Background()

	page, err := m.Find(ctx, "logs", Query{SortField: "timestamp", Skip: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.Total, "total counts every match, not just the window")
	require.Len(t, page.Docs, 2)
	assert.Equal(t, "queue TIMEOUT", page.Docs[0]["message"])
	assert.Equal(t, "started", page.Docs[1]["message"])

	page, err = m.Find(ctx, "logs", Query{Skip: 10, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.Total)
	assert.Empty(t, page.Docs)

	page, err = m.Find(ctx, "missing", Query{})
	require.NoError(t, err)
	assert.NotNil(t, page.Docs)
	assert.Zero(t, page.Total)
}

func TestMemoryStore_FindReturnsCopies(t *testing.T) {
	m := NewMemoryStore()
	seedLogs(t, m)

	page, err := m.Find(context.Background(), "logs", Query{Limit: 1})
	require.NoError(t, err)
	page.Docs[0]["message"] = "mutated"

	assert.Equal(t, "Database timeout", m.All("logs")[0]["message"])
}

func TestMemoryStore_FindParsesStringTimes(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, m.InsertOne(ctx, "alerts", map[string]any{"name": "old", "created_at": "2025-01-01T00:00:00Z"}))
	require.NoError(t, m.InsertOne(ctx, "alerts", map[string]any{"name": "new", "created_at": "2025-02-01T00:00:00Z"}))

	page, err := m.Find(ctx, "alerts", Query{SortField: "created_at"})
	require.NoError(t, err)
	require.Len(t, page.Docs, 2)
	assert.Equal(t, "new", page.Docs[0]["name"])
}
