package storage

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightwatch/lightwatch/common/models"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   map[string]any
}

func newOpenSearchStub(t *testing.T, status int) (*OpenSearchStore, *[]recordedRequest) {
	t.Helper()
	return newOpenSearchStubWithBody(t, status, `{"acknowledged":true,"result":"created"}`)
}

func newOpenSearchStubWithBody(t *testing.T, status int, response string) (*OpenSearchStore, *[]recordedRequest) {
	t.Helper()
	var mu sync.Mutex
	var reqs []recordedRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		rec := recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery}
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &rec.Body)
		}
		mu.Lock()
		reqs = append(reqs, rec)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)

	cfg := DefaultOpenSearchConfig()
	cfg.URL = srv.URL
	store, err := NewOpenSearchStore(cfg)
	require.NoError(t, err)
	return store, &reqs
}

func TestOpenSearchStore_InsertOne(t *testing.T) {
	store, reqs := newOpenSearchStub(t, http.StatusCreated)

	ev := &models.Event{
		EventID:       "abc123",
		SchemaVersion: 2,
		Service:       "svc1",
		Timestamp:     time.Now(),
		ReceivedAt:    time.Now(),
		Fields:        map[string]any{"level": "error", "message": "boom"},
	}
	require.NoError(t, store.InsertOne(context.Background(), models.CollectionLogs, ev.Document()))

	require.Len(t, *reqs, 1)
	got := (*reqs)[0]
	assert.Equal(t, http.MethodPut, got.Method)
	assert.Equal(t, "/lightwatch-logs/_doc/abc123", got.Path)
	assert.Contains(t, got.Query, "op_type=create")
	assert.Equal(t, "svc1", got.Body["service"])
	assert.Equal(t, "error", got.Body["level"])
}

func TestOpenSearchStore_UpsertOne(t *testing.T) {
	store, reqs := newOpenSearchStub(t, http.StatusOK)
	now := time.Now()

	rec := models.ServiceRecord{Name: "svc2", Status: models.StatusDegraded, LastHeartbeat: now, CreatedAt: now}
	require.NoError(t, store.UpsertOne(context.Background(), models.CollectionServices, "name", "svc2", rec.SetFields(), rec.InsertFields()))

	require.Len(t, *reqs, 1)
	got := (*reqs)[0]
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/lightwatch-services/_update/svc2", got.Path)
	assert.Contains(t, got.Query, "retry_on_conflict=3")

	doc := got.Body["doc"].(map[string]any)
	assert.Equal(t, "degraded", doc["status"])
	assert.NotContains(t, doc, "created_at")

	upsert := got.Body["upsert"].(map[string]any)
	assert.Equal(t, "svc2", upsert["name"])
	assert.Contains(t, upsert, "created_at")
}

func TestOpenSearchStore_ErrorStatus(t *testing.T) {
	store, _ := newOpenSearchStub(t, http.StatusBadRequest)

	err := store.InsertOne(context.Background(), models.CollectionLogs, map[string]any{"service": "s"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestOpenSearchStore_Initialize(t *testing.T) {
	store, reqs := newOpenSearchStub(t, http.StatusOK)

	require.NoError(t, store.Initialize(context.Background()))
	require.Len(t, *reqs, 2)
	assert.Equal(t, "/", (*reqs)[0].Path)
	assert.Equal(t, "/_index_template/lightwatch-template", (*reqs)[1].Path)
	assert.Equal(t, []any{"lightwatch-*"}, (*reqs)[1].Body["index_patterns"])
}

func TestOpenSearchStore_Find(t *testing.T) {
	store, reqs := newOpenSearchStubWithBody(t, http.StatusOK, `{
		"hits": {
			"total": {"value": 42, "relation": "eq"},
			"hits": [
				{"_id": "a", "_source": {"service": "svc1", "level": "error", "message": "boom"}},
				{"_id": "b", "_source": {"service": "svc1", "level": "error", "message": "Boom again"}}
			]
		}
	}`)

	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	page, err := store.Find(context.Background(), models.CollectionLogs, Query{
		Equals:    map[string]string{"service": "svc1"},
		Contains:  map[string]string{"message": "bo*om"},
		TimeField: models.KeyTimestamp,
		From:      from,
		SortField: models.KeyTimestamp,
		Skip:      50,
		Limit:     25,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), page.Total)
	require.Len(t, page.Docs, 2)
	assert.Equal(t, "boom", page.Docs[0]["message"])

	require.Len(t, *reqs, 1)
	got := (*reqs)[0]
	assert.Equal(t, "/lightwatch-logs/_search", got.Path)
	assert.Contains(t, got.Query, "ignore_unavailable=true")
	assert.EqualValues(t, 50, got.Body["from"])
	assert.EqualValues(t, 25, got.Body["size"])
	assert.Equal(t, true, got.Body["track_total_hits"])

	filters := got.Body["query"].(map[string]any)["bool"].(map[string]any)["filter"].([]any)
	require.Len(t, filters, 3)
	assert.Equal(t, map[string]any{"term": map[string]any{"service": "svc1"}}, filters[0])
	wildcard := filters[1].(map[string]any)["wildcard"].(map[string]any)["message"].(map[string]any)
	assert.Equal(t, `*bo\*om*`, wildcard["value"])
	assert.Equal(t, true, wildcard["case_insensitive"])
	rng := filters[2].(map[string]any)["range"].(map[string]any)["timestamp"].(map[string]any)
	assert.Equal(t, "2025-03-01T00:00:00.000Z", rng["gte"])
	assert.NotContains(t, rng, "lte")

	sortSpec := got.Body["sort"].([]any)[0].(map[string]any)["timestamp"].(map[string]any)
	assert.Equal(t, "desc", sortSpec["order"])
}

func TestOpenSearchStore_FindUnfiltered(t *testing.T) {
	store, reqs := newOpenSearchStubWithBody(t, http.StatusOK, `{"hits":{"total":{"value":0},"hits":[]}}`)

	page, err := store.Find(context.Background(), models.CollectionServices, Query{Limit: 10000})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
	assert.NotNil(t, page.Docs)

	got := (*reqs)[0]
	assert.EqualValues(t, MaxQueryLimit, got.Body["size"])
	assert.Contains(t, got.Body["query"], "match_all")
	assert.NotContains(t, got.Body, "sort")
}

func TestOpenSearchStore_FindError(t *testing.T) {
	store, _ := newOpenSearchStubWithBody(t, http.StatusInternalServerError, `{"error":"boom"}`)

	_, err := store.Find(context.Background(), models.CollectionLogs, Query{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
