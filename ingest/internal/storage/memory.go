package storage

import (
	"context"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps documents in process memory. It backs local runs
// without a database and the pipeline tests.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]map[string]any
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]map[string]any)}
}

func (m *MemoryStore) InsertOne(_ context.Context, collection string, doc map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[collection] = append(m.docs[collection], maps.Clone(doc))
	return nil
}

func (m *MemoryStore) UpsertOne(_ context.Context, collection, keyField, keyValue string, set, onInsert map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, doc := range m.docs[collection] {
		if doc[keyField] == keyValue {
			maps.Copy(doc, set)
			return nil
		}
	}

	doc := map[string]any{keyField: keyValue}
	maps.Copy(doc, onInsert)
	maps.Copy(doc, set)
	m.docs[collection] = append(m.docs[collection], doc)
	return nil
}

// All returns copies of every document in collection, in insertion order.
func (m *MemoryStore) All(collection string) []map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]map[string]any, len(m.docs[collection]))
	for i, doc := range m.docs[collection] {
		out[i] = maps.Clone(doc)
	}
	return out
}

// FindOne returns the document whose keyField equals keyValue.
func (m *MemoryStore) FindOne(collection, keyField, keyValue string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, doc := range m.docs[collection] {
		if doc[keyField] == keyValue {
			return maps.Clone(doc), nil
		}
	}
	return nil, ErrNotFound
}

// Find applies q to collection. Equality and substring filters only match
// string fields.
func (m *MemoryStore) Find(_ context.Context, collection string, q Query) (Page, error) {
	m.mu.RLock()
	var matched []map[string]any
	for _, doc := range m.docs[collection] {
		if q.matches(doc) {
			matched = append(matched, maps.Clone(doc))
		}
	}
	m.mu.RUnlock()

	if q.SortField != "" {
		sort.SliceStable(matched, func(i, j int) bool {
			return after(matched[i][q.SortField], matched[j][q.SortField])
		})
	}

	page := Page{Total: int64(len(matched)), Docs: []map[string]any{}}
	start := min(q.skip(), len(matched))
	end := min(start+q.limit(), len(matched))
	page.Docs = append(page.Docs, matched[start:end]...)
	return page, nil
}

func (q Query) matches(doc map[string]any) bool {
	for field, want := range q.Equals {
		if s, _ := doc[field].(string); s != want {
			return false
		}
	}
	for field, sub := range q.Contains {
		s, _ := doc[field].(string)
		if !strings.Contains(strings.ToLower(s), strings.ToLower(sub)) {
			return false
		}
	}
	if q.TimeField != "" && (!q.From.IsZero() || !q.To.IsZero()) {
		t, ok := asTime(doc[q.TimeField])
		if !ok {
			return false
		}
		if !q.From.IsZero() && t.Before(q.From) {
			return false
		}
		if !q.To.IsZero() && t.After(q.To) {
			return false
		}
	}
	return true
}

// after reports whether a sorts before b in newest-first order.
func after(a, b any) bool {
	ta, okA := asTime(a)
	tb, okB := asTime(b)
	if okA && okB {
		return ta.After(tb)
	}
	if okA != okB {
		return okA
	}
	sa, _ := a.(string)
	sb, _ := b.(string)
	return sa > sb
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	}
	return time.Time{}, false
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close(context.Context) error { return nil }

var (
	_ DocumentStore = (*MemoryStore)(nil)
	_ Finder        = (*MemoryStore)(nil)
)
