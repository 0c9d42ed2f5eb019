package storage

import (
	"context"
	"time"
)

// MaxQueryLimit caps the page size any backend returns.
const MaxQueryLimit = 500

// Query selects a window of documents from one collection.
type Query struct {
	// Equals keeps documents whose field holds exactly the given string.
	Equals map[string]string

	// Contains keeps documents whose field contains the given substring,
	// ignoring case.
	Contains map[string]string

	// TimeField is bounded by From and To, both inclusive. A zero bound is open.
	TimeField string
	From      time.Time
	To        time.Time

	// SortField orders the results newest first. Empty keeps store order.
	SortField string

	Skip  int
	Limit int
}

// Page is one window of a query plus the number of documents it matched.
type Page struct {
	Docs  []map[string]any
	Total int64
}

// Finder is implemented by stores that can answer read queries.
type Finder interface {
	Find(ctx context.Context, collection string, q Query) (Page, error)
}

func (q Query) limit() int {
	switch {
	case q.Limit <= 0:
		return MaxQueryLimit
	case q.Limit > MaxQueryLimit:
		return MaxQueryLimit
	}
	return q.Limit
}

func (q Query) skip() int {
	if q.Skip < 0 {
		return 0
	}
	return q.Skip
}
