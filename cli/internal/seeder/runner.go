package seeder

import (
	"context"
	"errors"
	"time"

	"github.com/lightwatch/lightwatch/cli/internal/client"
)

// Sender posts one event. *client.IngestClient satisfies it.
type Sender interface {
	SendJSON(ctx context.Context, category string, event any) (*client.IngestResult, error)
}

// Stats summarizes a run.
type Stats struct {
	Sent       int            `json:"sent" yaml:"sent"`
	Failed     int            `json:"failed" yaml:"failed"`
	ByCategory map[string]int `json:"by_category" yaml:"by_category"`
	// Errors counts failures by response error code, or "transport".
	Errors  map[string]int `json:"errors,omitempty" yaml:"errors,omitempty"`
	Elapsed time.Duration  `json:"elapsed" yaml:"elapsed"`
}

// Runner sends generated events at a steady rate.
type Runner struct {
	sender Sender
	gen    *Generator
	// Rate is events per second; zero disables pacing.
	Rate float64
	// OnError is called for every failed send when set.
	OnError func(category string, err error)
}

func NewRunner(sender Sender, gen *Generator, rate float64) *Runner {
	return &Runner{sender: sender, gen: gen, Rate: rate}
}

// Run sends the items first, then count baseline events drawn from
// categories. It stops early when ctx is done and returns ctx's error with
// the stats gathered so far.
func (r *Runner) Run(ctx context.Context, items []Item, count int, categories []string) (Stats, error) {
	start := time.Now()
	stats := Stats{ByCategory: make(map[string]int), Errors: make(map[string]int)}

	var tick <-chan time.Time
	if r.Rate > 0 {
		ticker := time.NewTicker(time.Duration(float64(time.Second) / r.Rate))
		defer ticker.Stop()
		tick = ticker.C
	}

	send := func(it Item) error {
		if tick != nil && stats.Sent+stats.Failed > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := r.sender.SendJSON(ctx, it.Category, it.Event); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			stats.Failed++
			stats.Errors[errorCode(err)]++
			if r.OnError != nil {
				r.OnError(it.Category, err)
			}
			return nil
		}
		stats.Sent++
		stats.ByCategory[it.Category]++
		return nil
	}

	for _, it := range items {
		if err := send(it); err != nil {
			return finish(stats, start), err
		}
	}
	for i := 0; i < count; i++ {
		cat := r.gen.Pick(categories)
		ev, err := r.gen.Next(cat)
		if err != nil {
			return finish(stats, start), err
		}
		if err := send(Item{Category: cat, Event: ev}); err != nil {
			return finish(stats, start), err
		}
	}
	return finish(stats, start), nil
}

func finish(s Stats, start time.Time) Stats {
	s.Elapsed = time.Since(start)
	if len(s.Errors) == 0 {
		s.Errors = nil
	}
	return s
}

func errorCode(err error) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return "transport"
}
