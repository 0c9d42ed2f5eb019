package messaging

import (
	"context"
	"time"
)

// HealthChecker can check the health of a broker connection.
type HealthChecker interface {
	// Ping returns nil if the connection is healthy.
	Ping(ctx context.Context) error
}

// HealthStatus represents the health state of a broker connection.
type HealthStatus struct {
	Connected bool          `json:"connected"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// CheckHealth pings hc and reports round-trip latency.
func CheckHealth(ctx context.Context, hc HealthChecker) HealthStatus {
	if hc == nil {
		return HealthStatus{Error: "not configured"}
	}

	start := time.Now()
	err := hc.Ping(ctx)
	status := HealthStatus{LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Connected = true
	return status
}

// CheckAll runs CheckHealth on every named dependency concurrently. ok is
// false if any of them is not connected.
func CheckAll(ctx context.Context, deps map[string]HealthChecker) (statuses map[string]HealthStatus, ok bool) {
	type result struct {
		name   string
		status HealthStatus
	}
	results := make(chan result, len(deps))
	for name, hc := range deps {
		go func() {
			results <- result{name, CheckHealth(ctx, hc)}
		}()
	}

	statuses = make(map[string]HealthStatus, len(deps))
	ok = true
	for range deps {
		r := <-results
		statuses[r.name] = r.status
		ok = ok && r.status.Connected
	}
	return statuses, ok
}
