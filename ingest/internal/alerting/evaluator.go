package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lightwatch/lightwatch/common/logging"
	"github.com/lightwatch/lightwatch/common/models"
	"github.com/lightwatch/lightwatch/ingest/internal/metrics"
	"github.com/lightwatch/lightwatch/ingest/internal/normalizer"
)

// EventWriter persists and publishes an event.
type EventWriter interface {
	WriteEvent(ctx context.Context, ev *models.Event) error
}

// Evaluator checks accepted metric events against threshold rules.
type Evaluator struct {
	rulesMu sync.RWMutex
	rules   []Rule

	writer EventWriter
	logger *slog.Logger
	now    func() time.Time
	newID  func() (string, error)

	mu        sync.Mutex
	lastFired map[string]time.Time
}

// Option configures an Evaluator.
type Option func(*Evaluator)

func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) { e.logger = logger }
}

// NewEvaluator validates rules and returns an evaluator writing alerts to writer.
func NewEvaluator(rules []Rule, writer EventWriter, opts ...Option) (*Evaluator, error) {
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	e := &Evaluator{
		rules:     append([]Rule(nil), rules...),
		writer:    writer,
		logger:    slog.Default(),
		now:       time.Now,
		newID:     normalizer.NewEventID,
		lastFired: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e, nil
}

// Rules returns the number of active rules.
func (e *Evaluator) Rules() int {
	e.rulesMu.RLock()
	defer e.rulesMu.RUnlock()
	return len(e.rules)
}

// SetRules replaces the active rule set. Nothing changes if any rule is invalid.
// Cooldown state is kept per rule name.
func (e *Evaluator) SetRules(rules []Rule) error {
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	e.rulesMu.Lock()
	e.rules = append([]Rule(nil), rules...)
	e.rulesMu.Unlock()
	return nil
}

func (e *Evaluator) snapshot() []Rule {
	e.rulesMu.RLock()
	defer e.rulesMu.RUnlock()
	return e.rules
}

// Observe evaluates ev and writes an alert for every breached rule whose
// cooldown has elapsed. Write failures are logged and do not propagate.
// Non-metric events are ignored.
func (e *Evaluator) Observe(ctx context.Context, ev *models.Event) []*models.AlertEvent {
	if e == nil || ev == nil || ev.Category != models.CategoryMetric {
		return nil
	}
	rules := e.snapshot()
	if len(rules) == 0 {
		return nil
	}

	metric := ev.String("name")
	value, ok := ev.Number("value")
	if !ok {
		return nil
	}

	var fired []*models.AlertEvent
	for _, rule := range rules {
		if !rule.matches(ev.Service, metric) || !rule.Breached(value) {
			continue
		}
		now := e.now().UTC()
		if !e.claim(rule, ev.Service, now) {
			continue
		}

		alert, err := e.build(rule, ev, value, now)
		if err != nil {
			e.logger.ErrorContext(ctx, "failed to build alert", slog.String("rule", rule.Name), logging.Error(err))
			continue
		}

		if err := e.writer.WriteEvent(ctx, alert.Event()); err != nil {
			e.logger.ErrorContext(ctx, "failed to write alert",
				slog.String("rule", rule.Name),
				logging.Service(ev.Service),
				logging.EventID(alert.EventID),
				logging.Error(err))
			continue
		}

		metrics.AlertsFired.WithLabelValues(rule.Name).Inc()
		e.logger.InfoContext(ctx, "alert fired",
			slog.String("rule", rule.Name),
			logging.Service(ev.Service),
			slog.String("metric", metric),
			slog.Float64("value", value),
			slog.Float64("threshold", rule.Threshold))
		fired = append(fired, alert)
	}
	return fired
}

// claim records a firing for rule+service unless it is still cooling down.
func (e *Evaluator) claim(rule Rule, service string, now time.Time) bool {
	key := rule.Name + "|" + service

	e.mu.Lock()
	defer e.mu.Unlock()

	if last, ok := e.lastFired[key]; ok && now.Sub(last) < rule.Cooldown {
		return false
	}
	e.lastFired[key] = now
	return true
}

func (e *Evaluator) build(rule Rule, ev *models.Event, value float64, now time.Time) (*models.AlertEvent, error) {
	id, err := e.newID()
	if err != nil {
		return nil, fmt.Errorf("generate alert id: %w", err)
	}
	return &models.AlertEvent{
		EventID:       id,
		SchemaVersion: models.CurrentSchemaVersion,
		AlertName:     rule.Name,
		Service:       ev.Service,
		Metric:        rule.Metric,
		Operator:      rule.Operator,
		Value:         value,
		Threshold:     rule.Threshold,
		Status:        models.AlertStatusFiring,
		SourceEventID: ev.EventID,
		TriggeredAt:   now,
		Timestamp:     ev.Timestamp,
		ReceivedAt:    now,
	}, nil
}
