package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lightwatch/lightwatch/common/logging"
	"github.com/lightwatch/lightwatch/common/models"
	"github.com/lightwatch/lightwatch/ingest/internal/storage"
)

// RuleFromModel converts a stored rule. Condition.Duration, when set, is the
// rule's cooldown.
func RuleFromModel(r models.AlertRule) (Rule, error) {
	rule := Rule{
		Name:      r.Name,
		Service:   r.Service,
		Metric:    r.Condition.Metric,
		Operator:  r.Condition.Operator,
		Threshold: r.Condition.Threshold,
	}
	if r.Condition.Duration != "" {
		d, err := time.ParseDuration(r.Condition.Duration)
		if err != nil {
			return Rule{}, fmt.Errorf("rule %q: invalid duration %q", r.Name, r.Condition.Duration)
		}
		rule.Cooldown = d
	}
	return rule, rule.Validate()
}

// Syncer keeps an Evaluator's rules equal to the static rules plus every
// enabled threshold rule in the store.
type Syncer struct {
	store     storage.Finder
	evaluator *Evaluator
	static    []Rule
	interval  time.Duration
	logger    *slog.Logger
	trigger   chan struct{}
}

func NewSyncer(store storage.Finder, evaluator *Evaluator, static []Rule, interval time.Duration, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Syncer{
		store:     store,
		evaluator: evaluator,
		static:    append([]Rule(nil), static...),
		interval:  interval,
		logger:    logger,
		trigger:   make(chan struct{}, 1),
	}
}

// Sync loads stored rules once and installs them. Stored rules that fail to
// convert are skipped with a warning. It returns the number of active rules.
func (s *Syncer) Sync(ctx context.Context) (int, error) {
	rules := append([]Rule(nil), s.static...)

	for skip := 0; ; skip += storage.MaxQueryLimit {
		page, err := s.store.Find(ctx, models.CollectionAlertRules, storage.Query{Skip: skip, Limit: storage.MaxQueryLimit})
		if err != nil {
			return 0, fmt.Errorf("load alert rules: %w", err)
		}
		for _, doc := range page.Docs {
			stored, err := models.AlertRuleFromDocument(doc)
			if err != nil {
				s.logger.WarnContext(ctx, "skipping unreadable alert rule", logging.Error(err))
				continue
			}
			if !stored.Enabled {
				continue
			}
			if stored.Type != "" && stored.Type != models.AlertTypeThreshold {
				s.logger.DebugContext(ctx, "skipping unsupported alert rule type",
					slog.String("rule", stored.Name), slog.String("type", stored.Type))
				continue
			}
			rule, err := RuleFromModel(stored)
			if err != nil {
				s.logger.WarnContext(ctx, "skipping invalid alert rule", slog.String("id", stored.ID), logging.Error(err))
				continue
			}
			rules = append(rules, rule)
		}
		if len(page.Docs) < storage.MaxQueryLimit {
			break
		}
	}

	if err := s.evaluator.SetRules(rules); err != nil {
		return 0, err
	}
	return len(rules), nil
}

// Trigger asks a running Run loop to sync now. It never blocks.
func (s *Syncer) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run syncs immediately, then on every tick or Trigger until ctx is done.
func (s *Syncer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.syncAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.trigger:
		}
		s.syncAndLog(ctx)
	}
}

func (s *Syncer) syncAndLog(ctx context.Context) {
	n, err := s.Sync(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.WarnContext(ctx, "alert rule sync failed, keeping previous rules", logging.Error(err))
		}
		return
	}
	s.logger.DebugContext(ctx, "alert rules synced", slog.Int("rules", n))
}
