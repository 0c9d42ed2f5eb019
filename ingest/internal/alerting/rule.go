package alerting

import (
	"errors"
	"fmt"
	"time"
)

// Comparison operators a rule may use.
const (
	OpGT  = "gt"
	OpGTE = "gte"
	OpLT  = "lt"
	OpLTE = "lte"
	OpEQ  = "eq"
)

// Rule raises an alert when a metric named Metric crosses Threshold.
// An empty Service matches every service.
type Rule struct {
	Name      string
	Service   string
	Metric    string
	Operator  string
	Threshold float64
	Cooldown  time.Duration
}

// Validate reports a malformed rule.
func (r Rule) Validate() error {
	if r.Name == "" {
		return errors.New("rule name is required")
	}
	if r.Metric == "" {
		return fmt.Errorf("rule %q: metric is required", r.Name)
	}
	switch r.Operator {
	case OpGT, OpGTE, OpLT, OpLTE, OpEQ:
	default:
		return fmt.Errorf("rule %q: unknown operator %q", r.Name, r.Operator)
	}
	if r.Cooldown < 0 {
		return fmt.Errorf("rule %q: cooldown must not be negative", r.Name)
	}
	return nil
}

// Breached reports whether value satisfies the rule's condition.
func (r Rule) Breached(value float64) bool {
	switch r.Operator {
	case OpGT:
		return value > r.Threshold
	case OpGTE:
		return value >= r.Threshold
	case OpLT:
		return value < r.Threshold
	case OpLTE:
		return value <= r.Threshold
	case OpEQ:
		return value == r.Threshold
	}
	return false
}

func (r Rule) matches(service, metric string) bool {
	if r.Metric != metric {
		return false
	}
	return r.Service == "" || r.Service == service
}
