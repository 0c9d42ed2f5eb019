package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Alert rule types. Only threshold rules are evaluated.
const (
	AlertTypeThreshold  = "threshold"
	AlertTypeRateChange = "rate_change"
	AlertTypeAnomaly    = "anomaly"
)

// AlertCondition is the comparison a rule applies to one metric.
type AlertCondition struct {
	Metric    string  `json:"metric" bson:"metric"`
	Operator  string  `json:"operator" bson:"operator"`
	Threshold float64 `json:"threshold" bson:"threshold"`
	// Duration is a Go duration string such as "5m".
	Duration string `json:"duration,omitempty" bson:"duration,omitempty"`
}

// AlertRule is a stored alert definition managed through the query API.
type AlertRule struct {
	ID        string         `json:"id" bson:"id"`
	Name      string         `json:"name" bson:"name"`
	Type      string         `json:"type" bson:"type"`
	Condition AlertCondition `json:"condition" bson:"condition"`
	Service   string         `json:"service" bson:"service"`
	Enabled   bool           `json:"enabled" bson:"enabled"`
	Channels  []string       `json:"channels,omitempty" bson:"channels,omitempty"`
	Webhook   string         `json:"webhook,omitempty" bson:"webhook,omitempty"`
	CreatedAt time.Time      `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" bson:"updated_at"`
}

// Document returns the stored form. Times stay time.Time for BSON encoders.
func (r *AlertRule) Document() map[string]any {
	cond := map[string]any{
		"metric":    r.Condition.Metric,
		"operator":  r.Condition.Operator,
		"threshold": r.Condition.Threshold,
	}
	if r.Condition.Duration != "" {
		cond["duration"] = r.Condition.Duration
	}
	doc := map[string]any{
		"id":         r.ID,
		"name":       r.Name,
		"type":       r.Type,
		"condition":  cond,
		"service":    r.Service,
		"enabled":    r.Enabled,
		"created_at": r.CreatedAt,
		"updated_at": r.UpdatedAt,
	}
	if len(r.Channels) > 0 {
		doc["channels"] = r.Channels
	}
	if r.Webhook != "" {
		doc["webhook"] = r.Webhook
	}
	return doc
}

// AlertRuleFromDocument decodes a stored rule. Any value the store returns
// that encodes to the JSON form is accepted.
func AlertRuleFromDocument(doc map[string]any) (AlertRule, error) {
	var r AlertRule
	raw, err := json.Marshal(doc)
	if err != nil {
		return r, fmt.Errorf("encode alert rule: %w", err)
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return r, fmt.Errorf("decode alert rule: %w", err)
	}
	return r, nil
}
