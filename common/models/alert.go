package models

import "time"

// AlertStatusFiring marks an alert raised by a threshold breach.
const AlertStatusFiring = "firing"

// AlertEvent is raised when a metric breaches a configured threshold rule.
type AlertEvent struct {
	EventID       string    `json:"event_id" bson:"event_id"`
	SchemaVersion int       `json:"schema_version" bson:"schema_version"`
	AlertName     string    `json:"alert_name" bson:"alert_name"`
	Service       string    `json:"service" bson:"service"`
	Metric        string    `json:"metric" bson:"metric"`
	Operator      string    `json:"operator" bson:"operator"`
	Value         float64   `json:"value" bson:"value"`
	Threshold     float64   `json:"threshold" bson:"threshold"`
	Status        string    `json:"status" bson:"status"`
	SourceEventID string    `json:"source_event_id,omitempty" bson:"source_event_id,omitempty"`
	TriggeredAt   time.Time `json:"triggered_at" bson:"triggered_at"`
	Timestamp     time.Time `json:"timestamp" bson:"timestamp"`
	ReceivedAt    time.Time `json:"received_at" bson:"received_at"`
}

// Event converts the alert to the generic envelope used by the store and broker.
func (a *AlertEvent) Event() *Event {
	ev := &Event{
		Category:      CategoryAlert,
		EventID:       a.EventID,
		SchemaVersion: a.SchemaVersion,
		Service:       a.Service,
		Timestamp:     a.Timestamp,
		ReceivedAt:    a.ReceivedAt,
		Fields: map[string]any{
			"alert_name":   a.AlertName,
			"metric":       a.Metric,
			"operator":     a.Operator,
			"value":        a.Value,
			"threshold":    a.Threshold,
			"status":       a.Status,
			"triggered_at": a.TriggeredAt,
		},
	}
	if a.SourceEventID != "" {
		ev.Fields["source_event_id"] = a.SourceEventID
	}
	return ev
}
