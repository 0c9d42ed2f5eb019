package models

import "time"

// Heartbeat statuses.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// ServiceRecord is the liveness registry entry for one producer, keyed by Name.
type ServiceRecord struct {
	Name          string            `json:"name" bson:"name"`
	Host          string            `json:"host,omitempty" bson:"host,omitempty"`
	Status        string            `json:"status" bson:"status"`
	Version       string            `json:"version,omitempty" bson:"version,omitempty"`
	Meta          map[string]any    `json:"meta,omitempty" bson:"meta,omitempty"`
	Tags          map[string]string `json:"tags,omitempty" bson:"tags,omitempty"`
	LastHeartbeat time.Time         `json:"last_heartbeat" bson:"last_heartbeat"`
	CreatedAt     time.Time         `json:"created_at" bson:"created_at"`
}

// SetFields returns the fields a heartbeat overwrites on every upsert.
// Optional fields absent from the heartbeat are left untouched.
func (r *ServiceRecord) SetFields() map[string]any {
	set := map[string]any{
		"status":         r.Status,
		"last_heartbeat": r.LastHeartbeat,
	}
	if r.Host != "" {
		set["host"] = r.Host
	}
	if r.Version != "" {
		set["version"] = r.Version
	}
	if r.Meta != nil {
		set["meta"] = r.Meta
	}
	if r.Tags != nil {
		set["tags"] = r.Tags
	}
	return set
}

// InsertFields returns the fields written only when the record is created.
func (r *ServiceRecord) InsertFields() map[string]any {
	return map[string]any{"created_at": r.CreatedAt}
}
