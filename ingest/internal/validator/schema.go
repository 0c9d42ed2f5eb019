package validator

import "github.com/lightwatch/lightwatch/common/models"

// Kind is the JSON type a field must have.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindInteger
	KindObject
	// KindStringMap is an object whose values are all strings.
	KindStringMap
	// KindDateTime is an RFC 3339 date-time string.
	KindDateTime
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindInteger:
		return "integer"
	case KindObject, KindStringMap:
		return "object"
	case KindDateTime:
		return "date-time string"
	}
	return "unknown"
}

// Field declares one top-level property.
type Field struct {
	Name     string
	Kind     Kind
	Required bool
	MinLen   int
	MaxLen   int
	Enum     []string
	// Min is the inclusive lower bound for integer fields; nil means unbounded.
	Min *int64
}

// Schema is the closed set of properties accepted for a category.
type Schema struct {
	Category models.Category
	Fields   []Field
}

// Enumerations.
var (
	LogLevels         = []string{"debug", "info", "warn", "error", "fatal"}
	SecurityTypes     = []string{"brute_force", "port_scan", "auth_failure", "malware", "injection", "xss", "ddos", "privilege_escalation", "other"}
	Severities        = []string{"low", "medium", "high", "critical"}
	HeartbeatStatuses = []string{models.StatusHealthy, models.StatusDegraded, models.StatusUnhealthy}
)

var minSchemaVersion int64 = 1

func common() []Field {
	return []Field{
		{Name: models.KeyEventID, Kind: KindString, MaxLen: 64},
		{Name: models.KeyTraceID, Kind: KindString, MaxLen: 64},
		{Name: models.KeySchemaVersion, Kind: KindInteger, Min: &minSchemaVersion},
		{Name: models.KeyTimestamp, Kind: KindDateTime},
		{Name: "meta", Kind: KindObject},
		{Name: "tags", Kind: KindStringMap},
	}
}

func service() Field {
	return Field{Name: models.KeyService, Kind: KindString, Required: true, MinLen: 1, MaxLen: 128}
}

// Schemas are the fixed per-category shapes.
var Schemas = map[models.Category]Schema{
	models.CategoryLog: {
		Category: models.CategoryLog,
		Fields: append([]Field{
			service(),
			{Name: "level", Kind: KindString, Required: true, Enum: LogLevels},
			{Name: "message", Kind: KindString, Required: true, MinLen: 1, MaxLen: 4096},
		}, common()...),
	},
	models.CategoryMetric: {
		Category: models.CategoryMetric,
		Fields: append([]Field{
			service(),
			{Name: "name", Kind: KindString, Required: true, MinLen: 1, MaxLen: 128},
			{Name: "value", Kind: KindNumber, Required: true},
			{Name: "unit", Kind: KindString, MaxLen: 32},
		}, common()...),
	},
	models.CategorySecurity: {
		Category: models.CategorySecurity,
		Fields: append([]Field{
			service(),
			{Name: "type", Kind: KindString, Required: true, Enum: SecurityTypes},
			{Name: "source_ip", Kind: KindString, Required: true, MinLen: 1, MaxLen: 45},
			{Name: "description", Kind: KindString, MaxLen: 2048},
			{Name: "severity", Kind: KindString, Enum: Severities},
		}, common()...),
	},
	models.CategoryHeartbeat: {
		Category: models.CategoryHeartbeat,
		Fields: append([]Field{
			service(),
			{Name: "host", Kind: KindString, MaxLen: 256},
			{Name: "status", Kind: KindString, Enum: HeartbeatStatuses},
			{Name: "version", Kind: KindString, MaxLen: 64},
		}, common()...),
	},
}
