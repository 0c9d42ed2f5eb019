package seeder

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
)

// Endpoint categories accepted by the ingest service.
const (
	CategoryLogs      = "logs"
	CategoryMetrics   = "metrics"
	CategorySecurity  = "security"
	CategoryHeartbeat = "heartbeat"
)

// Categories lists every category the generator can produce.
var Categories = []string{CategoryLogs, CategoryMetrics, CategorySecurity, CategoryHeartbeat}

var (
	logLevels      = []string{"debug", "info", "info", "info", "info", "warn", "warn", "error", "fatal"}
	securityTypes  = []string{"brute_force", "port_scan", "auth_failure", "malware", "injection", "xss", "ddos", "privilege_escalation", "other"}
	severities     = []string{"low", "low", "medium", "medium", "high", "critical"}
	healthStatuses = []string{"healthy", "healthy", "healthy", "healthy", "degraded", "unhealthy"}
	environments   = []string{"prod", "staging", "dev"}
	regions        = []string{"us-east-1", "us-west-2", "eu-west-1"}
)

type metricKind struct {
	name     string
	unit     string
	min, max float64
}

var metricKinds = []metricKind{
	{"cpu_usage", "percent", 2, 85},
	{"memory_usage", "percent", 20, 80},
	{"latency_ms", "ms", 5, 400},
	{"error_rate", "percent", 0, 3},
	{"request_rate", "rps", 10, 2000},
}

// DefaultServices are used when no service names are configured.
var DefaultServices = []string{"api-gateway", "auth-service", "billing", "checkout", "search"}

// Generator produces fake events that pass the ingest schemas.
type Generator struct {
	faker    *gofakeit.Faker
	services []string
	hosts    map[string]string
	now      func() time.Time
}

// NewGenerator returns a generator seeded with seed. Seed 0 picks a random
// seed. Empty services uses DefaultServices.
func NewGenerator(seed int64, services []string) *Generator {
	if len(services) == 0 {
		services = DefaultServices
	}
	g := &Generator{
		faker:    gofakeit.New(seed),
		services: services,
		hosts:    make(map[string]string, len(services)),
		now:      time.Now,
	}
	for _, s := range services {
		g.hosts[s] = fmt.Sprintf("%s-%d.%s", s, g.faker.IntRange(1, 9), g.faker.DomainName())
	}
	return g
}

// Next returns one event for category.
func (g *Generator) Next(category string) (map[string]any, error) {
	switch category {
	case CategoryLogs:
		return g.Log(), nil
	case CategoryMetrics:
		return g.Metric(), nil
	case CategorySecurity:
		return g.Security(), nil
	case CategoryHeartbeat:
		return g.Heartbeat(), nil
	}
	return nil, fmt.Errorf("unknown category %q", category)
}

// Pick returns a random element of categories.
func (g *Generator) Pick(categories []string) string {
	return g.faker.RandomString(categories)
}

func (g *Generator) service() string {
	return g.faker.RandomString(g.services)
}

func (g *Generator) timestamp() string {
	return g.now().UTC().Format(time.RFC3339Nano)
}

func (g *Generator) tags(service string) map[string]string {
	return map[string]string{
		"env":    g.faker.RandomString(environments),
		"region": g.faker.RandomString(regions),
		"host":   g.hosts[service],
	}
}

func (g *Generator) Log() map[string]any {
	service := g.service()
	level := g.faker.RandomString(logLevels)

	message := g.faker.HackerPhrase()
	if level == "error" || level == "fatal" {
		message = fmt.Sprintf("%s %s failed: %s", g.faker.HTTPMethod(), g.faker.URL(), g.faker.HackerPhrase())
	}

	return map[string]any{
		"service":   service,
		"level":     level,
		"message":   message,
		"timestamp": g.timestamp(),
		"trace_id":  g.faker.UUID(),
		"tags":      g.tags(service),
		"meta": map[string]any{
			"user":       g.faker.Username(),
			"user_agent": g.faker.UserAgent(),
			"client_ip":  g.faker.IPv4Address(),
		},
	}
}

func (g *Generator) Metric() map[string]any {
	service := g.service()
	kind := metricKinds[g.faker.IntRange(0, len(metricKinds)-1)]
	return map[string]any{
		"service":   service,
		"name":      kind.name,
		"value":     g.faker.Float64Range(kind.min, kind.max),
		"unit":      kind.unit,
		"timestamp": g.timestamp(),
		"tags":      g.tags(service),
	}
}

// MetricValue returns a metric event with a fixed name and value.
func (g *Generator) MetricValue(service, name string, value float64) map[string]any {
	ev := g.Metric()
	ev["service"] = service
	ev["name"] = name
	ev["value"] = value
	delete(ev, "unit")
	return ev
}

func (g *Generator) Security() map[string]any {
	return g.securityEvent(g.service(), g.faker.RandomString(securityTypes), g.faker.IPv4Address(), g.faker.RandomString(severities))
}

func (g *Generator) securityEvent(service, typ, sourceIP, severity string) map[string]any {
	return map[string]any{
		"service":     service,
		"type":        typ,
		"source_ip":   sourceIP,
		"severity":    severity,
		"description": fmt.Sprintf("%s from %s against %s", typ, sourceIP, service),
		"timestamp":   g.timestamp(),
		"tags":        g.tags(service),
		"meta": map[string]any{
			"user":       g.faker.Username(),
			"user_agent": g.faker.UserAgent(),
		},
	}
}

func (g *Generator) Heartbeat() map[string]any {
	service := g.service()
	return map[string]any{
		"service":   service,
		"host":      g.hosts[service],
		"status":    g.faker.RandomString(healthStatuses),
		"version":   g.faker.AppVersion(),
		"timestamp": g.timestamp(),
		"tags":      map[string]string{"region": g.faker.RandomString(regions)},
	}
}
