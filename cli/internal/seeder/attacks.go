package seeder

import (
	"fmt"
	"sort"
)

// Item is one generated event and the endpoint it is posted to.
type Item struct {
	Category string
	Event    map[string]any
}

// Pattern generates a correlated burst of events.
type Pattern func(g *Generator, service string, count int) []Item

var patterns = map[string]Pattern{
	"brute_force":  bruteForce,
	"port_scan":    portScan,
	"metric_spike": metricSpike,
}

// Patterns returns the registered pattern names, sorted.
func Patterns() []string {
	names := make([]string, 0, len(patterns))
	for name := range patterns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Attack generates count events of the named pattern against service. An
// empty service picks one at random.
func (g *Generator) Attack(pattern, service string, count int) ([]Item, error) {
	p, ok := patterns[pattern]
	if !ok {
		return nil, fmt.Errorf("unknown attack pattern %q", pattern)
	}
	if count < 1 {
		return nil, fmt.Errorf("attack %s: count must be at least 1", pattern)
	}
	if service == "" {
		service = g.service()
	}
	return p(g, service, count), nil
}

// bruteForce is a run of auth failures from one address followed by a
// brute_force finding.
func bruteForce(g *Generator, service string, count int) []Item {
	ip := g.faker.IPv4Address()
	items := make([]Item, 0, count)
	for i := 0; i < count-1; i++ {
		items = append(items, Item{CategorySecurity, g.securityEvent(service, "auth_failure", ip, "low")})
	}
	return append(items, Item{CategorySecurity, g.securityEvent(service, "brute_force", ip, "high")})
}

// portScan scans sequential ports from one address.
func portScan(g *Generator, service string, count int) []Item {
	ip := g.faker.IPv4Address()
	first := g.faker.IntRange(1, 60000)
	items := make([]Item, count)
	for i := range items {
		ev := g.securityEvent(service, "port_scan", ip, "medium")
		ev["description"] = fmt.Sprintf("port %d scanned from %s", first+i, ip)
		items[i] = Item{CategorySecurity, ev}
	}
	return items
}

// metricSpike reports saturated CPU so threshold rules fire.
func metricSpike(g *Generator, service string, count int) []Item {
	items := make([]Item, count)
	for i := range items {
		items[i] = Item{CategoryMetrics, g.MetricValue(service, "cpu_usage", g.faker.Float64Range(95, 100))}
	}
	return items
}
