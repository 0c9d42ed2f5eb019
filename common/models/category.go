// Package models holds the event shapes shared by the ingest and realtime
// services, and the fixed mapping between categories, collections, stream
// keys and broadcast channels.
package models

import "fmt"

// Category selects the schema, collection and stream of an event.
type Category string

const (
	CategoryLog       Category = "log"
	CategoryMetric    Category = "metric"
	CategorySecurity  Category = "security"
	CategoryHeartbeat Category = "heartbeat"
	CategoryAlert     Category = "alert"
)

// Collections in the document store.
const (
	CollectionLogs           = "logs"
	CollectionMetrics        = "metrics"
	CollectionSecurityEvents = "security_events"
	CollectionServices       = "services"
	CollectionAlertEvents    = "alert_events"
	CollectionAlertRules     = "alert_rules"
)

// Stream keys in the broker, one append-only log per channel.
const (
	StreamLogs     = "stream:logs"
	StreamMetrics  = "stream:metrics"
	StreamSecurity = "stream:security"
	StreamAlerts   = "stream:alerts"
)

// Channel is a live broadcast group of WebSocket subscribers.
type Channel string

const (
	ChannelLogs     Channel = "logs"
	ChannelMetrics  Channel = "metrics"
	ChannelSecurity Channel = "security"
	ChannelAlerts   Channel = "alerts"
)

// Channels lists every broadcast channel in a stable order.
var Channels = []Channel{ChannelLogs, ChannelAlerts, ChannelMetrics, ChannelSecurity}

var channelStreams = map[Channel]string{
	ChannelLogs:     StreamLogs,
	ChannelMetrics:  StreamMetrics,
	ChannelSecurity: StreamSecurity,
	ChannelAlerts:   StreamAlerts,
}

var categoryChannels = map[Category]Channel{
	CategoryLog:      ChannelLogs,
	CategoryMetric:   ChannelMetrics,
	CategorySecurity: ChannelSecurity,
	CategoryAlert:    ChannelAlerts,
}

var categoryCollections = map[Category]string{
	CategoryLog:       CollectionLogs,
	CategoryMetric:    CollectionMetrics,
	CategorySecurity:  CollectionSecurityEvents,
	CategoryHeartbeat: CollectionServices,
	CategoryAlert:     CollectionAlertEvents,
}

// ParseCategory maps an ingest path segment or category name to a Category.
// Plural path forms ("logs", "metrics") are accepted.
func ParseCategory(s string) (Category, error) {
	switch s {
	case "log", "logs":
		return CategoryLog, nil
	case "metric", "metrics":
		return CategoryMetric, nil
	case "security":
		return CategorySecurity, nil
	case "heartbeat":
		return CategoryHeartbeat, nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// Collection returns the document-store collection for c.
func (c Category) Collection() string { return categoryCollections[c] }

// Channel returns the broadcast channel for c. Heartbeats have none.
func (c Category) Channel() (Channel, bool) {
	ch, ok := categoryChannels[c]
	return ch, ok
}

// Stream returns the broker stream key for c. Heartbeats have none.
func (c Category) Stream() (string, bool) {
	ch, ok := categoryChannels[c]
	if !ok {
		return "", false
	}
	return ch.Stream(), true
}

// ParseChannel resolves a channel name. Unknown names return false.
func ParseChannel(s string) (Channel, bool) {
	ch := Channel(s)
	_, ok := channelStreams[ch]
	return ch, ok
}

// Stream returns the broker stream key backing ch.
func (ch Channel) Stream() string { return channelStreams[ch] }

// ChannelForStream is the inverse of Channel.Stream.
func ChannelForStream(stream string) (Channel, bool) {
	for ch, s := range channelStreams {
		if s == stream {
			return ch, true
		}
	}
	return "", false
}

// Streams returns the stream keys of every channel, in Channels order.
func Streams() []string {
	out := make([]string, len(Channels))
	for i, ch := range Channels {
		out[i] = ch.Stream()
	}
	return out
}
