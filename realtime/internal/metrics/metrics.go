package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Connections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lightwatch_realtime_connections",
			Help: "Open WebSocket connections by channel",
		},
		[]string{"channel"},
	)

	UpgradesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightwatch_realtime_upgrades_total",
			Help: "WebSocket upgrade attempts by outcome",
		},
		[]string{"outcome"},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightwatch_realtime_messages_sent_total",
			Help: "Messages written to subscribers by channel",
		},
		[]string{"channel"},
	)

	WriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightwatch_realtime_write_errors_total",
			Help: "Failed writes that removed a connection",
		},
		[]string{"channel"},
	)

	EntriesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightwatch_realtime_entries_consumed_total",
			Help: "Stream entries read from the consumer group",
		},
		[]string{"stream"},
	)

	ConsumerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightwatch_realtime_consumer_errors_total",
			Help: "Consumer read and ack failures",
		},
		[]string{"op"},
	)
)
