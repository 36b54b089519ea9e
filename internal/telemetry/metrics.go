// Package telemetry provides PulseMon's Prometheus self-metrics and the
// optional HTTP server that exposes them alongside health endpoints.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pulsemon"

var (
	// ChecksTotal counts probe firings by outcome ("ok" / "fail").
	ChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Total number of probe executions by outcome.",
		},
		[]string{"outcome"},
	)

	// PulsesSent counts delivered pulses by transport
	// ("custom-http" / "channel" / "server-http").
	PulsesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pulses_sent_total",
			Help:      "Total number of pulses delivered by transport.",
		},
		[]string{"transport"},
	)

	// PulsesDropped counts pulses dropped at the channel try-send or by
	// queue overflow / retry exhaustion.
	PulsesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pulses_dropped_total",
			Help:      "Total number of pulses dropped before acknowledgment.",
		},
	)

	// QueueDepth tracks unacknowledged pulses in the retry queue.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pulse_queue_depth",
			Help:      "Current number of unacknowledged pulses in the retry queue.",
		},
	)

	// Reconnects counts control channel session restarts.
	Reconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_reconnects_total",
			Help:      "Total number of control channel reconnect attempts.",
		},
	)

	// MonitorsActive tracks the number of enabled monitors currently
	// scheduled.
	MonitorsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitors_active",
			Help:      "Number of enabled monitors in the active configuration.",
		},
	)
)
