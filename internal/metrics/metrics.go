// Package metrics defines Prometheus metrics for the monitor.
//
// Metric naming follows Prometheus conventions: pulsemon_ prefix, _total
// suffix for counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HeartbeatsTotal counts heartbeat entries by outcome (ok, auth, invalid).
	HeartbeatsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsemon_heartbeats_total",
			Help: "Total heartbeat entries processed, by outcome.",
		},
		[]string{"result"},
	)

	// RoundsTotal counts evaluation rounds by outcome (ok, error).
	RoundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsemon_rounds_total",
			Help: "Total evaluation rounds, by outcome.",
		},
		[]string{"result"},
	)

	// Services tracks the number of services currently in each status.
	Services = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pulsemon_services",
			Help: "Services by current status.",
		},
		[]string{"status"},
	)

	// AlertsTotal counts alerts routed to channels, by event type and origin.
	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsemon_alerts_total",
			Help: "Total alerts routed, by event type and origin.",
		},
		[]string{"event", "origin"},
	)

	// DispatchTotal counts channel dispatch attempts by channel and outcome.
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsemon_dispatch_total",
			Help: "Total channel dispatch attempts, by channel and outcome.",
		},
		[]string{"channel", "result"},
	)
)

// SetServiceCounts updates the per-status service gauges after a round.
func SetServiceCounts(up, down, degraded, unknown int) {
	Services.WithLabelValues("up").Set(float64(up))
	Services.WithLabelValues("down").Set(float64(down))
	Services.WithLabelValues("degraded").Set(float64(degraded))
	Services.WithLabelValues("unknown").Set(float64(unknown))
}
