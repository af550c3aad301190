// Package metrics holds the process-wide Prometheus collectors shared by the
// dispatch pool and the control plane.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "humanizer_messages_dispatched_total",
			Help: "Total number of scheduled messages dispatched, by outcome",
		},
		[]string{"outcome"},
	)

	QuotaDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "humanizer_quota_denials_total",
			Help: "Total number of quota reservations denied, by window",
		},
		[]string{"window"},
	)

	DispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "humanizer_dispatch_duration_seconds",
			Help:    "Time spent sending a single message through the gateway",
			Buckets: prometheus.DefBuckets,
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "humanizer_queue_depth",
			Help: "Current depth of the scheduled message queue",
		},
	)

	BackpressurePaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "humanizer_backpressure_paused",
			Help: "1 when the dispatch pool is paused for backpressure, 0 otherwise",
		},
	)
)
