// Package metrics exposes Prometheus instrumentation for the bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Upstream connection metrics
	UpstreamConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "meshbridge_upstream_connected",
			Help: "Whether the upstream connection is currently open (0 or 1)",
		},
	)

	UpstreamReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meshbridge_upstream_reconnects_total",
			Help: "Total upstream reconnect attempts",
		},
	)

	// Pipeline metrics
	EventsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshbridge_events_applied_total",
			Help: "Total upstream events applied to the projection",
		},
		[]string{"type"},
	)

	DedupHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meshbridge_dedup_hits_total",
			Help: "Total messages suppressed by the dedup window",
		},
	)

	// Dashboard metrics
	ClientsConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "meshbridge_clients_connected",
			Help: "Currently connected dashboard clients",
		},
	)

	ClientsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshbridge_clients_rejected_total",
			Help: "Dashboard connections rejected",
		},
		[]string{"reason"},
	)

	BroadcastsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshbridge_broadcasts_total",
			Help: "Total delta broadcasts fanned out to clients",
		},
		[]string{"type"},
	)

	CommandsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshbridge_commands_total",
			Help: "Client commands handled, by type and outcome",
		},
		[]string{"type", "result"},
	)
)
