package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "statusmon",
			Name:      "signals_total",
			Help:      "Heartbeat signals received, by outcome.",
		},
		[]string{"outcome"}, // accepted | duplicate | rejected
	)

	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "statusmon",
			Name:      "transitions_total",
			Help:      "Node liveness transitions, by direction.",
		},
		[]string{"direction"}, // online | offline
	)

	RotationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "statusmon",
			Name:      "rotations_total",
			Help:      "Buffer-to-archive rotations performed.",
		},
	)

	RotatedRecords = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "statusmon",
			Name:      "rotated_records_total",
			Help:      "Signal records moved into the archive by rotation.",
		},
	)

	BatchesPulled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "statusmon",
			Name:      "batches_pulled_total",
			Help:      "Archive batches handed to the consumer.",
		},
	)

	BatchesAcked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "statusmon",
			Name:      "batches_acked_total",
			Help:      "Archive batches confirmed and cleared.",
		},
	)

	AuthFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "statusmon",
			Name:      "auth_failures_total",
			Help:      "Requests rejected for a bad or missing API key.",
		},
	)

	AckConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "statusmon",
			Name:      "ack_conflicts_total",
			Help:      "Acknowledgments rejected for a stale or unknown token.",
		},
	)

	ArchiveSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "statusmon",
			Name:      "archive_records",
			Help:      "Records currently held in the archive.",
		},
	)

	NodesOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "statusmon",
			Name:      "nodes_online",
			Help:      "Nodes currently considered online.",
		},
	)
)

func init() {
	Registry.MustRegister(
		SignalsTotal, TransitionsTotal,
		RotationsTotal, RotatedRecords,
		BatchesPulled, BatchesAcked, AuthFailures, AckConflicts,
		ArchiveSize, NodesOnline,
	)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
