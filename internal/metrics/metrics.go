// Package metrics provides Prometheus instrumentation for the channel sync
// engine. It exposes counters for event and merge throughput, gauges for
// in-flight optimistic writes and buffered deltas, and histograms for
// history-load latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsApplied counts real-time events applied to channel state,
	// labeled by event type.
	EventsApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "channelsync_events_applied_total",
		Help: "Real-time events applied to channel state",
	}, []string{"type"})

	// EventsDiscarded counts events dropped on arrival, labeled by reason:
	// "stale_channel", "decode_error", or "buffer_overflow".
	EventsDiscarded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "channelsync_events_discarded_total",
		Help: "Real-time events discarded on arrival",
	}, []string{"reason"})

	// HistoryPagesMerged counts REST history pages merged into the log.
	HistoryPagesMerged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "channelsync_history_pages_merged_total",
		Help: "REST history pages merged into the message log",
	})

	// HistoryLoadSeconds records the latency of the initial history load.
	HistoryLoadSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "channelsync_history_load_seconds",
		Help:    "Latency of the initial history fetch and merge",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
	})

	// PendingWrites tracks optimistic writes awaiting confirmation.
	PendingWrites = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "channelsync_pending_writes",
		Help: "Optimistic writes awaiting server confirmation",
	})

	// WriteFailures counts rolled-back optimistic writes, labeled by
	// operation: "send", "edit", "delete", or "react".
	WriteFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "channelsync_write_failures_total",
		Help: "Failed writes rolled back from local state",
	}, []string{"op"})

	// BufferedDeltas tracks reaction deltas held for not-yet-seen messages.
	BufferedDeltas = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "channelsync_buffered_deltas",
		Help: "Reaction deltas buffered for unknown messages",
	})

	// SubscribeRetries counts transport subscribe retry attempts.
	SubscribeRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "channelsync_subscribe_retries_total",
		Help: "Transport subscribe retry attempts",
	})
)

func init() {
	prometheus.MustRegister(
		EventsApplied,
		EventsDiscarded,
		HistoryPagesMerged,
		HistoryLoadSeconds,
		PendingWrites,
		WriteFailures,
		BufferedDeltas,
		SubscribeRetries,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
