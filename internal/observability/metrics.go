// Package observability registers Prometheus metrics for the sync pipeline.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	syncRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trailblazer",
		Subsystem: "health_sync",
		Name:      "runs_total",
		Help:      "Sync runs by outcome.",
	}, []string{"outcome"})

	recordsSyncedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "trailblazer",
		Subsystem: "health_sync",
		Name:      "records_synced_total",
		Help:      "Workout records persisted by sync runs.",
	})

	recordsSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "trailblazer",
		Subsystem: "health_sync",
		Name:      "records_skipped_total",
		Help:      "Workout records skipped by the dedup gate.",
	})

	syncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "trailblazer",
		Subsystem: "health_sync",
		Name:      "run_duration_seconds",
		Help:      "Wall-clock duration of sync runs.",
		Buckets:   prometheus.DefBuckets,
	})

	lastSyncGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "trailblazer",
		Subsystem: "health_sync",
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successful sync run.",
	})
)

func init() {
	prometheus.MustRegister(syncRunsTotal, recordsSyncedTotal, recordsSkippedTotal, syncDuration, lastSyncGauge)
}

// RecordSyncRun records one completed (or failed) sync run.
func RecordSyncRun(outcome string, synced, skipped int, elapsed time.Duration) {
	syncRunsTotal.WithLabelValues(outcome).Inc()
	recordsSyncedTotal.Add(float64(synced))
	recordsSkippedTotal.Add(float64(skipped))
	syncDuration.Observe(elapsed.Seconds())
	if outcome == "success" {
		lastSyncGauge.Set(float64(time.Now().Unix()))
	}
}
