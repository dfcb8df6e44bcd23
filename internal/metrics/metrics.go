// Package metrics provides Prometheus metrics for the reconciliation pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ComparisonsTotal counts /compare requests by outcome.
	// Labels: outcome (matched, novel, already_reported, no_face, timeout, invalid_image, storage, internal)
	ComparisonsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reunite",
			Subsystem: "lifecycle",
			Name:      "comparisons_total",
			Help:      "Total number of found-child comparisons by outcome",
		},
		[]string{"outcome"},
	)

	// ComparisonDuration tracks end-to-end comparison latency.
	ComparisonDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "reunite",
			Subsystem: "lifecycle",
			Name:      "comparison_duration_seconds",
			Help:      "Duration of comparison requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// EmbeddingDuration tracks how long the extractor takes per image.
	// Labels: result (success, error)
	EmbeddingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "reunite",
			Subsystem: "extractor",
			Name:      "embedding_duration_seconds",
			Help:      "Duration of embedding extraction in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	// ReportsTotal counts submitted reports.
	// Labels: kind (missing, found), result (created, duplicate)
	ReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reunite",
			Subsystem: "store",
			Name:      "reports_total",
			Help:      "Total number of submitted reports",
		},
		[]string{"kind", "result"},
	)

	// AcceptConflicts counts lost races when linking a match.
	AcceptConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reunite",
			Subsystem: "store",
			Name:      "accept_conflicts_total",
			Help:      "Total number of match acceptances that lost to a concurrent request",
		},
	)

	// RecordsCleared counts records removed by clear-matched and reset-all.
	// Labels: operation (clear_matched, reset_all), kind (missing, found)
	RecordsCleared = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reunite",
			Subsystem: "store",
			Name:      "records_cleared_total",
			Help:      "Total number of records removed by administrative operations",
		},
		[]string{"operation", "kind"},
	)

	// OrphanImagesRemoved counts image files removed by the cleanup sweep.
	OrphanImagesRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reunite",
			Subsystem: "cleanup",
			Name:      "orphan_images_removed_total",
			Help:      "Total number of unreferenced image files removed",
		},
	)

	// PendingReports indicates the current number of pending missing reports.
	PendingReports = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "reunite",
			Subsystem: "store",
			Name:      "pending_missing_reports",
			Help:      "Current number of pending missing-child reports",
		},
	)
)

// ObserveComparison records a finished comparison.
func ObserveComparison(outcome string, started time.Time) {
	ComparisonsTotal.WithLabelValues(outcome).Inc()
	ComparisonDuration.Observe(time.Since(started).Seconds())
}

// ObserveEmbedding records a finished extraction.
func ObserveEmbedding(err error, started time.Time) {
	result := "success"
	if err != nil {
		result = "error"
	}
	EmbeddingDuration.WithLabelValues(result).Observe(time.Since(started).Seconds())
}

// ObserveCleared records removed records for an administrative operation.
func ObserveCleared(operation string, missing, found int64) {
	RecordsCleared.WithLabelValues(operation, "missing").Add(float64(missing))
	RecordsCleared.WithLabelValues(operation, "found").Add(float64(found))
}
