package mergecache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdfmerge_cache_lookups_total",
			Help: "Merge cache lookups by state (hit, miss, stale).",
		},
		[]string{"state"},
	)

	mergeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pdfmerge_merge_duration_seconds",
			Help:    "Time spent rebuilding a cache entry.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	mergeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pdfmerge_merge_failures_total",
			Help: "Rebuilds that failed in the merge tool.",
		},
	)
)
