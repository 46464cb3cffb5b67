package scheduler

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	schedulerPrometheusMetrics sync.Once

	schedulerBatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lazygit",
			Subsystem: "scheduler",
			Name:      "batches_total",
			Help:      "Number of materialization batches drained.",
		})
	schedulerBatchPaths = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "lazygit",
			Subsystem: "scheduler",
			Name:      "batch_paths",
			Help:      "Number of paths checked out per batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		})
	schedulerFailedPathsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lazygit",
			Subsystem: "scheduler",
			Name:      "failed_paths_total",
			Help:      "Number of batched paths whose checkout failed.",
		})
)

func registerMetrics() {
	schedulerPrometheusMetrics.Do(func() {
		prometheus.MustRegister(schedulerBatchesTotal)
		prometheus.MustRegister(schedulerBatchPaths)
		prometheus.MustRegister(schedulerFailedPathsTotal)
	})
}
