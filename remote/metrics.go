package remote

import (
	"context"
	"sync"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	platformerrors "github.com/jmgilman/go/errors"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	transportPrometheusMetrics sync.Once

	transportOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lazygit",
			Subsystem: "remote",
			Name:      "operations_total",
			Help:      "Number of remote transport operations, by operation and result code.",
		},
		[]string{"operation", "result"})
	transportOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lazygit",
			Subsystem: "remote",
			Name:      "operation_duration_seconds",
			Help:      "Amount of time spent per remote transport operation, in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		},
		[]string{"operation"})
	transportFetchedObjectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lazygit",
			Subsystem: "remote",
			Name:      "fetched_objects_total",
			Help:      "Number of object ids requested from the remote.",
		})
)

const resultOK = "OK"

type metricsTransport struct {
	base Transport
}

// NewMetricsTransport wraps base so that every operation is counted and timed
// in the default Prometheus registry.
func NewMetricsTransport(base Transport) Transport {
	transportPrometheusMetrics.Do(func() {
		prometheus.MustRegister(transportOperationsTotal)
		prometheus.MustRegister(transportOperationDurationSeconds)
		prometheus.MustRegister(transportFetchedObjectsTotal)
	})

	return &metricsTransport{base: base}
}

func observe(operation string, start time.Time, err error) {
	transportOperationDurationSeconds.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	result := resultOK
	if err != nil {
		result = string(platformerrors.GetCode(err))
	}
	transportOperationsTotal.WithLabelValues(operation, result).Inc()
}

func (t *metricsTransport) Clone(ctx context.Context, opts CloneOptions) error {
	start := time.Now()
	err := t.base.Clone(ctx, opts)
	observe("clone", start, err)
	return err
}

func (t *metricsTransport) Attach(ctx context.Context) error {
	start := time.Now()
	err := t.base.Attach(ctx)
	observe("attach", start, err)
	return err
}

func (t *metricsTransport) Fetch(ctx context.Context, ids []plumbing.Hash, ref string) error {
	start := time.Now()
	err := t.base.Fetch(ctx, ids, ref)
	observe("fetch", start, err)
	if err == nil {
		transportFetchedObjectsTotal.Add(float64(len(ids)))
	}
	return err
}

func (t *metricsTransport) Checkout(ctx context.Context, paths []string, ref string) (CheckoutResult, error) {
	start := time.Now()
	result, err := t.base.Checkout(ctx, paths, ref)
	observed := err
	if observed == nil {
		observed = result.Err()
	}
	observe("checkout", start, observed)
	return result, err
}

func (t *metricsTransport) ListTree(ctx context.Context, ref string) ([]TreeEntry, error) {
	start := time.Now()
	entries, err := t.base.ListTree(ctx, ref)
	observe("list_tree", start, err)
	return entries, err
}

func (t *metricsTransport) HasObject(ctx context.Context, id plumbing.Hash) (bool, error) {
	start := time.Now()
	has, err := t.base.HasObject(ctx, id)
	observe("has_object", start, err)
	return has, err
}

func (t *metricsTransport) Resolve(ctx context.Context, ref string) (RefInfo, error) {
	start := time.Now()
	info, err := t.base.Resolve(ctx, ref)
	observe("resolve", start, err)
	return info, err
}
