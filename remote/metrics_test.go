package remote

import (
	"context"
	"errors"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	platformerrors "github.com/jmgilman/go/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsTransport(t *testing.T) {
	base := &mockTransport{
		fetchFunc: func(context.Context, []plumbing.Hash, string) error { return nil },
		resolveFunc: func(context.Context, string) (RefInfo, error) {
			return RefInfo{}, platformerrors.New(platformerrors.CodeNotFound, "no such ref")
		},
		checkoutFunc: func(_ context.Context, paths []string, _ string) (CheckoutResult, error) {
			return CheckoutResult{paths[0]: errors.New("boom")}, nil
		},
	}
	transport := NewMetricsTransport(base)
	ctx := context.Background()

	fetchOK := testutil.ToFloat64(transportOperationsTotal.WithLabelValues("fetch", resultOK))
	fetched := testutil.ToFloat64(transportFetchedObjectsTotal)
	resolveMissing := testutil.ToFloat64(transportOperationsTotal.WithLabelValues("resolve", string(platformerrors.CodeNotFound)))
	checkoutUnknown := testutil.ToFloat64(transportOperationsTotal.WithLabelValues("checkout", string(platformerrors.CodeUnknown)))

	require.NoError(t, transport.Fetch(ctx, []plumbing.Hash{blobA, blobB}, "main"))
	_, err := transport.Resolve(ctx, "nope")
	require.Error(t, err)

	result, err := transport.Checkout(ctx, []string{"a.txt"}, "main")
	require.NoError(t, err, "per-path failures stay in the result")
	assert.Equal(t, []string{"a.txt"}, result.Failed())

	assert.Equal(t, fetchOK+1, testutil.ToFloat64(transportOperationsTotal.WithLabelValues("fetch", resultOK)))
	assert.Equal(t, fetched+2, testutil.ToFloat64(transportFetchedObjectsTotal))
	assert.Equal(t, resolveMissing+1, testutil.ToFloat64(transportOperationsTotal.WithLabelValues("resolve", string(platformerrors.CodeNotFound))))
	assert.Equal(t, checkoutUnknown+1, testutil.ToFloat64(transportOperationsTotal.WithLabelValues("checkout", string(platformerrors.CodeUnknown))))

	// Wrapping twice must not register the collectors again.
	assert.NotPanics(t, func() { NewMetricsTransport(base) })
}
