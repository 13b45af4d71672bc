package resilience_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/apotek-pos/internal/backend"
	"github.com/noah-isme/apotek-pos/internal/resilience"
)

func TestBreakerMetricsTransitions(t *testing.T) {
	resilience.BreakerState.Reset()
	resilience.BreakerTransitions.Reset()
	resilience.BreakerOpenedTotal.Reset()

	breaker := resilience.NewBreaker(1, 0.5, 20*time.Millisecond).WithTarget("order_backend")
	ctx := context.Background()

	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)

	val := testutil.ToFloat64(resilience.BreakerState.WithLabelValues("order_backend"))
	require.Equal(t, 1.0, val)

	require.Eventually(t, func() bool {
		return breaker.Allow(ctx)
	}, 100*time.Millisecond, 5*time.Millisecond)

	val = testutil.ToFloat64(resilience.BreakerState.WithLabelValues("order_backend"))
	require.Equal(t, 2.0, val)

	breaker.Report(ctx, true)

	val = testutil.ToFloat64(resilience.BreakerState.WithLabelValues("order_backend"))
	require.Equal(t, 0.0, val)

	opened := testutil.ToFloat64(resilience.BreakerOpenedTotal.WithLabelValues("order_backend"))
	require.Equal(t, 1.0, opened)

	toOpen := testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues("order_backend", "closed", "open"))
	require.Equal(t, 1.0, toOpen)

	toHalf := testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues("order_backend", "open", "half_open"))
	require.Equal(t, 1.0, toHalf)

	toClosed := testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues("order_backend", "half_open", "closed"))
	require.Equal(t, 1.0, toClosed)
}

func TestBackendServerErrorsOpenBreaker(t *testing.T) {
	resilience.BreakerState.Reset()
	resilience.BreakerOpenedTotal.Reset()
	resilience.HTTPAttempts.Reset()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	breaker := resilience.NewBreaker(2, 0.5, time.Minute)
	client := backend.NewClient(backend.Options{BaseURL: srv.URL, Timeout: time.Second, Breaker: breaker})
	ctx := context.Background()
	order := backend.OrderRequest{CustomerName: "Asha"}

	for i := 0; i < 2; i++ {
		_, err := client.CreateOrder(ctx, order)
		var apiErr *backend.Error
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	}
	require.Equal(t, resilience.Open, breaker.State())
	require.Equal(t, "order_backend", breaker.Target())

	_, err := client.CreateOrder(ctx, order)
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
	require.EqualValues(t, 2, atomic.LoadInt32(&hits))

	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerState.WithLabelValues("order_backend")))
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerOpenedTotal.WithLabelValues("order_backend")))
	require.Equal(t, 2.0, testutil.ToFloat64(resilience.HTTPAttempts.WithLabelValues("order_backend", "server_error")))
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.HTTPAttempts.WithLabelValues("order_backend", "rejected")))
}
