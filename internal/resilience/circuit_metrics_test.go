package resilience_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/cryptomart/payments-api/internal/resilience"
)

func TestCircuitMetricsTransitions(t *testing.T) {
	resilience.CircuitState.Reset()
	resilience.CircuitTransitions.Reset()
	resilience.CircuitOpenTotal.Reset()

	breaker := resilience.NewBreaker(1, 0.5, 20*time.Millisecond).WithTarget("cryptocloud")
	ctx := context.Background()

	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)

	val := testutil.ToFloat64(resilience.CircuitState.WithLabelValues("cryptocloud"))
	require.Equal(t, 1.0, val)

	require.Eventually(t, func() bool {
		return breaker.Allow(ctx)
	}, 100*time.Millisecond, 5*time.Millisecond)

	val = testutil.ToFloat64(resilience.CircuitState.WithLabelValues("cryptocloud"))
	require.Equal(t, 2.0, val)

	breaker.Report(ctx, true)

	val = testutil.ToFloat64(resilience.CircuitState.WithLabelValues("cryptocloud"))
	require.Equal(t, 0.0, val)

	opened := testutil.ToFloat64(resilience.CircuitOpenTotal.WithLabelValues("cryptocloud"))
	require.Equal(t, 1.0, opened)

	toOpen := testutil.ToFloat64(resilience.CircuitTransitions.WithLabelValues("cryptocloud", "closed", "open"))
	require.Equal(t, 1.0, toOpen)

	toHalf := testutil.ToFloat64(resilience.CircuitTransitions.WithLabelValues("cryptocloud", "open", "half_open"))
	require.Equal(t, 1.0, toHalf)

	toClosed := testutil.ToFloat64(resilience.CircuitTransitions.WithLabelValues("cryptocloud", "half_open", "closed"))
	require.Equal(t, 1.0, toClosed)
}
