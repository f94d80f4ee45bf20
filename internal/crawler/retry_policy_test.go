package crawler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExponentialRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3, 0, 0)
	require.False(t, p.ShouldRetry(nil, 0))
	require.True(t, p.ShouldRetry(errors.New("connection reset"), 0))
	require.False(t, p.ShouldRetry(errors.New("connection reset"), 3))
	require.False(t, p.ShouldRetry(context.Canceled, 0))
	require.True(t, p.ShouldRetry(&FetchError{Status: 503, Err: errors.New("busy")}, 1))
	require.True(t, p.ShouldRetry(&FetchError{Status: 429, Err: errors.New("slow down")}, 1))
	require.False(t, p.ShouldRetry(&FetchError{Status: 404, Err: errors.New("gone")}, 1))
}

func TestExponentialRetryPolicyBackoffIsCapped(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(5, 100*time.Millisecond, time.Second)
	for attempt := 0; attempt < 10; attempt++ {
		d := p.Backoff(attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, time.Second)
	}
	require.GreaterOrEqual(t, p.Backoff(8), 500*time.Millisecond)
}
