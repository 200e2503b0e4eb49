package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestLimiterWaitSpacesCallsPerHost verifies the token bucket delays repeat calls to one host.
func TestLimiterWaitSpacesCallsPerHost(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		delays = map[string]int{}
	)
	l := New(Config{RPS: 10, Burst: 1, OnDelay: func(host string, _ time.Duration) {
		mu.Lock()
		delays[host]++
		mu.Unlock()
	}})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://www.linkedin.com/a"))
	require.NoError(t, l.Wait(ctx, "https://other.example/a"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://www.linkedin.com/b"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, delays["www.linkedin.com"])
	require.Zero(t, delays["other.example"])
}

// TestLimiterDisabled never blocks when RPS is unset.
func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://www.linkedin.com"))
	}
	var nilLimiter *Limiter
	require.NoError(t, nilLimiter.Wait(context.Background(), "x"))
}

// TestLimiterWaitHonorsContext returns an error once the context is done.
func TestLimiterWaitHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.01, Burst: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, l.Wait(ctx, "https://www.linkedin.com"))
	require.Error(t, l.Wait(ctx, "https://www.linkedin.com"))
}
