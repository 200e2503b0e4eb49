package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestConnectWithRetryEventuallySucceeds retries transient failures.
func TestConnectWithRetryEventuallySucceeds(t *testing.T) {
	t.Parallel()

	calls := 0
	err := ConnectWithRetry(context.Background(), "test", 10*time.Second, zap.NewNop(), func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

// TestConnectWithRetryHonorsContext stops once the context is canceled.
func TestConnectWithRetryHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ConnectWithRetry(ctx, "test", time.Minute, nil, func(context.Context) error {
		return errors.New("down")
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "connect test")
}
