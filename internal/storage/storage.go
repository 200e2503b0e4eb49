// Package storage holds helpers shared by the persistence backends: the
// processed-work logs (file, memory, Redis, Postgres) and the artifact blob
// stores (local, memory, GCS) live in subpackages.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// DefaultConnectTimeout bounds how long ConnectWithRetry keeps trying.
const DefaultConnectTimeout = 2 * time.Minute

// ConnectWithRetry runs op with exponential backoff until it succeeds,
// maxElapsed passes, or ctx ends. Backends use it to ride out a database or
// cache that is still starting.
func ConnectWithRetry(ctx context.Context, name string, maxElapsed time.Duration, logger *zap.Logger, op func(context.Context) error) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxElapsed <= 0 {
		maxElapsed = DefaultConnectTimeout
	}
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 500 * time.Millisecond
	expBackoff.MaxElapsedTime = maxElapsed

	attempt := 0
	operation := func() error {
		attempt++
		if err := op(ctx); err != nil {
			logger.Warn("backend not ready, will retry",
				zap.String("backend", name),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		return fmt.Errorf("connect %s after %d attempts: %w", name, attempt, err)
	}
	return nil
}
