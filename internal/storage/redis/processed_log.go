// Package redis stores the processed-work log in a Redis set so several
// checker hosts can share one resume point. Durability follows the server's
// persistence settings (appendfsync).
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkcheck/internal/storage"
)

// DefaultKey is the set key used when none is configured.
const DefaultKey = "linkcheck:processed"

// Config holds Redis connection settings.
type Config struct {
	Addr           string        `mapstructure:"addr"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	Key            string        `mapstructure:"key"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type setClient interface {
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Close() error
}

// ProcessedLog keeps processed URLs as members of a single set.
type ProcessedLog struct {
	client setClient
	key    string
}

// New connects to Redis, retrying until the server answers PING.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*ProcessedLog, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("processed_log.redis.addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	err := storage.ConnectWithRetry(ctx, "redis", cfg.ConnectTimeout, logger, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewWithClient(client, cfg.Key)
}

// NewWithClient wraps an existing client (primarily for testing).
func NewWithClient(client setClient, key string) (*ProcessedLog, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if strings.TrimSpace(key) == "" {
		key = DefaultKey
	}
	return &ProcessedLog{client: client, key: key}, nil
}

// Load returns every member of the set.
func (l *ProcessedLog) Load(ctx context.Context) ([]string, error) {
	urls, err := l.client.SMembers(ctx, l.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers %s: %w", l.key, err)
	}
	return urls, nil
}

// Append adds url to the set.
func (l *ProcessedLog) Append(ctx context.Context, url string) error {
	if err := l.client.SAdd(ctx, l.key, url).Err(); err != nil {
		return fmt.Errorf("redis sadd %s: %w", l.key, err)
	}
	return nil
}

// Close closes the Redis client.
func (l *ProcessedLog) Close() error {
	if err := l.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}
