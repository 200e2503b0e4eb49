// Package postgres provides the Postgres-backed processed-work log.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkcheck/internal/storage"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultTable is used when no table is configured.
const DefaultTable = "processed_links"

// Config controls the Postgres connection pool used for the log.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// ProcessedLog stores one row per processed URL.
type ProcessedLog struct {
	pool  pool
	table string
	now   func() time.Time
}

// New connects to Postgres, waits for it to accept connections, and ensures
// the log table exists.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*ProcessedLog, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("processed_log.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pgPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := storage.ConnectWithRetry(ctx, "postgres", cfg.ConnectTimeout, logger, pgPool.Ping); err != nil {
		pgPool.Close()
		return nil, err
	}
	log, err := NewWithPool(pgPool, cfg.Table)
	if err != nil {
		pgPool.Close()
		return nil, err
	}
	if err := log.EnsureSchema(ctx); err != nil {
		pgPool.Close()
		return nil, err
	}
	return log, nil
}

// NewWithPool constructs a log from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*ProcessedLog, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ProcessedLog{pool: p, table: table, now: time.Now}, nil
}

// EnsureSchema creates the log table if it is missing.
func (l *ProcessedLog) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	url TEXT PRIMARY KEY,
	processed_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, l.table)
	if _, err := l.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", l.table, err)
	}
	return nil
}

// Load returns every logged URL in processing order.
func (l *ProcessedLog) Load(ctx context.Context) ([]string, error) {
	rows, err := l.pool.Query(ctx, fmt.Sprintf("SELECT url FROM %s ORDER BY processed_at", l.table))
	if err != nil {
		return nil, fmt.Errorf("query processed links: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan processed link: %w", err)
		}
		urls = append(urls, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate processed links: %w", err)
	}
	return urls, nil
}

// Append inserts url. Re-appending an existing URL is a no-op.
func (l *ProcessedLog) Append(ctx context.Context, url string) error {
	query := fmt.Sprintf(
		"INSERT INTO %s (url, processed_at) VALUES ($1, $2) ON CONFLICT (url) DO NOTHING",
		l.table,
	)
	if _, err := l.pool.Exec(ctx, query, url, l.now().UTC()); err != nil {
		return fmt.Errorf("insert processed link: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (l *ProcessedLog) Close() error {
	if l == nil || l.pool == nil {
		return nil
	}
	l.pool.Close()
	return nil
}
