// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/feedroll/internal/fetchlog"
)

const defaultTable = "feed_fetches"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// FetchStoreConfig controls the Postgres connection pool used for fetch rows.
type FetchStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// FetchStore writes fetch log rows into Postgres.
type FetchStore struct {
	pool  execCloser
	table string
}

// NewFetchStore creates a Postgres-backed FetchStore using the provided config.
func NewFetchStore(ctx context.Context, cfg FetchStoreConfig) (*FetchStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("fetchlog.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &FetchStore{pool: pool, table: table}, nil
}

// NewFetchStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewFetchStoreWithPool(pool execCloser, table string) (*FetchStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &FetchStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *FetchStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// StoreFetch inserts a fetch row into Postgres.
func (s *FetchStore) StoreFetch(ctx context.Context, rec fetchlog.Record) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("fetch store is not configured")
	}
	if rec.ID == "" {
		return fmt.Errorf("record id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	run_id,
	feed_url,
	final_url,
	fetched_at,
	http_status,
	result,
	etag,
	last_modified,
	entries,
	error
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)`, s.table)

	args := []any{
		rec.ID,
		rec.RunID,
		rec.FeedURL,
		rec.FinalURL,
		rec.FetchedAt,
		rec.Status,
		rec.Result,
		rec.ETag,
		rec.LastModified,
		rec.Entries,
		rec.Error,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert fetch: %w", err)
	}
	return nil
}
