// Package postgres provides Postgres-backed persistence for the delivery
// ledger and the translation cache.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config controls the shared Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// dbPool is the slice of pgxpool.Pool the stores use. pgxmock satisfies it,
// so store logic tests run without a server.
type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Stores bundles the two Postgres-backed stores over one shared pool. The
// pool is owned here: Close releases it for both stores at once.
type Stores struct {
	Deliveries *DeliveryStore
	Cache      *TranslationCache

	pool *pgxpool.Pool
}

// Open connects the pool, applies pending migrations, and builds the stores.
func Open(ctx context.Context, cfg Config) (*Stores, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if _, _, err := RunMigrations(pool); err != nil {
		pool.Close()
		return nil, err
	}

	deliveries, err := NewDeliveryStoreWithPool(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	cache, err := NewTranslationCacheWithPool(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &Stores{
		Deliveries: deliveries,
		Cache:      cache,
		pool:       pool,
	}, nil
}

// Close releases the shared pool.
func (s *Stores) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// NewPool builds and verifies a pgx connection pool from cfg.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
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
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}
