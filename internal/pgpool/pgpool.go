// Package pgpool wraps the two Postgres connection pools described in
// spec §5/§6.2 (ALS DB, Cache DB), each pre-pinged on acquire.
//
// Grounded on jackc/pgx/v5 — out-of-pack (no example repo imports a
// Postgres driver), named rather than grounded per the "out-of-pack deps
// need naming, not grounding" carve-out; pgx/v5's pgxpool is the idiomatic
// modern choice and the only practical way to implement §3/§6.2.
package pgpool

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool bundles the ALS-DB and Cache-DB connection pools. No connection is
// ever shared across goroutines; every call acquires a connection scoped to
// a single statement or transaction (spec §5).
type Pool struct {
	ALS   *pgxpool.Pool
	Cache *pgxpool.Pool
}

// Open builds both pools from DSNs, pre-pinging every acquired connection
// via BeforeAcquire.
func Open(ctx context.Context, alsDSN, cacheDSN string) (*Pool, error) {
	als, err := openOne(ctx, alsDSN)
	if err != nil {
		return nil, fmt.Errorf("als db: %w", err)
	}
	cache, err := openOne(ctx, cacheDSN)
	if err != nil {
		als.Close()
		return nil, fmt.Errorf("cache db: %w", err)
	}
	return &Pool{ALS: als, Cache: cache}, nil
}

func openOne(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.BeforeAcquire = func(ctx context.Context, conn *pgx.Conn) bool {
		return conn.Ping(ctx) == nil
	}
	return pgxpool.NewWithConfig(ctx, cfg)
}

// Close releases both pools.
func (p *Pool) Close() {
	p.ALS.Close()
	p.Cache.Close()
}
