package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// The server keeps one snapshot row per player and touches it under that
// player's lock, so concurrency is bounded by active players, not requests.
// A handful of connections covers it and leaves room on shared databases.
const (
	maxConns    = 8
	minConns    = 1
	pingTimeout = 10 * time.Second
)

func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := poolConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(pingCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

// poolConfig applies the snapshot-store limits unless the URL sets its own
// pool_max_conns / pool_min_conns.
func poolConfig(databaseURL string) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if !hasParam(cfg.ConnString(), "pool_max_conns") {
		cfg.MaxConns = maxConns
	}
	if !hasParam(cfg.ConnString(), "pool_min_conns") {
		cfg.MinConns = minConns
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute
	return cfg, nil
}

func hasParam(connString, name string) bool {
	return strings.Contains(connString, name+"=")
}
