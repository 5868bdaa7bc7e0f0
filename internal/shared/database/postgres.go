package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultMaxConns = 10
	defaultMinConns = 2
	connectTimeout  = 10 * time.Second
)

// Postgres owns the pgx pool behind the document store
type Postgres struct {
	Pool *pgxpool.Pool
}

// PoolSize bounds the pool. Zero values fall back to 10 max / 2 min.
type PoolSize struct {
	MaxConns int32
	MinConns int32
}

// NewPostgres connects to connString and fails unless the server answers a ping
// within ten seconds
func NewPostgres(ctx context.Context, connString string, size PoolSize) (*Postgres, error) {
	config, err := poolConfig(connString, size)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Postgres{Pool: pool}, nil
}

func poolConfig(connString string, size PoolSize) (*pgxpool.Config, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if size.MaxConns <= 0 {
		size.MaxConns = defaultMaxConns
	}
	if size.MinConns < 0 {
		size.MinConns = 0
	} else if size.MinConns == 0 {
		size.MinConns = defaultMinConns
	}
	if size.MinConns > size.MaxConns {
		size.MinConns = size.MaxConns
	}

	config.MaxConns = size.MaxConns
	config.MinConns = size.MinConns
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = time.Minute
	return config, nil
}

func (p *Postgres) Close() {
	p.Pool.Close()
}

// HealthCheck pings the pool; used by /ready
func (p *Postgres) HealthCheck(ctx context.Context) error {
	return p.Pool.Ping(ctx)
}
