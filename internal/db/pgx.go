package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jorgekeles/sistema-barberia/internal/config"
)

// Pool wraps pgxpool for the booking workload: many short tenant-scoped
// transactions plus the outbox publisher's polling loop.
type Pool struct {
	*pgxpool.Pool
}

// Open parses databaseURL and applies the pool envelope from the
// environment (DB_MAX_CONNS, DB_MIN_CONNS, DB_CONN_MAX_LIFETIME_MIN,
// DB_CONN_MAX_IDLE_MIN). The pool is pinged before it is handed out so a
// bad DSN fails at startup, not on the first booking.
func Open(ctx context.Context, databaseURL string) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = int32(config.Int("DB_MAX_CONNS", 10))
	cfg.MinConns = int32(config.Int("DB_MIN_CONNS", 1))
	cfg.MaxConnLifetime = time.Duration(config.Int("DB_CONN_MAX_LIFETIME_MIN", 30)) * time.Minute
	cfg.MaxConnIdleTime = time.Duration(config.Int("DB_CONN_MAX_IDLE_MIN", 5)) * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Pool{Pool: pool}, nil
}

func (p *Pool) Close() {
	if p != nil && p.Pool != nil {
		p.Pool.Close()
	}
}

// ReadyCheck backs the db entry on /readyz.
func ReadyCheck(pool *Pool) func(context.Context) error {
	return func(ctx context.Context) error {
		if pool == nil || pool.Pool == nil {
			return errors.New("database pool is not open")
		}
		return pool.Ping(ctx)
	}
}
