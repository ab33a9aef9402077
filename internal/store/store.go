// Package store owns the Postgres side of the service: the connection pool,
// schema migrations, and the append-only audit log of finished rounds.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"jetlumiere/internal/config"
)

type Store struct {
	Pool *pgxpool.Pool
}

func Connect(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Health(ctx context.Context) map[string]string {
	stats := make(map[string]string)

	pingCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := s.Pool.Ping(pingCtx); err != nil {
		stats["status"] = "down"
		stats["error"] = err.Error()
		return stats
	}

	stat := s.Pool.Stat()
	stats["status"] = "up"
	stats["total_conns"] = fmt.Sprint(stat.TotalConns())
	stats["idle_conns"] = fmt.Sprint(stat.IdleConns())
	stats["acquired_conns"] = fmt.Sprint(stat.AcquiredConns())
	return stats
}
