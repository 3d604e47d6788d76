// Package db owns the shared Postgres connection pool.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var Pool *pgxpool.Pool

var (
	newPool  = pgxpool.New
	pingPool = func(ctx context.Context, pool *pgxpool.Pool) error {
		return pool.Ping(ctx)
	}
)

// InitPostgres opens the pool. Persistence is optional: an empty dsn leaves
// Pool nil and the reports are only kept in memory.
func InitPostgres(ctx context.Context, dsn string) error {
	if dsn == "" {
		log.Warn().Msg("DATABASE_URL not set, report persistence disabled")
		return nil
	}

	pool, err := newPool(ctx, dsn)
	if err != nil {
		return fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pingPool(ctx, pool); err != nil {
		pool.Close()
		return fmt.Errorf("connect to postgres: %w", err)
	}
	Pool = pool
	log.Info().Str("host", pool.Config().ConnConfig.Host).Msg("Connected to Postgres")
	return nil
}

// Close releases the pool if one was opened.
func Close() {
	if Pool != nil {
		Pool.Close()
		Pool = nil
	}
}
