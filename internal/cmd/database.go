package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/trivialive/internal/dbconfig"
)

// setupDatabase opens both Postgres handles: a pgx pool for the repositories
// and a database/sql handle shared by the answers repository and the
// LISTEN/NOTIFY changefeed, which both ride on lib/pq.
func setupDatabase(ctx context.Context, cfg dbconfig.Config) (*pgxpool.Pool, *sql.DB, error) {
	pool, err := pgxpool.New(ctx, cfg.PoolDSN())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to open sql connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		pool.Close()
		db.Close()
		return nil, nil, fmt.Errorf("failed to ping sql connection: %w", err)
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Msg("connected to database")
	return pool, db, nil
}
