package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Database struct {
	Pool *pgxpool.Pool
}

func NewDatabase(ctx context.Context, dsn string) (*Database, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 25
	cfg.MaxConnLifetime = 5 * time.Minute

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
	return &Database{Pool: pool}, nil
}

func (d *Database) Close() {
	d.Pool.Close()
}

func (d *Database) AutoMigrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS messages (
            id UUID PRIMARY KEY,
            seq BIGSERIAL,
            sender_id TEXT NOT NULL,
            receiver_id TEXT NOT NULL,
            text TEXT NOT NULL,
            edited BOOLEAN NOT NULL DEFAULT FALSE,
            deleted_by TEXT[] NOT NULL DEFAULT '{}',
            idempotency_token TEXT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,

		// One persisted row per client retry token. The partial index
		// keeps token-less legacy sends out of the constraint.
		`CREATE UNIQUE INDEX IF NOT EXISTS messages_idempotency_token_key
            ON messages (idempotency_token)
            WHERE idempotency_token IS NOT NULL`,

		`CREATE INDEX IF NOT EXISTS messages_pair_created_idx
            ON messages (LEAST(sender_id, receiver_id), GREATEST(sender_id, receiver_id), created_at)`,

		`CREATE TABLE IF NOT EXISTS contacts (
            owner_id TEXT NOT NULL,
            contact_id TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            PRIMARY KEY (owner_id, contact_id)
        )`,
	}

	for _, query := range queries {
		if _, err := d.Pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
