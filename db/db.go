// Package db provides database connection helpers, schema migration, and small data access helpers.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// ErrNoDSN is returned by Connect when no DSN is configured.
var ErrNoDSN = errors.New("db: DB_DSN not set")

// Connect opens a pgx pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, ErrNoDSN
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// SQL returns a database/sql view of the pool for code that needs *sql.DB
// (migrations, health checks). Closing it does not close the pool.
func SQL(pool *pgxpool.Pool) *sql.DB {
	return stdlib.OpenDBFromPool(pool)
}

// Migrate applies idempotent schema changes for all required tables and indices.
func Migrate(ctx context.Context, db *sql.DB) error { return migratePostgres(ctx, db) }

func migratePostgres(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_messages (
			message_id TEXT PRIMARY KEY,
			channel TEXT NOT NULL,
			user_id TEXT NOT NULL,
			login TEXT,
			display_name TEXT,
			text TEXT NOT NULL DEFAULT '',
			emotes JSONB NOT NULL DEFAULT '[]'::jsonb,
			bits BIGINT,
			subscriber BOOLEAN NOT NULL DEFAULT FALSE,
			sent_at TIMESTAMPTZ NOT NULL,
			cleared_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS chat_clears (
			id BIGSERIAL PRIMARY KEY,
			message_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			author_login TEXT,
			text TEXT,
			cleared_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_channel_sent ON chat_messages(channel, sent_at)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_user ON chat_messages(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_clears_channel ON chat_clears(channel, cleared_at)`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}

// ChannelStats summarises what has been recorded for a channel.
type ChannelStats struct {
	Channel  string     `json:"channel"`
	Messages int64      `json:"messages"`
	Cleared  int64      `json:"cleared"`
	Chatters int64      `json:"chatters"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// GetChannelStats returns the stored totals for channel. A channel with no
// rows yields zero counts.
func GetChannelStats(ctx context.Context, dbx *sql.DB, channel string) (ChannelStats, error) {
	st := ChannelStats{Channel: channel}
	var last sql.NullTime
	row := dbx.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(cleared_at), COUNT(DISTINCT user_id), MAX(sent_at)
		 FROM chat_messages WHERE channel = $1`, channel)
	if err := row.Scan(&st.Messages, &st.Cleared, &st.Chatters, &last); err != nil {
		return ChannelStats{}, fmt.Errorf("channel stats: %w", err)
	}
	if last.Valid {
		t := last.Time
		st.LastSeen = &t
	}
	return st, nil
}
