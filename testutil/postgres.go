// Package testutil holds helpers shared by integration tests that need a
// real Postgres. Every helper skips the test when TEST_PG_DSN is unset.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/onnwee/twitch-chat-metrics/db"
)

// SetupTestPool connects to TEST_PG_DSN, brings the schema up to date and
// empties the chat tables. The pool is closed when the test ends.
func SetupTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(pool.Close)

	database := db.SQL(pool)
	t.Cleanup(func() { database.Close() })
	if err := db.Prepare(database, func() error { return db.Migrate(ctx, database) }); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE chat_messages, chat_clears`); err != nil {
		t.Fatalf("failed to truncate chat tables: %v", err)
	}
	return pool
}

// SetupTestDB is SetupTestPool seen through database/sql.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database := db.SQL(SetupTestPool(t))
	t.Cleanup(func() { database.Close() })
	return database
}
