package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/onnwee/chat-indexer/backend/db"
)

// SetupTestDB opens TEST_PG_DSN and bootstraps the schema. It skips the test
// when TEST_PG_DSN is not set.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := db.Connect(dsn, db.PoolConfig{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(context.Background(), database); err != nil {
		_ = database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})
	return database
}

// CleanupChat removes every row the indexer may have written for chatID,
// now and when the test finishes.
func CleanupChat(t *testing.T, database *sql.DB, chatID int64) {
	t.Helper()
	purge := func() {
		ctx := context.Background()
		_, _ = database.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = $1`, chatID)
		_, _ = database.ExecContext(ctx, `DELETE FROM chats WHERE id = $1`, chatID)
	}
	purge()
	t.Cleanup(purge)
}
