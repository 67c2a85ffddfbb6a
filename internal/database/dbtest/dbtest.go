// Package dbtest opens migrated in-memory SQLite databases for store tests.
package dbtest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"

	"github.com/studytrack/backend/internal/config"
	"github.com/studytrack/backend/internal/database"
)

// Open returns an isolated, fully migrated database that is closed when the
// test finishes.
func Open(t testing.TB) *sql.DB {
	t.Helper()
	cfg := config.DBConfig{
		Driver: database.DriverSQLite,
		DSN:    "file:" + uuid.NewString() + "?mode=memory&cache=shared&_pragma=foreign_keys(1)",
	}
	db, err := database.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := database.Migrate(db, cfg.Driver); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}
