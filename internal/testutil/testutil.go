// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"database/sql"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"warbler/internal/session"
	"warbler/internal/store"
)

// MigrationsRoot returns the repository's db/migrations directory.
func MigrationsRoot() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "db", "migrations")
}

// OpenSQLite opens an in-memory SQLite database with all migrations applied.
// The database is closed via t.Cleanup.
func OpenSQLite(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()
	db, dialect, err := store.Open(ctx, "file::memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := store.ApplyMigrations(ctx, db, store.MigrationsDirFor(MigrationsRoot(), dialect)); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return db
}

// NewSessionStore starts a miniredis server and returns a session store on it.
func NewSessionStore(t *testing.T) (*session.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	sessions, err := session.NewRedisStore("redis://"+mr.Addr(), time.Hour)
	if err != nil {
		t.Fatalf("create session store: %v", err)
	}
	t.Cleanup(func() { _ = sessions.Close() })
	return sessions, mr
}
