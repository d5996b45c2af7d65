package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect names the SQL flavour behind a *sql.DB. It also names the
// migrations subdirectory for that flavour.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// ParseDatabaseURL picks the driver for a DATABASE_URL. postgres:// and
// postgresql:// go to pgx; sqlite:// and file: go to go-sqlite3.
func ParseDatabaseURL(databaseURL string) (driver, dsn string, dialect Dialect, err error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return "pgx", databaseURL, DialectPostgres, nil
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return "sqlite3", strings.TrimPrefix(databaseURL, "sqlite://"), DialectSQLite, nil
	case strings.HasPrefix(databaseURL, "file:"):
		return "sqlite3", databaseURL, DialectSQLite, nil
	default:
		return "", "", "", fmt.Errorf("unsupported database url %q", databaseURL)
	}
}

func Open(ctx context.Context, databaseURL string) (*sql.DB, Dialect, error) {
	driver, dsn, dialect, err := ParseDatabaseURL(databaseURL)
	if err != nil {
		return nil, "", err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, "", fmt.Errorf("open db: %w", err)
	}

	switch dialect {
	case DialectSQLite:
		// one connection keeps :memory: databases and PRAGMAs consistent
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys=ON`); err != nil {
			_ = db.Close()
			return nil, "", fmt.Errorf("enable foreign keys: %w", err)
		}
	default:
		db.SetConnMaxIdleTime(5 * time.Minute)
		db.SetConnMaxLifetime(30 * time.Minute)
		db.SetMaxIdleConns(10)
		db.SetMaxOpenConns(20)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("ping db: %w", err)
	}
	return db, dialect, nil
}
