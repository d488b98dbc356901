package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect names match the attendance repository dialects.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// DB wraps sql.DB for Postgres (pgx) or SQLite (go-sqlite3).
type DB struct {
	Client  *sql.DB
	Dialect string
}

// ParseURL picks the driver for a database URL. postgres:// and
// postgresql:// use pgx; sqlite://path, file: URIs and *.db paths use SQLite.
func ParseURL(url string) (driver, dsn, dialect string, err error) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return "pgx", url, DialectPostgres, nil
	case strings.HasPrefix(url, "sqlite://"):
		return "sqlite3", strings.TrimPrefix(url, "sqlite://"), DialectSQLite, nil
	case strings.HasPrefix(url, "file:"), strings.HasSuffix(url, ".db"), strings.HasSuffix(url, ".sqlite"):
		return "sqlite3", url, DialectSQLite, nil
	}
	return "", "", "", fmt.Errorf("unsupported database url %q", url)
}

// NewDB opens the database behind url with sane defaults and pings it.
func NewDB(ctx context.Context, url string) (*DB, error) {
	driver, dsn, dialect, err := ParseURL(url)
	if err != nil {
		return nil, err
	}

	if driver == "sqlite3" {
		path := strings.TrimPrefix(dsn, "file:")
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		if dir := filepath.Dir(path); dir != "." {
			os.MkdirAll(dir, 0o755)
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{Client: db, Dialect: dialect}, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
