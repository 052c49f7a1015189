// Package db owns the SQLite connection and schema migrations backing
// every durable store in the core: documents, workflow steps, jobs, and
// the event log.
package db

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps a *sql.DB with the lifecycle methods the rest of the core
// depends on through the Database interface below.
type DB struct {
	conn *sql.DB
}

// Database is the dependency-injection seam used by every repository and
// by tests, in place of a package-level singleton connection.
type Database interface {
	Conn() *sql.DB
	Close() error
	Migrate() error
}

var _ Database = (*DB)(nil)

// New opens (creating if necessary) the SQLite database at databaseURL.
// Local file opens retry with exponential backoff to tolerate concurrent
// process start.
func New(databaseURL string) (*DB, error) {
	if databaseURL != ":memory:" {
		dbDir := filepath.Dir(databaseURL)
		if dbDir != "." && dbDir != "" {
			if err := os.MkdirAll(dbDir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
			}
		}
	}

	var conn *sql.DB
	var err error
	maxRetries := 5
	baseDelay := 100 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		conn, err = sql.Open("sqlite", databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		maxOpen := 10
		if databaseURL == ":memory:" {
			// Every connection to ":memory:" opens its own private database;
			// one connection keeps a single shared schema.
			maxOpen = 1
		}
		conn.SetMaxOpenConns(maxOpen)
		conn.SetMaxIdleConns(5)

		if err = conn.Ping(); err != nil {
			if attempt == maxRetries-1 {
				return nil, fmt.Errorf("failed to ping database after %d attempts: %w", maxRetries, err)
			}
			conn.Close()
			time.Sleep(baseDelay * time.Duration(1<<uint(attempt)))
			continue
		}
		break
	}

	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &DB{conn: conn}, nil
}

func (d *DB) Conn() *sql.DB { return d.conn }

func (d *DB) Close() error { return d.conn.Close() }

// Migrate applies every embedded goose migration in order. It is safe to
// call on every startup; goose tracks applied versions in its own table.
func (d *DB) Migrate() error {
	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(d.conn, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
