// Package database opens the relational store (PostgreSQL via lib/pq or
// SQLite via go-sqlite3) and provides the scoped transaction helper used for
// per-case units of work.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/pkg/config"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect carries the column types that differ between supported drivers.
// Both drivers accept $n placeholders, ON CONFLICT and RETURNING.
type Dialect struct {
	Name      string
	SerialPK  string
	BigInt    string
	Timestamp string
	Blob      string
	JSON      string
}

var (
	Postgres = Dialect{
		Name:      config.DriverPostgres,
		SerialPK:  "BIGSERIAL PRIMARY KEY",
		BigInt:    "BIGINT",
		Timestamp: "TIMESTAMPTZ",
		Blob:      "BYTEA",
		JSON:      "JSONB",
	}
	SQLite = Dialect{
		Name:      config.DriverSQLite,
		SerialPK:  "INTEGER PRIMARY KEY AUTOINCREMENT",
		BigInt:    "INTEGER",
		Timestamp: "DATETIME",
		Blob:      "BLOB",
		JSON:      "TEXT",
	}
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Client struct {
	DB      *sql.DB
	Dialect Dialect
}

func New(cfg config.DatabaseConfig) (*Client, error) {
	var dialect Dialect
	switch cfg.Driver {
	case config.DriverPostgres:
		dialect = Postgres
	case config.DriverSQLite:
		dialect = SQLite
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	if dialect.Name == config.DriverSQLite && cfg.URL != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.URL), 0o755); err != nil {
			return nil, fmt.Errorf("creating sqlite directory: %w", err)
		}
	}

	db, err := sql.Open(cfg.Driver, dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening %s connection: %w", cfg.Driver, err)
	}

	if dialect.Name == config.DriverSQLite {
		// one writer; also keeps ":memory:" databases on a single connection
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging %s: %w", cfg.Driver, err)
	}
	return &Client{DB: db, Dialect: dialect}, nil
}

func dsn(cfg config.DatabaseConfig) string {
	if cfg.Driver == config.DriverSQLite && cfg.URL != ":memory:" {
		return "file:" + cfg.URL + "?_foreign_keys=on&_busy_timeout=5000"
	}
	return cfg.URL
}

func (c *Client) Close() error {
	return c.DB.Close()
}

func (c *Client) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back transaction after error %v: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}
