// Package sqlstore persists bars, detector output and detector snapshots
// in SQLite (default) or PostgreSQL through sqlx.
package sqlstore

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"

	sqlitePragmas = "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	keepSnapshots = 10
)

// Config configures the store.
type Config struct {
	Driver string // "sqlite3" (default) or "postgres"
	DSN    string // file path for sqlite3, connection string for postgres
}

// Store wraps a sqlx handle. All queries are written with ? placeholders
// and rebound for the active driver.
type Store struct {
	db     *sqlx.DB
	driver string
}

// DB returns the underlying handle for health checks.
func (s *Store) DB() *sqlx.DB { return s.db }

// Open connects and creates the schema if needed.
func Open(cfg Config) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	dsn := cfg.DSN
	switch driver {
	case DriverSQLite:
		if !strings.Contains(dsn, "?") {
			dsn += "?" + sqlitePragmas
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore open: %w", err)
	}
	if driver == DriverSQLite {
		// Single writer.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	s := &Store{db: db, driver: driver}
	if err := s.createSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore schema: %w", err)
	}

	log.Printf("[sqlstore] opened %s database", driver)
	return s, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS bars (
		instrument TEXT             NOT NULL,
		tf         TEXT             NOT NULL,
		ts         BIGINT           NOT NULL,
		open       DOUBLE PRECISION NOT NULL,
		high       DOUBLE PRECISION NOT NULL,
		low        DOUBLE PRECISION NOT NULL,
		close      DOUBLE PRECISION NOT NULL,
		volume     BIGINT           NOT NULL,
		PRIMARY KEY (instrument, tf, ts)
	)`,
	`CREATE TABLE IF NOT EXISTS extrema (
		instrument TEXT             NOT NULL,
		tf         TEXT             NOT NULL,
		term       INTEGER          NOT NULL,
		ts         BIGINT           NOT NULL,
		kind       TEXT             NOT NULL,
		price      DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (instrument, tf, term, ts)
	)`,
	`CREATE TABLE IF NOT EXISTS trends (
		instrument  TEXT             NOT NULL,
		tf          TEXT             NOT NULL,
		term        INTEGER          NOT NULL,
		begin_ts    BIGINT           NOT NULL,
		begin_kind  TEXT             NOT NULL,
		begin_price DOUBLE PRECISION NOT NULL,
		end_ts      BIGINT           NOT NULL,
		end_kind    TEXT             NOT NULL,
		end_price   DOUBLE PRECISION NOT NULL,
		kind        TEXT             NOT NULL,
		len         INTEGER          NOT NULL,
		vol         BIGINT           NOT NULL,
		abs_p       DOUBLE PRECISION NOT NULL,
		speed_p     DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (instrument, tf, term, begin_ts)
	)`,
	`CREATE TABLE IF NOT EXISTS detector_snapshots (
		id         TEXT   PRIMARY KEY,
		instrument TEXT   NOT NULL,
		tf         TEXT   NOT NULL,
		data       TEXT   NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS detector_snapshots_series
		ON detector_snapshots (instrument, tf, created_at)`,
}

func (s *Store) createSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
