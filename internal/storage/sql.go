package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/momo-shadow/shadow-engine/internal/config"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS access_points (
	bssid      TEXT PRIMARY KEY,
	ssid       TEXT NOT NULL DEFAULT '',
	channel    INTEGER NOT NULL DEFAULT 0,
	signal_dbm INTEGER NOT NULL DEFAULT 0,
	security   TEXT NOT NULL DEFAULT '',
	hidden     BOOLEAN NOT NULL DEFAULT FALSE,
	beacons    INTEGER NOT NULL DEFAULT 0,
	first_seen TIMESTAMP NOT NULL,
	last_seen  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS clients (
	mac              TEXT PRIMARY KEY,
	associated_bssid TEXT,
	probed_ssids     TEXT NOT NULL DEFAULT '',
	signal_dbm       INTEGER NOT NULL DEFAULT 0,
	frames           INTEGER NOT NULL DEFAULT 0,
	first_seen       TIMESTAMP NOT NULL,
	last_seen        TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_clients_bssid ON clients(associated_bssid);

CREATE TABLE IF NOT EXISTS probes (
	client_mac TEXT NOT NULL,
	ssid       TEXT NOT NULL,
	signal_dbm INTEGER NOT NULL DEFAULT 0,
	seen_at    TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_probes_client ON probes(client_mac, seen_at);

CREATE TABLE IF NOT EXISTS handshakes (
	id            TEXT PRIMARY KEY,
	bssid         TEXT NOT NULL,
	client_mac    TEXT NOT NULL,
	ssid          TEXT NOT NULL DEFAULT '',
	capture_kind  TEXT NOT NULL,
	messages      TEXT NOT NULL DEFAULT '',
	started_at    TIMESTAMP NOT NULL,
	last_activity TIMESTAMP NOT NULL,
	completed_at  TIMESTAMP,
	UNIQUE (bssid, client_mac, capture_kind)
);

CREATE TABLE IF NOT EXISTS event_logs (
	id          TEXT PRIMARY KEY,
	created_at  TIMESTAMP NOT NULL,
	bssid       TEXT,
	client_mac  TEXT,
	type        TEXT NOT NULL,
	level       TEXT NOT NULL,
	code        TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	details     TEXT
);

CREATE INDEX IF NOT EXISTS idx_event_logs_created ON event_logs(created_at);
`

// SQLStore implements Store on database/sql for SQLite and PostgreSQL
type SQLStore struct {
	db     *sql.DB
	tx     *sql.Tx
	driver string
}

// Open opens the configured database and creates the schema
func Open(ctx context.Context, cfg config.DatabaseConfig) (*SQLStore, error) {
	s, err := NewSQLStore(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 && cfg.Driver != DriverSQLite {
		s.db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		s.db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		s.db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore creates a new store for driver
func NewSQLStore(driver, dsn string) (*SQLStore, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite allows a single writer; one connection also keeps :memory: databases shared
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLStore{db: db, driver: driver}, nil
}

// Migrate creates the schema
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.getDB().ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLStore) BeginTx(ctx context.Context) (Store, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &SQLStore{db: s.db, tx: tx, driver: s.driver}, nil
}

// Commit commits the transaction
func (s *SQLStore) Commit() error {
	if s.tx == nil {
		return nil
	}
	return s.tx.Commit()
}

// Rollback rolls back the transaction
func (s *SQLStore) Rollback() error {
	if s.tx == nil {
		return nil
	}
	return s.tx.Rollback()
}

// getDB returns tx if in transaction, otherwise db
func (s *SQLStore) getDB() interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
} {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// rebind rewrites ? placeholders to $n for postgres
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	res, err := s.getDB().ExecContext(ctx, s.rebind(query), args...)
	if err != nil && isDuplicate(err) {
		return nil, ErrDuplicateKey
	}
	return res, err
}

func (s *SQLStore) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.getDB().QueryContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.getDB().QueryRowContext(ctx, s.rebind(query), args...)
}

func isDuplicate(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint failed")
}
