package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Dialect selects the placeholder style of the SQL repository.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// InitSQLite initializes the local SQLite database and creates the vault
// schema.
func InitSQLite(dbPath string) (*sql.DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// one writer at a time; busy_timeout keeps competing commits from failing fast
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	if err := createSchemas(db); err != nil {
		return nil, fmt.Errorf("failed to create schemas: %w", err)
	}

	return db, nil
}

// InitPostgres opens a pooled PostgreSQL connection and creates the schema.
func InitPostgres(dsn string, maxOpen, maxIdle int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	if err := createSchemas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schemas: %w", err)
	}

	return db, nil
}

// Timestamps are stored as unix nanoseconds so that due-vault comparisons
// are exact on both engines. version is the commit fence: every write bumps
// it and compares the value it was computed from. Child rows keep their full
// state in data as JSON; the other columns exist for filtering.
var schemas = []string{
	`CREATE TABLE IF NOT EXISTS vaults (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		last_tick_at BIGINT NOT NULL,
		version BIGINT NOT NULL DEFAULT 0,
		paused BOOLEAN NOT NULL DEFAULT FALSE,
		needs_review BOOLEAN NOT NULL DEFAULT FALSE,
		review_reason TEXT NOT NULL DEFAULT '',
		data TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_vaults_due ON vaults(last_tick_at);`,
	`CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		vault_id TEXT NOT NULL REFERENCES vaults(id),
		data TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS dwellers (
		id TEXT PRIMARY KEY,
		vault_id TEXT NOT NULL REFERENCES vaults(id),
		status TEXT NOT NULL,
		data TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS relationships (
		vault_id TEXT NOT NULL REFERENCES vaults(id),
		a TEXT NOT NULL,
		b TEXT NOT NULL,
		data TEXT NOT NULL,
		PRIMARY KEY (vault_id, a, b)
	);`,
	`CREATE TABLE IF NOT EXISTS incidents (
		id TEXT PRIMARY KEY,
		vault_id TEXT NOT NULL REFERENCES vaults(id),
		status TEXT NOT NULL,
		data TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS explorations (
		id TEXT PRIMARY KEY,
		vault_id TEXT NOT NULL REFERENCES vaults(id),
		status TEXT NOT NULL,
		data TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS trainings (
		id TEXT PRIMARY KEY,
		vault_id TEXT NOT NULL REFERENCES vaults(id),
		status TEXT NOT NULL,
		data TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS pregnancies (
		id TEXT PRIMARY KEY,
		vault_id TEXT NOT NULL REFERENCES vaults(id),
		status TEXT NOT NULL,
		data TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS quest_parties (
		id TEXT PRIMARY KEY,
		vault_id TEXT NOT NULL REFERENCES vaults(id),
		status TEXT NOT NULL,
		data TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS stored_items (
		id TEXT PRIMARY KEY,
		vault_id TEXT NOT NULL REFERENCES vaults(id),
		size INTEGER NOT NULL,
		data TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS vault_events (
		id TEXT PRIMARY KEY,
		vault_id TEXT NOT NULL REFERENCES vaults(id),
		timestamp BIGINT NOT NULL,
		seq INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		payload TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_dwellers_vault ON dwellers(vault_id);`,
	`CREATE INDEX IF NOT EXISTS idx_incidents_vault ON incidents(vault_id, status);`,
	`CREATE INDEX IF NOT EXISTS idx_explorations_vault ON explorations(vault_id, status);`,
	`CREATE INDEX IF NOT EXISTS idx_trainings_vault ON trainings(vault_id, status);`,
	`CREATE INDEX IF NOT EXISTS idx_pregnancies_vault ON pregnancies(vault_id, status);`,
	`CREATE INDEX IF NOT EXISTS idx_quest_parties_vault ON quest_parties(vault_id, status);`,
	`CREATE INDEX IF NOT EXISTS idx_stored_items_vault ON stored_items(vault_id);`,
	`CREATE INDEX IF NOT EXISTS idx_vault_events_vault ON vault_events(vault_id, timestamp, seq);`,
}

func createSchemas(db *sql.DB) error {
	for _, query := range schemas {
		if _, err := db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $1..$n for PostgreSQL.
func rebind(d Dialect, query string) string {
	if d != DialectPostgres {
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
