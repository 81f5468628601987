// Package storage provides SQLite-backed persistence for the mixing node:
// the INODE registry cache, locked coins, the bounded
// broadcast-tx set, and the direct-message inbox dedup table. It follows
// the teacher's internal/storage package shape: a single *sql.DB guarded
// by a mutex, WAL mode, and a single-writer connection pool.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Config configures the storage layer.
type Config struct {
	DataDir string
}

// Storage owns the sqlite connection and schema.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// New opens (creating if needed) the sqlite database under cfg.DataDir and
// ensures the schema exists.
func New(cfg Config) (*Storage, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("storage: create data dir: %w", err)
	}
	dbPath := filepath.Join(cfg.DataDir, "anonsend.db")

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Storage{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Storage) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS inodes (
	vin_hash BLOB NOT NULL,
	vin_index INTEGER NOT NULL,
	pubkey BLOB NOT NULL,
	last_dsq_index INTEGER NOT NULL DEFAULT 0,
	proto_version INTEGER NOT NULL DEFAULT 0,
	allow_free_tx INTEGER NOT NULL DEFAULT 0,
	last_seen_unix INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (vin_hash, vin_index)
);

CREATE TABLE IF NOT EXISTS locked_coins (
	vin_hash BLOB NOT NULL,
	vin_index INTEGER NOT NULL,
	locked_at_unix INTEGER NOT NULL,
	PRIMARY KEY (vin_hash, vin_index)
);

CREATE TABLE IF NOT EXISTS broadcast_txes (
	tx_hash BLOB PRIMARY KEY,
	sig_time INTEGER NOT NULL,
	sig BLOB NOT NULL,
	inserted_at_unix INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS inbox (
	message_id TEXT PRIMARY KEY,
	received_at_unix INTEGER NOT NULL,
	processed INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS client_entries (
	session_id INTEGER NOT NULL,
	outpoint_hash BLOB NOT NULL,
	outpoint_index INTEGER NOT NULL,
	amount INTEGER NOT NULL,
	created_at_unix INTEGER NOT NULL,
	PRIMARY KEY (session_id, outpoint_hash, outpoint_index)
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("storage: init schema: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for package-internal helper files
// (inodes.go, locked_coins.go, broadcast.go, inbox.go) that live in this
// same package.
func (s *Storage) DB() *sql.DB { return s.db }
