package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Store wraps a database handle with driver-aware transaction options.
// PostgreSQL transactions run at SERIALIZABLE isolation; SQLite transactions
// are serializable by construction, so they use the driver default.
type Store struct {
	DB     *sql.DB
	Driver string
}

// Open connects to the lease store described by dsn. DSNs with a
// postgres:// or postgresql:// scheme use lib/pq; anything else is treated
// as a SQLite file path, creating parent directories as needed.
func Open(dsn string) (*Store, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		var db, err = sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return &Store{DB: db, Driver: "postgres"}, nil
	}

	if parent := filepath.Dir(dsn); parent != "." {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	var db, err = sql.Open("sqlite", "file:"+dsn+"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}

	// A single connection keeps concurrent local transactions from tripping
	// over SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	return &Store{DB: db, Driver: "sqlite"}, nil
}

// BeginTx starts a transaction with the strongest isolation the driver offers.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	var opts *sql.TxOptions
	if s.Driver == "postgres" {
		opts = &sql.TxOptions{Isolation: sql.LevelSerializable}
	}

	var tx, err = s.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return tx, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.DB.Close()
}
