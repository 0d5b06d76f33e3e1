package database

import (
	"database/sql"
	"fmt"
)

// Timestamps and durations are stored as unix nanoseconds so the same schema
// and scan code work on both PostgreSQL and SQLite.
var createLeasesTableSQL = `
CREATE TABLE IF NOT EXISTS leases (
    shard          TEXT    NOT NULL,
    holder         TEXT    NOT NULL,
    ttl_ns         BIGINT  NOT NULL,
    heartbeat_ns   BIGINT  NOT NULL,
    acquired_at_ns BIGINT  NOT NULL,
    updated_at_ns  BIGINT  NOT NULL,
    expires_at_ns  BIGINT  NOT NULL,

    PRIMARY KEY (shard)
);`

var createLeasesHolderIndexSQL = `
CREATE INDEX IF NOT EXISTS leases_holder_idx
ON leases (holder);`

// Migrate creates the leases table and its indexes.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(createLeasesTableSQL); err != nil {
		return fmt.Errorf("failed to create leases table: %w", err)
	}

	if _, err := db.Exec(createLeasesHolderIndexSQL); err != nil {
		return fmt.Errorf("failed to create leases holder index: %w", err)
	}

	return nil
}
