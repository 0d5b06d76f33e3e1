package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DBTX is an interface that both sql.DB and sql.Tx implement.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Queries provides lease table operations over a database or transaction.
type Queries struct {
	db DBTX
}

// NewQueries creates a new Queries instance.
func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

// $N placeholders are understood by both lib/pq and SQLite.
var (
	getLeaseSQL = `
SELECT shard, holder, ttl_ns, heartbeat_ns, acquired_at_ns, updated_at_ns, expires_at_ns
FROM leases
WHERE shard = $1;`

	listLeasesSQL = `
SELECT shard, holder, ttl_ns, heartbeat_ns, acquired_at_ns, updated_at_ns, expires_at_ns
FROM leases
ORDER BY shard ASC;`

	upsertLeaseSQL = `
INSERT INTO leases (shard, holder, ttl_ns, heartbeat_ns, acquired_at_ns, updated_at_ns, expires_at_ns)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (shard)
DO UPDATE SET
    holder = EXCLUDED.holder,
    ttl_ns = EXCLUDED.ttl_ns,
    heartbeat_ns = EXCLUDED.heartbeat_ns,
    acquired_at_ns = EXCLUDED.acquired_at_ns,
    updated_at_ns = EXCLUDED.updated_at_ns,
    expires_at_ns = EXCLUDED.expires_at_ns;`

	deleteLeaseSQL = `
DELETE FROM leases
WHERE shard = $1;`

	deleteExpiredSQL = `
DELETE FROM leases
WHERE expires_at_ns <= $1;`
)

// GetLease retrieves a single lease by shard, or nil if not found.
func (q *Queries) GetLease(ctx context.Context, shard string) (*LeaseRecord, error) {
	var (
		lease LeaseRecord
		err   = scanLease(q.db.QueryRowContext(ctx, getLeaseSQL, shard), &lease)
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lease: %w", err)
	}

	return &lease, nil
}

// ListLeases returns all leases, ordered by shard.
func (q *Queries) ListLeases(ctx context.Context) ([]*LeaseRecord, error) {
	var rows, err = q.db.QueryContext(ctx, listLeasesSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to list leases: %w", err)
	}
	defer rows.Close()

	var leases []*LeaseRecord
	for rows.Next() {
		var lease LeaseRecord
		if err := scanLease(rows, &lease); err != nil {
			return nil, fmt.Errorf("failed to scan lease: %w", err)
		}
		leases = append(leases, &lease)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return leases, nil
}

// UpsertLease inserts or updates a lease keyed by shard.
func (q *Queries) UpsertLease(ctx context.Context, lease *LeaseRecord) error {
	_, err := q.db.ExecContext(ctx, upsertLeaseSQL,
		lease.Shard, lease.Holder,
		int64(lease.TTL), int64(lease.Heartbeat),
		lease.AcquiredAt.UnixNano(), lease.UpdatedAt.UnixNano(), lease.ExpiresAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert lease: %w", err)
	}
	return nil
}

// DeleteLease removes a lease by shard.
func (q *Queries) DeleteLease(ctx context.Context, shard string) error {
	if _, err := q.db.ExecContext(ctx, deleteLeaseSQL, shard); err != nil {
		return fmt.Errorf("failed to delete lease: %w", err)
	}
	return nil
}

// DeleteExpired removes every lease whose expiry is at or before now.
func (q *Queries) DeleteExpired(ctx context.Context, now time.Time) error {
	if _, err := q.db.ExecContext(ctx, deleteExpiredSQL, now.UnixNano()); err != nil {
		return fmt.Errorf("failed to delete expired leases: %w", err)
	}
	return nil
}

// scanner is the subset of sql.Row / sql.Rows needed to scan a lease.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanLease(row scanner, lease *LeaseRecord) error {
	var ttlNs, heartbeatNs, acquiredNs, updatedNs, expiresNs int64

	if err := row.Scan(&lease.Shard, &lease.Holder, &ttlNs, &heartbeatNs, &acquiredNs, &updatedNs, &expiresNs); err != nil {
		return err
	}

	lease.TTL = time.Duration(ttlNs)
	lease.Heartbeat = time.Duration(heartbeatNs)
	lease.AcquiredAt = time.Unix(0, acquiredNs)
	lease.UpdatedAt = time.Unix(0, updatedNs)
	lease.ExpiresAt = time.Unix(0, expiresNs)

	return nil
}
