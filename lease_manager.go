package mergegate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go-mergegate/database"
)

// errShardContended signals inside an acquire transaction that a requested
// shard is held by another holder; the transaction rolls back so no partial
// ownership is ever observable.
var errShardContended = errors.New("shard currently held by another holder")

// LeaseManager provides shard-level exclusive, time-bounded ownership backed
// by a persisted store shared across processes and hosts.
//
// Mutual exclusion is enforced by the store's transactions; the in-process
// mutex additionally serializes callers sharing one manager instance so
// concurrent local callers never issue overlapping transactions.
//
// Expiry is lazy: every operation purges expired rows first. A lease can
// linger in storage past its expiry until the next operation touches the
// store.
type LeaseManager struct {
	store   *database.Store
	mu      sync.Mutex
	options options
}

// NewLeaseManager creates a LeaseManager over the given store, running the
// schema migration if needed.
func NewLeaseManager(store *database.Store, opts ...LeaseOption) (*LeaseManager, error) {
	var options = defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	if err := database.Migrate(store.DB); err != nil {
		return nil, fmt.Errorf("failed to migrate lease store: %w", err)
	}

	return &LeaseManager{
		store:   store,
		options: options,
	}, nil
}

// Acquire claims leases for a collection of shards, all-or-nothing.
//
// Requested shards are de-duplicated and sorted for deterministic lock
// ordering. If any shard is held by a different non-expired holder the whole
// attempt rolls back and the call retries until the acquire timeout elapses,
// then fails with ErrLeaseTimeout. Re-acquiring a shard already held by the
// same holder preserves AcquiredAt and refreshes the expiry.
func (m *LeaseManager) Acquire(ctx context.Context, shards []string, holder string, opts ...LeaseOption) (map[string]Lease, error) {
	var (
		o      = m.callOptions(opts)
		unique = normalizeShards(shards)
		leases = make(map[string]Lease, len(unique))
	)
	if len(unique) == 0 {
		return leases, nil
	}

	var (
		deadline = time.Now().Add(o.acquireTimeout)
		retry    = o.retryInterval
	)
	if retry < minRetryInterval {
		retry = minRetryInterval
	}

	var lastContended string
	for {
		var attemptErr = m.withTx(ctx, func(q *database.Queries) error {
			clear(leases)

			var now = time.Now()
			if err := q.DeleteExpired(ctx, now); err != nil {
				return err
			}

			for _, shard := range unique {
				var lease, err = tryAcquire(ctx, q, shard, holder, now, o)
				if err != nil {
					if errors.Is(err, errShardContended) {
						lastContended = shard
					}
					return err
				}
				leases[shard] = *lease
			}

			return nil
		})
		if attemptErr == nil {
			return leases, nil
		}
		if !errors.Is(attemptErr, errShardContended) {
			return nil, attemptErr
		}

		o.logger.Debug("shard contended, retrying acquire",
			"shard", lastContended,
			"holder", holder)

		if !time.Now().Add(retry).Before(deadline) {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retry):
		}
	}

	return nil, fmt.Errorf("shard %q held by another worker after %s: %w", lastContended, o.acquireTimeout, ErrLeaseTimeout)
}

// Renew extends the expiry of leases currently held by holder. Atomic: if
// any shard is not held by holder, the whole call fails with ErrLeaseNotHeld
// and no shard's expiry is extended.
func (m *LeaseManager) Renew(ctx context.Context, shards []string, holder string, opts ...LeaseOption) (map[string]Lease, error) {
	var (
		o       = m.callOptions(opts)
		unique  = normalizeShards(shards)
		renewed = make(map[string]Lease, len(unique))
	)
	if len(unique) == 0 {
		return renewed, nil
	}

	var err = m.withTx(ctx, func(q *database.Queries) error {
		var now = time.Now()
		if err := q.DeleteExpired(ctx, now); err != nil {
			return err
		}

		for _, shard := range unique {
			var record, err = q.GetLease(ctx, shard)
			if err != nil {
				return err
			}
			if record == nil || record.Holder != holder {
				return fmt.Errorf("cannot renew shard %q for holder %q: %w", shard, holder, ErrLeaseNotHeld)
			}

			if o.ttlSet {
				record.TTL = o.ttl
			}
			if o.heartbeatSet {
				record.Heartbeat = o.heartbeat
			}
			record.UpdatedAt = now
			record.ExpiresAt = now.Add(record.TTL)

			if err := q.UpsertLease(ctx, record); err != nil {
				return err
			}
			renewed[shard] = leaseFromRecord(record)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return renewed, nil
}

// Release deletes the caller's leases. Shards already free are skipped;
// a shard held by a different holder fails the call with ErrLeaseNotHeld.
func (m *LeaseManager) Release(ctx context.Context, shards []string, holder string) error {
	var unique = normalizeShards(shards)
	if len(unique) == 0 {
		return nil
	}

	return m.withTx(ctx, func(q *database.Queries) error {
		var now = time.Now()
		if err := q.DeleteExpired(ctx, now); err != nil {
			return err
		}

		for _, shard := range unique {
			var record, err = q.GetLease(ctx, shard)
			if err != nil {
				return err
			}
			if record == nil {
				continue
			}
			if record.Holder != holder {
				return fmt.Errorf("cannot release shard %q not held by %q: %w", shard, holder, ErrLeaseNotHeld)
			}

			if err := q.DeleteLease(ctx, shard); err != nil {
				return err
			}
		}

		return nil
	})
}

// Active purges expired rows and returns a snapshot of the remaining leases.
func (m *LeaseManager) Active(ctx context.Context) ([]Lease, error) {
	var leases []Lease

	var err = m.withTx(ctx, func(q *database.Queries) error {
		if err := q.DeleteExpired(ctx, time.Now()); err != nil {
			return err
		}

		var records, err = q.ListLeases(ctx)
		if err != nil {
			return err
		}

		leases = make([]Lease, len(records))
		for i, record := range records {
			leases[i] = leaseFromRecord(record)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return leases, nil
}

// callOptions merges per-call options over the manager defaults.
func (m *LeaseManager) callOptions(opts []LeaseOption) options {
	var o = m.options
	o.ttlSet = false
	o.heartbeatSet = false
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// withTx runs fn inside one store transaction, rolling back on error.
// The mutex keeps local callers from interleaving transactions.
func (m *LeaseManager) withTx(ctx context.Context, fn func(q *database.Queries) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var tx, err = m.store.BeginTx(ctx)
	if err != nil {
		return err
	}

	if err := fn(database.NewQueries(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit lease transaction: %w", err)
	}

	return nil
}

// tryAcquire claims a single shard inside an open transaction, preserving
// AcquiredAt across re-acquisition by the same holder.
func tryAcquire(ctx context.Context, q *database.Queries, shard, holder string, now time.Time, o options) (*Lease, error) {
	var existing, err = q.GetLease(ctx, shard)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Holder != holder && existing.ExpiresAt.After(now) {
		return nil, fmt.Errorf("shard %q: %w", shard, errShardContended)
	}

	var acquiredAt = now
	if existing != nil && existing.Holder == holder {
		acquiredAt = existing.AcquiredAt
	}

	var record = &database.LeaseRecord{
		Shard:      shard,
		Holder:     holder,
		TTL:        o.ttl,
		Heartbeat:  o.heartbeat,
		AcquiredAt: acquiredAt,
		UpdatedAt:  now,
		ExpiresAt:  now.Add(o.ttl),
	}

	if err := q.UpsertLease(ctx, record); err != nil {
		return nil, err
	}

	var lease = leaseFromRecord(record)
	return &lease, nil
}

// normalizeShards de-duplicates, trims, and sorts the requested shard keys
// so every caller locks in the same deterministic order.
func normalizeShards(shards []string) []string {
	var seen = make(map[string]bool, len(shards))
	var unique = make([]string, 0, len(shards))

	for _, shard := range shards {
		var trimmed = strings.TrimSpace(shard)
		if trimmed == "" || seen[trimmed] {
			continue
		}
		seen[trimmed] = true
		unique = append(unique, trimmed)
	}

	sort.Strings(unique)
	return unique
}

func leaseFromRecord(record *database.LeaseRecord) Lease {
	return Lease{
		Shard:      record.Shard,
		Holder:     record.Holder,
		TTL:        record.TTL,
		Heartbeat:  record.Heartbeat,
		AcquiredAt: record.AcquiredAt,
		UpdatedAt:  record.UpdatedAt,
		ExpiresAt:  record.ExpiresAt,
	}
}
