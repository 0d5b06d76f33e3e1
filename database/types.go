package database

import "time"

// LeaseRecord represents a shard lease row in the database.
type LeaseRecord struct {
	Shard      string
	Holder     string
	TTL        time.Duration
	Heartbeat  time.Duration
	AcquiredAt time.Time
	UpdatedAt  time.Time
	ExpiresAt  time.Time
}
