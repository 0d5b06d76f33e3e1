package mergegate

import (
	"io"
	"log/slog"
	"time"
)

const minRetryInterval = 100 * time.Millisecond

// options configures LeaseManager behavior (internal only).
type options struct {
	ttl            time.Duration
	heartbeat      time.Duration
	acquireTimeout time.Duration
	retryInterval  time.Duration
	logger         *slog.Logger

	// Set when the caller passed an explicit value; Renew keeps the stored
	// lease's own ttl/heartbeat otherwise.
	ttlSet       bool
	heartbeatSet bool
}

// defaultOptions returns sensible defaults.
func defaultOptions() options {
	return options{
		ttl:            15 * time.Minute,
		heartbeat:      60 * time.Second,
		acquireTimeout: 120 * time.Second,
		retryInterval:  1 * time.Second,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// LeaseOption is a functional option for configuring a LeaseManager or a
// single Acquire/Renew call.
type LeaseOption func(*options)

// WithTTL sets the lease time-to-live duration.
func WithTTL(ttl time.Duration) LeaseOption {
	return func(o *options) {
		o.ttl = ttl
		o.ttlSet = true
	}
}

// WithHeartbeat sets the recommended heartbeat interval recorded on leases.
func WithHeartbeat(heartbeat time.Duration) LeaseOption {
	return func(o *options) {
		o.heartbeat = heartbeat
		o.heartbeatSet = true
	}
}

// WithAcquireTimeout sets how long Acquire keeps retrying under contention.
func WithAcquireTimeout(timeout time.Duration) LeaseOption {
	return func(o *options) {
		o.acquireTimeout = timeout
	}
}

// WithRetryInterval sets the sleep between acquire attempts.
// Values below 100ms are raised to the floor.
func WithRetryInterval(interval time.Duration) LeaseOption {
	return func(o *options) {
		if interval < minRetryInterval {
			interval = minRetryInterval
		}
		o.retryInterval = interval
	}
}

// WithLogger sets the logger for the lease manager.
// If the logger is nil, a no-op logger is used.
// DEFAULT: A no-op logger
func WithLogger(logger *slog.Logger) LeaseOption {
	return func(o *options) {
		if logger == nil {
			o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
			return
		}

		o.logger = logger
	}
}
