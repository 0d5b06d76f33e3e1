package mergegate

import (
	"time"
)

// Lease represents an exclusive, time-bounded claim on a shard. At most one
// non-expired lease exists per shard; ownership identity is the holder.
type Lease struct {
	Shard      string
	Holder     string
	TTL        time.Duration
	Heartbeat  time.Duration
	AcquiredAt time.Time
	UpdatedAt  time.Time
	ExpiresAt  time.Time
}

// ChangeProposal is one unit of automated edit awaiting validation and merge.
// A proposal is owned by exactly one gateway for the lifetime of one lifecycle.
type ChangeProposal struct {
	JobID        string
	Shards       []string
	Title        string
	Prompt       string
	Description  string
	DiffPaths    []string
	Branch       string
	RequiresMath bool
}

// ValidatorStatus is the outcome of one validator within a lifecycle.
type ValidatorStatus string

const (
	StatusPass    ValidatorStatus = "pass"
	StatusFail    ValidatorStatus = "fail"
	StatusSkipped ValidatorStatus = "skipped"
)

// ValidatorReport is one row of the attestation's validator summary.
type ValidatorReport struct {
	Name    string          `json:"name"`
	Version string          `json:"version"`
	Status  ValidatorStatus `json:"status"`
}

// ExecutionLogEntry records one gateway event or validator invocation.
// Validator entries are replaced when a validation run restarts; lease
// events persist for the whole lifecycle.
type ExecutionLogEntry struct {
	Timestamp  time.Time              `json:"timestamp"`
	Event      string                 `json:"event,omitempty"`
	Validator  string                 `json:"validator,omitempty"`
	Command    []string               `json:"command,omitempty"`
	ReturnCode int                    `json:"returncode"`
	Stdout     string                 `json:"stdout,omitempty"`
	Stderr     string                 `json:"stderr,omitempty"`
	Duration   float64                `json:"duration,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// gatewayState tracks the proposal lifecycle phase of a Gateway.
type gatewayState int

const (
	stateIdle gatewayState = iota
	statePrepared
	stateValidated
)
