package mergegate

import (
	"errors"
	"fmt"
)

var (
	// ErrLeaseTimeout is returned when contention on a shard did not clear
	// before the acquire timeout. Retryable by the caller.
	ErrLeaseTimeout = errors.New("timed out acquiring shard leases")

	// ErrLeaseNotHeld is returned when renewing or releasing a lease the
	// caller does not hold. Indicates a bug or an already-expired lease.
	ErrLeaseNotHeld = errors.New("lease not held")

	// ErrPromptRejected is returned when a prompt violates guardrails.
	ErrPromptRejected = errors.New("prompt rejected")

	// ErrProposalActive is returned by Prepare when a proposal is already
	// in flight on this gateway.
	ErrProposalActive = errors.New("another change proposal is already active")

	// ErrNoProposal is returned when a lifecycle method is called with no
	// active change proposal.
	ErrNoProposal = errors.New("no active change proposal")

	// ErrAttestationInvalid is returned when an attestation file fails
	// digest or signature verification.
	ErrAttestationInvalid = errors.New("attestation verification failed")
)

// ValidatorError reports a failing validator subprocess with its captured
// output. The whole proposal fails on the first such error; there are no
// retries.
type ValidatorError struct {
	Name     string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *ValidatorError) Error() string {
	var detail = e.Stderr
	if detail == "" {
		detail = e.Stdout
	}
	return fmt.Sprintf("validator %s failed (exit %d): %s", e.Name, e.ExitCode, detail)
}
