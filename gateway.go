package mergegate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// gatewayOptions configures a Gateway (internal only).
type gatewayOptions struct {
	validators       []ValidatorSpec
	policyPath       string
	rulesPath        string
	attestationDir   string
	governanceLog    string
	tool             string
	secret           string
	secretSet        bool
	validatorTimeout time.Duration
	logger           *slog.Logger
}

func defaultGatewayOptions() gatewayOptions {
	return gatewayOptions{
		policyPath:       filepath.Join("policies", "gates.yml"),
		rulesPath:        filepath.Join("policies", "rules.yml"),
		attestationDir:   "attestations",
		governanceLog:    DefaultGovernanceLogPath,
		tool:             DefaultTool,
		validatorTimeout: 5 * time.Minute,
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// GatewayOption is a functional option for configuring a Gateway.
type GatewayOption func(*gatewayOptions)

// WithValidators replaces the default validator chain.
func WithValidators(validators []ValidatorSpec) GatewayOption {
	return func(o *gatewayOptions) {
		o.validators = validators
	}
}

// WithPolicyPath sets the gate policy file passed to validators.
func WithPolicyPath(path string) GatewayOption {
	return func(o *gatewayOptions) {
		o.policyPath = path
	}
}

// WithRulesPath sets the rules file passed to validators.
func WithRulesPath(path string) GatewayOption {
	return func(o *gatewayOptions) {
		o.rulesPath = path
	}
}

// WithAttestationDir sets the directory attestation files are written into.
func WithAttestationDir(dir string) GatewayOption {
	return func(o *gatewayOptions) {
		o.attestationDir = dir
	}
}

// WithGovernanceLogPath sets the governance ledger the gateway appends to.
func WithGovernanceLogPath(path string) GatewayOption {
	return func(o *gatewayOptions) {
		o.governanceLog = path
	}
}

// WithAttestationTool sets the tool name recorded in attestations.
func WithAttestationTool(tool string) GatewayOption {
	return func(o *gatewayOptions) {
		o.tool = tool
	}
}

// WithAttestationSecret sets the signing secret for attestations.
func WithAttestationSecret(secret string) GatewayOption {
	return func(o *gatewayOptions) {
		o.secret = secret
		o.secretSet = true
	}
}

// WithValidatorTimeout bounds each validator subprocess call.
// DEFAULT: 5 minutes. A timed-out validator counts as failed.
func WithValidatorTimeout(timeout time.Duration) GatewayOption {
	return func(o *gatewayOptions) {
		o.validatorTimeout = timeout
	}
}

// WithGatewayLogger sets the logger for the gateway.
// If the logger is nil, a no-op logger is used.
func WithGatewayLogger(logger *slog.Logger) GatewayOption {
	return func(o *gatewayOptions) {
		if logger == nil {
			o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
			return
		}

		o.logger = logger
	}
}

// Gateway drives one change proposal at a time through
// prepare → validate → open-pr, holding shard leases for the duration.
//
// Synchronous and single-threaded: one gateway owns at most one proposal.
// Multiple gateways in different processes coordinate only through the
// lease store. Any failure leaves the gateway inspectable, with the proposal
// still active and leases still held, so the caller can retry the phase or
// Abort.
type Gateway struct {
	leases  *LeaseManager
	host    HostClient
	options gatewayOptions

	state           gatewayState
	cp              *ChangeProposal
	sanitizedPrompt string
	held            map[string]Lease
	executionLog    []ExecutionLogEntry
	validatorStatus map[string]ValidatorStatus
}

// NewGateway creates a Gateway over an explicit lease manager and host
// collaborator.
func NewGateway(leases *LeaseManager, host HostClient, opts ...GatewayOption) *Gateway {
	var options = defaultGatewayOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.validators == nil {
		options.validators = DefaultValidators(options.policyPath, options.rulesPath)
	}

	return &Gateway{
		leases:          leases,
		host:            host,
		options:         options,
		state:           stateIdle,
		held:            make(map[string]Lease),
		validatorStatus: make(map[string]ValidatorStatus),
	}
}

// Prepare sanitizes the proposal's prompt (falling back to the description
// when the prompt is empty), acquires leases for its shards with the job ID
// as holder, and transitions to the prepared state. Only one proposal may be
// in flight per gateway.
func (g *Gateway) Prepare(ctx context.Context, cp ChangeProposal) error {
	if g.state != stateIdle || g.cp != nil {
		return ErrProposalActive
	}

	var source = cp.Prompt
	if source == "" {
		source = cp.Description
	}

	sanitized, err := Sanitize(source)
	if err != nil {
		return err
	}

	g.cp = &cp
	g.sanitizedPrompt = sanitized
	g.state = statePrepared

	if len(cp.Shards) > 0 {
		held, err := g.leases.Acquire(ctx, cp.Shards, cp.JobID)
		if err != nil {
			return err
		}
		g.held = held
	}

	g.logEvent("lease_acquired", map[string]interface{}{
		"shards": cp.Shards,
		"holder": cp.JobID,
	})

	g.options.logger.Info("change proposal prepared",
		"job_id", cp.JobID,
		"shards", cp.Shards)

	return nil
}

// ValidateLocal runs the validator chain strictly in order over the
// sanitized prompt and diff paths. The first non-zero exit fails the whole
// call, marks that validator failed and leaves unreached validators skipped.
// On success all held leases are renewed so they do not expire mid-review.
func (g *Gateway) ValidateLocal(ctx context.Context) error {
	if g.cp == nil {
		return ErrNoProposal
	}

	// Drop validator entries from any previous run; lease events stay.
	var kept = make([]ExecutionLogEntry, 0, len(g.executionLog))
	for _, entry := range g.executionLog {
		if entry.Validator == "" {
			kept = append(kept, entry)
		}
	}
	g.executionLog = kept
	g.validatorStatus = make(map[string]ValidatorStatus)

	var promptBytes = []byte(g.sanitizedPrompt)
	for _, spec := range g.options.validators {
		if spec.Trigger != nil && !spec.Trigger(g.cp) {
			continue
		}

		if err := g.runValidator(ctx, spec, promptBytes); err != nil {
			return err
		}
	}

	if len(g.held) > 0 {
		renewed, err := g.leases.Renew(ctx, g.cp.Shards, g.cp.JobID)
		if err != nil {
			return err
		}
		for shard, lease := range renewed {
			g.held[shard] = lease
		}
	}

	g.state = stateValidated

	g.options.logger.Info("change proposal validated",
		"job_id", g.cp.JobID,
		"validators", len(g.validatorStatus))

	return nil
}

// OpenPR writes the attestation, hands the branch off to the host
// collaborator, releases leases, and resets to idle. Returns the attestation
// file path. On collaborator failure the error propagates and leases remain
// held for explicit Abort or TTL expiry.
//
// Callers are expected by protocol convention to have completed
// ValidateLocal first; this is not enforced here.
func (g *Gateway) OpenPR(ctx context.Context) (string, error) {
	if g.cp == nil {
		return "", ErrNoProposal
	}

	var attestOpts = []AttestOption{
		WithAttestationPath(filepath.Join(g.options.attestationDir, g.cp.JobID+".json")),
		WithTool(g.options.tool),
		WithGovernanceLog(g.options.governanceLog),
	}
	if g.options.secretSet {
		attestOpts = append(attestOpts, WithSigningSecret(g.options.secret))
	}

	attestationPath, err := WriteAttestation(AttestationInput{
		JobID:         g.cp.JobID,
		Validators:    g.buildValidatorReport(),
		RulePaths:     []string{g.options.policyPath, g.options.rulesPath},
		DiffPaths:     g.cp.DiffPaths,
		ExecutionLogs: g.executionLog,
		Prompt:        g.sanitizedPrompt,
	}, attestOpts...)
	if err != nil {
		return "", err
	}

	var branch = g.cp.Branch
	if branch == "" {
		branch = "ai/" + g.cp.JobID
	}

	if err := g.host.PushBranch(ctx, branch, attestationPath, g.cp.Title, g.cp.Description); err != nil {
		return "", err
	}

	if err := g.releaseLeases(ctx); err != nil {
		return "", err
	}

	g.options.logger.Info("pull request opened",
		"job_id", g.cp.JobID,
		"branch", branch,
		"attestation", attestationPath)

	g.reset()
	return attestationPath, nil
}

// Abort releases held leases best-effort and unconditionally resets to idle.
func (g *Gateway) Abort(ctx context.Context) {
	if err := g.releaseLeases(ctx); err != nil {
		g.options.logger.Warn("failed to release leases on abort", "error", err)
	}
	g.reset()
}

// ValidatorStatuses returns a snapshot of the current run's validator
// outcomes, keyed by validator name.
func (g *Gateway) ValidatorStatuses() map[string]ValidatorStatus {
	var snapshot = make(map[string]ValidatorStatus, len(g.validatorStatus))
	for name, status := range g.validatorStatus {
		snapshot[name] = status
	}
	return snapshot
}

// ExecutionLog returns the current lifecycle's execution log entries.
func (g *Gateway) ExecutionLog() []ExecutionLogEntry {
	return append([]ExecutionLogEntry(nil), g.executionLog...)
}

func (g *Gateway) reset() {
	g.state = stateIdle
	g.cp = nil
	g.sanitizedPrompt = ""
	g.held = make(map[string]Lease)
	g.executionLog = nil
	g.validatorStatus = make(map[string]ValidatorStatus)
}

func (g *Gateway) releaseLeases(ctx context.Context) error {
	if g.cp == nil || len(g.held) == 0 {
		return nil
	}

	defer func() {
		g.held = make(map[string]Lease)
	}()

	if err := g.leases.Release(ctx, g.cp.Shards, g.cp.JobID); err != nil {
		return err
	}

	g.logEvent("lease_released", map[string]interface{}{
		"shards": g.cp.Shards,
		"holder": g.cp.JobID,
	})

	return nil
}

func (g *Gateway) logEvent(name string, payload map[string]interface{}) {
	g.executionLog = append(g.executionLog, ExecutionLogEntry{
		Timestamp: time.Now(),
		Event:     name,
		Payload:   payload,
	})
}

// runValidator executes one validator subprocess, captures its output into
// the execution log, and maps its exit to a pass/fail status. Exit code 0 is
// a pass; anything else, including a timeout kill, fails the proposal.
func (g *Gateway) runValidator(ctx context.Context, spec ValidatorSpec, promptStdin []byte) error {
	var argv = append([]string{}, spec.Command...)
	if spec.AppendDiffPaths {
		argv = append(argv, g.cp.DiffPaths...)
	}
	if len(argv) == 0 {
		return fmt.Errorf("validator %s has an empty command", spec.Name)
	}

	var cmdCtx, cancel = context.WithTimeout(ctx, g.options.validatorTimeout)
	defer cancel()

	var (
		stdout, stderr bytes.Buffer
		cmd            = exec.CommandContext(cmdCtx, argv[0], argv[1:]...)
	)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if spec.PromptStdin {
		cmd.Stdin = bytes.NewReader(promptStdin)
	}

	var started = time.Now()
	var runErr = cmd.Run()
	var finished = time.Now()

	var returnCode = 0
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		returnCode = exitErr.ExitCode()
	} else if runErr != nil {
		returnCode = -1
	}

	g.executionLog = append(g.executionLog, ExecutionLogEntry{
		Timestamp:  finished,
		Validator:  spec.Name,
		Command:    argv,
		ReturnCode: returnCode,
		Stdout:     strings.TrimSpace(stdout.String()),
		Stderr:     strings.TrimSpace(stderr.String()),
		Duration:   finished.Sub(started).Seconds(),
	})

	switch {
	case runErr == nil:
		g.validatorStatus[spec.Name] = StatusPass
		return nil
	case cmdCtx.Err() == context.DeadlineExceeded:
		g.validatorStatus[spec.Name] = StatusFail
		return &ValidatorError{
			Name:     spec.Name,
			ExitCode: returnCode,
			Stdout:   strings.TrimSpace(stdout.String()),
			Stderr:   fmt.Sprintf("timed out after %s", g.options.validatorTimeout),
		}
	case exitErr != nil:
		g.validatorStatus[spec.Name] = StatusFail
		return &ValidatorError{
			Name:     spec.Name,
			ExitCode: returnCode,
			Stdout:   strings.TrimSpace(stdout.String()),
			Stderr:   strings.TrimSpace(stderr.String()),
		}
	default:
		return fmt.Errorf("failed to run validator %s: %w", spec.Name, runErr)
	}
}

// buildValidatorReport maps every configured validator to its status for
// this run; validators that never ran are reported skipped.
func (g *Gateway) buildValidatorReport() []ValidatorReport {
	var report = make([]ValidatorReport, 0, len(g.options.validators))

	for _, spec := range g.options.validators {
		var status, ran = g.validatorStatus[spec.Name]
		if !ran {
			status = StatusSkipped
		}
		report = append(report, ValidatorReport{
			Name:    spec.Name,
			Version: spec.Version,
			Status:  status,
		})
	}

	return report
}
