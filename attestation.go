package mergegate

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gowebpki/jcs"
)

const (
	// DefaultTool names the attesting tool in emitted records.
	DefaultTool = "guarded-merge"

	// DefaultAttestationPath is where WriteAttestation emits the payload
	// unless overridden.
	DefaultAttestationPath = "ai_attestation.json"

	// DefaultGovernanceLogPath is the append-only audit ledger.
	DefaultGovernanceLogPath = "GOVERNANCE_LOG.md"

	attestationSecretEnv = "MERGEGATE_ATTESTATION_SECRET"
)

var governanceLogHeader = "# Governance Log\n\n| Timestamp | Job ID | Attestation Digest |\n| --- | --- | --- |\n"

// FileRecord is the hash record of one rule or diff file. Missing files are
// recorded with Exists=false and no hash, never as an error.
type FileRecord struct {
	Path   string `json:"path"`
	Exists bool   `json:"exists"`
	SHA256 string `json:"sha256,omitempty"`
}

// Attestation is the signed, hash-backed provenance record of one completed
// lifecycle. Immutable once written.
type Attestation struct {
	JobID         string              `json:"job_id"`
	Tool          string              `json:"tool"`
	Timestamp     string              `json:"timestamp"`
	Validators    []ValidatorReport   `json:"validators"`
	Rules         []FileRecord        `json:"rules"`
	Diffs         []FileRecord        `json:"diffs"`
	ExecutionLogs []ExecutionLogEntry `json:"execution_logs"`
	PromptSHA256  string              `json:"prompt_sha256"`
	Digest        string              `json:"digest,omitempty"`
	Signature     string              `json:"signature,omitempty"`
}

// AttestationInput collects everything a lifecycle produces for attestation.
type AttestationInput struct {
	JobID         string
	Validators    []ValidatorReport
	RulePaths     []string
	DiffPaths     []string
	ExecutionLogs []ExecutionLogEntry
	Prompt        string
}

// attestOptions configures WriteAttestation (internal only).
type attestOptions struct {
	outPath       string
	tool          string
	governanceLog string
	secret        string
	secretSet     bool
}

func defaultAttestOptions() attestOptions {
	return attestOptions{
		outPath:       DefaultAttestationPath,
		tool:          DefaultTool,
		governanceLog: DefaultGovernanceLogPath,
	}
}

// AttestOption is a functional option for WriteAttestation.
type AttestOption func(*attestOptions)

// WithAttestationPath sets where the attestation JSON is written.
func WithAttestationPath(path string) AttestOption {
	return func(o *attestOptions) {
		o.outPath = path
	}
}

// WithTool sets the tool name recorded in the attestation.
func WithTool(tool string) AttestOption {
	return func(o *attestOptions) {
		o.tool = tool
	}
}

// WithGovernanceLog sets the governance ledger path.
func WithGovernanceLog(path string) AttestOption {
	return func(o *attestOptions) {
		o.governanceLog = path
	}
}

// WithSigningSecret sets the signing secret explicitly. Without it the
// MERGEGATE_ATTESTATION_SECRET environment variable is used, defaulting to
// the empty string.
func WithSigningSecret(secret string) AttestOption {
	return func(o *attestOptions) {
		o.secret = secret
		o.secretSet = true
	}
}

// WriteAttestation hashes the lifecycle inputs, signs the payload, writes it
// as pretty JSON, and appends one row to the governance log. Returns the
// attestation file path.
//
// The digest is the SHA-256 of the RFC 8785 canonical JSON of the payload
// with digest and signature removed; the signature is
// sha256(digest + secret).
func WriteAttestation(in AttestationInput, opts ...AttestOption) (string, error) {
	var o = defaultAttestOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if !o.secretSet {
		o.secret = os.Getenv(attestationSecretEnv)
	}

	var (
		timestamp = time.Now().UTC().Format("2006-01-02T15:04:05Z")
		payload   = Attestation{
			JobID:         in.JobID,
			Tool:          o.tool,
			Timestamp:     timestamp,
			Validators:    in.Validators,
			Rules:         fileRecords(in.RulePaths),
			Diffs:         fileRecords(in.DiffPaths),
			ExecutionLogs: in.ExecutionLogs,
			PromptSHA256:  sha256Hex([]byte(in.Prompt)),
		}
	)

	digest, err := canonicalDigest(payload)
	if err != nil {
		return "", fmt.Errorf("failed to compute attestation digest: %w", err)
	}

	payload.Digest = digest
	payload.Signature = signDigest(digest, o.secret)

	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode attestation: %w", err)
	}

	if parent := filepath.Dir(o.outPath); parent != "." {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return "", fmt.Errorf("failed to create attestation directory: %w", err)
		}
	}

	if err := os.WriteFile(o.outPath, append(encoded, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("failed to write attestation: %w", err)
	}

	if err := appendGovernanceRow(o.governanceLog, timestamp, in.JobID, digest); err != nil {
		return "", err
	}

	return o.outPath, nil
}

// appendGovernanceRow adds one markdown-table row to the governance log,
// writing the header first if the file does not yet exist. Prior rows are
// never rewritten.
func appendGovernanceRow(path, timestamp, jobID, digest string) error {
	if parent := filepath.Dir(path); parent != "." {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return fmt.Errorf("failed to create governance log directory: %w", err)
		}
	}

	var _, statErr = os.Stat(path)
	var needHeader = os.IsNotExist(statErr)

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open governance log: %w", err)
	}
	defer file.Close()

	if needHeader {
		if _, err := file.WriteString(governanceLogHeader); err != nil {
			return fmt.Errorf("failed to write governance log header: %w", err)
		}
	}

	if _, err := fmt.Fprintf(file, "| %s | %s | %s |\n", timestamp, jobID, digest); err != nil {
		return fmt.Errorf("failed to append governance log row: %w", err)
	}

	return nil
}

// fileRecords hashes every existing regular file; directories are recorded
// without a hash and missing paths with Exists=false.
func fileRecords(paths []string) []FileRecord {
	var records = make([]FileRecord, 0, len(paths))

	for _, path := range paths {
		if path == "" {
			continue
		}

		var record = FileRecord{Path: path}
		if info, err := os.Stat(path); err == nil {
			record.Exists = true
			if info.Mode().IsRegular() {
				if data, readErr := os.ReadFile(path); readErr == nil {
					record.SHA256 = sha256Hex(data)
				}
			}
		}

		records = append(records, record)
	}

	return records
}

// canonicalDigest computes the SHA-256 over the RFC 8785 canonical JSON of v.
func canonicalDigest(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}

	return sha256Hex(canonical), nil
}

func signDigest(digest, secret string) string {
	return sha256Hex([]byte(digest + secret))
}

func sha256Hex(data []byte) string {
	var sum = sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
