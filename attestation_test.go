package mergegate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttestation(t *testing.T) {
	var (
		newRuleFile = func(t *testing.T, name, content string) string {
			var path = filepath.Join(t.TempDir(), name)
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
			return path
		}
		newInput = func(rulePaths, diffPaths []string) AttestationInput {
			return AttestationInput{
				JobID:      "job-123",
				Validators: []ValidatorReport{{Name: "llama_guard", Version: "1.0", Status: StatusPass}},
				RulePaths:  rulePaths,
				DiffPaths:  diffPaths,
				Prompt:     "refactor the parser",
			}
		}
	)

	t.Run("should write attestation that verifies round trip", func(t *testing.T) {
		// Arrange
		var (
			dir   = t.TempDir()
			rules = newRuleFile(t, "rules.yml", "deny: none\n")
			out   = filepath.Join(dir, "ai_attestation.json")
		)

		// Act
		path, err := WriteAttestation(newInput([]string{rules}, nil),
			WithAttestationPath(out),
			WithGovernanceLog(filepath.Join(dir, "GOVERNANCE_LOG.md")),
			WithSigningSecret("test-secret"))
		require.NoError(t, err)

		var att, verifyErr = VerifyAttestation(path, "test-secret")

		// Assert
		require.NoError(t, verifyErr)
		assert.Equal(t, "job-123", att.JobID)
		assert.Equal(t, "guarded-merge", att.Tool)
		assert.Equal(t, sha256Hex([]byte("refactor the parser")), att.PromptSHA256)
		assert.Len(t, att.Digest, 64)
		assert.Len(t, att.Signature, 64)
	})

	t.Run("should reject a tampered attestation", func(t *testing.T) {
		// Arrange
		var dir = t.TempDir()

		path, err := WriteAttestation(newInput(nil, nil),
			WithAttestationPath(filepath.Join(dir, "ai_attestation.json")),
			WithGovernanceLog(filepath.Join(dir, "GOVERNANCE_LOG.md")),
			WithSigningSecret("test-secret"))
		require.NoError(t, err)

		// Act - flip the job id after signing
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		tampered := strings.Replace(string(data), "job-123", "job-999", 1)
		require.NoError(t, os.WriteFile(path, []byte(tampered), 0o644))

		_, verifyErr := VerifyAttestation(path, "test-secret")

		// Assert
		assert.ErrorIs(t, verifyErr, ErrAttestationInvalid)
	})

	t.Run("should reject verification with the wrong secret", func(t *testing.T) {
		// Arrange
		var dir = t.TempDir()

		path, err := WriteAttestation(newInput(nil, nil),
			WithAttestationPath(filepath.Join(dir, "ai_attestation.json")),
			WithGovernanceLog(filepath.Join(dir, "GOVERNANCE_LOG.md")),
			WithSigningSecret("test-secret"))
		require.NoError(t, err)

		// Act
		_, verifyErr := VerifyAttestation(path, "wrong-secret")

		// Assert
		assert.ErrorIs(t, verifyErr, ErrAttestationInvalid)
	})

	t.Run("should record missing files without hashes", func(t *testing.T) {
		// Arrange
		var (
			dir   = t.TempDir()
			rules = newRuleFile(t, "rules.yml", "deny: none\n")
		)

		// Act
		path, err := WriteAttestation(newInput([]string{rules, "no/such/policy.yml"}, []string{"no/such/diff.py"}),
			WithAttestationPath(filepath.Join(dir, "ai_attestation.json")),
			WithGovernanceLog(filepath.Join(dir, "GOVERNANCE_LOG.md")),
			WithSigningSecret("test-secret"))
		require.NoError(t, err)

		data, err := os.ReadFile(path)
		require.NoError(t, err)

		var att Attestation
		require.NoError(t, json.Unmarshal(data, &att))

		// Assert
		require.Len(t, att.Rules, 2)
		assert.True(t, att.Rules[0].Exists)
		assert.Len(t, att.Rules[0].SHA256, 64)
		assert.False(t, att.Rules[1].Exists)
		assert.Empty(t, att.Rules[1].SHA256)

		require.Len(t, att.Diffs, 1)
		assert.False(t, att.Diffs[0].Exists)
	})

	t.Run("should append governance rows without rewriting the header", func(t *testing.T) {
		// Arrange
		var (
			dir    = t.TempDir()
			ledger = filepath.Join(dir, "GOVERNANCE_LOG.md")
		)

		// Act - two lifecycles against the same ledger
		for _, job := range []string{"job-a", "job-b"} {
			var in = newInput(nil, nil)
			in.JobID = job

			_, err := WriteAttestation(in,
				WithAttestationPath(filepath.Join(dir, job+".json")),
				WithGovernanceLog(ledger),
				WithSigningSecret("test-secret"))
			require.NoError(t, err)
		}

		data, err := os.ReadFile(ledger)
		require.NoError(t, err)
		var content = string(data)

		// Assert - single header, one row per lifecycle
		assert.Equal(t, 1, strings.Count(content, "# Governance Log"))
		assert.Contains(t, content, "| Timestamp | Job ID | Attestation Digest |")
		assert.Equal(t, 1, strings.Count(content, "| job-a |"))
		assert.Equal(t, 1, strings.Count(content, "| job-b |"))
	})

	t.Run("should record a custom tool name", func(t *testing.T) {
		// Arrange
		var dir = t.TempDir()

		// Act
		path, err := WriteAttestation(newInput(nil, nil),
			WithAttestationPath(filepath.Join(dir, "ai_attestation.json")),
			WithGovernanceLog(filepath.Join(dir, "GOVERNANCE_LOG.md")),
			WithTool("custom-gate"),
			WithSigningSecret("test-secret"))
		require.NoError(t, err)

		var att, verifyErr = VerifyAttestation(path, "test-secret")

		// Assert
		require.NoError(t, verifyErr)
		assert.Equal(t, "custom-gate", att.Tool)
	})
}
