package mergegate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/gowebpki/jcs"
)

// VerifyAttestation re-derives the digest and signature of a previously
// written attestation file and checks them against the recorded values.
// An empty secret falls back to MERGEGATE_ATTESTATION_SECRET.
func VerifyAttestation(path, secret string) (*Attestation, error) {
	if secret == "" {
		secret = os.Getenv(attestationSecretEnv)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read attestation: %w", err)
	}

	var att Attestation
	if err := json.Unmarshal(data, &att); err != nil {
		return nil, fmt.Errorf("failed to decode attestation: %w", err)
	}
	if att.Digest == "" {
		return nil, fmt.Errorf("attestation has no digest: %w", ErrAttestationInvalid)
	}

	// Recompute over the file's own JSON minus digest/signature. UseNumber
	// keeps numeric literals exactly as written so the canonical form is
	// byte-identical to what the writer hashed.
	var generic map[string]interface{}
	var decoder = json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&generic); err != nil {
		return nil, fmt.Errorf("failed to decode attestation payload: %w", err)
	}
	delete(generic, "digest")
	delete(generic, "signature")

	raw, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode attestation payload: %w", err)
	}

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize attestation payload: %w", err)
	}

	if digest := sha256Hex(canonical); digest != att.Digest {
		return nil, fmt.Errorf("digest mismatch: recorded %s, computed %s: %w", att.Digest, digest, ErrAttestationInvalid)
	}

	if signature := signDigest(att.Digest, secret); signature != att.Signature {
		return nil, fmt.Errorf("signature mismatch: %w", ErrAttestationInvalid)
	}

	return &att, nil
}
