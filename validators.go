package mergegate

import (
	"path/filepath"
	"strings"
)

// ValidatorSpec describes one external validator in the gateway's chain.
// The chain is an explicit ordered list; validators run strictly in order
// and the first non-zero exit fails the whole proposal.
//
// Subprocess contract: the command receives the sanitized prompt as UTF-8
// bytes on stdin when PromptStdin is set (empty otherwise), diff paths as
// trailing argv when AppendDiffPaths is set, and signals pass with exit
// code 0. Any other exit code is a failure.
type ValidatorSpec struct {
	Name            string
	Version         string
	Command         []string
	PromptStdin     bool
	AppendDiffPaths bool

	// Trigger decides whether this validator runs for a given proposal.
	// A nil Trigger always runs.
	Trigger func(cp *ChangeProposal) bool
}

// DefaultValidators returns the standard chain: the prompt/policy guard,
// the protocol auditor, and the math validator (conditional).
func DefaultValidators(policyPath, rulesPath string) []ValidatorSpec {
	return []ValidatorSpec{
		{
			Name:        "llama_guard",
			Version:     "1.0",
			Command:     []string{"python3", filepath.Join("tools", "llama_guard.py"), "--policy", rulesPath},
			PromptStdin: true,
		},
		{
			Name:        "protocol_auditor",
			Version:     "1.0",
			Command:     []string{"python3", filepath.Join("tools", "protocol_auditor.py"), "--policy", policyPath, "--rules", rulesPath},
			PromptStdin: true,
		},
		{
			Name:            "gpt_math_validate",
			Version:         "1.0",
			Command:         []string{"python3", filepath.Join("tools", "gpt_math_validate.py")},
			AppendDiffPaths: true,
			Trigger:         needsMathValidation,
		},
	}
}

// needsMathValidation reports whether a proposal touches math-sensitive
// content: an explicit flag, source/notebook diff paths, or math-related
// path names.
func needsMathValidation(cp *ChangeProposal) bool {
	if cp.RequiresMath {
		return true
	}

	for _, path := range cp.DiffPaths {
		var lower = strings.ToLower(path)
		if strings.HasSuffix(lower, ".py") || strings.HasSuffix(lower, ".ipynb") {
			return true
		}
		for _, token := range []string{"math", "calc", "formula", "model"} {
			if strings.Contains(lower, token) {
				return true
			}
		}
	}

	return false
}
