package mergegate

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

const defaultMaxPromptLength = 4096

// defaultBlockedPatterns covers destructive-command, policy-bypass, and
// exfiltration phrasings. Matching is case-insensitive over the cleaned text.
var defaultBlockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:rm\s+-rf|drop\s+table|sudo\s+rm)\b`),
	regexp.MustCompile(`(?i)\b(?:bypass|jailbreak|ignore\s+policy)\b`),
	regexp.MustCompile(`(?i)\b(?:exfiltrate|leak\s+data|steal\s+secrets)\b`),
}

// asciiControlChars matches control characters except tab, LF, and CR.
var asciiControlChars = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]")

// sanitizeOptions configures Sanitize (internal only).
type sanitizeOptions struct {
	maxLength int
	blocked   []*regexp.Regexp
}

// SanitizeOption is a functional option for Sanitize.
type SanitizeOption func(*sanitizeOptions)

// WithMaxLength sets the maximum prompt length in runes (default 4096).
func WithMaxLength(n int) SanitizeOption {
	return func(o *sanitizeOptions) {
		o.maxLength = n
	}
}

// WithBlockedPatterns replaces the default guard patterns.
func WithBlockedPatterns(patterns []*regexp.Regexp) SanitizeOption {
	return func(o *sanitizeOptions) {
		o.blocked = patterns
	}
}

// Sanitize normalizes and vets free-text instructions before use.
//
// Control characters are replaced with spaces and surrounding whitespace
// stripped. An empty result or a guard-pattern match fails with
// ErrPromptRejected. Over-long prompts are hard-cut to the limit and
// right-trimmed. Pure function; no state, no I/O.
func Sanitize(text string, opts ...SanitizeOption) (string, error) {
	var o = sanitizeOptions{
		maxLength: defaultMaxPromptLength,
		blocked:   defaultBlockedPatterns,
	}
	for _, opt := range opts {
		opt(&o)
	}

	var cleaned = strings.TrimSpace(asciiControlChars.ReplaceAllString(text, " "))
	if cleaned == "" {
		return "", fmt.Errorf("prompt cannot be empty: %w", ErrPromptRejected)
	}

	if runes := []rune(cleaned); len(runes) > o.maxLength {
		cleaned = strings.TrimRightFunc(string(runes[:o.maxLength]), unicode.IsSpace)
	}

	for _, pattern := range o.blocked {
		if pattern.MatchString(cleaned) {
			return "", fmt.Errorf("prompt rejected by guard pattern %q: %w", pattern.String(), ErrPromptRejected)
		}
	}

	return cleaned, nil
}
