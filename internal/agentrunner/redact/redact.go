// Package redact elides known secret formats from agent output before it
// leaves the process-supervision boundary.
package redact

import "regexp"

const placeholder = "[REDACTED]"

// patterns is applied in order; each replacement is global and
// non-overlapping within that pass. Order matters: more specific patterns
// (sk-ant-...) run before the more general ones they could otherwise be
// swallowed by (sk-...).
var patterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{20,}`),
	regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`ghp_[A-Za-z0-9]{36}`),
	regexp.MustCompile(`gho_[A-Za-z0-9]{36}`),
	regexp.MustCompile(`github_pat_[A-Za-z0-9_]{22,}`),
	regexp.MustCompile(`Bearer\s+[A-Za-z0-9._-]{20,}`),
	regexp.MustCompile(`(?i)(api[_-]?key|secret|token|password)\s*[=:]\s*['"]?[A-Za-z0-9._-]{16,}['"]?`),
}

// Redact replaces every occurrence of a known secret pattern in input with
// the literal "[REDACTED]". Redact is idempotent: Redact(Redact(x)) == Redact(x).
func Redact(input string) string {
	result := input
	for _, p := range patterns {
		result = p.ReplaceAllString(result, placeholder)
	}
	return result
}
