package agentrunner

import (
	"regexp"
	"strings"
)

var isoTimestampPattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:Z|[+-]\d{2}:\d{2})?`)

// looksRateLimited applies the quota-rate-limit heuristic: case-insensitive
// containment of any of a short list of phrases, or both "429" and "reset"
// together.
func looksRateLimited(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range []string{"usage limit", "rate_limit_error", "rate limit exceeded", "quota exceeded"} {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return strings.Contains(lower, "429") && strings.Contains(lower, "reset")
}

// extractResetAt returns the first ISO-8601 timestamp found in text, if any.
func extractResetAt(text string) (string, bool) {
	match := isoTimestampPattern.FindString(text)
	if match == "" {
		return "", false
	}
	return match, true
}
