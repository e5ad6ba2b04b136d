package indexbuild

import (
	"regexp"
)

// Build tools echo their entire invocation, which drags credentials,
// machine paths, and addresses into output an AI assistant will read back.
// Sanitize replaces the sensitive shapes with fixed placeholders.
//
// Replacement order matters: environment assignments go first so
// TOKEN=/long/value collapses to one <env_var> instead of a partial mask.
var sanitizeRules = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`\b[A-Z][A-Z0-9_]{2,}=\S+`), "<env_var>"},
	{regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`), "<uuid>"},
	{regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{8,}`), "<token>"},
	{regexp.MustCompile(`\b[A-Za-z0-9]{32,}\b`), "<token>"},
	{regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), "<ip>"},
	{regexp.MustCompile(`(?:/[A-Za-z0-9._@-]+){2,}/?`), "<path>"},
}

// Sanitize masks absolute paths, environment assignments, long tokens,
// API-key prefixes, IPv4 addresses, and UUIDs in build output.
func Sanitize(output string) string {
	for _, rule := range sanitizeRules {
		output = rule.pattern.ReplaceAllString(output, rule.replacement)
	}
	return output
}
