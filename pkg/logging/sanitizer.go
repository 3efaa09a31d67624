package logging

import (
	"regexp"
)

const (
	// MaxErrorLength is the maximum length of an error message persisted to
	// the registry or the dead letter queue.
	MaxErrorLength = 2000
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// Pattern to match potential passwords in connection strings
	// Matches: password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Pattern to match connection string credentials (user:pass@host format)
	connStringPattern = regexp.MustCompile(`://[^:]+:[^@]+@[^/\s]+`)

	// Pattern to match potential API tokens
	tokenPattern = regexp.MustCompile(`(?i)(token|api[_-]?key)=[A-Za-z0-9-_.]{20,}`)
)

// SanitizeError sanitizes error messages that might contain sensitive data.
// Use this before logging or persisting any error from database or API
// operations.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(err.Error(), "${1}="+RedactedText)
	sanitized = tokenPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)

	return sanitized
}

// ErrorForStorage sanitizes and truncates an error message so it fits the
// error columns of the file registry and the DLQ.
func ErrorForStorage(err error) string {
	return TruncateString(SanitizeError(err), MaxErrorLength)
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
