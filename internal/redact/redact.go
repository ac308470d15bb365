// Package redact scrubs credential material from strings before they are
// logged or echoed in error messages.
package redact

import "regexp"

const marker = "[REDACTED]"

var (
	// Matches "password: hunter2", "client_secret=abc", "refresh_token: x" etc.
	kvPattern = regexp.MustCompile(`(?i)(password|passwd|pwd|client_secret|refresh_token|access_token|token)\s*[:=]\s*\S+`)

	// Matches the JSON field forms that appear in settings dumps.
	jsonPattern = regexp.MustCompile(`(?i)(smtpPassword|googleClientSecret|googleRefreshToken)"?\s*[:=]\s*"?[^",}\s]+`)
)

// Secrets replaces credential values in s with a redaction marker. The key
// is kept so operators can still tell what was scrubbed.
func Secrets(s string) string {
	s = kvPattern.ReplaceAllString(s, "${1}: "+marker)
	s = jsonPattern.ReplaceAllString(s, "${1}: "+marker)
	return s
}

// Error is a convenience for redacting error messages; nil-safe.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return Secrets(err.Error())
}
