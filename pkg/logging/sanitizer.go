package logging

import (
	"net/url"
	"regexp"
	"strings"
)

const (
	// MaxErrorLength is the maximum length of an error message persisted or logged
	MaxErrorLength = 500
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// Matches: password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Bearer credentials, JWT or opaque
	bearerPattern = regexp.MustCompile(`Bearer\s+[A-Za-z0-9\-_.~+/]{8,}=*`)

	// Basic credentials (base64 user:pass)
	basicPattern = regexp.MustCompile(`Basic\s+[A-Za-z0-9+/]{8,}=*`)

	// API keys and tokens passed as key=value (query strings, form bodies)
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|access_token|token)=[^;&\s"]+`)

	// Connection string credentials (user:pass@host format)
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)
)

// sensitiveQueryParams are stripped from URLs before logging.
var sensitiveQueryParams = []string{"api_key", "apikey", "api-key", "key", "token", "access_token", "password"}

// SanitizeConnectionString removes sensitive data from connection strings
// Use this before logging any connection string
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeError sanitizes error messages that might contain credentials.
// Use this before logging or persisting any error from outbound requests.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeMessage(err.Error())
}

// SanitizeMessage applies the SanitizeError redactions to an arbitrary string.
func SanitizeMessage(msg string) string {
	sanitized := passwordPattern.ReplaceAllString(msg, "${1}="+RedactedText)
	sanitized = bearerPattern.ReplaceAllString(sanitized, "Bearer "+RedactedText)
	sanitized = basicPattern.ReplaceAllString(sanitized, "Basic "+RedactedText)
	sanitized = apiKeyPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeURL removes userinfo and credential-bearing query parameters from a URL.
// Unparseable input falls back to SanitizeMessage.
func SanitizeURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return SanitizeMessage(raw)
	}
	if u.User != nil {
		u.User = url.User(RedactedText)
	}
	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			for _, sensitive := range sensitiveQueryParams {
				if strings.EqualFold(key, sensitive) {
					q.Set(key, RedactedText)
				}
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
