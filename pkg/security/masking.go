// Package security redacts credentials before they reach logs, errors or alerts.
package security

import (
	"net/url"
	"regexp"
	"strings"
)

const redacted = "***REDACTED***"

var (
	// query parameters that carry explorer or provider credentials
	secretParams = []string{"apikey", "api_key", "key", "token", "access_token", "secret"}

	secretPattern = regexp.MustCompile(`(?i)\b(apikey|api_key|token|secret|password)=([^&\s"']+)`)
)

// RedactURL masks credential query parameters and userinfo in a URL string.
// Unparseable input falls back to pattern redaction.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return RedactString(raw)
	}
	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
	}
	q := u.Query()
	changed := false
	for name := range q {
		if isSecretParam(name) {
			q.Set(name, redacted)
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// RedactString masks key=value credentials embedded in free text
func RedactString(s string) string {
	return secretPattern.ReplaceAllString(s, "$1="+redacted)
}

// MaskAPIKey keeps only the first and last four characters
func MaskAPIKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

func isSecretParam(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range secretParams {
		if lower == p {
			return true
		}
	}
	return false
}
