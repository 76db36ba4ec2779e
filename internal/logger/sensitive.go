// sensitive.go
package logger

import (
	"net/url"
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

// sensitiveDataPatterns match secrets embedded in free-form strings such as broker
// URLs, Sentry DSNs and connection strings.
var sensitiveDataPatterns = []*regexp.Regexp{
	// user:password@ in URLs
	regexp.MustCompile(`(?i)([a-z][a-z0-9+.\-]*://[^:/@\s]+:)([^@\s]+)(@)`),

	// API keys, tokens and secrets
	regexp.MustCompile(`(?i)((token|secret|key|passw(or)?d)[0-9a-z\-_.]*[\s:=]+)([^;,\s]{5,})`),
}

// sensitiveKeywords mark field keys whose string values are always redacted
var sensitiveKeywords = []string{
	"password", "passwd", "secret", "token", "dsn", "credential",
}

// RedactSensitiveData replaces sensitive information with "[REDACTED]"
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}

	input = sensitiveDataPatterns[0].ReplaceAllString(input, "${1}"+redacted+"${3}")
	input = sensitiveDataPatterns[1].ReplaceAllString(input, "${1}"+redacted)

	return input
}

// RedactURL strips credentials from a URL while keeping scheme, host and path readable.
// Strings that do not parse as URLs fall back to RedactSensitiveData.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return RedactSensitiveData(raw)
	}

	if u.User == nil {
		return u.String()
	}

	userinfo := u.User.Username()
	if _, hasPassword := u.User.Password(); hasPassword {
		userinfo += ":" + redacted
	} else if strings.Contains(u.Host, "sentry") {
		// Sentry DSNs carry the public key as the user name
		userinfo = redacted
	}

	u.User = nil
	return strings.Replace(u.String(), "://", "://"+userinfo+"@", 1)
}

// RedactSensitiveFields returns a copy of fields with values of sensitive keys redacted
func RedactSensitiveFields(fields []Field) []Field {
	result := make([]Field, len(fields))
	copy(result, fields)

	for i := range result {
		keyLower := strings.ToLower(result[i].Key)
		for _, keyword := range sensitiveKeywords {
			if !strings.Contains(keyLower, keyword) {
				continue
			}
			if value, ok := result[i].Value.(string); ok && value != "" {
				result[i].Value = redacted
			}
			break
		}
	}

	return result
}
