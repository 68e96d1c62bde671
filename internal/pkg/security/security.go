// Package security provides input validation for evaluation requests and
// sanitizing of untrusted text before it is logged.
package security

import (
	"strings"
	"unicode"
)

// DefaultLogLength is the rune budget of SanitizeForLog.
const DefaultLogLength = 200

// SanitizeForLog escapes line breaks and tabs, drops other control
// characters and truncates s to DefaultLogLength runes.
func SanitizeForLog(s string) string {
	return SanitizeForLogWithLength(s, DefaultLogLength)
}

// SanitizeForLogWithLength is SanitizeForLog with a custom length.
func SanitizeForLogWithLength(s string, maxLen int) string {
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(min(len(s), maxLen+10))

	count := 0
	for _, r := range s {
		if count >= maxLen {
			b.WriteString("...")
			break
		}

		switch r {
		case '\n':
			b.WriteString("\\n")
			count += 2
		case '\r':
			b.WriteString("\\r")
			count += 2
		case '\t':
			b.WriteString("\\t")
			count += 2
		default:
			if !unicode.IsControl(r) {
				b.WriteRune(r)
				count++
			}
		}
	}
	return b.String()
}

// SanitizeQuery removes control characters, turns line breaks and tabs into
// spaces and trims the result.
func SanitizeQuery(query string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			return ' '
		case unicode.IsControl(r):
			return -1
		default:
			return r
		}
	}, query)
	return strings.TrimSpace(sanitized)
}

// MaskSecret keeps the last four characters of a credential.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
