// Package logging provides slog setup and sensitive-field redaction for
// the detection engine. Threat indicators are built from raw event
// payloads and may carry card data, tokens, or subject emails; everything
// that reaches a log line goes through these helpers first.
package logging

import (
	"regexp"
	"strings"
)

// SensitiveFields contains indicator and field names whose values must be
// masked in logs.
var SensitiveFields = map[string]bool{
	"password":      true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"access_token":  true,
	"refresh_token": true,
	"session_id":    true,
	"cookie":        true,
	"authorization": true,
	"card_number":   true,
	"pan":           true,
	"cvv":           true,
	"cvc":           true,
	"iban":          true,
	"account_no":    true,
	"file_hash":     false,
	"subject":       true,
	"email":         true,
}

// MaskedValue is the string used to replace sensitive values.
const MaskedValue = "[REDACTED]"

// IsSensitiveField checks if a field name is sensitive.
func IsSensitiveField(fieldName string) bool {
	lowerField := strings.ToLower(fieldName)
	if v, ok := SensitiveFields[lowerField]; ok {
		return v
	}
	for sensitive, v := range SensitiveFields {
		if v && strings.Contains(lowerField, sensitive) {
			return true
		}
	}
	return false
}

// MaskSensitiveValue masks a value if the field name is sensitive.
func MaskSensitiveValue(fieldName, value string) string {
	if value == "" {
		return value
	}
	if IsSensitiveField(fieldName) {
		return MaskedValue
	}
	return value
}

// MaskEmail partially masks an email address, keeping the domain.
func MaskEmail(email string) string {
	if email == "" {
		return ""
	}
	atIdx := strings.Index(email, "@")
	if atIdx <= 0 {
		return MaskedValue
	}
	local := email[:atIdx]
	domain := email[atIdx:]
	if len(local) <= 2 {
		return MaskedValue + domain
	}
	return local[:1] + "***" + local[len(local)-1:] + domain
}

// MaskCardNumber keeps the last four digits of a card number.
func MaskCardNumber(pan string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, pan)
	if len(digits) < 12 {
		return MaskedValue
	}
	return "****" + digits[len(digits)-4:]
}

// SensitivePatterns matches secrets embedded in raw strings, such as
// user agents or request paths copied into indicators.
var SensitivePatterns = []*regexp.Regexp{
	// key=value style secrets
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password|auth)['":\s]*[=:]\s*['"]?[a-zA-Z0-9_\-.]+['"]?`),
	// bearer tokens
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-.]+`),
	// card numbers, 13-19 digits with optional separators
	regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`),
	// payment provider key prefixes
	regexp.MustCompile(`(?i)(sk_live_|pk_live_|sk_test_|pk_test_)[a-zA-Z0-9]+`),
}

// MaskSensitivePatterns masks secret patterns in a raw string.
func MaskSensitivePatterns(s string) string {
	result := s
	for _, pattern := range SensitivePatterns {
		result = pattern.ReplaceAllString(result, MaskedValue)
	}
	return result
}

// RedactIndicators returns a copy of a threat indicator map safe for
// logging. Keys are preserved; sensitive values are masked and all
// values are scrubbed for embedded secrets.
func RedactIndicators(indicators map[string]string) map[string]string {
	if indicators == nil {
		return nil
	}
	out := make(map[string]string, len(indicators))
	for k, v := range indicators {
		if IsSensitiveField(k) {
			out[k] = MaskedValue
			continue
		}
		out[k] = MaskSensitivePatterns(v)
	}
	return out
}
