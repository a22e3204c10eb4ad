// Package redact masks personally identifying values in free text and
// JSON payloads before they leave the process on outward surfaces.
package redact

import "regexp"

// Token replaces every detected identifier.
const Token = "***redacted***"

var patterns = []*regexp.Regexp{
	// Email addresses.
	regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
	// Phone numbers, international or local, with separators.
	regexp.MustCompile(`\+?\d[\d\-\s]{7,}\d`),
	// Passport numbers.
	regexp.MustCompile(`\b[A-Z]{1,2}\d{6,9}\b`),
	// 11-digit national identity numbers.
	regexp.MustCompile(`\b\d{11}\b`),
}

// Text masks every identifier occurrence in s.
func Text(s string) string {
	for _, pattern := range patterns {
		s = pattern.ReplaceAllString(s, Token)
	}
	return s
}

// Payload walks a decoded JSON value and masks every string in it.
// Maps and slices are rebuilt; non-string scalars pass through.
func Payload(value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		return Text(v)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, item := range v {
			out[key] = Payload(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = Payload(item)
		}
		return out
	default:
		return v
	}
}
