package logging

import (
	"encoding/json"
	"regexp"
	"strings"
)

const RedactedValue = "[REDACTED]"

// Default sensitive field names (case-insensitive).
var defaultSensitiveFields = map[string]bool{
	"password":      true,
	"passwd":        true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"api-key":       true,
	"authorization": true,
	"auth":          true,
	"credential":    true,
	"credentials":   true,
	"card_number":   true,
	"cardnumber":    true,
	"cvv":           true,
	"pin":           true,
	"private_key":   true,
	"privatekey":    true,
	"access_token":  true,
	"refresh_token": true,
	"bearer":        true,
}

// Default patterns for sensitive data in strings.
var defaultSensitivePatterns = []*regexp.Regexp{
	// Password in various formats
	regexp.MustCompile(`(?i)password["']?\s*[:=]\s*["']?[^\s"',}]+`),
	// Bearer tokens
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9\-_\.]+`),
	// API keys (common formats)
	regexp.MustCompile(`(?i)api[_-]?key["']?\s*[:=]\s*["']?[a-zA-Z0-9\-_]+`),
	// JWT tokens
	regexp.MustCompile(`eyJ[a-zA-Z0-9\-_]+\.eyJ[a-zA-Z0-9\-_]+\.[a-zA-Z0-9\-_]+`),
	// Generic secret/token patterns
	regexp.MustCompile(`(?i)secret["']?\s*[:=]\s*["']?[^\s"',}]+`),
}

// phonePattern matches international and local phone numbers with at least
// eight digits, the shortest subscriber number the channel providers emit.
var phonePattern = regexp.MustCompile(`\+?\d[\d\s\-]{6,14}\d`)

// phoneFieldNames are JSON field names whose values are masked as phone numbers.
var phoneFieldNames = map[string]bool{
	"phone":        true,
	"phone_number": true,
	"phonenumber":  true,
	"msisdn":       true,
	"to":           true,
	"recipient":    true,
}

// Redactor handles redaction of sensitive data in log output and cached
// response payloads.
type Redactor struct {
	sensitiveFields   map[string]bool
	sensitivePatterns []*regexp.Regexp
}

// NewRedactor creates a new Redactor with default settings.
func NewRedactor() *Redactor {
	r := &Redactor{
		sensitiveFields:   make(map[string]bool, len(defaultSensitiveFields)),
		sensitivePatterns: make([]*regexp.Regexp, 0, len(defaultSensitivePatterns)),
	}
	for k, v := range defaultSensitiveFields {
		r.sensitiveFields[k] = v
	}
	r.sensitivePatterns = append(r.sensitivePatterns, defaultSensitivePatterns...)
	return r
}

// AddSensitiveField registers an additional field name to redact.
func (r *Redactor) AddSensitiveField(name string) {
	r.sensitiveFields[strings.ToLower(name)] = true
}

// IsSensitiveField reports whether the field name should be redacted.
func (r *Redactor) IsSensitiveField(name string) bool {
	return r.sensitiveFields[strings.ToLower(name)]
}

// RedactString applies the sensitive patterns to a raw string.
func (r *Redactor) RedactString(s string) string {
	for _, p := range r.sensitivePatterns {
		s = p.ReplaceAllString(s, RedactedValue)
	}
	return s
}

// MaskPhone masks all but the last three digits of a phone number.
func MaskPhone(phone string) string {
	digits := 0
	for _, c := range phone {
		if c >= '0' && c <= '9' {
			digits++
		}
	}
	if digits <= 3 {
		return phone
	}
	keep := 3
	out := []rune(phone)
	seen := 0
	for i := 0; i < len(out); i++ {
		if out[i] >= '0' && out[i] <= '9' {
			seen++
			if seen <= digits-keep {
				out[i] = '*'
			}
		}
	}
	return string(out)
}

// RedactJSON walks a JSON document, replacing sensitive field values with
// RedactedValue and masking phone-number fields. Invalid JSON is returned
// after pattern-based string redaction only.
func (r *Redactor) RedactJSON(raw []byte) []byte {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return []byte(r.RedactString(string(raw)))
	}
	doc = r.redactValue("", doc)
	out, err := json.Marshal(doc)
	if err != nil {
		return []byte(RedactedValue)
	}
	return out
}

func (r *Redactor) redactValue(field string, v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, inner := range val {
			val[k] = r.redactValue(k, inner)
		}
		return val
	case []any:
		for i, inner := range val {
			val[i] = r.redactValue(field, inner)
		}
		return val
	case string:
		lower := strings.ToLower(field)
		if r.sensitiveFields[lower] {
			return RedactedValue
		}
		if phoneFieldNames[lower] && phonePattern.MatchString(val) {
			return MaskPhone(val)
		}
		return r.RedactString(val)
	default:
		if r.sensitiveFields[strings.ToLower(field)] {
			return RedactedValue
		}
		return v
	}
}
