// Package redact masks sensitive values in structured data before they are
// logged, traced, or shown to users. Matching is by key name, not by value
// inspection: any field whose key contains a sensitive pattern (token, secret,
// password, ...) is masked down to its last four characters.
package redact

import "strings"

// defaultPatterns are matched case-insensitively as substrings of field keys.
var defaultPatterns = []string{
	"token",
	"secret",
	"password",
	"passwd",
	"key",
	"authorization",
	"credential",
	"signature",
}

// Redactor masks values whose keys match a sensitive pattern set.
// The zero value is not usable; use New or Default.
type Redactor struct {
	patterns []string
}

// Default returns a redactor with the built-in pattern set.
func Default() *Redactor {
	return New(nil)
}

// New returns a redactor with extra patterns appended to the built-in set.
// Patterns are lowercased; matching is case-insensitive substring match.
func New(extra []string) *Redactor {
	patterns := make([]string, 0, len(defaultPatterns)+len(extra))
	patterns = append(patterns, defaultPatterns...)
	for _, p := range extra {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			patterns = append(patterns, p)
		}
	}
	return &Redactor{patterns: patterns}
}

// SensitiveKey reports whether the key matches the pattern set.
func (r *Redactor) SensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, p := range r.patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Mask returns the masked form of a sensitive value: "***" plus the last four
// characters. Values shorter than four characters are fully masked.
func Mask(value string) string {
	if len(value) < 4 {
		return "***"
	}
	return "***" + value[len(value)-4:]
}

// Value returns a deep copy of v with every scalar under a sensitive key
// masked. Maps and slices are recursed into; all other values pass through
// unchanged. The input is never mutated.
func (r *Redactor) Value(v any) any {
	return r.walk("", v)
}

// Fields redacts a flat field map, the shape handed to the structured logger.
func (r *Redactor) Fields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = r.walk(k, v)
	}
	return out
}

func (r *Redactor) walk(key string, v any) any {
	switch vv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(vv))
		for k, inner := range vv {
			out[k] = r.walk(k, inner)
		}
		return out
	case []any:
		out := make([]any, len(vv))
		for i, inner := range vv {
			// Elements inherit the containing key: a slice under "tokens"
			// holds sensitive scalars.
			out[i] = r.walk(key, inner)
		}
		return out
	case string:
		if key != "" && r.SensitiveKey(key) {
			return Mask(vv)
		}
		return vv
	default:
		if key != "" && r.SensitiveKey(key) {
			return "***"
		}
		return v
	}
}
