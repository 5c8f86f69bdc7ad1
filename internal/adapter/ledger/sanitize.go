package ledger

import (
	"encoding/json"
	"strconv"
	"strings"
)

// DefaultForbiddenFields are scrubbed from every payload before it leaves this
// package, at any nesting depth. Matching is case-insensitive on the wire key.
var DefaultForbiddenFields = []string{
	"password",
	"password_hash",
	"passwordhash",
	"email",
	"national_id",
	"nationalid",
	"secret",
}

// Scrub recursively removes every field whose lowercased key is in the
// forbidden set. Arrays and nested objects are walked; other values pass
// through untouched.
func Scrub(v any, forbidden []string) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if forbiddenKey(k, forbidden) {
				continue
			}
			out[k] = Scrub(inner, forbidden)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = Scrub(inner, forbidden)
		}
		return out
	default:
		return v
	}
}

func forbiddenKey(key string, forbidden []string) bool {
	lower := strings.ToLower(key)
	for _, f := range forbidden {
		if lower == f {
			return true
		}
	}
	return false
}

// Normalize recursively rewrites keys from the wire convention (snake_case)
// to the client convention (camelCase), and coerces every value under an "id"
// key, or a key ending in "Id", to a string. Numeric identifiers from the
// backend must never leak into the client as numbers: identifiers are compared
// as strings everywhere in this codebase.
func Normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			key := snakeToCamel(k)
			inner = Normalize(inner)
			if isIDKey(key) {
				inner = coerceID(inner)
			}
			out[key] = inner
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = Normalize(inner)
		}
		return out
	default:
		return v
	}
}

func snakeToCamel(s string) string {
	if !strings.Contains(s, "_") {
		return s
	}
	parts := strings.Split(s, "_")
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 {
			b.WriteString(p)
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

func isIDKey(key string) bool {
	return key == "id" || strings.HasSuffix(key, "Id") || strings.HasSuffix(key, "ID")
}

func coerceID(v any) any {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		// json numbers decode as float64; identifiers from the wire are integral
		return strconv.FormatFloat(id, 'f', -1, 64)
	case json.Number:
		return id.String()
	default:
		return v
	}
}
