package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// NormalizeKey converts a key value scanned from any backend to a canonical
// string, so lookups agree whether a driver returned string, []byte or int64.
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int:
		return strconv.Itoa(t)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// keySep cannot appear in normalized identifiers read from source tables.
const keySep = "\x1f"

// CompositeKey joins normalized parts into one lookup key.
func CompositeKey(parts ...any) string {
	if len(parts) == 1 {
		return NormalizeKey(parts[0])
	}
	s := make([]string, len(parts))
	for i, p := range parts {
		s[i] = NormalizeKey(p)
	}
	return strings.Join(s, keySep)
}
