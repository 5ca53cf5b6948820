package tools

import (
	"fmt"
	"math"
	"strings"
)

// stringArg returns a required, non-blank string argument.
func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string, got %T", key, v)
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("argument %q is empty", key)
	}
	return s, nil
}

// intArg returns an optional integer argument clamped to [lo, hi]. Decoded
// JSON numbers arrive as float64; numeric strings from weaker models are
// accepted too.
func intArg(args map[string]any, key string, def, lo, hi int) int {
	var n int
	switch v := args[key].(type) {
	case float64:
		n = int(math.Round(v))
	case int:
		n = v
	case string:
		if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
			return def
		}
	default:
		return def
	}

	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
