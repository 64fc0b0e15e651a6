package conditions

import (
	"fmt"
	"strings"
)

// Truthy interprets a queried scalar as a boolean. Booleans pass through,
// numbers (including numeric strings) are true unless zero, and the strings
// "true"/"yes" and "false"/"no" are recognised case-insensitively. Anything
// else is an error.
func Truthy(v any) (bool, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	if f, err := toFloat(v); err == nil {
		return f != 0, nil
	}
	if s, ok := v.(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "0", "false", "no":
			return false, nil
		case "1", "true", "yes":
			return true, nil
		}
	}
	return false, fmt.Errorf("invalid boolean value: %v", v)
}
