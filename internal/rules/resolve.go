package rules

import (
	"strconv"
	"strings"
)

// Resolve walks a dotted field path through nested maps and arrays and
// returns the value it lands on, or nil if any segment misses. Arrays are
// indexed only when the segment parses as a non-negative integer. Pure
// function of (data, path); never panics.
func Resolve(data map[string]interface{}, path string) interface{} {
	if path == "" || data == nil {
		return nil
	}

	var current interface{} = data
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			next, ok := node[segment]
			if !ok {
				return nil
			}
			current = next

		case []interface{}:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil
			}
			current = node[idx]

		default:
			// Intermediate is a scalar or nil; the path dead-ends.
			return nil
		}
	}

	return current
}
