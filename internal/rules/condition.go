package rules

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/open-leads/talon/internal/domain"
)

// EvalCondition evaluates one (value, operator, target) triple. It is a
// total function: every input has a defined boolean result and nothing
// escapes as a panic or error. Type mismatches, malformed regex patterns,
// and unknown operators all evaluate false.
func EvalCondition(value interface{}, op domain.Operator, target interface{}) bool {
	switch op {
	case domain.OpEquals:
		return strictEqual(value, target)

	case domain.OpNotEquals:
		return !strictEqual(value, target)

	case domain.OpGreaterThan, domain.OpLessThan, domain.OpGreaterEqual, domain.OpLessEqual:
		v, vok := toFloat(value)
		t, tok := toFloat(target)
		if !vok || !tok {
			return false
		}
		switch op {
		case domain.OpGreaterThan:
			return v > t
		case domain.OpLessThan:
			return v < t
		case domain.OpGreaterEqual:
			return v >= t
		default:
			return v <= t
		}

	case domain.OpContains, domain.OpNotContains, domain.OpStartsWith, domain.OpEndsWith:
		vs, vok := value.(string)
		ts, tok := target.(string)
		if !vok || !tok {
			return false
		}
		vs = strings.ToLower(vs)
		ts = strings.ToLower(ts)
		switch op {
		case domain.OpContains:
			return strings.Contains(vs, ts)
		case domain.OpNotContains:
			return !strings.Contains(vs, ts)
		case domain.OpStartsWith:
			return strings.HasPrefix(vs, ts)
		default:
			return strings.HasSuffix(vs, ts)
		}

	case domain.OpRegex:
		vs, vok := value.(string)
		pattern, tok := target.(string)
		if !vok || !tok {
			return false
		}
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			// Malformed pattern is a write-time problem; at evaluation
			// time it is simply a non-match.
			return false
		}
		return re.MatchString(vs)

	case domain.OpIn, domain.OpNotIn:
		list, ok := target.([]interface{})
		if !ok {
			return false
		}
		found := false
		for _, item := range list {
			if strictEqual(value, item) {
				found = true
				break
			}
		}
		if op == domain.OpIn {
			return found
		}
		return !found

	case domain.OpExists:
		return exists(value)

	case domain.OpNotExists:
		return !exists(value)

	default:
		return false
	}
}

// EvalAll reports whether every condition in the list matches the
// activation (implicit AND). An empty list matches nothing so that a rule
// without conditions cannot fire accidentally.
func EvalAll(activation map[string]interface{}, conditions []domain.Condition) bool {
	if len(conditions) == 0 {
		return false
	}
	for _, cond := range conditions {
		value := Resolve(activation, cond.Field)
		if !EvalCondition(value, cond.Operator, cond.Value) {
			return false
		}
	}
	return true
}

func exists(value interface{}) bool {
	if value == nil {
		return false
	}
	if s, ok := value.(string); ok && s == "" {
		return false
	}
	return true
}

// strictEqual is type-sensitive equality with one concession: numeric
// values compare by magnitude across Go's numeric kinds, since JSON
// decoding and in-process construction disagree on int vs float64.
func strictEqual(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		return bok && af == bf
	}
	if _, bok := toFloat(b); bok {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// toFloat normalizes any numeric kind to float64. Booleans and strings are
// not numbers here; the base-weight contribution rules handle those.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
