package changedetect

import (
	"sort"
	"strings"
)

// numericEqual implements spec.md §4.H's numeric equality rule: equal if
// |a-b| <= 1e-6 * max(1, |a|, |b|).
func numericEqual(a, b float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	maxAbs := 1.0
	if abs(a) > maxAbs {
		maxAbs = abs(a)
	}
	if abs(b) > maxAbs {
		maxAbs = abs(b)
	}
	return diff <= 1e-6*maxAbs
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// intEqual implements the exact-integer-equality rule used for
// timestamps, after normalization (spec.md §4.H).
func intEqual(a, b int64) bool { return a == b }

// stringEqual is case-insensitive and trims surrounding whitespace.
func stringEqual(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// optionalIntEqual treats nil vs nil as equal, and nil vs non-nil as
// unequal, per "null vs. missing: treated as equal" (spec.md §4.H).
func optionalIntEqual(a, b *int64) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return intEqual(*a, *b)
}

// structuralEqual deep-compares two values after recursively sorting map
// keys, used for the embedded Subtask slices (spec.md §4.H). A missing key
// in one map and an explicit nil in the other are treated as equal.
func structuralEqual(a, b any) bool {
	return deepEqualNormalized(normalizeStructural(a), normalizeStructural(b))
}

// normalizeStructural recursively converts a into a form with
// deterministically ordered map keys (as a slice of key/value pairs) so
// two structurally-identical-but-differently-ordered values compare equal.
func normalizeStructural(v any) any {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			if val[k] == nil {
				continue // null vs missing treated as equal: drop nulls entirely
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]kv, 0, len(keys))
		for _, k := range keys {
			out = append(out, kv{k, normalizeStructural(val[k])})
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeStructural(item)
		}
		return out
	default:
		return v
	}
}

type kv struct {
	Key   string
	Value any
}

func deepEqualNormalized(a, b any) bool {
	switch av := a.(type) {
	case []kv:
		bv, ok := b.([]kv)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i].Key != bv[i].Key || !deepEqualNormalized(av[i].Value, bv[i].Value) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqualNormalized(av[i], bv[i]) {
				return false
			}
		}
		return true
	case float64:
		bv, ok := toFloat(b)
		return ok && numericEqual(av, bv)
	case string:
		bv, ok := b.(string)
		return ok && stringEqual(av, bv)
	default:
		return a == b
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
