package workflow

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/dantwoashim/flowdeck/types"
)

// ResolvePath walks a dot/bracket path into nested maps and slices.
// Supported syntax: "a.b.c", "a.items[2].id", "a[0][1]". The second
// return value reports whether every segment resolved.
func ResolvePath(root any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	current := root
	for _, seg := range splitPathSegments(path) {
		if seg.isIndex {
			list, ok := current.([]any)
			if !ok || seg.index < 0 || seg.index >= len(list) {
				return nil, false
			}
			current = list[seg.index]
			continue
		}
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg.key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

type pathSegment struct {
	key     string
	index   int
	isIndex bool
}

func splitPathSegments(path string) []pathSegment {
	var segs []pathSegment
	for _, part := range strings.Split(path, ".") {
		for {
			open := strings.IndexByte(part, '[')
			if open < 0 {
				if part != "" {
					segs = append(segs, pathSegment{key: part})
				}
				break
			}
			if open > 0 {
				segs = append(segs, pathSegment{key: part[:open]})
			}
			closeIdx := strings.IndexByte(part[open:], ']')
			if closeIdx < 0 {
				// Malformed bracket, treat the remainder as a literal key.
				segs = append(segs, pathSegment{key: part[open:]})
				break
			}
			idxStr := part[open+1 : open+closeIdx]
			idx, err := strconv.Atoi(idxStr)
			if err != nil {
				segs = append(segs, pathSegment{key: idxStr})
			} else {
				segs = append(segs, pathSegment{index: idx, isIndex: true})
			}
			part = part[open+closeIdx+1:]
			if part == "" {
				break
			}
		}
	}
	return segs
}

// EvaluateCondition evaluates a branch condition against the composed
// runtime context. Unresolvable paths and type mismatches make the
// condition false rather than raising: traversal must stay tolerant of
// arbitrary contexts.
func EvaluateCondition(cond types.BranchCondition, ctx map[string]any) bool {
	if cond.Path == types.AlwaysPath {
		return true
	}
	value, found := ResolvePath(ctx, cond.Path)

	switch cond.Operator {
	case types.OpExists:
		return found
	case types.OpNotExists:
		return !found
	}
	if !found {
		return false
	}

	switch cond.Operator {
	case types.OpStringEquals:
		return stringify(value) == stringify(cond.Operand)
	case types.OpStringContains:
		return strings.Contains(stringify(value), stringify(cond.Operand))
	case types.OpNumberCompare:
		lhs, lok := toFloat(value)
		rhs, rok := toFloat(cond.Operand)
		if !lok || !rok {
			return false
		}
		return compareNumbers(lhs, rhs, cond.Comparator)
	case types.OpRegexMatch:
		re, err := regexp.Compile(stringify(cond.Operand))
		if err != nil {
			return false
		}
		return re.MatchString(stringify(value))
	default:
		return false
	}
}

func compareNumbers(lhs, rhs float64, comparator string) bool {
	switch comparator {
	case "gt":
		return lhs > rhs
	case "gte":
		return lhs >= rhs
	case "lt":
		return lhs < rhs
	case "lte":
		return lhs <= rhs
	case "neq":
		return lhs != rhs
	case "eq", "":
		return lhs == rhs
	default:
		return false
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
