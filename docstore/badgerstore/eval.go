package badgerstore

import (
	"strings"

	"github.com/anyproto/anytype-object-store/docstore"
)

// evalQuery matches a source map against the structured query tree and
// returns a crude relevance score (summed boosts of matching text fields).
func evalQuery(source map[string]any, query docstore.Query) (matched bool, score float64) {
	switch q := query.(type) {
	case nil, docstore.MatchAll:
		return true, 0
	case docstore.Term:
		return anyValue(source, q.Field, func(v any) bool {
			return looseEqual(v, q.Value)
		}), 0
	case docstore.Terms:
		return anyValue(source, q.Field, func(v any) bool {
			for _, want := range q.Values {
				if looseEqual(v, want) {
					return true
				}
			}
			return false
		}), 0
	case docstore.Exists:
		return len(resolvePath(source, strings.Split(q.Field, "."))) > 0, 0
	case docstore.Prefix:
		return anyValue(source, q.Field, func(v any) bool {
			s, ok := v.(string)
			return ok && strings.HasPrefix(s, q.Value)
		}), 0
	case docstore.Match:
		text := strings.ToLower(q.Text)
		for _, wf := range q.Fields {
			if anyValue(source, wf.Field, func(v any) bool {
				s, ok := v.(string)
				return ok && strings.Contains(strings.ToLower(s), text)
			}) {
				boost := wf.Boost
				if boost == 0 {
					boost = 1
				}
				score += boost
			}
		}
		return score > 0, score
	case docstore.Range:
		return anyValue(source, q.Field, func(v any) bool {
			return inRange(v, q)
		}), 0
	case docstore.HasReference:
		refs, _ := source["references"].([]any)
		for _, r := range refs {
			m, _ := r.(map[string]any)
			if m == nil {
				continue
			}
			rt, _ := m["type"].(string)
			rid, _ := m["id"].(string)
			if rt == q.Type && rid == q.ID {
				return true, 0
			}
		}
		return false, 0
	case docstore.Bool:
		return evalBool(source, q)
	}
	return false, 0
}

func evalBool(source map[string]any, q docstore.Bool) (bool, float64) {
	var score float64
	for _, sub := range q.Must {
		ok, s := evalQuery(source, sub)
		if !ok {
			return false, 0
		}
		score += s
	}
	for _, sub := range q.Filter {
		if ok, _ := evalQuery(source, sub); !ok {
			return false, 0
		}
	}
	for _, sub := range q.MustNot {
		if ok, _ := evalQuery(source, sub); ok {
			return false, 0
		}
	}
	if len(q.Should) > 0 {
		msm := q.MinimumShouldMatch
		if msm == 0 && len(q.Must) == 0 && len(q.Filter) == 0 {
			msm = 1
		}
		var shouldMatched int
		for _, sub := range q.Should {
			if ok, s := evalQuery(source, sub); ok {
				shouldMatched++
				score += s
			}
		}
		if shouldMatched < msm {
			return false, 0
		}
	}
	return true, score
}

func anyValue(source map[string]any, field string, pred func(any) bool) bool {
	for _, v := range resolvePath(source, strings.Split(field, ".")) {
		if pred(v) {
			return true
		}
	}
	return false
}

// resolvePath walks a dotted path, fanning out over arrays, and returns all
// leaf values.
func resolvePath(v any, parts []string) []any {
	if len(parts) == 0 {
		switch t := v.(type) {
		case nil:
			return nil
		case []any:
			return t
		default:
			return []any{v}
		}
	}
	switch t := v.(type) {
	case map[string]any:
		return resolvePath(t[parts[0]], parts[1:])
	case []any:
		var out []any
		for _, item := range t {
			out = append(out, resolvePath(item, parts)...)
		}
		return out
	}
	return nil
}

func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return a == b
}

func inRange(v any, q docstore.Range) bool {
	check := func(bound any, want func(int) bool) bool {
		if bound == nil {
			return true
		}
		return want(docstore.CompareValues(v, bound))
	}
	return check(q.GT, func(c int) bool { return c > 0 }) &&
		check(q.GTE, func(c int) bool { return c >= 0 }) &&
		check(q.LT, func(c int) bool { return c < 0 }) &&
		check(q.LTE, func(c int) bool { return c <= 0 })
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
