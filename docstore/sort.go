package docstore

import (
	"fmt"
	"strings"
)

// CompareSortValues orders two sort-value tuples under the given sort spec.
func CompareSortValues(a, b []any, sorts []SortField) int {
	for i := range sorts {
		var av, bv any
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		c := CompareValues(av, bv)
		if sorts[i].Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// CompareValues orders mixed scalar values; missing values sort last.
func CompareValues(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return 1
	}
	if b == nil {
		return -1
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs)
	}
	if ab, aok := a.(bool); aok {
		if bb, bok := b.(bool); bok {
			switch {
			case ab == bb:
				return 0
			case bb:
				return -1
			default:
				return 1
			}
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
