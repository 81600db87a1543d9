package badgerstore

import (
	"fmt"
	"sort"
	"strings"

	"github.com/anyproto/anytype-object-store/docstore"
)

const defaultTermsSize = 10

func computeAggs(hits []docstore.Doc, aggs map[string]docstore.Aggregation) map[string]docstore.AggResult {
	out := make(map[string]docstore.AggResult, len(aggs))
	for name, agg := range aggs {
		out[name] = computeAgg(hits, agg)
	}
	return out
}

func computeAgg(hits []docstore.Doc, agg docstore.Aggregation) docstore.AggResult {
	parts := strings.Split(agg.Field, ".")
	switch agg.Kind {
	case docstore.AggTerms:
		return termsAgg(hits, parts, agg.Size)
	case docstore.AggValueCount:
		var count int64
		for _, hit := range hits {
			count += int64(len(resolvePath(hit.Source, parts)))
		}
		return docstore.AggResult{Value: float64(count)}
	default:
		return metricAgg(hits, parts, agg.Kind)
	}
}

func termsAgg(hits []docstore.Doc, parts []string, size int) docstore.AggResult {
	if size <= 0 {
		size = defaultTermsSize
	}
	counts := map[any]int64{}
	for _, hit := range hits {
		for _, v := range resolvePath(hit.Source, parts) {
			counts[v]++
		}
	}
	buckets := make([]docstore.AggBucket, 0, len(counts))
	for key, count := range counts {
		buckets = append(buckets, docstore.AggBucket{Key: key, DocCount: count})
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].DocCount != buckets[j].DocCount {
			return buckets[i].DocCount > buckets[j].DocCount
		}
		return fmt.Sprint(buckets[i].Key) < fmt.Sprint(buckets[j].Key)
	})
	if len(buckets) > size {
		buckets = buckets[:size]
	}
	return docstore.AggResult{Buckets: buckets}
}

func metricAgg(hits []docstore.Doc, parts []string, kind docstore.AggKind) docstore.AggResult {
	var (
		value float64
		seen  bool
	)
	for _, hit := range hits {
		for _, v := range resolvePath(hit.Source, parts) {
			f, ok := toFloat(v)
			if !ok {
				continue
			}
			if !seen {
				value, seen = f, true
				continue
			}
			switch kind {
			case docstore.AggMax:
				if f > value {
					value = f
				}
			case docstore.AggMin:
				if f < value {
					value = f
				}
			case docstore.AggSum:
				value += f
			}
		}
	}
	return docstore.AggResult{Value: value}
}
