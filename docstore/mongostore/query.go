package mongostore

import (
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/anyproto/anytype-object-store/docstore"
)

func errConflictAbort(index, id string) error {
	return fmt.Errorf("mongostore: conflicting concurrent write on %s/%s", index, id)
}

func fieldPath(field string) string {
	if field == "_id" {
		return "_id"
	}
	return "source." + field
}

// compileQuery translates the structured query tree into a mongo filter.
func compileQuery(q docstore.Query) bson.M {
	switch t := q.(type) {
	case nil, docstore.MatchAll:
		return bson.M{}
	case docstore.Term:
		return bson.M{fieldPath(t.Field): t.Value}
	case docstore.Terms:
		return bson.M{fieldPath(t.Field): bson.M{"$in": t.Values}}
	case docstore.Exists:
		return bson.M{fieldPath(t.Field): bson.M{"$exists": true}}
	case docstore.Prefix:
		return bson.M{fieldPath(t.Field): bson.M{"$regex": "^" + regexp.QuoteMeta(t.Value)}}
	case docstore.Match:
		var or []bson.M
		pattern := regexp.QuoteMeta(t.Text)
		for _, wf := range t.Fields {
			or = append(or, bson.M{fieldPath(wf.Field): bson.M{"$regex": pattern, "$options": "i"}})
		}
		if len(or) == 0 {
			return bson.M{}
		}
		return bson.M{"$or": or}
	case docstore.Range:
		cond := bson.M{}
		if t.GT != nil {
			cond["$gt"] = t.GT
		}
		if t.GTE != nil {
			cond["$gte"] = t.GTE
		}
		if t.LT != nil {
			cond["$lt"] = t.LT
		}
		if t.LTE != nil {
			cond["$lte"] = t.LTE
		}
		return bson.M{fieldPath(t.Field): cond}
	case docstore.HasReference:
		return bson.M{"source.references": bson.M{"$elemMatch": bson.M{"type": t.Type, "id": t.ID}}}
	case docstore.Bool:
		return compileBool(t)
	}
	return bson.M{}
}

func compileBool(q docstore.Bool) bson.M {
	var and []bson.M
	for _, sub := range q.Must {
		and = append(and, compileQuery(sub))
	}
	for _, sub := range q.Filter {
		and = append(and, compileQuery(sub))
	}
	if len(q.MustNot) > 0 {
		var nor []bson.M
		for _, sub := range q.MustNot {
			nor = append(nor, compileQuery(sub))
		}
		and = append(and, bson.M{"$nor": nor})
	}
	if len(q.Should) > 0 {
		// minimum-should-match beyond one is not expressible as a single
		// mongo operator; everything this module generates uses one
		var or []bson.M
		for _, sub := range q.Should {
			or = append(or, compileQuery(sub))
		}
		if q.MinimumShouldMatch > 0 || len(q.Must) == 0 && len(q.Filter) == 0 {
			and = append(and, bson.M{"$or": or})
		}
	}
	switch len(and) {
	case 0:
		return bson.M{}
	case 1:
		return and[0]
	default:
		return bson.M{"$and": and}
	}
}

// nativelyUpdatable reports whether every mutation maps onto mongo update
// operators; conditional deletes do not.
func nativelyUpdatable(muts []docstore.Mutation) bool {
	for _, mut := range muts {
		if _, ok := mut.(docstore.RemoveNamespace); ok {
			return false
		}
	}
	return true
}

// compileMutations builds the native update document, stamping the new
// concurrency pair alongside.
func compileMutations(muts []docstore.Mutation, seqNo, primaryTerm int64) bson.M {
	set := bson.M{"seqNo": seqNo, "primaryTerm": primaryTerm}
	inc := bson.M{}
	var pulls []bson.M
	for _, mut := range muts {
		switch m := mut.(type) {
		case docstore.IncrementFields:
			for field, delta := range m.Fields {
				inc[fieldPath(field)] = delta
			}
		case docstore.SetFields:
			for field, value := range m.Fields {
				set[fieldPath(field)] = value
			}
		case docstore.MergeDoc:
			for k, v := range m.Doc {
				if sub, ok := v.(map[string]any); ok {
					for sk, sv := range sub {
						set[fieldPath(k+"."+sk)] = sv
					}
				} else {
					set[fieldPath(k)] = v
				}
			}
		case docstore.RemoveReference:
			pulls = append(pulls, bson.M{"source.references": bson.M{"type": m.Type, "id": m.ID}})
		}
	}
	update := bson.M{"$set": set}
	if len(inc) > 0 {
		update["$inc"] = inc
	}
	if len(pulls) == 1 {
		update["$pull"] = pulls[0]
	} else if len(pulls) > 1 {
		merged := bson.M{}
		for _, p := range pulls {
			for k, v := range p {
				merged[k] = v
			}
		}
		update["$pull"] = merged
	}
	return update
}

// normalizeSource rewrites bson container types into plain maps and slices
// so sources look the same from every backend.
func normalizeSource(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case primitive.M:
		return normalizeSource(t)
	case map[string]any:
		return normalizeSource(t)
	case primitive.A:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalizeValue(item)
		}
		return out
	case int32:
		return int64(t)
	default:
		return v
	}
}
