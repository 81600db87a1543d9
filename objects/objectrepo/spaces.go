package objectrepo

import (
	"context"
	"time"

	"github.com/anyproto/anytype-object-store/docstore"
	"github.com/anyproto/anytype-object-store/domain"
	"github.com/anyproto/anytype-object-store/objects/serializer"
	"github.com/anyproto/anytype-object-store/objects/soerror"
)

// UpdateObjectsSpaces adds and removes namespaces on shareable objects. An
// object whose membership would become empty is deleted instead.
func (r *objectRepo) UpdateObjectsSpaces(ctx context.Context, objects []domain.TypeID, spacesToAdd, spacesToRemove []string, opts UpdateSpacesOptions) ([]UpdateSpacesResultItem, error) {
	if len(spacesToAdd) == 0 && len(spacesToRemove) == 0 {
		return nil, soerror.NewBadRequest("spacesToAdd or spacesToRemove must not be empty")
	}
	add := normalizeNamespaceList(spacesToAdd)
	remove := normalizeNamespaceList(spacesToRemove)
	removeSet := make(map[string]struct{}, len(remove))
	for _, ns := range remove {
		removeSet[ns] = struct{}{}
	}
	for _, ns := range add {
		if _, both := removeSet[ns]; both {
			return nil, soerror.NewBadRequestf("namespace %q cannot be in both spacesToAdd and spacesToRemove", ns)
		}
	}
	namespace := serializer.NormalizeNamespace(opts.Namespace)

	type state struct {
		err                    error
		rawID                  string
		mgetIdx                int
		bulkIdx                int
		spaces                 []string
		ifSeqNo, ifPrimaryTerm *int64
	}
	states := make([]state, len(objects))
	var mget []docstore.MGetItem
	for i, obj := range objects {
		st := &states[i]
		st.mgetIdx, st.bulkIdx = -1, -1
		if st.err = r.validateType(obj.Type); st.err != nil {
			continue
		}
		if !r.registry.IsShareable(obj.Type) {
			st.err = soerror.NewBadRequestf("%s is not a shareable type", obj.Type)
			continue
		}
		if st.rawID, st.err = r.rawID("", obj.Type, obj.ID); st.err != nil {
			continue
		}
		st.mgetIdx = len(mget)
		mget = append(mget, docstore.MGetItem{Index: r.registry.GetIndex(obj.Type), ID: st.rawID})
	}

	var docs []docstore.Doc
	if len(mget) > 0 {
		var err error
		if docs, err = r.client.MGet(ctx, docstore.MGetRequest{Items: mget}); err != nil {
			return nil, storeError(err)
		}
	}

	now := nowUTC()
	var ops []docstore.BulkOp
	for i, obj := range objects {
		st := &states[i]
		if st.err != nil {
			continue
		}
		doc := &docs[st.mgetIdx]
		if !doc.Found || doc.Source == nil {
			st.err = soerror.NewNotFound(obj.Type, obj.ID)
			continue
		}
		current := docNamespaces(doc)
		if !containsNamespace(current, namespace) {
			st.err = soerror.NewNotFound(obj.Type, obj.ID)
			continue
		}
		st.spaces = applySpaceChanges(current, add, removeSet)
		st.ifSeqNo, st.ifPrimaryTerm = &doc.SeqNo, &doc.PrimaryTerm
		if sameStrings(current, st.spaces) {
			// nothing to write, report current membership
			continue
		}
		st.bulkIdx = len(ops)
		if len(st.spaces) == 0 {
			ops = append(ops, docstore.BulkOp{
				OpType:        docstore.OpDelete,
				Index:         r.registry.GetIndex(obj.Type),
				ID:            st.rawID,
				IfSeqNo:       st.ifSeqNo,
				IfPrimaryTerm: st.ifPrimaryTerm,
			})
			continue
		}
		source := make(map[string]any, len(doc.Source))
		for k, v := range doc.Source {
			source[k] = v
		}
		source[domain.RawFieldNamespaces] = toAnyList(st.spaces)
		source[domain.RawFieldUpdatedAt] = now.Format(time.RFC3339Nano)
		ops = append(ops, docstore.BulkOp{
			OpType:        docstore.OpIndex,
			Index:         r.registry.GetIndex(obj.Type),
			ID:            st.rawID,
			Source:        source,
			IfSeqNo:       st.ifSeqNo,
			IfPrimaryTerm: st.ifPrimaryTerm,
		})
	}

	var bulkRes *docstore.BulkResult
	if len(ops) > 0 {
		var err error
		if bulkRes, err = r.client.Bulk(ctx, docstore.BulkRequest{Ops: ops}); err != nil {
			return nil, storeError(err)
		}
	}

	items := make([]UpdateSpacesResultItem, len(objects))
	for i, obj := range objects {
		st := &states[i]
		items[i] = UpdateSpacesResultItem{Type: obj.Type, ID: obj.ID}
		if st.err != nil {
			items[i].Error = st.err
			continue
		}
		if st.bulkIdx >= 0 {
			if res := &bulkRes.Items[st.bulkIdx]; !res.OK() {
				items[i].Error = writeError(obj.Type, obj.ID, res)
				continue
			}
		}
		items[i].Spaces = st.spaces
	}
	return items, nil
}

// DeleteByNamespace removes a namespace from every object it owns or
// shares: solely-owned objects are deleted, shared ones shrink their
// membership. Returns the number of objects touched.
func (r *objectRepo) DeleteByNamespace(ctx context.Context, namespace string) (int64, error) {
	namespace = serializer.NormalizeNamespace(namespace)
	if namespace == "" {
		return 0, soerror.NewBadRequest("the default namespace cannot be deleted")
	}
	if namespace == allNamespaces {
		return 0, soerror.NewBadRequest("a wildcard namespace cannot be deleted")
	}
	query := docstore.Bool{
		Should: []docstore.Query{
			docstore.Term{Field: domain.RawFieldNamespace, Value: namespace},
			docstore.Term{Field: domain.RawFieldNamespaces, Value: namespace},
		},
		MinimumShouldMatch: 1,
	}
	res, err := r.client.UpdateByQuery(ctx, docstore.UpdateByQueryRequest{
		Indexes:           r.registry.AllIndexes(),
		Query:             query,
		Mutations:         []docstore.Mutation{docstore.RemoveNamespace{Namespace: namespace, DeleteIfLast: true}},
		ProceedOnConflict: true,
	})
	if err != nil {
		return 0, storeError(err)
	}
	return res.Updated + res.Deleted, nil
}

// applySpaceChanges keeps the existing order, appends new additions and
// drops removals. A wildcard membership absorbs additions.
func applySpaceChanges(current, add []string, remove map[string]struct{}) []string {
	out := make([]string, 0, len(current)+len(add))
	wildcard := false
	for _, ns := range current {
		if _, drop := remove[ns]; drop {
			continue
		}
		if ns == allNamespaces {
			wildcard = true
		}
		out = append(out, ns)
	}
	if wildcard {
		return out
	}
	for _, ns := range add {
		found := false
		for _, have := range out {
			if have == ns {
				found = true
				break
			}
		}
		if !found {
			out = append(out, ns)
		}
	}
	return out
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func toAnyList(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
