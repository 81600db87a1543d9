package objectrepo

import (
	"context"

	"github.com/anyproto/anytype-object-store/docstore"
	"github.com/anyproto/anytype-object-store/domain"
	"github.com/anyproto/anytype-object-store/objects/serializer"
	"github.com/anyproto/anytype-object-store/objects/soerror"
)

// RemoveReferencesTo sweeps every object visible in the namespace and drops
// its references to (typ, id). Concurrent writers racing the sweep surface
// as a conflict after the sweep completes.
func (r *objectRepo) RemoveReferencesTo(ctx context.Context, typ, id string, opts RemoveReferencesOptions) (int64, error) {
	namespace := serializer.NormalizeNamespace(opts.Namespace)
	allTypes := r.registry.AllTypes()
	should := make([]docstore.Query, 0, len(allTypes))
	for _, t := range allTypes {
		should = append(should, r.typeClause(t, []string{namespaceString(namespace)}))
	}
	query := docstore.Bool{
		Filter: []docstore.Query{
			docstore.HasReference{Type: typ, ID: id},
			docstore.Bool{Should: should, MinimumShouldMatch: 1},
		},
	}
	res, err := r.client.UpdateByQuery(ctx, docstore.UpdateByQueryRequest{
		Indexes:           r.registry.AllIndexes(),
		Query:             query,
		Mutations:         []docstore.Mutation{docstore.RemoveReference{Type: typ, ID: id}},
		ProceedOnConflict: true,
	})
	if err != nil {
		return 0, storeError(err)
	}
	if res.VersionConflicts > 0 {
		return res.Updated, soerror.NewConflictMsg(typ, id, "references could not be fully removed due to concurrent updates")
	}
	return res.Updated, nil
}

// CollectMultiNamespaceReferences walks the reference graph out from the
// requested shareable objects, collecting each reachable shareable object
// with its namespaces and the objects pointing at it.
func (r *objectRepo) CollectMultiNamespaceReferences(ctx context.Context, objects []domain.TypeID, opts CollectOptions) ([]CollectedObject, error) {
	namespace := serializer.NormalizeNamespace(opts.Namespace)
	for _, obj := range objects {
		if err := r.validateType(obj.Type); err != nil {
			return nil, err
		}
		if !r.registry.IsMultiNamespace(obj.Type) {
			return nil, soerror.NewBadRequestf("%s is not a multi-namespace type", obj.Type)
		}
	}

	collected := make(map[domain.TypeID]*CollectedObject)
	var order []domain.TypeID
	inbound := make(map[domain.TypeID][]domain.TypeID)
	queue := append([]domain.TypeID(nil), objects...)

	for len(queue) > 0 {
		var batch []domain.TypeID
		var mget []docstore.MGetItem
		for _, node := range queue {
			if _, seen := collected[node]; seen {
				continue
			}
			rawID, err := r.rawID("", node.Type, node.ID)
			if err != nil {
				return nil, err
			}
			collected[node] = &CollectedObject{Type: node.Type, ID: node.ID}
			order = append(order, node)
			batch = append(batch, node)
			mget = append(mget, docstore.MGetItem{Index: r.registry.GetIndex(node.Type), ID: rawID})
		}
		queue = queue[:0]
		if len(batch) == 0 {
			break
		}
		docs, err := r.client.MGet(ctx, docstore.MGetRequest{Items: mget})
		if err != nil {
			return nil, storeError(err)
		}
		for i, node := range batch {
			doc := &docs[i]
			entry := collected[node]
			if !doc.Found || doc.Source == nil {
				entry.IsMissing = true
				continue
			}
			spaces := docNamespaces(doc)
			// objects outside the requesting namespace read as missing, and
			// their references are not followed
			if !containsNamespace(spaces, namespace) {
				entry.IsMissing = true
				continue
			}
			entry.Spaces = spaces
			for _, ref := range serializer.ReferencesFromRaw(doc.Source[domain.RawFieldReferences]) {
				target := domain.TypeID{Type: ref.Type, ID: ref.ID}
				if !r.registry.IsMultiNamespace(ref.Type) {
					continue
				}
				inbound[target] = append(inbound[target], node)
				if _, seen := collected[target]; !seen {
					queue = append(queue, target)
				}
			}
		}
	}

	result := make([]CollectedObject, 0, len(order))
	for _, node := range order {
		entry := collected[node]
		entry.InboundReferences = inbound[node]
		result = append(result, *entry)
	}
	return result, nil
}
