package objectrepo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/anyproto/anytype-object-store/docstore"
	"github.com/anyproto/anytype-object-store/domain"
	"github.com/anyproto/anytype-object-store/objects/serializer"
	"github.com/anyproto/anytype-object-store/objects/soerror"
	"github.com/anyproto/anytype-object-store/objects/soversion"
)

// Bulk operations run in three phases: validate each object (invalid ones
// keep their positional slot but never reach the store), one MGet preflight
// for the objects that need an existence or membership check, then one Bulk
// request for the survivors. Results are zipped back into request order.

type bulkCreateState struct {
	obj   BulkCreateObject
	id    string
	rawID string
	err   error
	// preflightIdx / bulkIdx are slots in the phase requests, -1 when the
	// object does not participate.
	preflightIdx           int
	bulkIdx                int
	namespaces             []string
	ifSeqNo, ifPrimaryTerm *int64
}

func (r *objectRepo) BulkCreate(ctx context.Context, objects []BulkCreateObject, opts BulkCreateOptions) ([]BulkResponseItem, error) {
	namespace := serializer.NormalizeNamespace(opts.Namespace)
	states := make([]bulkCreateState, len(objects))
	var preflight []docstore.MGetItem

	for i, obj := range objects {
		st := &states[i]
		st.obj = obj
		st.preflightIdx, st.bulkIdx = -1, -1
		st.id = obj.ID
		if st.id == "" {
			st.id = uuid.New().String()
		}
		if st.err = r.validateType(obj.Type); st.err != nil {
			continue
		}
		if obj.Version != "" && !opts.Overwrite {
			st.err = soerror.NewBadRequest("version can only be used with overwrite")
			continue
		}
		if len(obj.InitialNamespaces) > 0 && !r.registry.IsShareable(obj.Type) {
			st.err = soerror.NewBadRequest("initialNamespaces can only be used with shareable types")
			continue
		}
		if st.rawID, st.err = r.rawID(namespace, obj.Type, st.id); st.err != nil {
			continue
		}
		if st.ifSeqNo, st.ifPrimaryTerm, st.err = versionPrecondition(obj.Version); st.err != nil {
			continue
		}
		if r.registry.IsMultiNamespace(obj.Type) {
			if len(obj.InitialNamespaces) > 0 {
				st.namespaces = normalizeNamespaceList(obj.InitialNamespaces)
			} else {
				st.namespaces = []string{namespaceString(namespace)}
			}
			if opts.Overwrite && obj.ID != "" {
				st.preflightIdx = len(preflight)
				preflight = append(preflight, docstore.MGetItem{Index: r.registry.GetIndex(obj.Type), ID: st.rawID})
			}
		}
	}

	if len(preflight) > 0 {
		docs, err := r.client.MGet(ctx, docstore.MGetRequest{Items: preflight})
		if err != nil {
			return nil, storeError(err)
		}
		for i := range states {
			st := &states[i]
			if st.err != nil || st.preflightIdx < 0 {
				continue
			}
			doc := &docs[st.preflightIdx]
			if !doc.Found {
				continue
			}
			existingNamespaces := docNamespaces(doc)
			if !containsNamespace(existingNamespaces, namespace) {
				st.err = soerror.NewConflict(st.obj.Type, st.id)
				continue
			}
			st.namespaces = existingNamespaces
		}
	}

	now := nowUTC()
	var ops []docstore.BulkOp
	for i := range states {
		st := &states[i]
		if st.err != nil {
			continue
		}
		obj := &domain.SavedObject{
			ID:         st.id,
			Type:       st.obj.Type,
			Attributes: st.obj.Attributes,
			References: st.obj.References,
			Namespace:  namespace,
			Namespaces: st.namespaces,
			OriginID:   st.obj.OriginID,
			CreatedAt:  &now,
			UpdatedAt:  &now,
		}
		raw, err := r.serializer.ToRaw(obj)
		if err == nil {
			raw, err = r.migrator.MigrateDocument(raw)
		}
		if err != nil {
			st.err = err
			continue
		}
		opType := docstore.OpCreate
		if opts.Overwrite {
			opType = docstore.OpIndex
		}
		st.bulkIdx = len(ops)
		ops = append(ops, docstore.BulkOp{
			OpType:        opType,
			Index:         r.registry.GetIndex(st.obj.Type),
			ID:            raw.ID,
			Source:        raw.Source,
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

	items := make([]BulkResponseItem, len(states))
	for i := range states {
		st := &states[i]
		items[i] = BulkResponseItem{Type: st.obj.Type, ID: st.id}
		if st.err != nil {
			items[i].Error = st.err
			continue
		}
		res := &bulkRes.Items[st.bulkIdx]
		if !res.OK() {
			items[i].Error = writeError(st.obj.Type, st.id, res)
			continue
		}
		obj, err := r.serializer.FromRaw(&domain.RawDoc{
			ID:          st.rawID,
			Source:      ops[st.bulkIdx].Source,
			SeqNo:       res.SeqNo,
			PrimaryTerm: res.PrimaryTerm,
		})
		if err != nil {
			items[i].Error = err
			continue
		}
		items[i].Object = obj
	}
	return items, nil
}

type bulkGetState struct {
	obj      BulkGetObject
	err      error
	mgetIdx  int
	checkNSs []string
}

func (r *objectRepo) BulkGet(ctx context.Context, objects []BulkGetObject, opts BulkGetOptions) ([]BulkResponseItem, error) {
	namespace := serializer.NormalizeNamespace(opts.Namespace)
	states := make([]bulkGetState, len(objects))
	var mget []docstore.MGetItem

	for i, obj := range objects {
		st := &states[i]
		st.obj = obj
		st.mgetIdx = -1
		if st.err = r.validateType(obj.Type); st.err != nil {
			continue
		}
		if len(obj.Namespaces) > 0 {
			if !r.registry.IsShareable(obj.Type) {
				st.err = soerror.NewBadRequest("namespaces can only be used with shareable types")
				continue
			}
			st.checkNSs = normalizeNamespaceList(obj.Namespaces)
		}
		rawID, err := r.rawID(namespace, obj.Type, obj.ID)
		if err != nil {
			st.err = err
			continue
		}
		st.mgetIdx = len(mget)
		mget = append(mget, docstore.MGetItem{Index: r.registry.GetIndex(obj.Type), ID: rawID})
	}

	var docs []docstore.Doc
	if len(mget) > 0 {
		var err error
		if docs, err = r.client.MGet(ctx, docstore.MGetRequest{Items: mget}); err != nil {
			return nil, storeError(err)
		}
	}

	items := make([]BulkResponseItem, len(states))
	for i := range states {
		st := &states[i]
		items[i] = BulkResponseItem{Type: st.obj.Type, ID: st.obj.ID}
		if st.err != nil {
			items[i].Error = st.err
			continue
		}
		doc := &docs[st.mgetIdx]
		if !doc.Found || doc.Source == nil {
			items[i].Error = soerror.NewNotFound(st.obj.Type, st.obj.ID)
			continue
		}
		obj, err := r.docToObject(doc)
		if err != nil {
			items[i].Error = err
			continue
		}
		visible := r.visibleInNamespace(obj, namespace)
		if len(st.checkNSs) > 0 {
			visible = false
			for _, ns := range st.checkNSs {
				if containsNamespace(obj.Namespaces, serializer.NormalizeNamespace(ns)) {
					visible = true
					break
				}
			}
		}
		if !visible {
			items[i].Error = soerror.NewNotFound(st.obj.Type, st.obj.ID)
			continue
		}
		items[i].Object = obj
	}
	return items, nil
}

type bulkUpdateState struct {
	obj                    BulkUpdateObject
	namespace              string
	rawID                  string
	err                    error
	preflightIdx           int
	bulkIdx                int
	namespaces             []string
	ifSeqNo, ifPrimaryTerm *int64
}

func (r *objectRepo) BulkUpdate(ctx context.Context, objects []BulkUpdateObject, opts BulkUpdateOptions) ([]BulkResponseItem, error) {
	states := make([]bulkUpdateState, len(objects))
	var preflight []docstore.MGetItem

	for i, obj := range objects {
		st := &states[i]
		st.obj = obj
		st.preflightIdx, st.bulkIdx = -1, -1
		st.namespace = serializer.NormalizeNamespace(opts.Namespace)
		if obj.Namespace != "" {
			st.namespace = serializer.NormalizeNamespace(obj.Namespace)
		}
		if st.err = r.validateType(obj.Type); st.err != nil {
			continue
		}
		if st.rawID, st.err = r.rawID(st.namespace, obj.Type, obj.ID); st.err != nil {
			continue
		}
		if st.ifSeqNo, st.ifPrimaryTerm, st.err = versionPrecondition(obj.Version); st.err != nil {
			continue
		}
		if r.registry.IsMultiNamespace(obj.Type) {
			st.preflightIdx = len(preflight)
			preflight = append(preflight, docstore.MGetItem{Index: r.registry.GetIndex(obj.Type), ID: st.rawID})
		}
	}

	if len(preflight) > 0 {
		docs, err := r.client.MGet(ctx, docstore.MGetRequest{Items: preflight})
		if err != nil {
			return nil, storeError(err)
		}
		for i := range states {
			st := &states[i]
			if st.err != nil || st.preflightIdx < 0 {
				continue
			}
			doc := &docs[st.preflightIdx]
			if !doc.Found {
				st.err = soerror.NewNotFound(st.obj.Type, st.obj.ID)
				continue
			}
			st.namespaces = docNamespaces(doc)
			if !containsNamespace(st.namespaces, st.namespace) {
				st.err = soerror.NewNotFound(st.obj.Type, st.obj.ID)
				continue
			}
			if st.obj.Version == "" {
				st.ifSeqNo, st.ifPrimaryTerm = &doc.SeqNo, &doc.PrimaryTerm
			}
		}
	}

	now := nowUTC()
	var ops []docstore.BulkOp
	for i := range states {
		st := &states[i]
		if st.err != nil {
			continue
		}
		merge := map[string]any{
			domain.RawFieldUpdatedAt: now.Format(time.RFC3339Nano),
		}
		if st.obj.Attributes != nil {
			merge[st.obj.Type] = st.obj.Attributes
		}
		if st.obj.References != nil {
			merge[domain.RawFieldReferences] = serializer.ReferencesToRaw(*st.obj.References)
		}
		st.bulkIdx = len(ops)
		ops = append(ops, docstore.BulkOp{
			OpType:        docstore.OpUpdate,
			Index:         r.registry.GetIndex(st.obj.Type),
			ID:            st.rawID,
			Mutations:     []docstore.Mutation{docstore.MergeDoc{Doc: merge}},
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

	items := make([]BulkResponseItem, len(states))
	for i := range states {
		st := &states[i]
		items[i] = BulkResponseItem{Type: st.obj.Type, ID: st.obj.ID}
		if st.err != nil {
			items[i].Error = st.err
			continue
		}
		res := &bulkRes.Items[st.bulkIdx]
		if !res.OK() {
			items[i].Error = writeError(st.obj.Type, st.obj.ID, res)
			continue
		}
		obj := &domain.SavedObject{
			ID:         st.obj.ID,
			Type:       st.obj.Type,
			Attributes: st.obj.Attributes,
			Namespace:  st.namespace,
			Namespaces: st.namespaces,
			Version:    soversion.Encode(res.SeqNo, res.PrimaryTerm),
			UpdatedAt:  &now,
		}
		if st.obj.References != nil {
			obj.References = *st.obj.References
		}
		items[i].Object = obj
	}
	return items, nil
}

// CheckConflicts is a dry run of BulkCreate without overwrite: it reports
// the objects that already exist, and the objects whose would-be id is
// claimed by an enabled legacy alias. Alias-claimed ids come back as
// not-overwritable conflicts.
func (r *objectRepo) CheckConflicts(ctx context.Context, objects []domain.TypeID, opts CheckConflictsOptions) ([]CheckConflictsItem, error) {
	namespace := serializer.NormalizeNamespace(opts.Namespace)
	type state struct {
		err                error
		exactIdx, aliasIdx int
	}
	states := make([]state, len(objects))
	var mget []docstore.MGetItem

	aliasIndex := r.registry.GetIndex(domain.LegacyAliasType)
	for i, obj := range objects {
		st := &states[i]
		st.exactIdx, st.aliasIdx = -1, -1
		if st.err = r.validateType(obj.Type); st.err != nil {
			continue
		}
		rawID, err := r.rawID(namespace, obj.Type, obj.ID)
		if err != nil {
			st.err = err
			continue
		}
		st.exactIdx = len(mget)
		mget = append(mget, docstore.MGetItem{Index: r.registry.GetIndex(obj.Type), ID: rawID})
		aliasRawID, err := r.rawID("", domain.LegacyAliasType, domain.LegacyAliasID(namespaceString(namespace), obj.Type, obj.ID))
		if err != nil {
			st.err = err
			continue
		}
		st.aliasIdx = len(mget)
		mget = append(mget, docstore.MGetItem{Index: aliasIndex, ID: aliasRawID})
	}

	var docs []docstore.Doc
	if len(mget) > 0 {
		var err error
		if docs, err = r.client.MGet(ctx, docstore.MGetRequest{Items: mget}); err != nil {
			return nil, storeError(err)
		}
	}

	var conflicts []CheckConflictsItem
	for i, obj := range objects {
		st := &states[i]
		if st.err != nil {
			conflicts = append(conflicts, CheckConflictsItem{Type: obj.Type, ID: obj.ID, Error: st.err})
			continue
		}
		if docs[st.exactIdx].Found {
			conflicts = append(conflicts, CheckConflictsItem{Type: obj.Type, ID: obj.ID, Error: soerror.NewConflict(obj.Type, obj.ID)})
			continue
		}
		if st.aliasIdx >= 0 && docs[st.aliasIdx].Found {
			alias := r.decodeAlias(&docs[st.aliasIdx])
			if alias != nil {
				conflicts = append(conflicts, CheckConflictsItem{Type: obj.Type, ID: obj.ID, Error: soerror.NewAliasConflict(obj.Type, obj.ID)})
			}
		}
	}
	return conflicts, nil
}
