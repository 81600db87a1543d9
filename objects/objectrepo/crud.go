package objectrepo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/anyproto/anytype-object-store/docstore"
	"github.com/anyproto/anytype-object-store/domain"
	"github.com/anyproto/anytype-object-store/objects/serializer"
	"github.com/anyproto/anytype-object-store/objects/soerror"
)

func (r *objectRepo) Create(ctx context.Context, typ string, attributes map[string]any, opts CreateOptions) (*domain.SavedObject, error) {
	if err := r.validateType(typ); err != nil {
		return nil, err
	}
	if opts.Version != "" && !opts.Overwrite {
		return nil, soerror.NewBadRequest("version can only be used with overwrite")
	}
	if len(opts.InitialNamespaces) > 0 && !r.registry.IsShareable(typ) {
		return nil, soerror.NewBadRequest("initialNamespaces can only be used with shareable types")
	}
	namespace := serializer.NormalizeNamespace(opts.Namespace)
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	rawID, err := r.rawID(namespace, typ, id)
	if err != nil {
		return nil, err
	}
	ifSeqNo, ifPrimaryTerm, err := versionPrecondition(opts.Version)
	if err != nil {
		return nil, err
	}

	var namespaces []string
	if r.registry.IsMultiNamespace(typ) {
		if len(opts.InitialNamespaces) > 0 {
			namespaces = normalizeNamespaceList(opts.InitialNamespaces)
		} else {
			namespaces = []string{namespaceString(namespace)}
		}
		// overwriting an existing shared object must not drop the namespaces
		// it already lives in, and must be visible from the current one
		if opts.Overwrite && opts.ID != "" {
			existing, err := r.client.Get(ctx, docstore.GetRequest{Index: r.registry.GetIndex(typ), ID: rawID})
			if err != nil {
				return nil, storeError(err)
			}
			if existing.Found {
				existingNamespaces := docNamespaces(existing)
				if !containsNamespace(existingNamespaces, namespace) {
					return nil, soerror.NewConflict(typ, id)
				}
				namespaces = existingNamespaces
			}
		}
	}

	now := nowUTC()
	obj := &domain.SavedObject{
		ID:         id,
		Type:       typ,
		Attributes: attributes,
		References: opts.References,
		Namespace:  namespace,
		Namespaces: namespaces,
		OriginID:   opts.OriginID,
		CreatedAt:  &now,
		UpdatedAt:  &now,
	}
	raw, err := r.serializer.ToRaw(obj)
	if err != nil {
		return nil, err
	}
	if raw, err = r.migrator.MigrateDocument(raw); err != nil {
		return nil, err
	}

	opType := docstore.OpCreate
	if opts.Overwrite {
		opType = docstore.OpIndex
	}
	res, err := r.client.Index(ctx, docstore.IndexRequest{
		Index:         r.registry.GetIndex(typ),
		ID:            raw.ID,
		Source:        raw.Source,
		OpType:        opType,
		IfSeqNo:       ifSeqNo,
		IfPrimaryTerm: ifPrimaryTerm,
	})
	if err != nil {
		return nil, storeError(err)
	}
	if !res.OK() {
		return nil, writeError(typ, id, res)
	}
	raw.SeqNo, raw.PrimaryTerm = res.SeqNo, res.PrimaryTerm
	return r.serializer.FromRaw(raw)
}

func (r *objectRepo) Get(ctx context.Context, typ, id string, opts GetOptions) (*domain.SavedObject, error) {
	if err := r.validateType(typ); err != nil {
		return nil, err
	}
	namespace := serializer.NormalizeNamespace(opts.Namespace)
	rawID, err := r.rawID(namespace, typ, id)
	if err != nil {
		return nil, err
	}
	doc, err := r.client.Get(ctx, docstore.GetRequest{Index: r.registry.GetIndex(typ), ID: rawID})
	if err != nil {
		return nil, storeError(err)
	}
	if !doc.Found || doc.Source == nil {
		return nil, soerror.NewNotFound(typ, id)
	}
	obj, err := r.docToObject(doc)
	if err != nil {
		return nil, err
	}
	if !r.visibleInNamespace(obj, namespace) {
		return nil, soerror.NewNotFound(typ, id)
	}
	return obj, nil
}

func (r *objectRepo) Delete(ctx context.Context, typ, id string, opts DeleteOptions) error {
	if err := r.validateType(typ); err != nil {
		return err
	}
	namespace := serializer.NormalizeNamespace(opts.Namespace)
	rawID, err := r.rawID(namespace, typ, id)
	if err != nil {
		return err
	}
	ifSeqNo, ifPrimaryTerm, err := versionPrecondition(opts.Version)
	if err != nil {
		return err
	}
	if r.registry.IsMultiNamespace(typ) {
		existing, err := r.client.Get(ctx, docstore.GetRequest{Index: r.registry.GetIndex(typ), ID: rawID})
		if err != nil {
			return storeError(err)
		}
		if !existing.Found {
			return soerror.NewNotFound(typ, id)
		}
		namespaces := docNamespaces(existing)
		if !containsNamespace(namespaces, namespace) {
			return soerror.NewNotFound(typ, id)
		}
		if !opts.Force && (len(namespaces) > 1 || containsNamespace(namespaces, allNamespaces)) {
			return soerror.NewBadRequestf("unable to delete %s:%s: object exists in multiple namespaces, use force", typ, id)
		}
		if opts.Version == "" {
			ifSeqNo, ifPrimaryTerm = &existing.SeqNo, &existing.PrimaryTerm
		}
	}
	res, err := r.client.Delete(ctx, docstore.DeleteRequest{
		Index:         r.registry.GetIndex(typ),
		ID:            rawID,
		IfSeqNo:       ifSeqNo,
		IfPrimaryTerm: ifPrimaryTerm,
	})
	if err != nil {
		return storeError(err)
	}
	return writeError(typ, id, res)
}

func (r *objectRepo) Update(ctx context.Context, typ, id string, attributes map[string]any, opts UpdateOptions) (*domain.SavedObject, error) {
	if err := r.validateType(typ); err != nil {
		return nil, err
	}
	namespace := serializer.NormalizeNamespace(opts.Namespace)
	rawID, err := r.rawID(namespace, typ, id)
	if err != nil {
		return nil, err
	}
	ifSeqNo, ifPrimaryTerm, err := versionPrecondition(opts.Version)
	if err != nil {
		return nil, err
	}
	var preflightNamespaces []string
	if r.registry.IsMultiNamespace(typ) {
		existing, err := r.client.Get(ctx, docstore.GetRequest{Index: r.registry.GetIndex(typ), ID: rawID})
		if err != nil {
			return nil, storeError(err)
		}
		if existing.Found {
			preflightNamespaces = docNamespaces(existing)
			if !containsNamespace(preflightNamespaces, namespace) {
				return nil, soerror.NewNotFound(typ, id)
			}
			if opts.Version == "" {
				ifSeqNo, ifPrimaryTerm = &existing.SeqNo, &existing.PrimaryTerm
			}
		} else if opts.Upsert == nil {
			return nil, soerror.NewNotFound(typ, id)
		}
	}

	now := nowUTC()
	merge := map[string]any{
		domain.RawFieldUpdatedAt: now.Format(time.RFC3339Nano),
	}
	if attributes != nil {
		merge[typ] = attributes
	}
	if opts.References != nil {
		merge[domain.RawFieldReferences] = serializer.ReferencesToRaw(*opts.References)
	}

	var upsert map[string]any
	if opts.Upsert != nil {
		seed, err := r.upsertSource(typ, id, namespace, preflightNamespaces, opts.Upsert, now)
		if err != nil {
			return nil, err
		}
		upsert = seed
	}

	res, err := r.client.Update(ctx, docstore.UpdateRequest{
		Index:         r.registry.GetIndex(typ),
		ID:            rawID,
		Mutations:     []docstore.Mutation{docstore.MergeDoc{Doc: merge}},
		Upsert:        upsert,
		IfSeqNo:       ifSeqNo,
		IfPrimaryTerm: ifPrimaryTerm,
		FetchSource:   true,
	})
	if err != nil {
		return nil, storeError(err)
	}
	if !res.OK() {
		return nil, writeError(typ, id, &res.WriteResult)
	}
	return r.serializer.FromRaw(&domain.RawDoc{
		ID:          rawID,
		Source:      res.Source,
		SeqNo:       res.SeqNo,
		PrimaryTerm: res.PrimaryTerm,
	})
}

func (r *objectRepo) IncrementCounter(ctx context.Context, typ, id string, counterFields []CounterField, opts IncrementCounterOptions) (*domain.SavedObject, error) {
	if err := r.validateType(typ); err != nil {
		return nil, err
	}
	if err := validateCounterFields(counterFields); err != nil {
		return nil, err
	}
	namespace := serializer.NormalizeNamespace(opts.Namespace)
	rawID, err := r.rawID(namespace, typ, id)
	if err != nil {
		return nil, err
	}
	var (
		ifSeqNo, ifPrimaryTerm *int64
		preflightNamespaces    []string
	)
	if r.registry.IsMultiNamespace(typ) {
		existing, err := r.client.Get(ctx, docstore.GetRequest{Index: r.registry.GetIndex(typ), ID: rawID})
		if err != nil {
			return nil, storeError(err)
		}
		if existing.Found {
			preflightNamespaces = docNamespaces(existing)
			if !containsNamespace(preflightNamespaces, namespace) {
				return nil, soerror.NewConflict(typ, id)
			}
			ifSeqNo, ifPrimaryTerm = &existing.SeqNo, &existing.PrimaryTerm
		}
	}

	now := nowUTC()
	increments := make(map[string]int64, len(counterFields))
	seedAttributes := make(map[string]any, len(counterFields))
	for _, field := range counterFields {
		delta := int64(1)
		if opts.Initialize {
			delta = 0
		}
		if field.IncrementBy != nil {
			delta = *field.IncrementBy
		}
		increments[typ+"."+field.FieldName] = delta
		seedAttributes[field.FieldName] = delta
	}
	seed, err := r.upsertSource(typ, id, namespace, preflightNamespaces, seedAttributes, now)
	if err != nil {
		return nil, err
	}

	mutations := []docstore.Mutation{
		docstore.SetFields{Fields: map[string]any{
			domain.RawFieldUpdatedAt: now.Format(time.RFC3339Nano),
		}},
	}
	if opts.Initialize {
		// initialize resets the counters to their seed values
		initValues := make(map[string]any, len(increments))
		for path, delta := range increments {
			initValues[path] = delta
		}
		mutations = append(mutations, docstore.SetFields{Fields: initValues})
	} else {
		mutations = append(mutations, docstore.IncrementFields{Fields: increments})
	}
	res, err := r.client.Update(ctx, docstore.UpdateRequest{
		Index:         r.registry.GetIndex(typ),
		ID:            rawID,
		Mutations:     mutations,
		Upsert:        seed,
		IfSeqNo:       ifSeqNo,
		IfPrimaryTerm: ifPrimaryTerm,
		FetchSource:   true,
	})
	if err != nil {
		return nil, storeError(err)
	}
	if !res.OK() {
		return nil, writeError(typ, id, &res.WriteResult)
	}
	return r.serializer.FromRaw(&domain.RawDoc{
		ID:          rawID,
		Source:      res.Source,
		SeqNo:       res.SeqNo,
		PrimaryTerm: res.PrimaryTerm,
	})
}

// upsertSource builds and migrates the document seeded when an update or
// counter increment targets a missing object.
func (r *objectRepo) upsertSource(typ, id, namespace string, existingNamespaces []string, attributes map[string]any, now time.Time) (map[string]any, error) {
	obj := &domain.SavedObject{
		ID:         id,
		Type:       typ,
		Attributes: attributes,
		Namespace:  namespace,
		CreatedAt:  &now,
		UpdatedAt:  &now,
	}
	if r.registry.IsMultiNamespace(typ) {
		if len(existingNamespaces) > 0 {
			obj.Namespaces = existingNamespaces
		} else {
			obj.Namespaces = []string{namespaceString(namespace)}
		}
	}
	raw, err := r.serializer.ToRaw(obj)
	if err != nil {
		return nil, err
	}
	if raw, err = r.migrator.MigrateDocument(raw); err != nil {
		return nil, err
	}
	return raw.Source, nil
}

func validateCounterFields(counterFields []CounterField) error {
	if len(counterFields) == 0 {
		return soerror.NewBadRequest("at least one counter field is required")
	}
	seen := make(map[string]struct{}, len(counterFields))
	for _, field := range counterFields {
		if field.FieldName == "" {
			return soerror.NewBadRequest("counter field name must not be empty")
		}
		if _, dup := seen[field.FieldName]; dup {
			return soerror.NewBadRequestf("duplicate counter field %q", field.FieldName)
		}
		seen[field.FieldName] = struct{}{}
	}
	return nil
}

func normalizeNamespaceList(namespaces []string) []string {
	out := make([]string, 0, len(namespaces))
	for _, ns := range namespaces {
		out = append(out, namespaceString(serializer.NormalizeNamespace(ns)))
	}
	return out
}
