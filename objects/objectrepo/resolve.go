package objectrepo

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/anyproto/anytype-object-store/docstore"
	"github.com/anyproto/anytype-object-store/domain"
	"github.com/anyproto/anytype-object-store/objects/serializer"
	"github.com/anyproto/anytype-object-store/objects/soerror"
)

// Resolve finds an object by id, following an enabled legacy alias when one
// claims the (namespace, type, id). With both the exact object and an alias
// target present the exact object wins and the outcome reports the conflict.
func (r *objectRepo) Resolve(ctx context.Context, typ, id string, opts ResolveOptions) (*ResolveResponse, error) {
	if err := r.validateType(typ); err != nil {
		return nil, err
	}
	namespace := serializer.NormalizeNamespace(opts.Namespace)
	resp, err := r.resolve(ctx, typ, id, namespace)
	outcome := outcomeNotFound
	if resp != nil {
		outcome = resp.Outcome
	}
	r.usage.RecordResolveOutcome(ctx, string(outcome))
	return resp, err
}

func (r *objectRepo) resolve(ctx context.Context, typ, id, namespace string) (*ResolveResponse, error) {
	exactRawID, err := r.rawID(namespace, typ, id)
	if err != nil {
		return nil, err
	}
	alias, aliasRawID, err := r.lookupAlias(ctx, typ, id, namespace)
	if err != nil {
		return nil, err
	}
	index := r.registry.GetIndex(typ)

	if alias == nil {
		doc, err := r.client.Get(ctx, docstore.GetRequest{Index: index, ID: exactRawID})
		if err != nil {
			return nil, storeError(err)
		}
		obj := r.decodeVisible(doc, namespace)
		if obj == nil {
			return nil, soerror.NewNotFound(typ, id)
		}
		return &ResolveResponse{Object: obj, Outcome: OutcomeExactMatch}, nil
	}

	r.bumpAliasCounter(ctx, aliasRawID)
	targetRawID, err := r.rawID(namespace, typ, alias.TargetID)
	if err != nil {
		return nil, err
	}
	docs, err := r.client.MGet(ctx, docstore.MGetRequest{Items: []docstore.MGetItem{
		{Index: index, ID: exactRawID},
		{Index: index, ID: targetRawID},
	}})
	if err != nil {
		return nil, storeError(err)
	}
	exact := r.decodeVisible(&docs[0], namespace)
	target := r.decodeVisible(&docs[1], namespace)
	switch {
	case exact != nil && target != nil:
		return &ResolveResponse{Object: exact, Outcome: OutcomeConflict, AliasTargetID: alias.TargetID}, nil
	case exact != nil:
		return &ResolveResponse{Object: exact, Outcome: OutcomeExactMatch}, nil
	case target != nil:
		return &ResolveResponse{Object: target, Outcome: OutcomeAliasMatch, AliasTargetID: alias.TargetID}, nil
	default:
		return nil, soerror.NewNotFound(typ, id)
	}
}

// lookupAlias fetches the enabled alias claiming (namespace, typ, id), nil
// when there is none.
func (r *objectRepo) lookupAlias(ctx context.Context, typ, id, namespace string) (*domain.LegacyAlias, string, error) {
	aliasRawID, err := r.rawID("", domain.LegacyAliasType, domain.LegacyAliasID(namespaceString(namespace), typ, id))
	if err != nil {
		return nil, "", err
	}
	doc, err := r.client.Get(ctx, docstore.GetRequest{Index: r.registry.GetIndex(domain.LegacyAliasType), ID: aliasRawID})
	if err != nil {
		return nil, "", storeError(err)
	}
	if !doc.Found {
		return nil, aliasRawID, nil
	}
	return r.decodeAlias(doc), aliasRawID, nil
}

// decodeAlias returns the alias carried by a fetched alias document, or nil
// when it is disabled or malformed.
func (r *objectRepo) decodeAlias(doc *docstore.Doc) *domain.LegacyAlias {
	if !doc.Found || doc.Source == nil {
		return nil
	}
	attrs, ok := doc.Source[domain.LegacyAliasType].(map[string]any)
	if !ok {
		return nil
	}
	alias := domain.LegacyAliasFromAttributes(attrs)
	if alias.Disabled || alias.TargetID == "" {
		return nil
	}
	return &alias
}

// bumpAliasCounter records one use of an alias. Best effort: a failure is
// logged and never fails the resolve.
func (r *objectRepo) bumpAliasCounter(ctx context.Context, aliasRawID string) {
	now := nowUTC().Format(time.RFC3339Nano)
	res, err := r.client.Update(ctx, docstore.UpdateRequest{
		Index: r.registry.GetIndex(domain.LegacyAliasType),
		ID:    aliasRawID,
		Mutations: []docstore.Mutation{
			docstore.IncrementFields{Fields: map[string]int64{
				domain.LegacyAliasType + "." + domain.AliasFieldResolveCounter: 1,
			}},
			docstore.SetFields{Fields: map[string]any{
				domain.LegacyAliasType + "." + domain.AliasFieldLastResolved: now,
				domain.RawFieldUpdatedAt:                                     now,
			}},
		},
	})
	if err != nil {
		log.Debug("alias counter update failed", zap.String("aliasId", aliasRawID), zap.Error(err))
		return
	}
	if !res.OK() {
		log.Debug("alias counter update rejected", zap.String("aliasId", aliasRawID), zap.Int("status", res.Status))
	}
}

// decodeVisible decodes a fetched document when it exists and is visible in
// the namespace, nil otherwise.
func (r *objectRepo) decodeVisible(doc *docstore.Doc, namespace string) *domain.SavedObject {
	if !doc.Found || doc.Source == nil {
		return nil
	}
	obj, err := r.docToObject(doc)
	if err != nil {
		log.Debug("skipping undecodable document", zap.String("id", doc.ID), zap.Error(err))
		return nil
	}
	if !r.visibleInNamespace(obj, namespace) {
		return nil
	}
	return obj
}
