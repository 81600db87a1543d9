package objectrepo

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/anyproto/anytype-object-store/docstore"
	"github.com/anyproto/anytype-object-store/domain"
	"github.com/anyproto/anytype-object-store/objects/soerror"
)

const (
	defaultPerPage = 20
	sortOrderDesc  = "desc"
)

func (r *objectRepo) Find(ctx context.Context, opts FindOptions) (*FindResponse, error) {
	if len(opts.Types) == 0 && len(opts.TypeToNamespacesMap) == 0 {
		return nil, soerror.NewBadRequest("options must include type or typeToNamespacesMap")
	}
	if len(opts.TypeToNamespacesMap) > 0 && (len(opts.Types) > 0 || len(opts.Namespaces) > 0) {
		return nil, soerror.NewBadRequest("typeToNamespacesMap cannot be combined with type or namespaces")
	}
	if len(opts.SearchAfter) > 0 && opts.PIT == nil {
		return nil, soerror.NewBadRequest("searchAfter requires a point-in-time")
	}
	if opts.Search != "" && len(opts.SearchFields) == 0 {
		return nil, soerror.NewBadRequest("search requires searchFields")
	}
	if opts.SortOrder != "" && opts.SortOrder != "asc" && opts.SortOrder != sortOrderDesc {
		return nil, soerror.NewBadRequestf("invalid sort order %q", opts.SortOrder)
	}

	page := opts.Page
	if page < 1 {
		page = 1
	}
	perPage := opts.PerPage
	if perPage < 1 {
		perPage = defaultPerPage
	}

	// unregistered types are dropped rather than rejected: a search across
	// them has nothing to match
	typeNamespaces := make(map[string][]string)
	var types []string
	if len(opts.TypeToNamespacesMap) > 0 {
		for typ, namespaces := range opts.TypeToNamespacesMap {
			if r.registry.IsRegistered(typ) {
				types = append(types, typ)
				typeNamespaces[typ] = namespaces
			}
		}
		sort.Strings(types)
	} else {
		for _, typ := range opts.Types {
			if r.registry.IsRegistered(typ) {
				types = append(types, typ)
				typeNamespaces[typ] = opts.Namespaces
			}
		}
	}
	if len(types) == 0 {
		return &FindResponse{SavedObjects: []FindHit{}, Page: page, PerPage: perPage}, nil
	}

	query, err := r.buildFindQuery(types, typeNamespaces, opts)
	if err != nil {
		return nil, err
	}

	req := docstore.SearchRequest{
		Indexes:      r.indexesForTypes(types),
		Query:        query,
		Sort:         r.buildSort(types, opts),
		SearchAfter:  opts.SearchAfter,
		Size:         perPage,
		Aggregations: opts.Aggs,
	}
	if opts.PIT != nil {
		req.PITID = opts.PIT.ID
	} else {
		req.From = (page - 1) * perPage
	}

	res, err := r.client.Search(ctx, req)
	if err != nil {
		return nil, storeError(err)
	}

	hits := make([]FindHit, 0, len(res.Hits))
	for i := range res.Hits {
		doc := &res.Hits[i]
		obj, err := r.docToObject(doc)
		if err != nil {
			log.Warn("skipping undecodable search hit", zap.String("id", doc.ID), zap.Error(err))
			continue
		}
		hits = append(hits, FindHit{SavedObject: *obj, Score: doc.Score, Sort: doc.Sort})
	}
	return &FindResponse{
		SavedObjects: hits,
		Total:        res.Total,
		Page:         page,
		PerPage:      perPage,
		PITID:        res.PITID,
		Aggregations: res.Aggregations,
	}, nil
}

// buildFindQuery scopes the search to the requested types and their visible
// namespaces, then layers text search, reference and extra filters on top.
func (r *objectRepo) buildFindQuery(types []string, typeNamespaces map[string][]string, opts FindOptions) (docstore.Query, error) {
	should := make([]docstore.Query, 0, len(types))
	for _, typ := range types {
		should = append(should, r.typeClause(typ, typeNamespaces[typ]))
	}
	root := docstore.Bool{
		Filter: []docstore.Query{docstore.Bool{Should: should, MinimumShouldMatch: 1}},
	}
	if opts.Search != "" {
		fields, err := parseSearchFields(types, opts.SearchFields)
		if err != nil {
			return nil, err
		}
		root.Must = append(root.Must, docstore.Match{Fields: fields, Text: opts.Search})
	}
	if opts.HasReference != nil {
		root.Filter = append(root.Filter, docstore.HasReference{Type: opts.HasReference.Type, ID: opts.HasReference.ID})
	}
	if opts.Filter != nil {
		root.Filter = append(root.Filter, opts.Filter)
	}
	return root, nil
}

// typeClause restricts one type to the namespaces it is visible from. The
// wildcard namespace lifts the restriction.
func (r *objectRepo) typeClause(typ string, namespaces []string) docstore.Query {
	typeTerm := docstore.Term{Field: domain.RawFieldType, Value: typ}
	if r.registry.IsNamespaceAgnostic(typ) {
		return typeTerm
	}
	if len(namespaces) == 0 {
		namespaces = []string{domain.DefaultNamespace}
	}
	spelled := normalizeNamespaceList(namespaces)
	wildcard := false
	for _, ns := range spelled {
		if ns == allNamespaces {
			wildcard = true
		}
	}
	if wildcard {
		return typeTerm
	}

	var nsClause docstore.Query
	if r.registry.IsMultiNamespace(typ) {
		values := make([]any, 0, len(spelled)+1)
		for _, ns := range spelled {
			values = append(values, ns)
		}
		values = append(values, allNamespaces)
		nsClause = docstore.Terms{Field: domain.RawFieldNamespaces, Values: values}
	} else {
		perNS := make([]docstore.Query, 0, len(spelled))
		for _, ns := range spelled {
			if ns == domain.DefaultNamespace {
				perNS = append(perNS, docstore.Bool{MustNot: []docstore.Query{docstore.Exists{Field: domain.RawFieldNamespace}}})
			} else {
				perNS = append(perNS, docstore.Term{Field: domain.RawFieldNamespace, Value: ns})
			}
		}
		nsClause = docstore.Bool{Should: perNS, MinimumShouldMatch: 1}
	}
	return docstore.Bool{
		Must:   []docstore.Query{typeTerm},
		Filter: []docstore.Query{nsClause},
	}
}

// parseSearchFields expands "field^boost" specs across the selected types.
func parseSearchFields(types []string, searchFields []string) ([]docstore.WeightedField, error) {
	out := make([]docstore.WeightedField, 0, len(searchFields)*len(types))
	for _, spec := range searchFields {
		field, boost := spec, 1.0
		if idx := strings.LastIndex(spec, "^"); idx >= 0 {
			var err error
			if boost, err = strconv.ParseFloat(spec[idx+1:], 64); err != nil {
				return nil, soerror.NewBadRequestf("invalid search field %q", spec)
			}
			field = spec[:idx]
		}
		if field == "" {
			return nil, soerror.NewBadRequestf("invalid search field %q", spec)
		}
		for _, typ := range types {
			out = append(out, docstore.WeightedField{Field: typ + "." + field, Boost: boost})
		}
	}
	return out, nil
}

func (r *objectRepo) buildSort(types []string, opts FindOptions) []docstore.SortField {
	if opts.SortField == "" {
		return nil
	}
	field := opts.SortField
	switch field {
	case "_id", "_score", domain.RawFieldType, domain.RawFieldUpdatedAt, domain.RawFieldCreatedAt:
	default:
		// attribute sort; unambiguous only with a single type
		if len(types) == 1 {
			field = types[0] + "." + field
		}
	}
	return []docstore.SortField{{Field: field, Desc: opts.SortOrder == sortOrderDesc}}
}

func (r *objectRepo) indexesForTypes(types []string) []string {
	seen := make(map[string]struct{}, len(types))
	var indexes []string
	for _, typ := range types {
		index := r.registry.GetIndex(typ)
		if _, ok := seen[index]; ok {
			continue
		}
		seen[index] = struct{}{}
		indexes = append(indexes, index)
	}
	return indexes
}
