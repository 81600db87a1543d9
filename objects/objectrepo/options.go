package objectrepo

import (
	"time"

	"github.com/anyproto/anytype-object-store/docstore"
	"github.com/anyproto/anytype-object-store/domain"
)

type CreateOptions struct {
	// ID is optional; a random id is assigned when empty.
	ID        string
	Namespace string
	// InitialNamespaces sets the initial membership of a shareable object.
	InitialNamespaces []string
	// Overwrite replaces an existing object instead of failing with a
	// conflict. Version may only be combined with Overwrite.
	Overwrite  bool
	Version    string
	References []domain.Reference
	OriginID   string
}

type BulkCreateObject struct {
	Type       string
	ID         string
	Attributes map[string]any
	References []domain.Reference
	OriginID   string
	Version    string
	// InitialNamespaces overrides the membership of this one object.
	InitialNamespaces []string
}

type BulkCreateOptions struct {
	Namespace string
	Overwrite bool
}

type CheckConflictsOptions struct {
	Namespace string
}

// CheckConflictsItem reports one object that could not be created as-is.
type CheckConflictsItem struct {
	Type  string
	ID    string
	Error error
}

type GetOptions struct {
	Namespace string
}

type BulkGetObject struct {
	Type string
	ID   string
	// Namespaces optionally overrides the visibility check for this object;
	// only valid for shareable types.
	Namespaces []string
}

type BulkGetOptions struct {
	Namespace string
}

// BulkResponseItem is one positional slot of a bulk response. Exactly one of
// Object and Error is set.
type BulkResponseItem struct {
	Type   string
	ID     string
	Object *domain.SavedObject
	Error  error
}

type UpdateOptions struct {
	Namespace string
	Version   string
	// References replaces the reference list when non-nil; nil leaves it
	// untouched.
	References *[]domain.Reference
	// Upsert creates the object with these attributes when it is missing.
	Upsert map[string]any
}

type BulkUpdateObject struct {
	Type       string
	ID         string
	Attributes map[string]any
	References *[]domain.Reference
	Version    string
	// Namespace overrides the request-level namespace for this object.
	Namespace string
}

type BulkUpdateOptions struct {
	Namespace string
}

type DeleteOptions struct {
	Namespace string
	Version   string
	// Force deletes a shareable object that exists in more than one
	// namespace.
	Force bool
}

type CounterField struct {
	FieldName string
	// IncrementBy defaults to 1, or to 0 when Initialize is set.
	IncrementBy *int64
}

type IncrementCounterOptions struct {
	Namespace string
	// Initialize seeds counters without incrementing them.
	Initialize bool
}

type RemoveReferencesOptions struct {
	Namespace string
}

type CollectOptions struct {
	Namespace string
}

// CollectedObject is one node of the reference graph reachable from the
// requested objects.
type CollectedObject struct {
	Type   string
	ID     string
	Spaces []string
	// InboundReferences lists the requested-or-collected objects that point
	// at this one.
	InboundReferences []domain.TypeID
	IsMissing         bool
}

type UpdateSpacesOptions struct {
	Namespace string
}

type UpdateSpacesResultItem struct {
	Type   string
	ID     string
	Spaces []string
	Error  error
}

type ResolveOptions struct {
	Namespace string
}

type ResolveOutcome string

const (
	OutcomeExactMatch ResolveOutcome = "exactMatch"
	OutcomeAliasMatch ResolveOutcome = "aliasMatch"
	OutcomeConflict   ResolveOutcome = "conflict"

	outcomeNotFound ResolveOutcome = "notFound"
)

type ResolveResponse struct {
	Object  *domain.SavedObject
	Outcome ResolveOutcome
	// AliasTargetID is set for aliasMatch and conflict outcomes.
	AliasTargetID string
}

// PITParams binds a find to an already open point-in-time snapshot.
type PITParams struct {
	ID        string
	KeepAlive time.Duration
}

type FindOptions struct {
	Types      []string
	Namespaces []string
	// TypeToNamespacesMap scopes each type to its own namespace list; it is
	// mutually exclusive with Types and Namespaces.
	TypeToNamespacesMap map[string][]string
	Search              string
	// SearchFields lists attribute fields to match, with optional "^boost"
	// suffixes.
	SearchFields []string
	HasReference *domain.TypeID
	Filter       docstore.Query
	SortField    string
	SortOrder    string // "asc" or "desc"
	Page         int
	PerPage      int
	PIT          *PITParams
	SearchAfter  []any
	Aggs         map[string]docstore.Aggregation
}

type FindHit struct {
	domain.SavedObject
	Score float64
	// Sort is the hit's cursor for search-after continuation.
	Sort []any
}

type FindResponse struct {
	SavedObjects []FindHit
	Total        int64
	Page         int
	PerPage      int
	PITID        string
	Aggregations map[string]docstore.AggResult
}

type OpenPITOptions struct {
	KeepAlive time.Duration
}
