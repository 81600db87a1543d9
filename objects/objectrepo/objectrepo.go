// Package objectrepo is the saved-object repository: it enforces per-type
// namespace rules and optimistic concurrency on top of the document store
// client, and implements the bulk, find, resolve and namespace-membership
// algorithms of the saved-object layer.
package objectrepo

import (
	"context"
	"time"

	"github.com/anyproto/any-sync/app"
	"github.com/anyproto/any-sync/app/logger"

	"github.com/anyproto/anytype-object-store/docstore"
	"github.com/anyproto/anytype-object-store/domain"
	"github.com/anyproto/anytype-object-store/objects/migration"
	"github.com/anyproto/anytype-object-store/objects/serializer"
	"github.com/anyproto/anytype-object-store/objects/soerror"
	"github.com/anyproto/anytype-object-store/objects/soversion"
	"github.com/anyproto/anytype-object-store/objects/typeregistry"
	"github.com/anyproto/anytype-object-store/objects/usage"
)

const CName = "objects.objectrepo"

var log = logger.NewNamed(CName)

func New() ObjectRepo {
	return new(objectRepo)
}

type ObjectRepo interface {
	app.Component

	Create(ctx context.Context, typ string, attributes map[string]any, opts CreateOptions) (*domain.SavedObject, error)
	BulkCreate(ctx context.Context, objects []BulkCreateObject, opts BulkCreateOptions) ([]BulkResponseItem, error)
	CheckConflicts(ctx context.Context, objects []domain.TypeID, opts CheckConflictsOptions) ([]CheckConflictsItem, error)
	Get(ctx context.Context, typ, id string, opts GetOptions) (*domain.SavedObject, error)
	BulkGet(ctx context.Context, objects []BulkGetObject, opts BulkGetOptions) ([]BulkResponseItem, error)
	Find(ctx context.Context, opts FindOptions) (*FindResponse, error)
	Resolve(ctx context.Context, typ, id string, opts ResolveOptions) (*ResolveResponse, error)
	Update(ctx context.Context, typ, id string, attributes map[string]any, opts UpdateOptions) (*domain.SavedObject, error)
	BulkUpdate(ctx context.Context, objects []BulkUpdateObject, opts BulkUpdateOptions) ([]BulkResponseItem, error)
	Delete(ctx context.Context, typ, id string, opts DeleteOptions) error
	DeleteByNamespace(ctx context.Context, namespace string) (affected int64, err error)
	IncrementCounter(ctx context.Context, typ, id string, counterFields []CounterField, opts IncrementCounterOptions) (*domain.SavedObject, error)
	RemoveReferencesTo(ctx context.Context, typ, id string, opts RemoveReferencesOptions) (updated int64, err error)
	CollectMultiNamespaceReferences(ctx context.Context, objects []domain.TypeID, opts CollectOptions) ([]CollectedObject, error)
	UpdateObjectsSpaces(ctx context.Context, objects []domain.TypeID, spacesToAdd, spacesToRemove []string, opts UpdateSpacesOptions) ([]UpdateSpacesResultItem, error)
	OpenPointInTimeForTypes(ctx context.Context, types []string, opts OpenPITOptions) (pitID string, err error)
	ClosePointInTime(ctx context.Context, pitID string) error
	CreatePointInTimeFinder(opts FindOptions) Finder
}

type objectRepo struct {
	registry   typeregistry.TypeRegistry
	serializer serializer.Serializer
	migrator   migration.Migrator
	client     docstore.Client
	usage      usage.Usage
}

func (r *objectRepo) Name() (name string) {
	return CName
}

func (r *objectRepo) Init(a *app.App) (err error) {
	r.registry = a.MustComponent(typeregistry.CName).(typeregistry.TypeRegistry)
	r.serializer = a.MustComponent(serializer.CName).(serializer.Serializer)
	r.migrator = a.MustComponent(migration.CName).(migration.Migrator)
	r.client = a.MustComponent(docstore.CName).(docstore.Client)
	r.usage = a.MustComponent(usage.CName).(usage.Usage)
	return
}

func (r *objectRepo) validateType(typ string) error {
	if !r.registry.IsRegistered(typ) {
		return soerror.NewUnsupportedType(typ)
	}
	return nil
}

// rawID derives the store id; the namespace participates only for
// single-namespace types.
func (r *objectRepo) rawID(namespace, typ, id string) (string, error) {
	if !r.registry.IsSingleNamespace(typ) {
		namespace = ""
	}
	return r.serializer.GenerateRawID(namespace, typ, id)
}

// namespaceString is the spelled-out form used inside namespaces lists,
// where the default namespace appears literally.
func namespaceString(namespace string) string {
	if namespace == "" {
		return domain.DefaultNamespace
	}
	return namespace
}

// visibleInNamespace applies the per-classification visibility rule to a
// fetched object.
func (r *objectRepo) visibleInNamespace(obj *domain.SavedObject, namespace string) bool {
	if !r.registry.IsMultiNamespace(obj.Type) {
		// single-namespace visibility is already encoded in the raw id;
		// agnostic objects are visible everywhere
		return true
	}
	want := namespaceString(namespace)
	for _, ns := range obj.Namespaces {
		if ns == want || ns == allNamespaces {
			return true
		}
	}
	return false
}

const allNamespaces = "*"

func (r *objectRepo) docToObject(doc *docstore.Doc) (*domain.SavedObject, error) {
	return r.serializer.FromRaw(&domain.RawDoc{
		ID:          doc.ID,
		Source:      doc.Source,
		SeqNo:       doc.SeqNo,
		PrimaryTerm: doc.PrimaryTerm,
	})
}

// versionPrecondition translates a caller version token into store-level
// if-match preconditions.
func versionPrecondition(version string) (ifSeqNo, ifPrimaryTerm *int64, err error) {
	if version == "" {
		return nil, nil, nil
	}
	seqNo, primaryTerm, err := soversion.Decode(version)
	if err != nil {
		return nil, nil, err
	}
	return &seqNo, &primaryTerm, nil
}

// writeError maps a non-2xx write result onto the typed error set;
// unrecognized statuses escalate with the raw cause attached.
func writeError(typ, id string, res *docstore.WriteResult) error {
	if res.OK() {
		return nil
	}
	switch res.Status {
	case 404:
		return soerror.NewNotFound(typ, id)
	case 409:
		return soerror.NewConflict(typ, id)
	default:
		var cause error
		if res.Error != nil {
			cause = soerror.NewBadRequestf("%s: %s", res.Error.Type, res.Error.Reason)
		}
		return soerror.NewInternal("unexpected document store status", cause)
	}
}

func storeError(err error) error {
	return soerror.NewInternal("document store request failed", err)
}

func docNamespaces(doc *docstore.Doc) []string {
	return serializer.StringsFromRaw(doc.Source[domain.RawFieldNamespaces])
}

func containsNamespace(namespaces []string, namespace string) bool {
	want := namespaceString(namespace)
	for _, ns := range namespaces {
		if ns == want || ns == allNamespaces {
			return true
		}
	}
	return false
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
