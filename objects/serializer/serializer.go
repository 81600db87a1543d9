// Package serializer converts between saved objects and the raw documents
// the store persists. The raw id prefixes namespace and type so one flat
// index can hold every tenant and type without id collisions.
package serializer

import (
	"strings"
	"time"

	"github.com/anyproto/any-sync/app"

	"github.com/anyproto/anytype-object-store/domain"
	"github.com/anyproto/anytype-object-store/objects/soerror"
	"github.com/anyproto/anytype-object-store/objects/soversion"
	"github.com/anyproto/anytype-object-store/objects/typeregistry"
)

const CName = "objects.serializer"

func New() Serializer {
	return new(serializer)
}

type Serializer interface {
	app.Component

	// GenerateRawID derives the store id of (namespace, type, id). The same
	// inputs always address the same underlying document.
	GenerateRawID(namespace, typ, id string) (string, error)
	ToRaw(obj *domain.SavedObject) (*domain.RawDoc, error)
	FromRaw(doc *domain.RawDoc) (*domain.SavedObject, error)
	// IsRawSavedObject reports whether a raw document is a well-formed
	// saved object of a registered type.
	IsRawSavedObject(doc *domain.RawDoc) bool
}

type serializer struct {
	registry typeregistry.TypeRegistry
}

func (s *serializer) Name() (name string) {
	return CName
}

func (s *serializer) Init(a *app.App) (err error) {
	s.registry = a.MustComponent(typeregistry.CName).(typeregistry.TypeRegistry)
	return
}

// NormalizeNamespace maps the spelled-out default namespace to its internal
// absent representation.
func NormalizeNamespace(namespace string) string {
	if namespace == domain.DefaultNamespace {
		return ""
	}
	return namespace
}

func (s *serializer) GenerateRawID(namespace, typ, id string) (string, error) {
	namespace = NormalizeNamespace(namespace)
	if namespace != "" && !s.registry.IsSingleNamespace(typ) {
		return "", soerror.NewInvalidID(typ, id, "namespace can only be used with single-namespace types")
	}
	if namespace != "" {
		return namespace + ":" + typ + ":" + id, nil
	}
	return typ + ":" + id, nil
}

func (s *serializer) ToRaw(obj *domain.SavedObject) (*domain.RawDoc, error) {
	namespace := NormalizeNamespace(obj.Namespace)
	rawID, err := s.GenerateRawID(namespace, obj.Type, obj.ID)
	if err != nil {
		return nil, err
	}
	source := map[string]any{
		domain.RawFieldType: obj.Type,
	}
	if obj.Attributes != nil {
		source[obj.Type] = obj.Attributes
	} else {
		source[obj.Type] = map[string]any{}
	}
	if s.registry.IsSingleNamespace(obj.Type) && namespace != "" {
		source[domain.RawFieldNamespace] = namespace
	}
	if s.registry.IsMultiNamespace(obj.Type) && len(obj.Namespaces) > 0 {
		source[domain.RawFieldNamespaces] = toAnySlice(obj.Namespaces)
	}
	if obj.OriginID != "" {
		source[domain.RawFieldOriginID] = obj.OriginID
	}
	source[domain.RawFieldReferences] = ReferencesToRaw(obj.References)
	if len(obj.MigrationVersion) > 0 {
		mv := make(map[string]any, len(obj.MigrationVersion))
		for k, v := range obj.MigrationVersion {
			mv[k] = v
		}
		source[domain.RawFieldMigrationVersion] = mv
	}
	if obj.CreatedAt != nil {
		source[domain.RawFieldCreatedAt] = obj.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if obj.UpdatedAt != nil {
		source[domain.RawFieldUpdatedAt] = obj.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	doc := &domain.RawDoc{
		ID:     rawID,
		Source: source,
	}
	if obj.Version != "" {
		if doc.SeqNo, doc.PrimaryTerm, err = soversion.Decode(obj.Version); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func (s *serializer) FromRaw(doc *domain.RawDoc) (*domain.SavedObject, error) {
	typ := doc.RawType()
	if typ == "" || !s.registry.IsRegistered(typ) {
		return nil, soerror.NewUnsupportedType(typ)
	}
	namespace, _ := doc.Source[domain.RawFieldNamespace].(string)
	id, ok := trimRawIDPrefix(doc.ID, namespace, typ)
	if !ok {
		return nil, soerror.NewInvalidID(typ, doc.ID, "raw id does not match document type and namespace")
	}
	obj := &domain.SavedObject{
		ID:         id,
		Type:       typ,
		Namespace:  namespace,
		Namespaces: StringsFromRaw(doc.Source[domain.RawFieldNamespaces]),
		References: ReferencesFromRaw(doc.Source[domain.RawFieldReferences]),
		Version:    soversion.EncodeDoc(doc),
	}
	if attrs, ok := doc.Source[typ].(map[string]any); ok {
		obj.Attributes = attrs
	} else {
		obj.Attributes = map[string]any{}
	}
	if origin, ok := doc.Source[domain.RawFieldOriginID].(string); ok {
		obj.OriginID = origin
	}
	if mv, ok := doc.Source[domain.RawFieldMigrationVersion].(map[string]any); ok {
		obj.MigrationVersion = make(map[string]string, len(mv))
		for k, v := range mv {
			if sv, ok := v.(string); ok {
				obj.MigrationVersion[k] = sv
			}
		}
	}
	obj.CreatedAt = parseTime(doc.Source[domain.RawFieldCreatedAt])
	obj.UpdatedAt = parseTime(doc.Source[domain.RawFieldUpdatedAt])
	return obj, nil
}

func (s *serializer) IsRawSavedObject(doc *domain.RawDoc) bool {
	typ := doc.RawType()
	if typ == "" || !s.registry.IsRegistered(typ) {
		return false
	}
	if _, ok := doc.Source[typ]; !ok {
		return false
	}
	namespace, _ := doc.Source[domain.RawFieldNamespace].(string)
	_, ok := trimRawIDPrefix(doc.ID, namespace, typ)
	return ok
}

func trimRawIDPrefix(rawID, namespace, typ string) (id string, ok bool) {
	prefix := typ + ":"
	if namespace != "" {
		prefix = namespace + ":" + prefix
	}
	if !strings.HasPrefix(rawID, prefix) || len(rawID) == len(prefix) {
		return "", false
	}
	return rawID[len(prefix):], true
}

// ReferencesToRaw encodes references the way they live inside a raw source.
func ReferencesToRaw(refs []domain.Reference) []any {
	out := make([]any, 0, len(refs))
	for _, ref := range refs {
		out = append(out, map[string]any{
			"name": ref.Name,
			"type": ref.Type,
			"id":   ref.ID,
		})
	}
	return out
}

// ReferencesFromRaw decodes a raw references list, skipping malformed
// entries.
func ReferencesFromRaw(v any) []domain.Reference {
	items, ok := v.([]any)
	if !ok {
		return []domain.Reference{}
	}
	refs := make([]domain.Reference, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		var ref domain.Reference
		ref.Name, _ = m["name"].(string)
		ref.Type, _ = m["type"].(string)
		ref.ID, _ = m["id"].(string)
		refs = append(refs, ref)
	}
	return refs
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

// StringsFromRaw reads a string list field out of a raw source, tolerating
// the []any shape JSON decoding produces.
func StringsFromRaw(v any) []string {
	switch items := v.(type) {
	case []string:
		return items
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func parseTime(v any) *time.Time {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}
