// Package migration is the collaborator run on every document immediately
// before serialization on write. The shipped implementation stamps the
// type's schema version and, when the type definition carries a JSON
// schema, validates the attribute bag against it.
package migration

import (
	"errors"
	"fmt"
	"strings"

	"github.com/anyproto/any-sync/app"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/anyproto/anytype-object-store/domain"
	"github.com/anyproto/anytype-object-store/objects/soerror"
	"github.com/anyproto/anytype-object-store/objects/typeregistry"
)

const CName = "objects.migration"

func New() Migrator {
	return new(schemaMigrator)
}

type Migrator interface {
	app.Component

	MigrateDocument(doc *domain.RawDoc) (*domain.RawDoc, error)
}

type schemaMigrator struct {
	registry typeregistry.TypeRegistry
	schemas  map[string]*jsonschema.Schema
}

func (m *schemaMigrator) Name() (name string) {
	return CName
}

func (m *schemaMigrator) Init(a *app.App) (err error) {
	m.registry = a.MustComponent(typeregistry.CName).(typeregistry.TypeRegistry)
	m.schemas = map[string]*jsonschema.Schema{}
	for _, typ := range m.registry.AllTypes() {
		def, _ := m.registry.GetType(typ)
		if def.AttributesSchema == "" {
			continue
		}
		schema, err := jsonschema.CompileString(typ+".schema.json", def.AttributesSchema)
		if err != nil {
			return fmt.Errorf("migration: type %q: %w", typ, err)
		}
		m.schemas[typ] = schema
	}
	return
}

func (m *schemaMigrator) MigrateDocument(doc *domain.RawDoc) (*domain.RawDoc, error) {
	typ := doc.RawType()
	def, ok := m.registry.GetType(typ)
	if !ok {
		return nil, soerror.NewUnsupportedType(typ)
	}
	if schema, ok := m.schemas[typ]; ok {
		attrs, _ := doc.Source[typ].(map[string]any)
		if err := schema.Validate(toValidatable(attrs)); err != nil {
			return nil, soerror.NewBadRequestf("document %s: %s", doc.ID, schemaErrorMessage(err))
		}
	}
	if def.SchemaVersion != "" {
		mv, _ := doc.Source[domain.RawFieldMigrationVersion].(map[string]any)
		if mv == nil {
			mv = map[string]any{}
		}
		mv[typ] = def.SchemaVersion
		doc.Source[domain.RawFieldMigrationVersion] = mv
	}
	return doc, nil
}

// toValidatable converts the attribute bag into the generic shapes the
// schema validator expects (numbers as float64 and so on).
func toValidatable(attrs map[string]any) any {
	if attrs == nil {
		return map[string]any{}
	}
	return convert(attrs)
}

func convert(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = convert(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = convert(item)
		}
		return out
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}

func schemaErrorMessage(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	loc := strings.TrimPrefix(leaf.InstanceLocation, "/")
	if loc == "" {
		return leaf.Message
	}
	return fmt.Sprintf("%s: %s", strings.ReplaceAll(loc, "/", "."), leaf.Message)
}
