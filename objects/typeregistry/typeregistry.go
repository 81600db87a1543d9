// Package typeregistry holds the per-type metadata the repository consults
// before any namespace-sensitive branch: namespace classification and index
// routing. The registry is immutable after construction.
package typeregistry

import (
	"fmt"

	"github.com/anyproto/any-sync/app"

	"github.com/anyproto/anytype-object-store/domain"
)

const CName = "objects.typeregistry"

func New() TypeRegistry {
	return new(typeRegistry)
}

type NamespaceType string

const (
	// NamespaceSingle objects live in exactly one namespace.
	NamespaceSingle NamespaceType = "single"
	// NamespaceMultiple objects can be shared into several namespaces.
	NamespaceMultiple NamespaceType = "multiple"
	// NamespaceMultipleIsolated objects carry a namespaces list but cannot
	// be shared beyond the one they were created in.
	NamespaceMultipleIsolated NamespaceType = "multiple-isolated"
	// NamespaceAgnostic objects carry no namespace information at all.
	NamespaceAgnostic NamespaceType = "agnostic"
)

type TypeDefinition struct {
	Name          string        `yaml:"name"`
	NamespaceType NamespaceType `yaml:"namespaceType"`
	// Index overrides the default index for this type.
	Index         string `yaml:"index,omitempty"`
	SchemaVersion string `yaml:"schemaVersion,omitempty"`
	// AttributesSchema is an inline JSON schema validated by the migrator.
	AttributesSchema string `yaml:"attributesSchema,omitempty"`
}

type Config struct {
	DefaultIndex string           `yaml:"defaultIndex"`
	Indexes      []string         `yaml:"indexes,omitempty"`
	Types        []TypeDefinition `yaml:"types"`
}

type configGetter interface {
	GetRegistry() Config
}

type TypeRegistry interface {
	app.Component

	IsRegistered(typ string) bool
	IsSingleNamespace(typ string) bool
	IsMultiNamespace(typ string) bool
	IsNamespaceAgnostic(typ string) bool
	IsShareable(typ string) bool
	GetIndex(typ string) string
	GetType(typ string) (TypeDefinition, bool)
	AllTypes() []string
	AllIndexes() []string
	DefaultIndex() string
}

type typeRegistry struct {
	defaultIndex string
	types        map[string]TypeDefinition
	typeNames    []string
	indexes      []string
}

func (r *typeRegistry) Name() (name string) {
	return CName
}

func (r *typeRegistry) Init(a *app.App) (err error) {
	conf := a.MustComponent("config").(configGetter).GetRegistry()
	if conf.DefaultIndex == "" {
		return fmt.Errorf("typeregistry: default index is empty")
	}
	known := map[string]bool{conf.DefaultIndex: true}
	for _, idx := range conf.Indexes {
		known[idx] = true
	}

	r.defaultIndex = conf.DefaultIndex
	r.types = make(map[string]TypeDefinition)

	defs := append([]TypeDefinition{{
		Name:          domain.LegacyAliasType,
		NamespaceType: NamespaceAgnostic,
	}}, conf.Types...)
	for _, def := range defs {
		if def.Name == "" {
			return fmt.Errorf("typeregistry: type with empty name")
		}
		if _, ok := r.types[def.Name]; ok {
			return fmt.Errorf("typeregistry: duplicate type %q", def.Name)
		}
		if def.NamespaceType == "" {
			def.NamespaceType = NamespaceSingle
		}
		switch def.NamespaceType {
		case NamespaceSingle, NamespaceMultiple, NamespaceMultipleIsolated, NamespaceAgnostic:
		default:
			return fmt.Errorf("typeregistry: type %q: unknown namespace type %q", def.Name, def.NamespaceType)
		}
		if def.Index == "" {
			def.Index = r.defaultIndex
		}
		// every explicitly routed type must map onto a configured index
		if !known[def.Index] {
			return fmt.Errorf("typeregistry: type %q: index %q is not configured", def.Name, def.Index)
		}
		r.types[def.Name] = def
		r.typeNames = append(r.typeNames, def.Name)
	}
	seen := map[string]bool{}
	for _, def := range r.types {
		if !seen[def.Index] {
			seen[def.Index] = true
			r.indexes = append(r.indexes, def.Index)
		}
	}
	return nil
}

func (r *typeRegistry) IsRegistered(typ string) bool {
	_, ok := r.types[typ]
	return ok
}

func (r *typeRegistry) IsSingleNamespace(typ string) bool {
	return r.types[typ].NamespaceType == NamespaceSingle
}

func (r *typeRegistry) IsMultiNamespace(typ string) bool {
	nt := r.types[typ].NamespaceType
	return nt == NamespaceMultiple || nt == NamespaceMultipleIsolated
}

func (r *typeRegistry) IsNamespaceAgnostic(typ string) bool {
	return r.types[typ].NamespaceType == NamespaceAgnostic
}

func (r *typeRegistry) IsShareable(typ string) bool {
	return r.types[typ].NamespaceType == NamespaceMultiple
}

func (r *typeRegistry) GetIndex(typ string) string {
	def, ok := r.types[typ]
	if !ok {
		return ""
	}
	return def.Index
}

func (r *typeRegistry) GetType(typ string) (TypeDefinition, bool) {
	def, ok := r.types[typ]
	return def, ok
}

func (r *typeRegistry) AllTypes() []string {
	return r.typeNames
}

func (r *typeRegistry) AllIndexes() []string {
	return r.indexes
}

func (r *typeRegistry) DefaultIndex() string {
	return r.defaultIndex
}
