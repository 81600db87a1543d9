package domain

// Reserved keys of a raw document source. Everything else at the top level
// is the type-keyed attribute bag.
const (
	RawFieldType             = "type"
	RawFieldNamespace        = "namespace"
	RawFieldNamespaces       = "namespaces"
	RawFieldOriginID         = "originId"
	RawFieldReferences       = "references"
	RawFieldMigrationVersion = "migrationVersion"
	RawFieldCreatedAt        = "created_at"
	RawFieldUpdatedAt        = "updated_at"
)

// RawDoc is the stored representation of a saved object: the flattened
// store id plus the source map as the document store persists it, and the
// store-assigned concurrency pair.
type RawDoc struct {
	ID          string
	Source      map[string]any
	SeqNo       int64
	PrimaryTerm int64
}

// RawType reads the object type recorded in the source.
func (d *RawDoc) RawType() string {
	t, _ := d.Source[RawFieldType].(string)
	return t
}
