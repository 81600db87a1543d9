package domain

import "time"

// DefaultNamespace is the implicit tenant scope. It is represented as an
// absent namespace in stored documents and in raw ids.
const DefaultNamespace = "default"

// Reference is a weak link to another saved object. The store does not
// enforce it as a foreign key; reference integrity is maintained explicitly
// through the repository's reference operations.
type Reference struct {
	Name string `json:"name" bson:"name"`
	Type string `json:"type" bson:"type"`
	ID   string `json:"id" bson:"id"`
}

// SavedObject is a typed, namespaced application document.
type SavedObject struct {
	ID               string            `json:"id"`
	Type             string            `json:"type"`
	Attributes       map[string]any    `json:"attributes"`
	References       []Reference       `json:"references"`
	Namespace        string            `json:"namespace,omitempty"`
	Namespaces       []string          `json:"namespaces,omitempty"`
	OriginID         string            `json:"originId,omitempty"`
	MigrationVersion map[string]string `json:"migrationVersion,omitempty"`
	// Version is an opaque optimistic-concurrency token. Callers pass it
	// back on writes; they never parse it.
	Version   string     `json:"version,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// TypeID addresses a saved object without carrying its payload.
type TypeID struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (t TypeID) String() string {
	return t.Type + ":" + t.ID
}
