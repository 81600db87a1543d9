package docstore

// Mutation is an atomic server-side mutation request: the portable form of
// the store's inline scripting facility. Backends that cannot express one
// natively fall back to read-modify-write guarded by the document's
// concurrency pair.
type Mutation interface {
	isMutation()
}

// IncrementFields adds deltas to numeric fields, creating them at the delta
// value when absent.
type IncrementFields struct {
	Fields map[string]int64
}

// SetFields assigns values to fields.
type SetFields struct {
	Fields map[string]any
}

// MergeDoc merges a partial document into the source: top-level map values
// are merged key-by-key, everything else is replaced.
type MergeDoc struct {
	Doc map[string]any
}

// RemoveReference removes every entry matching (type, id) from the
// document's references list.
type RemoveReference struct {
	Type string
	ID   string
}

// RemoveNamespace removes a namespace from the document's membership. A
// document owned solely by the namespace (scalar namespace field equal to
// it, or a namespaces list that would become empty) is deleted outright
// when DeleteIfLast is set.
type RemoveNamespace struct {
	Namespace    string
	DeleteIfLast bool
}

func (IncrementFields) isMutation() {}
func (SetFields) isMutation()       {}
func (MergeDoc) isMutation()        {}
func (RemoveReference) isMutation() {}
func (RemoveNamespace) isMutation() {}
