package docstore

// Query is the structured query tree backends compile to their native form.
// Field paths are dotted paths into the document source.
type Query interface {
	isQuery()
}

type MatchAll struct{}

type Term struct {
	Field string
	Value any
}

// Terms matches when the field (scalar or array) holds any of the values.
type Terms struct {
	Field  string
	Values []any
}

type Exists struct {
	Field string
}

type Prefix struct {
	Field string
	Value string
}

// Match is a free-text query over weighted fields. Backends score hits by
// the summed boost of matching fields where they can.
type Match struct {
	Fields []WeightedField
	Text   string
}

type WeightedField struct {
	Field string
	Boost float64
}

type Range struct {
	Field string
	GT    any
	GTE   any
	LT    any
	LTE   any
}

// HasReference matches documents whose references list contains an entry
// with both the given type and id.
type HasReference struct {
	Type string
	ID   string
}

type Bool struct {
	Must    []Query
	Filter  []Query
	Should  []Query
	MustNot []Query
	// MinimumShouldMatch defaults to 1 when Should is the only clause set.
	MinimumShouldMatch int
}

func (MatchAll) isQuery()     {}
func (Term) isQuery()         {}
func (Terms) isQuery()        {}
func (Exists) isQuery()       {}
func (Prefix) isQuery()       {}
func (Match) isQuery()        {}
func (Range) isQuery()        {}
func (HasReference) isQuery() {}
func (Bool) isQuery()         {}

// Aggregation is a minimal aggregation pass-through: terms bucketing and a
// few single-value metrics.
type Aggregation struct {
	Kind  AggKind
	Field string
	// Size limits terms buckets; 0 means the backend default.
	Size int
}

type AggKind string

const (
	AggTerms      AggKind = "terms"
	AggMax        AggKind = "max"
	AggMin        AggKind = "min"
	AggSum        AggKind = "sum"
	AggValueCount AggKind = "value_count"
)

type AggResult struct {
	Buckets []AggBucket
	Value   float64
}

type AggBucket struct {
	Key      any
	DocCount int64
}
