// Package docstore defines the document-store client the saved-object layer
// is built on. Implementations normalize store responses into uniform
// statuses: a missing index and a missing document both come back as a 404
// result, never as a raw store error; a stale concurrency precondition comes
// back as a 409. Transport and other unclassified failures are the only
// things returned as errors.
package docstore

import (
	"context"
	"net/http"
	"time"
)

// CName is the component name the active backend registers under.
const CName = "docstore"

type OpType int

const (
	// OpIndex writes the document, creating or replacing it.
	OpIndex OpType = iota
	// OpCreate writes the document only if it does not exist yet.
	OpCreate
	// OpUpdate applies a partial document merge or mutations.
	OpUpdate
	// OpDelete removes the document.
	OpDelete
)

// Doc is a stored document as returned by reads and searches.
type Doc struct {
	Index       string
	ID          string
	Source      map[string]any
	SeqNo       int64
	PrimaryTerm int64
	Found       bool
	Status      int
	// Sort holds the hit's sort values; usable as a SearchAfter cursor.
	Sort  []any
	Score float64
}

type GetRequest struct {
	Index string
	ID    string
}

type MGetItem struct {
	Index string
	ID    string
}

type MGetRequest struct {
	Items []MGetItem
}

type IndexRequest struct {
	Index  string
	ID     string
	Source map[string]any
	OpType OpType // OpIndex or OpCreate
	IfSeqNo, IfPrimaryTerm *int64
}

type UpdateRequest struct {
	Index     string
	ID        string
	Mutations []Mutation
	// Upsert seeds the document when it does not exist. Without it a
	// missing document is a 404 result.
	Upsert map[string]any
	IfSeqNo, IfPrimaryTerm *int64
	// FetchSource returns the post-update source in the result.
	FetchSource bool
}

type UpdateByQueryRequest struct {
	Indexes   []string
	Query     Query
	Mutations []Mutation
	// ProceedOnConflict counts concurrent-write conflicts instead of
	// aborting the sweep.
	ProceedOnConflict bool
}

type DeleteRequest struct {
	Index string
	ID    string
	IfSeqNo, IfPrimaryTerm *int64
}

type BulkOp struct {
	OpType OpType
	Index  string
	ID     string
	// Source is the full document for OpIndex/OpCreate.
	Source map[string]any
	// Mutations apply for OpUpdate.
	Mutations []Mutation
	Upsert    map[string]any
	IfSeqNo, IfPrimaryTerm *int64
}

type BulkRequest struct {
	Ops []BulkOp
}

type SortField struct {
	Field string
	Desc  bool
}

type SearchRequest struct {
	Indexes     []string
	Query       Query
	Sort        []SortField
	SearchAfter []any
	From        int
	Size        int
	// PITID binds the search to an open point-in-time snapshot. From is
	// not applied when SearchAfter is present.
	PITID        string
	Aggregations map[string]Aggregation
}

type OpenPITRequest struct {
	Indexes   []string
	KeepAlive time.Duration
}

// WriteResult is the outcome of one write, single or bulk slot.
type WriteResult struct {
	ID          string
	Status      int
	Result      string // "created", "updated", "deleted", "noop"
	SeqNo       int64
	PrimaryTerm int64
	// Error holds the store's failure cause for non-2xx statuses.
	Error *ErrorCause
}

func (r *WriteResult) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

type ErrorCause struct {
	Type   string
	Reason string
}

type UpdateResult struct {
	WriteResult
	// Source is the post-update document when FetchSource was requested.
	Source map[string]any
}

type UpdateByQueryResult struct {
	Updated          int64
	Deleted          int64
	VersionConflicts int64
}

type BulkResult struct {
	// Items correspond 1:1, in order, to the request ops.
	Items []WriteResult
}

type SearchResult struct {
	Hits         []Doc
	Total        int64
	Aggregations map[string]AggResult
	PITID        string
}

type Client interface {
	Get(ctx context.Context, req GetRequest) (*Doc, error)
	// MGet returns one Doc per requested item, in request order; missing
	// documents have Found=false.
	MGet(ctx context.Context, req MGetRequest) ([]Doc, error)
	Index(ctx context.Context, req IndexRequest) (*WriteResult, error)
	Update(ctx context.Context, req UpdateRequest) (*UpdateResult, error)
	UpdateByQuery(ctx context.Context, req UpdateByQueryRequest) (*UpdateByQueryResult, error)
	Bulk(ctx context.Context, req BulkRequest) (*BulkResult, error)
	Delete(ctx context.Context, req DeleteRequest) (*WriteResult, error)
	Search(ctx context.Context, req SearchRequest) (*SearchResult, error)
	OpenPointInTime(ctx context.Context, req OpenPITRequest) (pitID string, err error)
	ClosePointInTime(ctx context.Context, pitID string) error
}

// NotFoundDoc builds the normalized missing-document result.
func NotFoundDoc(index, id string) Doc {
	return Doc{Index: index, ID: id, Status: http.StatusNotFound}
}
