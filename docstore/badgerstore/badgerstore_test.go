package badgerstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/anyproto/any-sync/app"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anyproto/anytype-object-store/docstore"
)

var ctx = context.Background()

const testIndex = "main"

func TestStore_IndexGet(t *testing.T) {
	t.Run("create and read back", func(t *testing.T) {
		fx := newFixture(t)
		res, err := fx.Index(ctx, docstore.IndexRequest{
			Index: testIndex, ID: "a:1",
			Source: map[string]any{"title": "one"},
			OpType: docstore.OpCreate,
		})
		require.NoError(t, err)
		require.True(t, res.OK())
		assert.Equal(t, "created", res.Result)

		doc, err := fx.Get(ctx, docstore.GetRequest{Index: testIndex, ID: "a:1"})
		require.NoError(t, err)
		require.True(t, doc.Found)
		assert.Equal(t, "one", doc.Source["title"])
		assert.Equal(t, res.SeqNo, doc.SeqNo)
		assert.Equal(t, res.PrimaryTerm, doc.PrimaryTerm)
	})
	t.Run("create over existing conflicts", func(t *testing.T) {
		fx := newFixture(t)
		mustIndex(t, fx, "a:1", map[string]any{"title": "one"})
		res, err := fx.Index(ctx, docstore.IndexRequest{
			Index: testIndex, ID: "a:1",
			Source: map[string]any{"title": "two"},
			OpType: docstore.OpCreate,
		})
		require.NoError(t, err)
		assert.Equal(t, 409, res.Status)
	})
	t.Run("missing document is a 404 result", func(t *testing.T) {
		fx := newFixture(t)
		doc, err := fx.Get(ctx, docstore.GetRequest{Index: testIndex, ID: "nope"})
		require.NoError(t, err)
		assert.False(t, doc.Found)
		assert.Equal(t, 404, doc.Status)
	})
}

func TestStore_Preconditions(t *testing.T) {
	fx := newFixture(t)
	first, err := fx.Index(ctx, docstore.IndexRequest{
		Index: testIndex, ID: "a:1", Source: map[string]any{"v": float64(1)},
	})
	require.NoError(t, err)

	t.Run("matching pair wins", func(t *testing.T) {
		res, err := fx.Index(ctx, docstore.IndexRequest{
			Index: testIndex, ID: "a:1", Source: map[string]any{"v": float64(2)},
			IfSeqNo: &first.SeqNo, IfPrimaryTerm: &first.PrimaryTerm,
		})
		require.NoError(t, err)
		require.True(t, res.OK())
		assert.Greater(t, res.SeqNo, first.SeqNo)
	})
	t.Run("stale pair conflicts", func(t *testing.T) {
		res, err := fx.Index(ctx, docstore.IndexRequest{
			Index: testIndex, ID: "a:1", Source: map[string]any{"v": float64(3)},
			IfSeqNo: &first.SeqNo, IfPrimaryTerm: &first.PrimaryTerm,
		})
		require.NoError(t, err)
		assert.Equal(t, 409, res.Status)
	})
	t.Run("precondition on missing doc is 404", func(t *testing.T) {
		one := int64(1)
		res, err := fx.Delete(ctx, docstore.DeleteRequest{
			Index: testIndex, ID: "nope", IfSeqNo: &one, IfPrimaryTerm: &one,
		})
		require.NoError(t, err)
		assert.Equal(t, 404, res.Status)
	})
	t.Run("precondition on missing doc wins over upsert", func(t *testing.T) {
		res, err := fx.Update(ctx, docstore.UpdateRequest{
			Index: testIndex, ID: "gone",
			Mutations: []docstore.Mutation{docstore.SetFields{Fields: map[string]any{"v": float64(9)}}},
			Upsert:    map[string]any{"v": float64(9)},
			IfSeqNo:   &first.SeqNo, IfPrimaryTerm: &first.PrimaryTerm,
		})
		require.NoError(t, err)
		assert.Equal(t, 404, res.Status)
		doc, err := fx.Get(ctx, docstore.GetRequest{Index: testIndex, ID: "gone"})
		require.NoError(t, err)
		assert.False(t, doc.Found)
	})
}

func TestStore_Update(t *testing.T) {
	t.Run("mutations with fetch source", func(t *testing.T) {
		fx := newFixture(t)
		mustIndex(t, fx, "a:1", map[string]any{"obj": map[string]any{"views": float64(1)}})
		res, err := fx.Update(ctx, docstore.UpdateRequest{
			Index: testIndex, ID: "a:1",
			Mutations: []docstore.Mutation{
				docstore.IncrementFields{Fields: map[string]int64{"obj.views": 2}},
				docstore.SetFields{Fields: map[string]any{"obj.title": "t"}},
			},
			FetchSource: true,
		})
		require.NoError(t, err)
		require.True(t, res.OK())
		assert.Equal(t, float64(3), docstore.GetPath(res.Source, "obj.views"))
		assert.Equal(t, "t", docstore.GetPath(res.Source, "obj.title"))
	})
	t.Run("missing without upsert is 404", func(t *testing.T) {
		fx := newFixture(t)
		res, err := fx.Update(ctx, docstore.UpdateRequest{
			Index: testIndex, ID: "nope",
			Mutations: []docstore.Mutation{docstore.SetFields{Fields: map[string]any{"x": 1}}},
		})
		require.NoError(t, err)
		assert.Equal(t, 404, res.Status)
	})
	t.Run("missing with upsert seeds the document", func(t *testing.T) {
		fx := newFixture(t)
		res, err := fx.Update(ctx, docstore.UpdateRequest{
			Index: testIndex, ID: "a:1",
			Mutations:   []docstore.Mutation{docstore.IncrementFields{Fields: map[string]int64{"views": 1}}},
			Upsert:      map[string]any{"views": float64(5)},
			FetchSource: true,
		})
		require.NoError(t, err)
		require.True(t, res.OK())
		assert.Equal(t, "created", res.Result)
		// mutations do not run against the seed
		assert.Equal(t, float64(5), res.Source["views"])
	})
	t.Run("namespace removal can delete", func(t *testing.T) {
		fx := newFixture(t)
		mustIndex(t, fx, "a:1", map[string]any{"namespaces": []any{"ns1"}})
		res, err := fx.Update(ctx, docstore.UpdateRequest{
			Index: testIndex, ID: "a:1",
			Mutations: []docstore.Mutation{docstore.RemoveNamespace{Namespace: "ns1", DeleteIfLast: true}},
		})
		require.NoError(t, err)
		assert.Equal(t, "deleted", res.Result)
		doc, err := fx.Get(ctx, docstore.GetRequest{Index: testIndex, ID: "a:1"})
		require.NoError(t, err)
		assert.False(t, doc.Found)
	})
}

func TestStore_Bulk(t *testing.T) {
	fx := newFixture(t)
	mustIndex(t, fx, "a:1", map[string]any{"title": "one"})
	res, err := fx.Bulk(ctx, docstore.BulkRequest{Ops: []docstore.BulkOp{
		{OpType: docstore.OpCreate, Index: testIndex, ID: "a:2", Source: map[string]any{"title": "two"}},
		{OpType: docstore.OpCreate, Index: testIndex, ID: "a:1", Source: map[string]any{"title": "dup"}},
		{OpType: docstore.OpUpdate, Index: testIndex, ID: "a:1", Mutations: []docstore.Mutation{
			docstore.MergeDoc{Doc: map[string]any{"title": "one!"}},
		}},
		{OpType: docstore.OpDelete, Index: testIndex, ID: "nope"},
	}})
	require.NoError(t, err)
	require.Len(t, res.Items, 4)
	assert.True(t, res.Items[0].OK())
	assert.Equal(t, 409, res.Items[1].Status)
	assert.True(t, res.Items[2].OK())
	assert.Equal(t, 404, res.Items[3].Status)

	doc, err := fx.Get(ctx, docstore.GetRequest{Index: testIndex, ID: "a:1"})
	require.NoError(t, err)
	assert.Equal(t, "one!", doc.Source["title"])
}

func TestStore_Search(t *testing.T) {
	fx := newFixture(t)
	for i := 0; i < 5; i++ {
		mustIndex(t, fx, fmt.Sprintf("a:%d", i), map[string]any{
			"type": "a",
			"a":    map[string]any{"rank": float64(i)},
		})
	}
	mustIndex(t, fx, "b:1", map[string]any{"type": "b"})

	t.Run("term filter", func(t *testing.T) {
		res, err := fx.Search(ctx, docstore.SearchRequest{
			Indexes: []string{testIndex},
			Query:   docstore.Term{Field: "type", Value: "a"},
			Size:    100,
		})
		require.NoError(t, err)
		assert.EqualValues(t, 5, res.Total)
		assert.Len(t, res.Hits, 5)
	})
	t.Run("sort desc and paging", func(t *testing.T) {
		res, err := fx.Search(ctx, docstore.SearchRequest{
			Indexes: []string{testIndex},
			Query:   docstore.Term{Field: "type", Value: "a"},
			Sort:    []docstore.SortField{{Field: "a.rank", Desc: true}},
			From:    1,
			Size:    2,
		})
		require.NoError(t, err)
		require.Len(t, res.Hits, 2)
		assert.Equal(t, "a:3", res.Hits[0].ID)
		assert.Equal(t, "a:2", res.Hits[1].ID)
	})
	t.Run("search after", func(t *testing.T) {
		res, err := fx.Search(ctx, docstore.SearchRequest{
			Indexes: []string{testIndex},
			Query:   docstore.Term{Field: "type", Value: "a"},
			Sort:    []docstore.SortField{{Field: "a.rank"}},
			Size:    2,
		})
		require.NoError(t, err)
		require.Len(t, res.Hits, 2)

		next, err := fx.Search(ctx, docstore.SearchRequest{
			Indexes:     []string{testIndex},
			Query:       docstore.Term{Field: "type", Value: "a"},
			Sort:        []docstore.SortField{{Field: "a.rank"}},
			SearchAfter: res.Hits[1].Sort,
			Size:        2,
		})
		require.NoError(t, err)
		require.Len(t, next.Hits, 2)
		assert.Equal(t, "a:2", next.Hits[0].ID)
		assert.Equal(t, "a:3", next.Hits[1].ID)
	})
	t.Run("bool query", func(t *testing.T) {
		res, err := fx.Search(ctx, docstore.SearchRequest{
			Indexes: []string{testIndex},
			Query: docstore.Bool{
				Must:    []docstore.Query{docstore.Term{Field: "type", Value: "a"}},
				MustNot: []docstore.Query{docstore.Term{Field: "a.rank", Value: float64(0)}},
				Filter:  []docstore.Query{docstore.Range{Field: "a.rank", LT: float64(3)}},
			},
			Size: 100,
		})
		require.NoError(t, err)
		assert.EqualValues(t, 2, res.Total)
	})
	t.Run("terms aggregation", func(t *testing.T) {
		res, err := fx.Search(ctx, docstore.SearchRequest{
			Indexes: []string{testIndex},
			Query:   docstore.MatchAll{},
			Size:    0,
			Aggregations: map[string]docstore.Aggregation{
				"types": {Kind: docstore.AggTerms, Field: "type"},
			},
		})
		require.NoError(t, err)
		agg, ok := res.Aggregations["types"]
		require.True(t, ok)
		require.Len(t, agg.Buckets, 2)
		assert.Equal(t, "a", agg.Buckets[0].Key)
		assert.EqualValues(t, 5, agg.Buckets[0].DocCount)
	})
}

func TestStore_PointInTime(t *testing.T) {
	fx := newFixture(t)
	mustIndex(t, fx, "a:1", map[string]any{"title": "one"})

	pitID, err := fx.OpenPointInTime(ctx, docstore.OpenPITRequest{Indexes: []string{testIndex}})
	require.NoError(t, err)

	// writes after the snapshot stay invisible inside it
	mustIndex(t, fx, "a:2", map[string]any{"title": "two"})

	res, err := fx.Search(ctx, docstore.SearchRequest{Query: docstore.MatchAll{}, PITID: pitID, Size: 100})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Total)

	live, err := fx.Search(ctx, docstore.SearchRequest{Indexes: []string{testIndex}, Query: docstore.MatchAll{}, Size: 100})
	require.NoError(t, err)
	assert.EqualValues(t, 2, live.Total)

	require.NoError(t, fx.ClosePointInTime(ctx, pitID))
	assert.ErrorIs(t, fx.ClosePointInTime(ctx, pitID), docstore.ErrPITNotFound)
	_, err = fx.Search(ctx, docstore.SearchRequest{Query: docstore.MatchAll{}, PITID: pitID})
	assert.ErrorIs(t, err, docstore.ErrPITNotFound)
}

func TestStore_UpdateByQuery(t *testing.T) {
	fx := newFixture(t)
	mustIndex(t, fx, "a:1", map[string]any{"type": "a", "namespaces": []any{"ns1", "ns2"}})
	mustIndex(t, fx, "a:2", map[string]any{"type": "a", "namespaces": []any{"ns1"}})
	mustIndex(t, fx, "b:1", map[string]any{"type": "b", "namespaces": []any{"ns2"}})

	res, err := fx.UpdateByQuery(ctx, docstore.UpdateByQueryRequest{
		Indexes:   []string{testIndex},
		Query:     docstore.Term{Field: "namespaces", Value: "ns1"},
		Mutations: []docstore.Mutation{docstore.RemoveNamespace{Namespace: "ns1", DeleteIfLast: true}},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Updated)
	assert.EqualValues(t, 1, res.Deleted)

	doc, err := fx.Get(ctx, docstore.GetRequest{Index: testIndex, ID: "a:1"})
	require.NoError(t, err)
	assert.Equal(t, []any{"ns2"}, doc.Source["namespaces"])
	gone, err := fx.Get(ctx, docstore.GetRequest{Index: testIndex, ID: "a:2"})
	require.NoError(t, err)
	assert.False(t, gone.Found)
}

func mustIndex(t testing.TB, fx Store, id string, source map[string]any) {
	t.Helper()
	res, err := fx.Index(ctx, docstore.IndexRequest{Index: testIndex, ID: id, Source: source})
	require.NoError(t, err)
	require.True(t, res.OK())
}

func newFixture(t testing.TB) Store {
	s := New()
	a := new(app.App)
	a.Register(testConfig{}).Register(s)
	require.NoError(t, a.Start(ctx))
	t.Cleanup(func() {
		require.NoError(t, a.Close(ctx))
	})
	return s
}

type testConfig struct{}

func (t testConfig) Init(a *app.App) (err error) {
	return
}

func (t testConfig) Name() (name string) {
	return "config"
}

func (t testConfig) GetBadgerStore() Config {
	return Config{InMemory: true}
}
