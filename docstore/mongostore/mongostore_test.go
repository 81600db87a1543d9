package mongostore

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/anyproto/any-sync/app"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anyproto/anytype-object-store/db"
	"github.com/anyproto/anytype-object-store/docstore"
)

var ctx = context.Background()

const (
	testIndex  = "docstore_unittest"
	testIndex2 = "docstore_unittest_2"
)

func TestStore_IndexGet(t *testing.T) {
	fx := newFixture(t)
	res, err := fx.Index(ctx, docstore.IndexRequest{
		Index:  testIndex,
		ID:     "dashboard:d1",
		Source: map[string]any{"type": "dashboard", "dashboard": map[string]any{"title": "one"}},
		OpType: docstore.OpCreate,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, res.Status)

	doc, err := fx.Get(ctx, docstore.GetRequest{Index: testIndex, ID: "dashboard:d1"})
	require.NoError(t, err)
	require.True(t, doc.Found)
	assert.Equal(t, res.SeqNo, doc.SeqNo)
	assert.Equal(t, "dashboard", doc.Source["type"])

	t.Run("create over existing conflicts", func(t *testing.T) {
		res, err := fx.Index(ctx, docstore.IndexRequest{
			Index: testIndex, ID: "dashboard:d1", Source: map[string]any{}, OpType: docstore.OpCreate,
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusConflict, res.Status)
	})
	t.Run("missing doc", func(t *testing.T) {
		doc, err := fx.Get(ctx, docstore.GetRequest{Index: testIndex, ID: "dashboard:nope"})
		require.NoError(t, err)
		assert.False(t, doc.Found)
		assert.Equal(t, http.StatusNotFound, doc.Status)
	})
}

func TestStore_Preconditions(t *testing.T) {
	fx := newFixture(t)
	first := fx.mustIndex(t, "dashboard:d1", map[string]any{"dashboard": map[string]any{"v": 1}})
	second := fx.mustIndex(t, "dashboard:d1", map[string]any{"dashboard": map[string]any{"v": 2}})

	t.Run("matching pair", func(t *testing.T) {
		res, err := fx.Index(ctx, docstore.IndexRequest{
			Index: testIndex, ID: "dashboard:d1",
			Source:  map[string]any{"dashboard": map[string]any{"v": 3}},
			OpType:  docstore.OpIndex,
			IfSeqNo: &second.SeqNo, IfPrimaryTerm: &second.PrimaryTerm,
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, res.Status)
	})
	t.Run("stale pair", func(t *testing.T) {
		res, err := fx.Delete(ctx, docstore.DeleteRequest{
			Index: testIndex, ID: "dashboard:d1",
			IfSeqNo: &first.SeqNo, IfPrimaryTerm: &first.PrimaryTerm,
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusConflict, res.Status)
	})
	t.Run("missing doc with precondition", func(t *testing.T) {
		res, err := fx.Delete(ctx, docstore.DeleteRequest{
			Index: testIndex, ID: "dashboard:nope",
			IfSeqNo: &first.SeqNo, IfPrimaryTerm: &first.PrimaryTerm,
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, res.Status)
	})
}

func TestStore_Update(t *testing.T) {
	fx := newFixture(t)
	fx.mustIndex(t, "dashboard:d1", map[string]any{
		"type":      "dashboard",
		"dashboard": map[string]any{"title": "one", "views": 5},
	})

	t.Run("native mutations with source", func(t *testing.T) {
		res, err := fx.Update(ctx, docstore.UpdateRequest{
			Index: testIndex, ID: "dashboard:d1",
			Mutations: []docstore.Mutation{
				docstore.IncrementFields{Fields: map[string]int64{"dashboard.views": 3}},
				docstore.SetFields{Fields: map[string]any{"updated_at": "now"}},
			},
			FetchSource: true,
		})
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, res.Status)
		bag := res.Source["dashboard"].(map[string]any)
		assert.EqualValues(t, 8, bag["views"])
		assert.Equal(t, "now", res.Source["updated_at"])
	})
	t.Run("missing without upsert", func(t *testing.T) {
		res, err := fx.Update(ctx, docstore.UpdateRequest{
			Index: testIndex, ID: "dashboard:nope",
			Mutations: []docstore.Mutation{docstore.SetFields{Fields: map[string]any{"x": 1}}},
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, res.Status)
	})
	t.Run("upsert seeds without running mutations", func(t *testing.T) {
		res, err := fx.Update(ctx, docstore.UpdateRequest{
			Index: testIndex, ID: "dashboard:fresh",
			Mutations: []docstore.Mutation{
				docstore.IncrementFields{Fields: map[string]int64{"dashboard.views": 1}},
			},
			Upsert:      map[string]any{"type": "dashboard", "dashboard": map[string]any{"views": 0}},
			FetchSource: true,
		})
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, res.Status)
		bag := res.Source["dashboard"].(map[string]any)
		assert.EqualValues(t, 0, bag["views"])
	})
	t.Run("remove namespace deletes the last owner", func(t *testing.T) {
		fx.mustIndex(t, "canvas:c1", map[string]any{
			"type": "canvas", "namespaces": []any{"ns1"},
		})
		res, err := fx.Update(ctx, docstore.UpdateRequest{
			Index: testIndex, ID: "canvas:c1",
			Mutations: []docstore.Mutation{docstore.RemoveNamespace{Namespace: "ns1", DeleteIfLast: true}},
		})
		require.NoError(t, err)
		assert.Equal(t, "deleted", res.Result)
		doc, err := fx.Get(ctx, docstore.GetRequest{Index: testIndex, ID: "canvas:c1"})
		require.NoError(t, err)
		assert.False(t, doc.Found)
	})
}

func TestStore_Bulk(t *testing.T) {
	fx := newFixture(t)
	fx.mustIndex(t, "dashboard:taken", map[string]any{"type": "dashboard"})

	res, err := fx.Bulk(ctx, docstore.BulkRequest{Ops: []docstore.BulkOp{
		{OpType: docstore.OpCreate, Index: testIndex, ID: "dashboard:new", Source: map[string]any{"type": "dashboard"}},
		{OpType: docstore.OpCreate, Index: testIndex, ID: "dashboard:taken", Source: map[string]any{}},
		{OpType: docstore.OpUpdate, Index: testIndex, ID: "dashboard:taken",
			Mutations: []docstore.Mutation{docstore.SetFields{Fields: map[string]any{"updated_at": "now"}}}},
		{OpType: docstore.OpDelete, Index: testIndex, ID: "dashboard:nope"},
	}})
	require.NoError(t, err)
	require.Len(t, res.Items, 4)
	assert.Equal(t, http.StatusCreated, res.Items[0].Status)
	assert.Equal(t, http.StatusConflict, res.Items[1].Status)
	assert.Equal(t, http.StatusOK, res.Items[2].Status)
	assert.Equal(t, http.StatusNotFound, res.Items[3].Status)
}

func TestStore_Search(t *testing.T) {
	fx := newFixture(t)
	for i := 1; i <= 5; i++ {
		fx.mustIndex(t, fmt.Sprintf("dashboard:d%d", i), map[string]any{
			"type":      "dashboard",
			"dashboard": map[string]any{"rank": i},
		})
	}
	fx.mustIndex(t, "canvas:c1", map[string]any{"type": "canvas"})

	t.Run("term filter", func(t *testing.T) {
		res, err := fx.Search(ctx, docstore.SearchRequest{
			Indexes: []string{testIndex},
			Query:   docstore.Term{Field: "type", Value: "dashboard"},
			Size:    10,
		})
		require.NoError(t, err)
		assert.EqualValues(t, 5, res.Total)
		assert.Len(t, res.Hits, 5)
	})
	t.Run("sort desc with offset", func(t *testing.T) {
		res, err := fx.Search(ctx, docstore.SearchRequest{
			Indexes: []string{testIndex},
			Query:   docstore.Term{Field: "type", Value: "dashboard"},
			Sort:    []docstore.SortField{{Field: "dashboard.rank", Desc: true}},
			From:    2,
			Size:    2,
		})
		require.NoError(t, err)
		require.Len(t, res.Hits, 2)
		assert.Equal(t, "dashboard:d3", res.Hits[0].ID)
		assert.Equal(t, "dashboard:d2", res.Hits[1].ID)
	})
	t.Run("search after continuation", func(t *testing.T) {
		req := docstore.SearchRequest{
			Indexes: []string{testIndex},
			Query:   docstore.Term{Field: "type", Value: "dashboard"},
			Sort:    []docstore.SortField{{Field: "dashboard.rank", Desc: false}},
			Size:    2,
		}
		first, err := fx.Search(ctx, req)
		require.NoError(t, err)
		require.Len(t, first.Hits, 2)
		req.SearchAfter = first.Hits[1].Sort
		second, err := fx.Search(ctx, req)
		require.NoError(t, err)
		require.Len(t, second.Hits, 2)
		assert.Equal(t, "dashboard:d3", second.Hits[0].ID)
		assert.Equal(t, "dashboard:d4", second.Hits[1].ID)
	})
}

func TestStore_SearchMultiIndex(t *testing.T) {
	fx := newFixture(t)
	for _, seed := range []struct {
		index string
		id    string
		rank  int
	}{
		{testIndex, "dashboard:a1", 1},
		{testIndex, "dashboard:a9", 9},
		{testIndex, "dashboard:a3", 3},
		{testIndex2, "dashboard:b10", 10},
		{testIndex2, "dashboard:b2", 2},
	} {
		res, err := fx.Index(ctx, docstore.IndexRequest{
			Index:  seed.index,
			ID:     seed.id,
			Source: map[string]any{"type": "dashboard", "dashboard": map[string]any{"rank": seed.rank}},
			OpType: docstore.OpIndex,
		})
		require.NoError(t, err)
		require.True(t, res.OK())
	}

	t.Run("numeric sort across collections", func(t *testing.T) {
		res, err := fx.Search(ctx, docstore.SearchRequest{
			Indexes: []string{testIndex, testIndex2},
			Query:   docstore.Term{Field: "type", Value: "dashboard"},
			Sort:    []docstore.SortField{{Field: "dashboard.rank", Desc: true}},
			Size:    10,
		})
		require.NoError(t, err)
		assert.EqualValues(t, 5, res.Total)
		require.Len(t, res.Hits, 5)
		assert.Equal(t, "dashboard:b10", res.Hits[0].ID)
		assert.Equal(t, "dashboard:a9", res.Hits[1].ID)
		assert.Equal(t, "dashboard:a3", res.Hits[2].ID)
	})
	t.Run("offset applies to the merged page", func(t *testing.T) {
		res, err := fx.Search(ctx, docstore.SearchRequest{
			Indexes: []string{testIndex, testIndex2},
			Query:   docstore.Term{Field: "type", Value: "dashboard"},
			Sort:    []docstore.SortField{{Field: "dashboard.rank", Desc: true}},
			From:    1,
			Size:    2,
		})
		require.NoError(t, err)
		require.Len(t, res.Hits, 2)
		assert.Equal(t, "dashboard:a9", res.Hits[0].ID)
		assert.Equal(t, "dashboard:a3", res.Hits[1].ID)
	})
	t.Run("search after crosses collections", func(t *testing.T) {
		req := docstore.SearchRequest{
			Indexes: []string{testIndex, testIndex2},
			Query:   docstore.Term{Field: "type", Value: "dashboard"},
			Sort:    []docstore.SortField{{Field: "dashboard.rank", Desc: false}},
			Size:    2,
		}
		first, err := fx.Search(ctx, req)
		require.NoError(t, err)
		require.Len(t, first.Hits, 2)
		assert.Equal(t, "dashboard:a1", first.Hits[0].ID)
		assert.Equal(t, "dashboard:b2", first.Hits[1].ID)
		req.SearchAfter = first.Hits[1].Sort
		second, err := fx.Search(ctx, req)
		require.NoError(t, err)
		require.Len(t, second.Hits, 2)
		assert.Equal(t, "dashboard:a3", second.Hits[0].ID)
		assert.Equal(t, "dashboard:a9", second.Hits[1].ID)
	})
}

func TestStore_PointInTime(t *testing.T) {
	fx := newFixture(t)
	fx.mustIndex(t, "dashboard:d1", map[string]any{"type": "dashboard"})

	pitID, err := fx.OpenPointInTime(ctx, docstore.OpenPITRequest{Indexes: []string{testIndex}})
	require.NoError(t, err)

	res, err := fx.Search(ctx, docstore.SearchRequest{
		PITID: pitID,
		Query: docstore.Term{Field: "type", Value: "dashboard"},
		Size:  10,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Total)
	assert.Equal(t, pitID, res.PITID)

	require.NoError(t, fx.ClosePointInTime(ctx, pitID))
	assert.ErrorIs(t, fx.ClosePointInTime(ctx, pitID), docstore.ErrPITNotFound)
	_, err = fx.Search(ctx, docstore.SearchRequest{PITID: pitID, Query: docstore.MatchAll{}})
	assert.ErrorIs(t, err, docstore.ErrPITNotFound)
}

func TestStore_UpdateByQuery(t *testing.T) {
	fx := newFixture(t)
	fx.mustIndex(t, "canvas:shared", map[string]any{"type": "canvas", "namespaces": []any{"default", "ns1"}})
	fx.mustIndex(t, "canvas:owned", map[string]any{"type": "canvas", "namespaces": []any{"ns1"}})
	fx.mustIndex(t, "canvas:other", map[string]any{"type": "canvas", "namespaces": []any{"default"}})

	res, err := fx.UpdateByQuery(ctx, docstore.UpdateByQueryRequest{
		Indexes:           []string{testIndex},
		Query:             docstore.Term{Field: "namespaces", Value: "ns1"},
		Mutations:         []docstore.Mutation{docstore.RemoveNamespace{Namespace: "ns1", DeleteIfLast: true}},
		ProceedOnConflict: true,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Updated)
	assert.EqualValues(t, 1, res.Deleted)

	doc, err := fx.Get(ctx, docstore.GetRequest{Index: testIndex, ID: "canvas:shared"})
	require.NoError(t, err)
	require.True(t, doc.Found)
	assert.Equal(t, []any{"default"}, doc.Source["namespaces"])
	doc, err = fx.Get(ctx, docstore.GetRequest{Index: testIndex, ID: "canvas:owned"})
	require.NoError(t, err)
	assert.False(t, doc.Found)
}

func (fx *fixture) mustIndex(t testing.TB, id string, source map[string]any) *docstore.WriteResult {
	t.Helper()
	res, err := fx.Index(ctx, docstore.IndexRequest{Index: testIndex, ID: id, Source: source, OpType: docstore.OpIndex})
	require.NoError(t, err)
	require.True(t, res.OK())
	return res
}

func newFixture(t testing.TB) *fixture {
	fx := &fixture{
		Store: New(),
		a:     new(app.App),
	}
	fx.a.Register(&testConfig{
		Mongo: db.Mongo{
			Connect:  "mongodb://localhost:27017",
			Database: "objectstore_unittest",
		},
	}).
		Register(db.New()).
		Register(fx.Store)
	require.NoError(t, fx.a.Start(ctx))
	t.Cleanup(func() {
		fx.finish(t)
	})
	return fx
}

type fixture struct {
	Store
	a *app.App
}

func (fx *fixture) finish(t testing.TB) {
	mdb := fx.Store.(*store).db.Db()
	_ = mdb.Collection(testIndex).Drop(ctx)
	_ = mdb.Collection(testIndex2).Drop(ctx)
	_ = mdb.Collection(metaCollection).Drop(ctx)
	require.NoError(t, fx.a.Close(ctx))
}

type testConfig struct {
	Mongo db.Mongo
}

func (t testConfig) Init(a *app.App) (err error) {
	return
}

func (t testConfig) Name() (name string) {
	return "config"
}

func (t testConfig) GetMongo() db.Mongo {
	return t.Mongo
}
