package docstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyMutations_IncrementFields(t *testing.T) {
	source := map[string]any{
		"dashboard": map[string]any{"views": float64(2)},
	}
	deleted := ApplyMutations(source, []Mutation{
		IncrementFields{Fields: map[string]int64{
			"dashboard.views":  3,
			"dashboard.clicks": 1,
		}},
	})
	assert.False(t, deleted)
	assert.Equal(t, float64(5), GetPath(source, "dashboard.views"))
	assert.Equal(t, float64(1), GetPath(source, "dashboard.clicks"))
}

func TestApplyMutations_SetAndMerge(t *testing.T) {
	source := map[string]any{
		"dashboard": map[string]any{"title": "old", "views": float64(1)},
		"updated_at": "2026-01-01T00:00:00Z",
	}
	ApplyMutations(source, []Mutation{
		MergeDoc{Doc: map[string]any{
			"dashboard":  map[string]any{"title": "new"},
			"updated_at": "2026-02-01T00:00:00Z",
		}},
		SetFields{Fields: map[string]any{"dashboard.pinned": true}},
	})
	// a merge is key-by-key, untouched attributes survive
	assert.Equal(t, "new", GetPath(source, "dashboard.title"))
	assert.Equal(t, float64(1), GetPath(source, "dashboard.views"))
	assert.Equal(t, true, GetPath(source, "dashboard.pinned"))
	assert.Equal(t, "2026-02-01T00:00:00Z", source["updated_at"])
}

func TestApplyMutations_RemoveReference(t *testing.T) {
	source := map[string]any{
		"references": []any{
			map[string]any{"name": "p0", "type": "visualization", "id": "v1"},
			map[string]any{"name": "p1", "type": "visualization", "id": "v2"},
			map[string]any{"name": "p2", "type": "lens", "id": "v1"},
		},
	}
	ApplyMutations(source, []Mutation{RemoveReference{Type: "visualization", ID: "v1"}})
	refs := source["references"].([]any)
	assert.Len(t, refs, 2)
	assert.Equal(t, "v2", refs[0].(map[string]any)["id"])
	assert.Equal(t, "lens", refs[1].(map[string]any)["type"])
}

func TestApplyMutations_RemoveNamespace(t *testing.T) {
	t.Run("shrinks a shared membership", func(t *testing.T) {
		source := map[string]any{"namespaces": []any{"ns1", "ns2"}}
		deleted := ApplyMutations(source, []Mutation{RemoveNamespace{Namespace: "ns1", DeleteIfLast: true}})
		assert.False(t, deleted)
		assert.Equal(t, []any{"ns2"}, source["namespaces"])
	})
	t.Run("deletes the last owner", func(t *testing.T) {
		source := map[string]any{"namespaces": []any{"ns1"}}
		deleted := ApplyMutations(source, []Mutation{RemoveNamespace{Namespace: "ns1", DeleteIfLast: true}})
		assert.True(t, deleted)
	})
	t.Run("deletes on scalar namespace match", func(t *testing.T) {
		source := map[string]any{"namespace": "ns1"}
		deleted := ApplyMutations(source, []Mutation{RemoveNamespace{Namespace: "ns1", DeleteIfLast: true}})
		assert.True(t, deleted)
	})
	t.Run("no-op without membership", func(t *testing.T) {
		source := map[string]any{"namespaces": []any{"ns2"}}
		deleted := ApplyMutations(source, []Mutation{RemoveNamespace{Namespace: "ns1", DeleteIfLast: true}})
		assert.False(t, deleted)
		assert.Equal(t, []any{"ns2"}, source["namespaces"])
	})
	t.Run("without DeleteIfLast the document survives", func(t *testing.T) {
		source := map[string]any{"namespaces": []any{"ns1"}}
		deleted := ApplyMutations(source, []Mutation{RemoveNamespace{Namespace: "ns1"}})
		assert.False(t, deleted)
	})
}

func TestPathHelpers(t *testing.T) {
	source := map[string]any{}
	SetPath(source, "a.b.c", 1)
	assert.Equal(t, 1, GetPath(source, "a.b.c"))
	assert.Nil(t, GetPath(source, "a.b.c.d"))
	assert.Nil(t, GetPath(source, "missing"))
	SetPath(source, "top", "x")
	assert.Equal(t, "x", source["top"])
}
