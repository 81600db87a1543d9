package serializer

import (
	"context"
	"testing"
	"time"

	"github.com/anyproto/any-sync/app"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anyproto/anytype-object-store/domain"
	"github.com/anyproto/anytype-object-store/objects/soerror"
	"github.com/anyproto/anytype-object-store/objects/soversion"
	"github.com/anyproto/anytype-object-store/objects/typeregistry"
)

var ctx = context.Background()

func TestNormalizeNamespace(t *testing.T) {
	assert.Equal(t, "", NormalizeNamespace("default"))
	assert.Equal(t, "", NormalizeNamespace(""))
	assert.Equal(t, "ns1", NormalizeNamespace("ns1"))
}

func TestGenerateRawID(t *testing.T) {
	fx := newFixture(t)
	t.Run("default namespace", func(t *testing.T) {
		id, err := fx.GenerateRawID("", "dashboard", "d1")
		require.NoError(t, err)
		assert.Equal(t, "dashboard:d1", id)
		id, err = fx.GenerateRawID("default", "dashboard", "d1")
		require.NoError(t, err)
		assert.Equal(t, "dashboard:d1", id)
	})
	t.Run("custom namespace prefixes single-namespace types", func(t *testing.T) {
		id, err := fx.GenerateRawID("ns1", "dashboard", "d1")
		require.NoError(t, err)
		assert.Equal(t, "ns1:dashboard:d1", id)
	})
	t.Run("namespace rejected for non-single types", func(t *testing.T) {
		_, err := fx.GenerateRawID("ns1", "canvas", "c1")
		assert.ErrorIs(t, err, soerror.InvalidID)
		_, err = fx.GenerateRawID("ns1", "config", "c1")
		assert.ErrorIs(t, err, soerror.InvalidID)
	})
}

func TestRoundTrip(t *testing.T) {
	fx := newFixture(t)
	now := time.Now().UTC().Truncate(time.Millisecond)
	obj := &domain.SavedObject{
		ID:   "d1",
		Type: "dashboard",
		Attributes: map[string]any{
			"title": "ops",
			"panes": float64(3),
		},
		References: []domain.Reference{{Name: "panel_0", Type: "visualization", ID: "v1"}},
		Namespace:  "ns1",
		OriginID:   "legacy-d1",
		MigrationVersion: map[string]string{
			"dashboard": "8.0.0",
		},
		CreatedAt: &now,
		UpdatedAt: &now,
	}
	raw, err := fx.ToRaw(obj)
	require.NoError(t, err)
	assert.Equal(t, "ns1:dashboard:d1", raw.ID)
	assert.Equal(t, "dashboard", raw.RawType())
	assert.Equal(t, "ns1", raw.Source[domain.RawFieldNamespace])

	raw.SeqNo, raw.PrimaryTerm = 10, 2
	back, err := fx.FromRaw(raw)
	require.NoError(t, err)
	assert.Equal(t, obj.ID, back.ID)
	assert.Equal(t, obj.Type, back.Type)
	assert.Equal(t, obj.Attributes, back.Attributes)
	assert.Equal(t, obj.References, back.References)
	assert.Equal(t, obj.Namespace, back.Namespace)
	assert.Equal(t, obj.OriginID, back.OriginID)
	assert.Equal(t, obj.MigrationVersion, back.MigrationVersion)
	assert.Equal(t, soversion.Encode(10, 2), back.Version)
	require.NotNil(t, back.CreatedAt)
	assert.True(t, back.CreatedAt.Equal(now))
}

func TestToRaw(t *testing.T) {
	fx := newFixture(t)
	t.Run("multi-namespace object keeps namespaces list", func(t *testing.T) {
		raw, err := fx.ToRaw(&domain.SavedObject{
			ID: "c1", Type: "canvas", Namespaces: []string{"default", "ns1"},
		})
		require.NoError(t, err)
		assert.Equal(t, "canvas:c1", raw.ID)
		assert.Equal(t, []any{"default", "ns1"}, raw.Source[domain.RawFieldNamespaces])
		_, hasScalar := raw.Source[domain.RawFieldNamespace]
		assert.False(t, hasScalar)
	})
	t.Run("version decodes into the concurrency pair", func(t *testing.T) {
		raw, err := fx.ToRaw(&domain.SavedObject{
			ID: "d1", Type: "dashboard", Version: soversion.Encode(4, 1),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(4), raw.SeqNo)
		assert.Equal(t, int64(1), raw.PrimaryTerm)
	})
	t.Run("garbage version fails", func(t *testing.T) {
		_, err := fx.ToRaw(&domain.SavedObject{ID: "d1", Type: "dashboard", Version: "!!"})
		assert.ErrorIs(t, err, soerror.BadRequest)
	})
}

func TestFromRaw(t *testing.T) {
	fx := newFixture(t)
	t.Run("unregistered type", func(t *testing.T) {
		_, err := fx.FromRaw(&domain.RawDoc{
			ID:     "wat:1",
			Source: map[string]any{domain.RawFieldType: "wat"},
		})
		assert.ErrorIs(t, err, soerror.UnsupportedType)
	})
	t.Run("id prefix mismatch", func(t *testing.T) {
		_, err := fx.FromRaw(&domain.RawDoc{
			ID:     "visualization:v1",
			Source: map[string]any{domain.RawFieldType: "dashboard"},
		})
		assert.ErrorIs(t, err, soerror.InvalidID)
	})
	t.Run("missing attribute bag becomes empty map", func(t *testing.T) {
		obj, err := fx.FromRaw(&domain.RawDoc{
			ID:     "dashboard:d1",
			Source: map[string]any{domain.RawFieldType: "dashboard"},
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{}, obj.Attributes)
		assert.Equal(t, []domain.Reference{}, obj.References)
	})
}

func TestIsRawSavedObject(t *testing.T) {
	fx := newFixture(t)
	assert.True(t, fx.IsRawSavedObject(&domain.RawDoc{
		ID: "dashboard:d1",
		Source: map[string]any{
			domain.RawFieldType: "dashboard",
			"dashboard":         map[string]any{},
		},
	}))
	assert.False(t, fx.IsRawSavedObject(&domain.RawDoc{
		ID:     "dashboard:d1",
		Source: map[string]any{domain.RawFieldType: "dashboard"},
	}))
	assert.False(t, fx.IsRawSavedObject(&domain.RawDoc{
		ID:     "wat:1",
		Source: map[string]any{domain.RawFieldType: "wat"},
	}))
}

func newFixture(t testing.TB) Serializer {
	s := New()
	a := new(app.App)
	a.Register(testConfig{}).
		Register(typeregistry.New()).
		Register(s)
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

func (t testConfig) GetRegistry() typeregistry.Config {
	return typeregistry.Config{
		DefaultIndex: "main",
		Types: []typeregistry.TypeDefinition{
			{Name: "dashboard", NamespaceType: typeregistry.NamespaceSingle},
			{Name: "visualization", NamespaceType: typeregistry.NamespaceSingle},
			{Name: "canvas", NamespaceType: typeregistry.NamespaceMultiple},
			{Name: "config", NamespaceType: typeregistry.NamespaceAgnostic},
		},
	}
}
