package typeregistry

import (
	"context"
	"testing"

	"github.com/anyproto/any-sync/app"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anyproto/anytype-object-store/domain"
)

var ctx = context.Background()

func testTypes() []TypeDefinition {
	return []TypeDefinition{
		{Name: "dashboard", NamespaceType: NamespaceSingle},
		{Name: "canvas", NamespaceType: NamespaceMultiple},
		{Name: "cases", NamespaceType: NamespaceMultipleIsolated},
		{Name: "config", NamespaceType: NamespaceAgnostic},
		{Name: "task", NamespaceType: NamespaceSingle, Index: "tasks"},
	}
}

func TestTypeRegistry_Init(t *testing.T) {
	t.Run("classifications", func(t *testing.T) {
		fx := newFixture(t, Config{DefaultIndex: "main", Indexes: []string{"tasks"}, Types: testTypes()})
		assert.True(t, fx.IsSingleNamespace("dashboard"))
		assert.False(t, fx.IsMultiNamespace("dashboard"))
		assert.True(t, fx.IsMultiNamespace("canvas"))
		assert.True(t, fx.IsShareable("canvas"))
		assert.True(t, fx.IsMultiNamespace("cases"))
		assert.False(t, fx.IsShareable("cases"))
		assert.True(t, fx.IsNamespaceAgnostic("config"))
		assert.False(t, fx.IsRegistered("nope"))
	})
	t.Run("index routing", func(t *testing.T) {
		fx := newFixture(t, Config{DefaultIndex: "main", Indexes: []string{"tasks"}, Types: testTypes()})
		assert.Equal(t, "main", fx.GetIndex("dashboard"))
		assert.Equal(t, "tasks", fx.GetIndex("task"))
		assert.Equal(t, "", fx.GetIndex("nope"))
		assert.ElementsMatch(t, []string{"main", "tasks"}, fx.AllIndexes())
		assert.Equal(t, "main", fx.DefaultIndex())
	})
	t.Run("alias type is built in", func(t *testing.T) {
		fx := newFixture(t, Config{DefaultIndex: "main", Types: testTypes()[:1]})
		assert.True(t, fx.IsRegistered(domain.LegacyAliasType))
		assert.True(t, fx.IsNamespaceAgnostic(domain.LegacyAliasType))
	})
	t.Run("empty namespace type defaults to single", func(t *testing.T) {
		fx := newFixture(t, Config{DefaultIndex: "main", Types: []TypeDefinition{{Name: "plain"}}})
		assert.True(t, fx.IsSingleNamespace("plain"))
	})
}

func TestTypeRegistry_InitErrors(t *testing.T) {
	t.Run("empty default index", func(t *testing.T) {
		requireInitError(t, Config{Types: testTypes()})
	})
	t.Run("duplicate type", func(t *testing.T) {
		requireInitError(t, Config{DefaultIndex: "main", Types: []TypeDefinition{
			{Name: "dashboard"}, {Name: "dashboard"},
		}})
	})
	t.Run("unknown namespace type", func(t *testing.T) {
		requireInitError(t, Config{DefaultIndex: "main", Types: []TypeDefinition{
			{Name: "dashboard", NamespaceType: "sideways"},
		}})
	})
	t.Run("unconfigured index", func(t *testing.T) {
		requireInitError(t, Config{DefaultIndex: "main", Types: []TypeDefinition{
			{Name: "task", Index: "tasks"},
		}})
	})
}

func newFixture(t testing.TB, conf Config) TypeRegistry {
	reg := New()
	a := new(app.App)
	a.Register(testConfig{registry: conf}).Register(reg)
	require.NoError(t, a.Start(ctx))
	t.Cleanup(func() {
		require.NoError(t, a.Close(ctx))
	})
	return reg
}

func requireInitError(t testing.TB, conf Config) {
	a := new(app.App)
	a.Register(testConfig{registry: conf}).Register(New())
	require.Error(t, a.Start(ctx))
}

type testConfig struct {
	registry Config
}

func (t testConfig) Init(a *app.App) (err error) {
	return
}

func (t testConfig) Name() (name string) {
	return "config"
}

func (t testConfig) GetRegistry() Config {
	return t.registry
}
