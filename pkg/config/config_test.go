package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEmptyDocumentYieldsDefaults(t *testing.T) {
	cfg, err := Parse([]byte(``))
	require.NoError(t, err)
	assert.Equal(t, "memstore", cfg.Store.Backend)
	assert.Empty(t, cfg.Entities)
}

func TestParseOverridesStoreBackend(t *testing.T) {
	cfg, err := Parse([]byte(`
store:
  backend: sqlstore
  path: /var/lib/reconciler/state.db
`))
	require.NoError(t, err)
	assert.Equal(t, "sqlstore", cfg.Store.Backend)
	assert.Equal(t, "/var/lib/reconciler/state.db", cfg.Store.Path)
}

func TestParseBuildsCatalog(t *testing.T) {
	cfg, err := Parse([]byte(`
entities:
  - entity: service
    sources: [dir, http]
`))
	require.NoError(t, err)

	catalog, err := cfg.Catalog()
	require.NoError(t, err)
	assert.True(t, catalog.Has("service", "dir"))
	assert.True(t, catalog.Has("service", "http"))
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/reconciler.yaml")
	assert.Error(t, err)
}
