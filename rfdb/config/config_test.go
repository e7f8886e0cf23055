package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  path: /data/code.rfdb
  autoFlushThreshold: 500
  fileIndex: true
log:
  level: debug
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/code.rfdb", cfg.Store.Path)
	assert.Equal(t, 500, cfg.Store.AutoFlushThreshold)
	assert.True(t, cfg.Store.FileIndex)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfigPartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  path: x.rfdb\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "x.rfdb", cfg.Store.Path)
	assert.Equal(t, 10000, cfg.Store.AutoFlushThreshold)
	assert.False(t, cfg.Store.FileIndex)
	assert.Equal(t, "info", cfg.Log.Level)
}
