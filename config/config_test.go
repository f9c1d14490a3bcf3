package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9090"
db_path: /tmp/test.db
undo_limit: 5
log_level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "/tmp/test.db", cfg.DBPath)
	assert.Equal(t, 5, cfg.UndoLimit)
	assert.Equal(t, "debug", cfg.LogLevel)
	// Untouched keys keep their defaults.
	assert.Equal(t, 23, cfg.CutoverHour)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("LENDING_LISTEN", ":7070")
	t.Setenv("LENDING_DB_PATH", ":memory:")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Listen)
	assert.Equal(t, ":memory:", cfg.DBPath)
}

func TestLoad_Validation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	require.NoError(t, os.WriteFile(path, []byte("cutover_hour: 24\n"), 0o644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "cutover_hour")

	require.NoError(t, os.WriteFile(path, []byte("undo_limit: 0\n"), 0o644))
	_, err = Load(path)
	assert.ErrorContains(t, err, "undo_limit")

	require.NoError(t, os.WriteFile(path, []byte("log_level: loud\n"), 0o644))
	_, err = Load(path)
	assert.ErrorContains(t, err, "log_level")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
