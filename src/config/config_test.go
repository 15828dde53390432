package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_EmptyPathGivesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
db_file: /var/lib/paged/main.db
pool_size: 128
log_level: debug
flusher:
  enabled: false
  dirty_ratio: 0.5
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/paged/main.db", cfg.DBFile)
	require.Equal(t, 128, cfg.PoolSize)
	require.Equal(t, "debug", cfg.LogLevel)
	require.False(t, cfg.Flusher.Enabled)
	require.Equal(t, 0.5, cfg.Flusher.DirtyRatio)

	// Untouched fields keep their defaults.
	require.Equal(t, Default().ReplacerK, cfg.ReplacerK)
	require.Equal(t, Default().MetricsAddr, cfg.MetricsAddr)
	require.Equal(t, Default().Flusher.IntervalMs, cfg.Flusher.IntervalMs)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	for _, content := range []string{
		"pool_size: 0",
		"replacer_k: -1",
		"flusher:\n  dirty_ratio: 1.5",
	} {
		_, err := Load(writeConfigFile(t, content))
		require.Error(t, err, content)
	}
}

func TestLoad_RejectsMalformedYAML(t *testing.T) {
	_, err := Load(writeConfigFile(t, "pool_size: [not an int"))
	require.Error(t, err)
}
