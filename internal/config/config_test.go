package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsApplyWithoutAFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 10000, cfg.CacheSize())
	assert.Equal(t, time.Hour, cfg.CacheExpiryInterval())
}

func TestLoad_FileOverridesCacheSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("schema:\n  cache:\n    size: 500\n    expiry:\n      interval: 60\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.CacheSize())
	assert.Equal(t, time.Minute, cfg.CacheExpiryInterval())
}

func TestConfig_WatchReloadPicksUpFileChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("schema:\n  cache:\n    size: 100\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 100, cfg.CacheSize())

	stop, err := cfg.WatchReload()
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte("schema:\n  cache:\n    size: 250\n"), 0o644))

	require.Eventually(t, func() bool {
		return cfg.CacheSize() == 250
	}, 3*time.Second, 20*time.Millisecond)
}

func TestConfig_WatchReloadIsNoOpWithoutAFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	stop, err := cfg.WatchReload()
	require.NoError(t, err)
	stop()
}
