package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigCreatesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, defaultPort, cfg.Port)
	assert.Equal(t, filepath.Join(dir, "sites"), cfg.SitesPath)
	assert.Equal(t, 10, cfg.BackupKeep)
	assert.Equal(t, 30*time.Second, cfg.Duration(cfg.ReconcileInterval))
	assert.FileExists(t, filepath.Join(dir, "config.json"))
}

func TestLoadConfigKeepsDefaultsForMissingFields(t *testing.T) {
	dir := t.TempDir()
	data, err := json.Marshal(map[string]any{"port": 9090, "base_domain": "example.test"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), data, 0600))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 4, cfg.JobWorkers)
	assert.Equal(t, "http://blog.example.test", cfg.SiteURL("blog", 8101))
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("WPDOCK_PORT", "7070")
	t.Setenv("WPDOCK_NGINX_RELOAD", "false")
	t.Setenv("WPDOCK_PUBLIC_HOST", "203.0.113.7")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Port)
	assert.False(t, cfg.NginxReload)
	assert.Equal(t, "http://203.0.113.7:8101", cfg.SiteURL("blog", 8101))
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("WPDOCK_PORT_RANGE_START", "9000")
	t.Setenv("WPDOCK_PORT_RANGE_END", "8000")

	_, err := LoadConfig(dir)
	assert.Error(t, err)

	t.Setenv("WPDOCK_PORT_RANGE_END", "9100")
	t.Setenv("WPDOCK_TOGGLE_WAIT", "soon")
	_, err = LoadConfig(dir)
	assert.Error(t, err)

	t.Setenv("WPDOCK_TOGGLE_WAIT", "1s")
	t.Setenv("WPDOCK_JOB_WORKERS", "abc")
	_, err = LoadConfig(dir)
	assert.Error(t, err)
}
