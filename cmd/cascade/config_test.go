package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/cascade/internal/scheduler"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg := loadConfigFrom(filepath.Join(t.TempDir(), "missing.json"), envMap(nil))
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, scheduler.DefaultPollSpec, cfg.PollSpec)
	assert.Equal(t, "cascade.db", filepath.Base(cfg.DBPath))
	assert.Empty(t, cfg.DefinitionsDir)
	assert.Equal(t, ":4100", cfg.ListenAddr)
	assert.False(t, cfg.Panel)
}

func TestLoadConfigLayering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"log_level":"debug","poll_spec":"@every 1m","db_path":"/data/c.db"}`), 0o644))

	cfg := loadConfigFrom(path, envMap(nil))
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "@every 1m", cfg.PollSpec)
	assert.Equal(t, "/data/c.db", cfg.DBPath)

	cfg = loadConfigFrom(path, envMap(map[string]string{
		"CASCADE_LOG_LEVEL":       "warn",
		"CASCADE_DEFINITIONS_DIR": "/defs",
	}))
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "@every 1m", cfg.PollSpec)
	assert.Equal(t, "/defs", cfg.DefinitionsDir)
}

func TestLoadConfigPanel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"panel":true,"listen_addr":":9000"}`), 0o644))

	cfg := loadConfigFrom(path, envMap(nil))
	assert.True(t, cfg.Panel)
	assert.Equal(t, ":9000", cfg.ListenAddr)

	cfg = loadConfigFrom(path, envMap(map[string]string{"CASCADE_PANEL": "0", "CASCADE_LISTEN_ADDR": "127.0.0.1:4200"}))
	assert.False(t, cfg.Panel)
	assert.Equal(t, "127.0.0.1:4200", cfg.ListenAddr)

	cfg = loadConfigFrom(path, envMap(map[string]string{"CASCADE_PANEL": "1"}))
	assert.True(t, cfg.Panel)
}

func TestLoadConfigIgnoresMalformedSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	cfg := loadConfigFrom(path, envMap(map[string]string{"CASCADE_POLL_SPEC": "@every 2s"}))
	assert.Equal(t, "@every 2s", cfg.PollSpec)
}

func TestConfigDSN(t *testing.T) {
	assert.Equal(t, "file:/tmp/c.db", Config{DBPath: "/tmp/c.db"}.dsn())
	assert.Equal(t, "file:/tmp/c.db", Config{DBPath: "file:/tmp/c.db"}.dsn())
	assert.Equal(t, "libsql://db.example.com", Config{DBPath: "libsql://db.example.com"}.dsn())
}
