package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer func() { _ = os.Chdir(cwd) }()

	t.Setenv("CONFIG_FILE", filepath.Join(dir, "missing.yaml"))
	t.Setenv("DATABASE_DSN", "")

	_, err = Load()
	require.Error(t, err, "no databases configured should be a fatal config error")
}

func TestLoad_FromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := `
server:
  host: 127.0.0.1
  port: 9090
databases:
  - tenant: acme
    dsn: postgres://acme
poller:
  interval: 1m
  pool_size: 4
`
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	require.Len(t, cfg.Databases, 1)
	assert.Equal(t, "acme", cfg.Databases[0].Tenant)
	assert.Equal(t, 4, cfg.Poller.PoolSize)
}

func TestValidate_RejectsDuplicateTenant(t *testing.T) {
	cfg := New()
	cfg.Databases = []DatabaseConfig{
		{Tenant: "acme", DSN: "x"},
		{Tenant: "acme", DSN: "y"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestValidate_RejectsNonPositiveInterval(t *testing.T) {
	cfg := New()
	cfg.Databases = []DatabaseConfig{{Tenant: "acme", DSN: "x"}}
	cfg.Poller.Interval = 0
	err := cfg.Validate()
	require.Error(t, err)
}
