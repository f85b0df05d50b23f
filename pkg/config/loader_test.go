package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_UsesBuiltinDefaultsWhenFleetYAMLAbsent(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "localhost", cfg.Store.Host)
	assert.Equal(t, 50, cfg.AgentLoop.MaxIterations)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	yamlContent := `
http:
  addr: ":9090"
store:
  host: "db.internal"
  password: "${TEST_DB_PASSWORD}"
agent_loop:
  max_iterations: 10
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fleet.yaml"), []byte(yamlContent), 0o644))
	t.Setenv("TEST_DB_PASSWORD", "hunter2")

	cfg, err := Load(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "db.internal", cfg.Store.Host)
	assert.Equal(t, "hunter2", cfg.Store.Password)
	assert.Equal(t, 10, cfg.AgentLoop.MaxIterations)
	// Unset sections keep their built-in defaults.
	assert.Equal(t, "fleet", cfg.Store.Database)
	assert.Equal(t, 30*time.Second, cfg.Supervisor.Interval)
}

func TestLoad_RejectsInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fleet.yaml"), []byte("not: [valid"), 0o644))

	_, err := Load(context.Background(), dir)
	require.Error(t, err)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	yamlContent := `
queue:
  poll_interval: 1s
  poll_interval_jitter: 5s
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fleet.yaml"), []byte(yamlContent), 0o644))

	_, err := Load(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestLoad_ReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TEST_FROM_DOTENV=loaded\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fleet.yaml"), []byte("store:\n  password: \"${TEST_FROM_DOTENV}\"\n"), 0o644))

	cfg, err := Load(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "loaded", cfg.Store.Password)
}
