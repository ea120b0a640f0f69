package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSubstitutesEnv(t *testing.T) {
	t.Setenv("MESH_TEST_PORT", "9090")
	cfg, err := Parse([]byte(`{
		"server": {"port": ${MESH_TEST_PORT}, "log_level": "${MESH_TEST_LEVEL:debug}"},
		"database": {"redis": {"url": "${MESH_TEST_REDIS:}", "replay": ${MESH_TEST_REPLAY:true}}}
	}`))
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Empty(t, cfg.Database.Redis.URL)
	assert.True(t, cfg.Database.Redis.Replay)
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "MESH", cfg.Agent.Name)
	assert.Equal(t, "MESH", cfg.Workflow.LocalAgent)
	assert.Equal(t, 5*time.Minute, cfg.Discovery.Interval.Std())
	assert.Equal(t, time.Minute, cfg.Discovery.HeartbeatInterval.Std())
	assert.Equal(t, 30*time.Second, cfg.Delegation.DefaultTimeout.Std())
	assert.Equal(t, "static", cfg.Discovery.Source)
	assert.Equal(t, "simulated", cfg.Discovery.Probe)
	assert.Equal(t, "mesh:events", cfg.Database.Redis.Stream)
	assert.Equal(t, "/mcp", cfg.MCP.Path)
}

func TestDurationForms(t *testing.T) {
	cfg, err := Parse([]byte(`{"discovery": {"interval": "90s", "heartbeat_interval": 15}, "delegation": {"retention": "2h"}}`))
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Discovery.Interval.Std())
	assert.Equal(t, 15*time.Second, cfg.Discovery.HeartbeatInterval.Std())
	assert.Equal(t, 2*time.Hour, cfg.Delegation.Retention.Std())

	_, err = Parse([]byte(`{"discovery": {"interval": "soon"}}`))
	assert.Error(t, err)
}

func TestValidation(t *testing.T) {
	_, err := Parse([]byte(`{"discovery": {"source": "ldap"}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Source")

	_, err = Parse([]byte(`{"discovery": {"source": "postgres"}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.postgres.dsn")

	_, err = Parse([]byte(`{"server": {"log_level": "loud"}}`))
	assert.Error(t, err)

	_, err = Parse([]byte(`{"mcp": {"path": "mcp"}}`))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mesh.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"agent": {"name": "Relay"}}`), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Relay", cfg.Agent.Name)
	assert.Equal(t, "Relay", cfg.Workflow.LocalAgent)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.MCP.Enabled)
	assert.True(t, cfg.ACP.Enabled)
}
