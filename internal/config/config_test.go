package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "data/talefold.db", cfg.DBPath)
	assert.Equal(t, "owner", cfg.OwnerID)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.APIKey)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("TALEFOLD_ADDR", ":9090")
	t.Setenv("TALEFOLD_DB", "/tmp/other.db")
	t.Setenv("TALEFOLD_API_KEY", "secret")
	t.Setenv("TALEFOLD_OWNER", "alice")
	t.Setenv("TALEFOLD_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "/tmp/other.db", cfg.DBPath)
	assert.Equal(t, "secret", cfg.APIKey)
	assert.Equal(t, "alice", cfg.OwnerID)
	assert.Equal(t, "debug", cfg.LogLevel)
}
