package mcpinstall

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureWritesWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "mcp.json")

	wrote, err := Ensure(cfgPath, "/usr/local/bin/discord-bridge-adapter")
	require.NoError(t, err)
	require.True(t, wrote)

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	require.Contains(t, string(data), ServerName)
	require.Contains(t, string(data), "discord-bridge-adapter")
}

func TestEnsureIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "mcp.json")

	_, err := Ensure(cfgPath, "/opt/adapter")
	require.NoError(t, err)

	wrote, err := Ensure(cfgPath, "/opt/adapter")
	require.NoError(t, err)
	require.False(t, wrote, "second Ensure with identical path should not rewrite")
}

func TestEnsurePreservesOtherServers(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "mcp.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"mcpServers":{"other":{"command":"/bin/other"}}}`), 0644))

	wrote, err := Ensure(cfgPath, "/opt/adapter")
	require.NoError(t, err)
	require.True(t, wrote)

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "\"other\"")
	require.Contains(t, string(data), ServerName)
}

func TestEnsureUpdatesStaleCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "mcp.json")

	_, err := Ensure(cfgPath, "/opt/old-adapter")
	require.NoError(t, err)

	wrote, err := Ensure(cfgPath, "/opt/new-adapter")
	require.NoError(t, err)
	require.True(t, wrote)

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "/opt/new-adapter")
	require.NotContains(t, string(data), "/opt/old-adapter")
}
