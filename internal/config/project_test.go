package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ricochet-labs/cursor-discord-bridge/internal/model"
)

func TestLoadProjectConfigMissingFileReturnsZeroValue(t *testing.T) {
	cfg, err := LoadProjectConfig(filepath.Join(t.TempDir(), "project.json"))
	require.NoError(t, err)
	require.Equal(t, model.ProjectConfig{}, cfg)
}

func TestSaveAndLoadProjectConfigRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "project.json")
	require.NoError(t, SaveProjectConfig(path, model.ProjectConfig{ChannelID: "c1", ChannelName: "agent-chatter"}))

	cfg, err := LoadProjectConfig(path)
	require.NoError(t, err)
	require.Equal(t, "c1", cfg.ChannelID)
	require.Equal(t, "agent-chatter", cfg.ChannelName)
	require.False(t, cfg.CreatedAt.IsZero())
}
