package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ricochet-labs/cursor-discord-bridge/internal/model"
)

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("DISCORD_BRIDGE_BOT_TOKEN", "")
	_, err := Load("")
	require.Error(t, err)
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("DISCORD_BRIDGE_BOT_TOKEN", "tok-123")
	host, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "tok-123", host.BotToken)
	require.Equal(t, model.NotifySilent, host.ThreadCreationNotify)
	require.Equal(t, model.PingNever, host.MessagePingMode)
	require.Equal(t, 10, host.ImplicitArchiveCount)
	require.Equal(t, 48, host.ImplicitArchiveHours)
}

func TestLoadClampsInvalidPolicyValues(t *testing.T) {
	t.Setenv("DISCORD_BRIDGE_BOT_TOKEN", "tok-123")
	t.Setenv("DISCORD_BRIDGE_IMPLICIT_ARCHIVE_COUNT", "0")
	t.Setenv("DISCORD_BRIDGE_MESSAGE_PING_MODE", "bogus")

	host, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 1, host.ImplicitArchiveCount)
	require.Equal(t, model.PingNever, host.MessagePingMode)
}

func TestInviteURL(t *testing.T) {
	url := InviteURL("12345")
	require.Contains(t, url, "client_id=12345")
	require.Contains(t, url, "scope=bot")
}
