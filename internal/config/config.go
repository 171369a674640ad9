// Package config loads the per-host and per-workspace configuration of
// spec §3, layering environment variables over an optional YAML file whose
// path the caller supplies (no default location is read), via viper — the same layering
// 88lin-divinesense's cmd/divinesense/main.go uses for its server profile.
package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/ricochet-labs/cursor-discord-bridge/internal/model"
)

// Host holds the per-host settings: the bot credential and the policy knobs
// of spec §3 that apply across every workspace this host serves.
type Host struct {
	BotToken string
	model.GlobalConfig
}

// Load reads Host configuration, layering DISCORD_BRIDGE_* environment
// variables over an optional YAML file at configPath ("" skips the file).
func Load(configPath string) (*Host, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if !isNotFound(err) {
				return nil, errors.Wrapf(err, "read config %s", configPath)
			}
		}
	}

	v.SetEnvPrefix("DISCORD_BRIDGE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	v.SetDefault("guild_id", "")
	v.SetDefault("guild_name", "")
	v.SetDefault("thread_creation_notify", string(model.NotifySilent))
	v.SetDefault("message_ping_mode", string(model.PingNever))
	v.SetDefault("implicit_archive_count", 10)
	v.SetDefault("implicit_archive_hours", 48)

	token := v.GetString("bot_token")
	if token == "" {
		return nil, errors.New("DISCORD_BRIDGE_BOT_TOKEN is required")
	}

	host := &Host{
		BotToken: token,
		GlobalConfig: model.GlobalConfig{
			GuildID:              v.GetString("guild_id"),
			GuildName:            v.GetString("guild_name"),
			InviteUserIDs:        v.GetStringSlice("invite_user_ids"),
			ThreadCreationNotify: model.ThreadCreationNotify(v.GetString("thread_creation_notify")),
			MessagePingMode:      model.MessagePingMode(v.GetString("message_ping_mode")),
			ImplicitArchiveCount: v.GetInt("implicit_archive_count"),
			ImplicitArchiveHours: v.GetInt("implicit_archive_hours"),
		},
	}

	if host.ImplicitArchiveCount < 1 {
		host.ImplicitArchiveCount = 1
	}
	if host.ImplicitArchiveHours < 1 {
		host.ImplicitArchiveHours = 1
	}
	if host.ThreadCreationNotify != model.NotifySilent && host.ThreadCreationNotify != model.NotifyPing {
		host.ThreadCreationNotify = model.NotifySilent
	}
	switch host.MessagePingMode {
	case model.PingNever, model.PingOnRecentUserMsg, model.PingAlways:
	default:
		host.MessagePingMode = model.PingNever
	}

	return host, nil
}

func isNotFound(err error) bool {
	_, ok := err.(viper.ConfigFileNotFoundError)
	return ok
}

// InviteURL builds the bot invite URL (spec §6).
func InviteURL(botUserID string) string {
	const permissions = "397284550672"
	return "https://discord.com/oauth2/authorize?client_id=" + botUserID + "&permissions=" + permissions + "&scope=bot"
}
