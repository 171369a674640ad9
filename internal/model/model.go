// Package model holds the data types shared across the bridge daemon's
// components (spec §3). Shapes follow the teacher's plain-struct,
// JSON-tagged style (core/internal/state/manager.go) rather than an ORM.
package model

import "time"

// Conversation is the IDE-side agent chat, as observed by the Conversation
// Store. The daemon never mutates it.
type Conversation struct {
	ID            string
	Name          string
	CreatedAt     time.Time
	LastUpdatedAt time.Time
	Archived      bool
	Draft         bool
}

// Thread is the chat-service-side discussion unit.
type Thread struct {
	ID                  string
	Name                string
	AutoArchiveDuration time.Duration
	Archived            bool
	LastActivity        time.Time
}

// Mapping is the persistent Conversation<->Thread binding (spec §3).
type Mapping struct {
	ConversationID string     `json:"conversationId"`
	ThreadID       string     `json:"threadId"`
	Workspace      string     `json:"workspace"`
	CreatedAt      time.Time  `json:"createdAt"`
	ClaimedAt      *time.Time `json:"claimedAt,omitempty"`
}

// Claimed reports whether this mapping has already been resolved to a caller.
func (m Mapping) Claimed() bool {
	return m.ClaimedAt != nil
}

// ThreadCreationNotify controls whether thread creation pings anyone.
type ThreadCreationNotify string

const (
	NotifySilent ThreadCreationNotify = "silent"
	NotifyPing   ThreadCreationNotify = "ping"
)

// MessagePingMode controls when a posted message prefixes a user mention.
type MessagePingMode string

const (
	PingNever              MessagePingMode = "never"
	PingOnRecentUserMsg    MessagePingMode = "on_recent_user_message"
	PingAlways             MessagePingMode = "always"
)

// ProjectConfig is the per-workspace configuration record (spec §3).
type ProjectConfig struct {
	ChannelID   string    `json:"channelId"`
	ChannelName string    `json:"channelName"`
	CreatedAt   time.Time `json:"createdAt"`
}

// GlobalConfig is the per-host configuration record (spec §3). BotToken is
// kept out of this struct; it is handled as a separate secret (see
// internal/config).
type GlobalConfig struct {
	GuildID               string                `json:"guildId"`
	GuildName             string                `json:"guildName"`
	InviteUserIDs         []string              `json:"inviteUserIds"`
	ThreadCreationNotify  ThreadCreationNotify  `json:"threadCreationNotify"`
	MessagePingMode       MessagePingMode       `json:"messagePingMode"`
	ImplicitArchiveCount  int                   `json:"implicitArchiveCount"`
	ImplicitArchiveHours  int                   `json:"implicitArchiveHours"`
}

// DefaultGlobalConfig returns the policy defaults named in spec §3.
func DefaultGlobalConfig() GlobalConfig {
	return GlobalConfig{
		ThreadCreationNotify: NotifySilent,
		MessagePingMode:      PingNever,
		ImplicitArchiveCount: 10,
		ImplicitArchiveHours: 48,
	}
}

// RankedConversation is one row of getActiveRankedByRecency (spec §4.2).
type RankedConversation struct {
	ConversationID string
	LastUpdatedAt  time.Time
	Position       int
}

// Option is one choice in an interactive question (spec §4.6).
type Option struct {
	ID    string
	Label string
}

// ResponseType distinguishes how an Open Question was resolved.
type ResponseType string

const (
	ResponseOption ResponseType = "option"
	ResponseText   ResponseType = "text"
)

// QuestionResult is delivered to the completion sink of an Open Question.
type QuestionResult struct {
	Success          bool
	ResponseType     ResponseType
	SelectedOptionIDs []string
	TextResponse     string
	Error            string
}

// ResolveMethod names which of the three resolve() strategies produced a
// mapping (spec §4.5).
type ResolveMethod string

const (
	MethodWaitedForNew    ResolveMethod = "waited_for_new"
	MethodLatestUnclaimed ResolveMethod = "latest_unclaimed"
)
