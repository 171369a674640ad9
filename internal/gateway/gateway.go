// Package gateway wraps a chat-service bot connection: guild/channel/thread
// operations, incoming-message routing, and thread lifecycle events. Its
// session handling, handler registration, and per-entity mutex-guarded state
// are grounded on the teacher's core/internal/discord/bot.go; ChannelEdit for
// archive/rename and thread creation generalize the teacher's simpler
// ChannelMessageSend-only surface to the spec's full thread lifecycle.
package gateway

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"

	"github.com/ricochet-labs/cursor-discord-bridge/internal/format"
	"github.com/ricochet-labs/cursor-discord-bridge/internal/model"
	"github.com/ricochet-labs/cursor-discord-bridge/internal/registry"
)

const (
	typingRefreshInterval = 8 * time.Second
	typingHardTimeout     = 5 * time.Minute
	archiveSafetyMargin   = 5 * time.Minute
	threadAutoArchive     = discordgo.ArchiveDuration10080 // 7 days
)

// requiredPermissions are the capabilities checkPermissions verifies (spec
// §4.1).
var requiredPermissions = map[int64]string{
	discordgo.PermissionSendMessages:        "send messages",
	discordgo.PermissionCreatePublicThreads: "create public threads",
	discordgo.PermissionSendMessagesInThreads: "send in threads",
	discordgo.PermissionManageChannels:      "manage channels",
	discordgo.PermissionViewChannel:         "view channels",
	discordgo.PermissionReadMessageHistory:  "read history",
	discordgo.PermissionAddReactions:        "add reactions",
}

// Actuator delivers an inbound chat message to the IDE-side agent (spec
// §4.9). Defined here, not imported from internal/actuator, so this package
// never needs to know about keystroke injection.
type Actuator interface {
	Inject(ctx context.Context, conversationID, text, threadID string) error
}

// QuestionResolver routes an in-thread text message to an Open Question if
// one is pending (spec §4.6). Returns true if the message was consumed.
type QuestionResolver interface {
	ResolveText(threadID, text string) bool
}

// GuildInfo is one entry of listGuilds.
type GuildInfo struct {
	ID   string
	Name string
}

// PermissionReport is the result of checkPermissions.
type PermissionReport struct {
	OK      bool
	Missing []string
}

// threadState is the per-thread mutable cell the gateway keeps: cached
// auto-archive duration, last local activity, explicit-archive flag, and
// the active typing timer. Spec §9 calls for per-thread cells rather than
// parallel global maps; this struct is that cell.
type threadState struct {
	autoArchiveDuration time.Duration
	lastActivity        time.Time
	explicitArchive     bool
	typingStop          chan struct{}
	pingUserID          string // Active Discord Conversation record, spec §4.7
}

// Client wraps a discordgo session with the thread-mapping semantics of
// spec §4.1.
type Client struct {
	session *discordgo.Session
	guildID string
	cfg     model.GlobalConfig

	registry  *registry.Registry
	actuator  Actuator
	questions QuestionResolver

	mu               sync.Mutex
	currentChannelID string
	threads          map[string]*threadState // threadID -> state

	readyOnce sync.Once
	connected bool
}

// New constructs a Client. Handlers are registered but the session is not
// yet opened; call Connect to do that.
func New(token, guildID string, cfg model.GlobalConfig, reg *registry.Registry, actuator Actuator, questions QuestionResolver) (*Client, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, errors.Wrap(err, "create discord session")
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMessageReactions

	c := &Client{
		session:   session,
		guildID:   guildID,
		cfg:       cfg,
		registry:  reg,
		actuator:  actuator,
		questions: questions,
		threads:   make(map[string]*threadState),
	}

	session.AddHandler(c.handleReady)
	session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		log.Printf("discord gateway disconnected")
	})
	session.AddHandler(c.handleMessageCreate)
	session.AddHandler(c.handleThreadUpdate)

	return c, nil
}

// Connect opens the gateway session (spec §4.1 connect).
func (c *Client) Connect(ctx context.Context) error {
	if err := c.session.Open(); err != nil {
		return errors.Wrap(err, "open discord session")
	}
	return nil
}

// Close destroys the gateway session, clearing all typing timers first.
func (c *Client) Close() error {
	c.mu.Lock()
	for _, st := range c.threads {
		c.stopTypingLocked(st)
	}
	c.mu.Unlock()
	return c.session.Close()
}

// Connected reports whether the gateway session believes itself live.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) handleReady(_ *discordgo.Session, r *discordgo.Ready) {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	log.Printf("discord gateway connected as %s#%s", r.User.Username, r.User.Discriminator)
}

func (c *Client) state(threadID string) *threadState {
	st, ok := c.threads[threadID]
	if !ok {
		st = &threadState{}
		c.threads[threadID] = st
	}
	return st
}

// ListGuilds returns the guilds this bot session belongs to.
func (c *Client) ListGuilds() ([]GuildInfo, error) {
	guilds := c.session.State.Guilds
	out := make([]GuildInfo, 0, len(guilds))
	for _, g := range guilds {
		out = append(out, GuildInfo{ID: g.ID, Name: g.Name})
	}
	return out, nil
}

// ListChannels returns every channel in a guild.
func (c *Client) ListChannels(guildID string) ([]*discordgo.Channel, error) {
	channels, err := c.session.GuildChannels(guildID)
	if err != nil {
		return nil, errors.Wrapf(err, "list channels for guild %s", guildID)
	}
	return channels, nil
}

// ListCategories returns only the category channels in a guild.
func (c *Client) ListCategories(guildID string) ([]*discordgo.Channel, error) {
	channels, err := c.ListChannels(guildID)
	if err != nil {
		return nil, err
	}
	cats := channels[:0]
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildCategory {
			cats = append(cats, ch)
		}
	}
	return cats, nil
}

// CheckPermissions verifies the bot holds every capability spec §4.1
// requires in guildID, combining the permissions of every role the bot
// member holds (channel-specific overwrites are not consulted: the
// capabilities checked here are guild-wide by nature).
func (c *Client) CheckPermissions(guildID string) (PermissionReport, error) {
	botID := c.session.State.User.ID

	member, err := c.session.GuildMember(guildID, botID)
	if err != nil {
		return PermissionReport{}, errors.Wrapf(err, "fetch bot member in guild %s", guildID)
	}
	roles, err := c.session.GuildRoles(guildID)
	if err != nil {
		return PermissionReport{}, errors.Wrapf(err, "fetch roles for guild %s", guildID)
	}

	memberRoles := make(map[string]struct{}, len(member.Roles))
	for _, r := range member.Roles {
		memberRoles[r] = struct{}{}
	}

	var perms int64
	for _, role := range roles {
		if _, ok := memberRoles[role.ID]; ok || role.Name == "@everyone" {
			perms |= role.Permissions
		}
	}
	if perms&discordgo.PermissionAdministrator != 0 {
		return PermissionReport{OK: true}, nil
	}

	var missing []string
	for bit, label := range requiredPermissions {
		if perms&bit == 0 {
			missing = append(missing, label)
		}
	}
	return PermissionReport{OK: len(missing) == 0, Missing: missing}, nil
}

var nonAlnumRun = regexp.MustCompile(`[^a-z0-9]+`)

// sanitizeChannelName lower-cases, collapses runs of non-alphanumerics to a
// single hyphen, and caps to 100 runes (spec §4.1).
func sanitizeChannelName(name string) string {
	lower := strings.ToLower(name)
	sanitized := nonAlnumRun.ReplaceAllString(lower, "-")
	sanitized = strings.Trim(sanitized, "-")
	return truncateRunes(sanitized, 100)
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// CreateChannel creates a text channel, optionally under a category.
func (c *Client) CreateChannel(guildID, name string, categoryID string) (*discordgo.Channel, error) {
	data := discordgo.GuildChannelCreateData{
		Name: sanitizeChannelName(name),
		Type: discordgo.ChannelTypeGuildText,
	}
	if categoryID != "" {
		data.ParentID = categoryID
	}
	ch, err := c.session.GuildChannelCreateComplex(guildID, data)
	if err != nil {
		return nil, errors.Wrapf(err, "create channel %s", name)
	}
	return ch, nil
}

// SelectChannel sets the "current channel" used by createThread when no
// channel is otherwise specified.
func (c *Client) SelectChannel(channelID string) {
	c.mu.Lock()
	c.currentChannelID = channelID
	c.mu.Unlock()
}

// CreateThread creates a public thread for a conversation, persists its
// mapping, posts a welcome message, and invites configured users (spec
// §4.1). name must be non-empty.
func (c *Client) CreateThread(ctx context.Context, conversationID, workspaceLabel, name string) (model.Mapping, error) {
	if strings.TrimSpace(name) == "" {
		return model.Mapping{}, errors.New("createThread: name is required")
	}

	c.mu.Lock()
	channelID := c.currentChannelID
	c.mu.Unlock()
	if channelID == "" {
		return model.Mapping{}, errors.New("createThread: no channel selected")
	}

	thread, err := c.session.ThreadStartComplex(channelID, &discordgo.ThreadStart{
		Name:                truncateRunes(name, 100),
		AutoArchiveDuration: threadAutoArchive,
		Type:                discordgo.ChannelTypeGuildPublicThread,
		Invitable:           false,
	})
	if err != nil {
		return model.Mapping{}, errors.Wrapf(err, "create thread for conversation %s", conversationID)
	}

	c.mu.Lock()
	st := c.state(thread.ID)
	st.autoArchiveDuration = time.Duration(threadAutoArchive) * time.Minute
	st.lastActivity = time.Now()
	c.mu.Unlock()

	mapping := model.Mapping{
		ConversationID: conversationID,
		ThreadID:       thread.ID,
		Workspace:      workspaceLabel,
		CreatedAt:      time.Now(),
	}
	if err := c.registry.Put(mapping); err != nil {
		return model.Mapping{}, errors.Wrap(err, "persist mapping")
	}

	if _, err := c.session.ChannelMessageSend(thread.ID, fmt.Sprintf("Bridging conversation `%s` in workspace `%s`.", conversationID, workspaceLabel)); err != nil {
		log.Printf("createThread: welcome message failed for %s: %v", thread.ID, err)
	}

	for _, userID := range c.cfg.InviteUserIDs {
		if err := c.session.ThreadMemberAdd(thread.ID, userID); err != nil {
			log.Printf("createThread: invite %s to %s failed: %v", userID, thread.ID, err)
		}
	}

	if c.cfg.ThreadCreationNotify == model.NotifyPing {
		mention := mentionsFor(c.cfg.InviteUserIDs)
		if mention != "" {
			if _, err := c.session.ChannelMessageSend(thread.ID, mention+" new conversation bridged here."); err != nil {
				log.Printf("createThread: notify ping failed for %s: %v", thread.ID, err)
			}
		}
	}

	return mapping, nil
}

func mentionsFor(userIDs []string) string {
	mentions := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		mentions = append(mentions, "<@"+id+">")
	}
	return strings.Join(mentions, " ")
}

// computePingPrefix implements the ping-prefix policy of spec §4.7. The
// returned consume function must be called once the post succeeds, since an
// on_recent_user_message prefix consumes its Active Discord Conversation
// record.
func (c *Client) computePingPrefix(threadID string) (prefix string, consume func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.cfg.MessagePingMode {
	case model.PingAlways:
		return mentionsFor(c.cfg.InviteUserIDs), func() {}
	case model.PingOnRecentUserMsg:
		st, ok := c.threads[threadID]
		if !ok || st.pingUserID == "" {
			return "", func() {}
		}
		mention := "<@" + st.pingUserID + ">"
		return mention, func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if s, ok := c.threads[threadID]; ok {
				s.pingUserID = ""
			}
		}
	default:
		return "", func() {}
	}
}

// PostToThread splits text into chat-service-sized chunks, applies the ping
// prefix to the first chunk only, applies a (i/n) counter to each chunk when
// there is more than one, posts them in order, and updates activity (spec
// §4.1, §4.7, invariant I6).
func (c *Client) PostToThread(threadID, text string) error {
	chunks := splitMessage(format.ToDiscordMarkdown(text))
	if len(chunks) == 0 {
		return errors.New("postToThread: empty message")
	}

	prefix, consume := c.computePingPrefix(threadID)
	chunks = applyChunkPrefix(chunks, prefix)
	if len(chunks) > 1 {
		for i := range chunks {
			chunks[i] = fmt.Sprintf("(%d/%d) %s", i+1, len(chunks), chunks[i])
		}
	}

	for _, chunk := range chunks {
		if _, err := c.session.ChannelMessageSend(threadID, chunk); err != nil {
			return errors.Wrapf(err, "post to thread %s", threadID)
		}
	}
	consume()

	c.mu.Lock()
	c.state(threadID).lastActivity = time.Now()
	c.mu.Unlock()
	return nil
}

// PostPlaceholder posts an empty-form placeholder message and returns its
// id, so the Interaction Manager can embed that id into its buttons'
// custom-identifiers before editing the message into its final form (spec
// §4.6 step 1).
func (c *Client) PostPlaceholder(threadID string) (string, error) {
	msg, err := c.session.ChannelMessageSend(threadID, "Loading question...")
	if err != nil {
		return "", errors.Wrapf(err, "post placeholder to thread %s", threadID)
	}
	return msg.ID, nil
}

// EditMessage replaces a message's content and interactive components.
func (c *Client) EditMessage(threadID, messageID string, components []discordgo.MessageComponent, content string) error {
	edit := discordgo.NewMessageEdit(threadID, messageID)
	edit.SetContent(content)
	edit.Components = &components
	_, err := c.session.ChannelMessageEditComplex(edit)
	return errors.Wrapf(err, "edit message %s in thread %s", messageID, threadID)
}

// SendFileToThread uploads a file (by path or raw bytes) to a thread.
func (c *Client) SendFileToThread(threadID string, data io.Reader, name, description string) error {
	_, err := c.session.ChannelMessageSendComplex(threadID, &discordgo.MessageSend{
		Content: description,
		Files: []*discordgo.File{
			{Name: name, Reader: data},
		},
	})
	if err != nil {
		return errors.Wrapf(err, "send file to thread %s", threadID)
	}
	c.mu.Lock()
	c.state(threadID).lastActivity = time.Now()
	c.mu.Unlock()
	return nil
}

// SendFileFromPath opens path and sends it, using the base name unless name
// is given.
func (c *Client) SendFileFromPath(threadID, path, name, description string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	if name == "" {
		name = filepath.Base(path)
	}
	return c.SendFileToThread(threadID, f, name, description)
}

// StartTyping begins a typing indicator, installing an 8s refresh timer and
// a 5-minute safety auto-stop (spec §4.1). Idempotent: a second call while
// one is already running is a no-op.
func (c *Client) StartTyping(threadID string) {
	c.mu.Lock()
	st := c.state(threadID)
	if st.typingStop != nil {
		c.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	st.typingStop = stop
	c.mu.Unlock()

	c.session.ChannelTyping(threadID)

	go func() {
		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()
		deadline := time.NewTimer(typingHardTimeout)
		defer deadline.Stop()

		for {
			select {
			case <-stop:
				return
			case <-deadline.C:
				c.StopTyping(threadID)
				return
			case <-ticker.C:
				c.session.ChannelTyping(threadID)
			}
		}
	}()
}

// StopTyping cancels an active typing indicator. A no-op if none is active
// (spec law L2).
func (c *Client) StopTyping(threadID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.threads[threadID]
	if !ok {
		return
	}
	c.stopTypingLocked(st)
}

func (c *Client) stopTypingLocked(st *threadState) {
	if st.typingStop == nil {
		return
	}
	close(st.typingStop)
	st.typingStop = nil
}

// ThreadName fetches a thread's current name, for the Name Sync Watcher's
// startup cache seed (spec §4.4).
func (c *Client) ThreadName(threadID string) (string, error) {
	ch, err := c.session.Channel(threadID)
	if err != nil {
		return "", errors.Wrapf(err, "fetch thread %s", threadID)
	}
	return ch.Name, nil
}

// RenameThread renames a thread, truncating to 100 code points (invariant
// I8). A no-op if the name is already current.
func (c *Client) RenameThread(threadID, name string) error {
	truncated := truncateRunes(name, 100)

	ch, err := c.session.Channel(threadID)
	if err == nil && ch.Name == truncated {
		return nil
	}

	_, err = c.session.ChannelEditComplex(threadID, &discordgo.ChannelEdit{Name: truncated})
	if err != nil {
		return errors.Wrapf(err, "rename thread %s", threadID)
	}
	return nil
}

// ArchiveThread archives a thread.
func (c *Client) ArchiveThread(threadID string) error {
	archived := true
	_, err := c.session.ChannelEditComplex(threadID, &discordgo.ChannelEdit{Archived: &archived})
	return errors.Wrapf(err, "archive thread %s", threadID)
}

// UnarchiveThread unarchives a thread.
func (c *Client) UnarchiveThread(threadID string) error {
	archived := false
	_, err := c.session.ChannelEditComplex(threadID, &discordgo.ChannelEdit{Archived: &archived})
	return errors.Wrapf(err, "unarchive thread %s", threadID)
}

// IsThreadArchived reports the tri-state archive status of conversationID's
// mapped thread: (true/false, true) when known, (false, false) when
// unknown (no mapping, or the thread could not be fetched).
func (c *Client) IsThreadArchived(conversationID string) (archived bool, known bool) {
	mapping, ok := c.registry.Get(conversationID)
	if !ok {
		return false, false
	}
	ch, err := c.session.Channel(mapping.ThreadID)
	if err != nil {
		return false, false
	}
	return ch.ThreadMetadata != nil && ch.ThreadMetadata.Archived, true
}

// ExplicitlyArchived reports whether threadID is in the explicit-archive
// set.
func (c *Client) ExplicitlyArchived(threadID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.threads[threadID]
	return ok && st.explicitArchive
}

// EnsureActiveThreadsOpen unarchives every truly-active conversation whose
// thread is archived and not explicitly archived (spec §4.3 step 7),
// returning the count reopened.
func (c *Client) EnsureActiveThreadsOpen(activeConversationIDs []string) int {
	reopened := 0
	for _, convID := range activeConversationIDs {
		mapping, ok := c.registry.Get(convID)
		if !ok {
			continue
		}
		if c.ExplicitlyArchived(mapping.ThreadID) {
			continue
		}
		archived, known := c.IsThreadArchived(convID)
		if !known || !archived {
			continue
		}
		if err := c.UnarchiveThread(mapping.ThreadID); err != nil {
			log.Printf("ensureActiveThreadsOpen: unarchive %s failed: %v", mapping.ThreadID, err)
			continue
		}
		reopened++
	}
	return reopened
}

// RegisterInteractionHandler wires the Open Question button-click router
// (internal/interaction.Manager.HandleInteraction) into the gateway's
// session, so callers never need their own discordgo.Session handle just to
// route component interactions.
func (c *Client) RegisterInteractionHandler(h func(s *discordgo.Session, i *discordgo.InteractionCreate) bool) {
	c.session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		h(s, i)
	})
}

func (c *Client) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID {
		return
	}

	mapping, ok := c.registry.GetByThread(m.ChannelID)
	if !ok {
		return
	}

	c.mu.Lock()
	st := c.state(m.ChannelID)
	st.lastActivity = time.Now()
	st.explicitArchive = false
	st.pingUserID = m.Author.ID
	c.mu.Unlock()

	if c.questions != nil && c.questions.ResolveText(m.ChannelID, m.Content) {
		return
	}

	ctx := context.Background()
	if err := c.actuator.Inject(ctx, mapping.ConversationID, m.Content, m.ChannelID); err != nil {
		log.Printf("handleMessageCreate: inject failed for thread %s: %v", m.ChannelID, err)
		if _, sendErr := s.ChannelMessageSend(m.ChannelID, "Failed to deliver message to the IDE agent."); sendErr != nil {
			log.Printf("handleMessageCreate: failure reply also failed: %v", sendErr)
		}
		return
	}
	if err := s.MessageReactionAdd(m.ChannelID, m.ID, "✅"); err != nil {
		log.Printf("handleMessageCreate: react failed for %s: %v", m.ID, err)
	}
}

func (c *Client) handleThreadUpdate(_ *discordgo.Session, t *discordgo.ThreadUpdate) {
	if _, ok := c.registry.GetByThread(t.ID); !ok {
		return
	}
	if t.ThreadMetadata == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state(t.ID)

	nowArchived := t.ThreadMetadata.Archived
	if nowArchived {
		autoArchive := st.autoArchiveDuration
		if autoArchive == 0 {
			autoArchive = time.Duration(t.ThreadMetadata.AutoArchiveDuration) * time.Minute
		}
		threshold := autoArchive - archiveSafetyMargin
		sinceActivity := time.Since(st.lastActivity)
		if sinceActivity < threshold {
			st.explicitArchive = true
		}
	} else {
		st.explicitArchive = false
	}

	if t.ThreadMetadata.AutoArchiveDuration > 0 {
		st.autoArchiveDuration = time.Duration(t.ThreadMetadata.AutoArchiveDuration) * time.Minute
	}
}
