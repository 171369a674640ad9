// Package interaction posts interactive prompts to a thread and routes
// button clicks or a plain-text reply back to a single resolution (spec
// §4.6). Its per-key completion-sink registration is grounded on the
// teacher's core/internal/discord/bot.go sessionResponses/
// RegisterSessionHandler idiom, applied here to a per-question sink instead
// of a per-session text channel.
package interaction

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ricochet-labs/cursor-discord-bridge/internal/model"
)

const (
	defaultTimeout  = 5 * time.Minute
	customIDPrefix  = "dbq"
	submitSuffix    = "__submit"
)

// Poster is the subset of internal/gateway.Client the manager needs to post
// and edit thread messages.
type Poster interface {
	PostPlaceholder(threadID string) (messageID string, err error)
	EditMessage(threadID, messageID string, components []discordgo.MessageComponent, content string) error
}

type openQuestion struct {
	mu           sync.Mutex
	threadID     string
	question     string
	options      []model.Option
	allowMultiple bool
	selected     map[string]struct{}
	sink         chan model.QuestionResult
	timer        *time.Timer
	resolved     bool
}

// Manager tracks Open Questions keyed by the chat message id that carries
// their interactive form.
type Manager struct {
	poster Poster

	mu          sync.Mutex
	byMessage   map[string]*openQuestion
	byThread    map[string]string // threadID -> messageID, at most one open question per thread
}

// New constructs a Manager.
func New(poster Poster) *Manager {
	return &Manager{
		poster:    poster,
		byMessage: make(map[string]*openQuestion),
		byThread:  make(map[string]string),
	}
}

// AskQuestion posts the interactive form and blocks until a resolution, a
// timeout, or ctx cancellation (spec §4.6).
func (m *Manager) AskQuestion(ctx context.Context, threadID, question string, options []model.Option, allowMultiple bool, timeout time.Duration) (model.QuestionResult, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	messageID, err := m.poster.PostPlaceholder(threadID)
	if err != nil {
		return model.QuestionResult{}, errors.Wrap(err, "post question placeholder")
	}

	oq := &openQuestion{
		threadID:      threadID,
		question:      question,
		options:       options,
		allowMultiple: allowMultiple,
		selected:      make(map[string]struct{}),
		sink:          make(chan model.QuestionResult, 1),
	}

	m.mu.Lock()
	if prior, ok := m.byThread[threadID]; ok {
		if old, ok := m.byMessage[prior]; ok {
			m.resolveLocked(old, model.QuestionResult{Success: false, Error: "superseded by a new question"})
		}
	}
	m.byMessage[messageID] = oq
	m.byThread[threadID] = messageID
	m.mu.Unlock()

	content := formContent(question)
	components := renderForm(messageID, question, options, allowMultiple, oq.selected)
	if err := m.poster.EditMessage(threadID, messageID, components, content); err != nil {
		return model.QuestionResult{}, errors.Wrap(err, "render question form")
	}

	oq.timer = time.AfterFunc(timeout, func() {
		m.resolve(messageID, model.QuestionResult{Success: false, Error: "timed out"})
		m.poster.EditMessage(threadID, messageID, renderAnswered(question, options, nil, true), content)
	})

	select {
	case result := <-oq.sink:
		return result, nil
	case <-ctx.Done():
		m.resolve(messageID, model.QuestionResult{Success: false, Error: "cancelled"})
		return model.QuestionResult{Success: false, Error: "cancelled"}, nil
	}
}

// HandleInteraction routes a button click whose custom id belongs to an
// Open Question (spec §4.6 event routing). Returns true if it was handled.
func (m *Manager) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) bool {
	if i.Type != discordgo.InteractionMessageComponent {
		return false
	}
	customID := i.MessageComponentData().CustomID
	if !strings.HasPrefix(customID, customIDPrefix+":") {
		return false
	}

	parts := strings.SplitN(customID, ":", 3)
	if len(parts) != 3 {
		return false
	}
	messageID, token := parts[1], parts[2]

	m.mu.Lock()
	oq, ok := m.byMessage[messageID]
	m.mu.Unlock()
	if !ok {
		if s != nil {
			s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseChannelMessageWithSource,
				Data: &discordgo.InteractionResponseData{
					Content: "This question has expired.",
					Flags:   discordgo.MessageFlagsEphemeral,
				},
			})
		}
		return true
	}

	oq.mu.Lock()
	if oq.allowMultiple && token == submitSuffix {
		selected := selectedIDs(oq.selected)
		oq.mu.Unlock()
		m.resolve(messageID, model.QuestionResult{Success: true, ResponseType: model.ResponseOption, SelectedOptionIDs: selected})
		m.poster.EditMessage(oq.threadID, messageID, renderAnswered(oq.question, oq.options, selected, false), oq.question)
		ackComponentInteraction(s, i)
		return true
	}

	if oq.allowMultiple {
		if _, already := oq.selected[token]; already {
			delete(oq.selected, token)
		} else {
			oq.selected[token] = struct{}{}
		}
		components := renderForm(messageID, oq.question, oq.options, true, oq.selected)
		oq.mu.Unlock()
		m.poster.EditMessage(oq.threadID, messageID, components, formContent(oq.question))
		ackComponentInteraction(s, i)
		return true
	}

	oq.mu.Unlock()
	m.resolve(messageID, model.QuestionResult{Success: true, ResponseType: model.ResponseOption, SelectedOptionIDs: []string{token}})
	m.poster.EditMessage(oq.threadID, messageID, renderAnswered(oq.question, oq.options, []string{token}, false), oq.question)
	ackComponentInteraction(s, i)
	return true
}

// ackComponentInteraction acknowledges a component interaction without
// sending a new message, since the visible update already happened via
// EditMessage. s is nil in tests that exercise routing without a live
// session; skip the ack in that case.
func ackComponentInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if s == nil {
		return
	}
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate})
}

// ResolveText resolves the Open Question (if any) open on threadID with a
// free-text response (spec §4.6). Returns false if no question is open,
// meaning the message should still be forwarded to the IDE as normal.
func (m *Manager) ResolveText(threadID, text string) bool {
	m.mu.Lock()
	messageID, ok := m.byThread[threadID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	return m.resolve(messageID, model.QuestionResult{Success: true, ResponseType: model.ResponseText, TextResponse: text})
}

// resolve delivers result to messageID's sink exactly once (invariant I7).
func (m *Manager) resolve(messageID string, result model.QuestionResult) bool {
	m.mu.Lock()
	oq, ok := m.byMessage[messageID]
	if ok {
		delete(m.byMessage, messageID)
		if m.byThread[oq.threadID] == messageID {
			delete(m.byThread, oq.threadID)
		}
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	return m.resolveLocked(oq, result)
}

func (m *Manager) resolveLocked(oq *openQuestion, result model.QuestionResult) bool {
	oq.mu.Lock()
	defer oq.mu.Unlock()
	if oq.resolved {
		return false
	}
	oq.resolved = true
	if oq.timer != nil {
		oq.timer.Stop()
	}
	oq.sink <- result
	return true
}

func selectedIDs(set map[string]struct{}) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// formContent renders the question heading plus the footer hint that a
// plain-text reply is also accepted (spec §4.6 step 2).
func formContent(question string) string {
	return question + "\n\n_You can also just reply with a plain message instead of clicking a button._"
}

// renderForm builds the pending-question message components: one button per
// option, plus a Submit button in multi-select mode.
func renderForm(messageID, question string, options []model.Option, allowMultiple bool, selected map[string]struct{}) []discordgo.MessageComponent {
	var buttons []discordgo.MessageComponent
	for _, opt := range options {
		style := discordgo.SecondaryButton
		if _, ok := selected[opt.ID]; ok {
			style = discordgo.SuccessButton
		}
		buttons = append(buttons, discordgo.Button{
			Label:    opt.Label,
			Style:    style,
			CustomID: fmt.Sprintf("%s:%s:%s", customIDPrefix, messageID, opt.ID),
		})
	}
	if allowMultiple {
		buttons = append(buttons, discordgo.Button{
			Label:    "Submit",
			Style:    discordgo.PrimaryButton,
			Disabled: len(selected) == 0,
			CustomID: fmt.Sprintf("%s:%s:%s", customIDPrefix, messageID, submitSuffix),
		})
	}
	return []discordgo.MessageComponent{discordgo.ActionsRow{Components: buttons}}
}

// renderAnswered builds the final, disabled form shown after resolution or
// timeout, marking any selected options.
func renderAnswered(question string, options []model.Option, selectedIDs []string, timedOut bool) []discordgo.MessageComponent {
	selected := make(map[string]struct{}, len(selectedIDs))
	for _, id := range selectedIDs {
		selected[id] = struct{}{}
	}
	var buttons []discordgo.MessageComponent
	for _, opt := range options {
		style := discordgo.SecondaryButton
		if _, ok := selected[opt.ID]; ok {
			style = discordgo.SuccessButton
		}
		buttons = append(buttons, discordgo.Button{
			Label:    opt.Label,
			Style:    style,
			Disabled: true,
			CustomID: customIDPrefix + ":answered:" + opt.ID + ":" + uuid.NewString(),
		})
	}
	return []discordgo.MessageComponent{discordgo.ActionsRow{Components: buttons}}
}
