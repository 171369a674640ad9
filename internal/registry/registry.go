// Package registry is the persistent Conversation<->Thread Mapping Registry
// of spec §4.5. Grounded on the teacher's core/internal/state/manager.go
// (mutex-guarded in-memory struct, JSON file persistence, idempotent
// setters), generalized to write atomically: the registry is read on every
// Chat Watcher tick, so a half-written file must never be observable.
package registry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/ricochet-labs/cursor-discord-bridge/internal/model"
)

const defaultFreshness = 30 * time.Second

// document is the on-disk shape of the registry file.
type document struct {
	Mappings       []model.Mapping `json:"mappings"`
	PendingComposer string         `json:"pendingComposerId,omitempty"`
}

// Registry is safe for concurrent use by multiple goroutines.
type Registry struct {
	path string

	mu              sync.Mutex
	byConversation  map[string]*model.Mapping
	byThread        map[string]*model.Mapping
	pendingComposer string
}

// Open loads path if it exists, or starts empty.
func Open(path string) (*Registry, error) {
	r := &Registry{
		path:           path,
		byConversation: make(map[string]*model.Mapping),
		byThread:       make(map[string]*model.Mapping),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, errors.Wrapf(err, "read %s", path)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	for i := range doc.Mappings {
		m := doc.Mappings[i]
		r.byConversation[m.ConversationID] = &m
		r.byThread[m.ThreadID] = &m
	}
	r.pendingComposer = doc.PendingComposer

	return r, nil
}

// saveLocked persists the registry. Caller must hold r.mu.
func (r *Registry) saveLocked() error {
	doc := document{PendingComposer: r.pendingComposer}
	for _, m := range r.byConversation {
		doc.Mappings = append(doc.Mappings, *m)
	}
	sort.Slice(doc.Mappings, func(i, j int) bool {
		return doc.Mappings[i].ConversationID < doc.Mappings[j].ConversationID
	})

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal registry")
	}
	if dir := filepath.Dir(r.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(err, "mkdir registry dir")
		}
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrap(err, "write registry tmp file")
	}
	return errors.Wrap(os.Rename(tmp, r.path), "rename registry tmp file")
}

// Get returns the mapping for a conversation id, if any.
func (r *Registry) Get(conversationID string) (model.Mapping, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byConversation[conversationID]
	if !ok {
		return model.Mapping{}, false
	}
	return *m, true
}

// GetByThread returns the mapping for a thread id, if any.
func (r *Registry) GetByThread(threadID string) (model.Mapping, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byThread[threadID]
	if !ok {
		return model.Mapping{}, false
	}
	return *m, true
}

// Put inserts or replaces a mapping (invariant I1: conversation and thread
// ids are each unique across the registry).
func (r *Registry) Put(m model.Mapping) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byConversation[m.ConversationID]; ok && old.ThreadID != m.ThreadID {
		delete(r.byThread, old.ThreadID)
	}
	if old, ok := r.byThread[m.ThreadID]; ok && old.ConversationID != m.ConversationID {
		delete(r.byConversation, old.ConversationID)
	}
	stored := m
	r.byConversation[m.ConversationID] = &stored
	r.byThread[m.ThreadID] = &stored
	if r.pendingComposer == m.ConversationID {
		r.pendingComposer = ""
	}
	return r.saveLocked()
}

// SetPendingComposer records id as the Pending Composer, replacing any prior
// one. Passing "" clears it.
func (r *Registry) SetPendingComposer(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingComposer = id
	return r.saveLocked()
}

// PendingComposer returns the current Pending Composer id, or "" if none.
func (r *Registry) PendingComposer() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pendingComposer
}

// All returns every mapping currently held, in no particular order. Used by
// the Name Sync Watcher to seed its cache from the chat service at startup.
func (r *Registry) All() []model.Mapping {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Mapping, 0, len(r.byConversation))
	for _, m := range r.byConversation {
		out = append(out, *m)
	}
	return out
}

// MarkClaimed idempotently sets claimed-at to now iff it was previously
// absent.
func (r *Registry) MarkClaimed(conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.byConversation[conversationID]
	if !ok {
		return errors.Errorf("no mapping for conversation %s", conversationID)
	}
	if m.Claimed() {
		return nil
	}
	now := time.Now()
	m.ClaimedAt = &now
	return r.saveLocked()
}

// MostRecentUnclaimedWithin scans for unclaimed mappings created within
// freshness of now and returns the newest, or ok=false if none match.
func (r *Registry) MostRecentUnclaimedWithin(freshness time.Duration) (model.Mapping, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-freshness)
	var best *model.Mapping
	for _, m := range r.byConversation {
		if m.Claimed() {
			continue
		}
		if m.CreatedAt.Before(cutoff) {
			continue
		}
		if best == nil || m.CreatedAt.After(best.CreatedAt) {
			best = m
		}
	}
	if best == nil {
		return model.Mapping{}, false
	}
	return *best, true
}

// WaitForUnclaimedWithin polls MostRecentUnclaimedWithin until a match
// appears or maxWait elapses.
func (r *Registry) WaitForUnclaimedWithin(ctx context.Context, maxWait, poll, freshness time.Duration) (model.Mapping, bool) {
	deadline := time.Now().Add(maxWait)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	if m, ok := r.MostRecentUnclaimedWithin(freshness); ok {
		return m, true
	}

	for {
		select {
		case <-ctx.Done():
			return model.Mapping{}, false
		case <-ticker.C:
			if m, ok := r.MostRecentUnclaimedWithin(freshness); ok {
				return m, true
			}
			if time.Now().After(deadline) {
				return model.Mapping{}, false
			}
		}
	}
}

// PendingResolution is what the caller of Resolve must do to finish
// obtaining a thread when no existing mapping can be claimed directly.
type PendingResolution struct {
	// ConversationID is set when the pending composer must be force-created
	// as a thread (method = waited_for_new, driven by the pending composer).
	ConversationID string
}

// Resolve implements the three-strategy resolution protocol of spec §4.5.
// When a Pending Composer is present, the caller is told to force-create a
// thread for it; CreateFromPending should then be called to record the
// result. Otherwise Resolve itself finds and claims an existing mapping.
func (r *Registry) Resolve(ctx context.Context) (model.Mapping, model.ResolveMethod, *PendingResolution, error) {
	if pending := r.PendingComposer(); pending != "" {
		return model.Mapping{}, model.MethodWaitedForNew, &PendingResolution{ConversationID: pending}, nil
	}

	if m, ok := r.MostRecentUnclaimedWithin(defaultFreshness); ok {
		if err := r.MarkClaimed(m.ConversationID); err != nil {
			return model.Mapping{}, "", nil, err
		}
		return m, model.MethodLatestUnclaimed, nil, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()
	if m, ok := r.WaitForUnclaimedWithin(waitCtx, 8*time.Second, 200*time.Millisecond, defaultFreshness); ok {
		if err := r.MarkClaimed(m.ConversationID); err != nil {
			return model.Mapping{}, "", nil, err
		}
		return m, model.MethodWaitedForNew, nil, nil
	}

	return model.Mapping{}, "", nil, errors.New("resolve: no mapping became available")
}

// CreateFromPending records a newly created mapping that resulted from
// forcing thread creation for the Pending Composer, clearing the pending
// slot and marking it claimed.
func (r *Registry) CreateFromPending(m model.Mapping) (model.Mapping, error) {
	if err := r.Put(m); err != nil {
		return model.Mapping{}, err
	}
	if err := r.MarkClaimed(m.ConversationID); err != nil {
		return model.Mapping{}, err
	}
	claimed, _ := r.Get(m.ConversationID)
	return claimed, nil
}
