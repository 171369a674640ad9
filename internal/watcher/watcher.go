// Package watcher runs the single cooperative reconciliation loop of spec
// §4.3: new-conversation detection, archive/unarchive mirroring, and the
// periodic inactivity reopener. Its ticker-plus-reentrancy-guard shape is
// grounded on the teacher's core/internal/mcp/hub.go StartWatcher
// (time.NewTicker driving a reload, gated so overlapping reloads are
// skipped rather than queued).
package watcher

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/ricochet-labs/cursor-discord-bridge/internal/model"
	"github.com/ricochet-labs/cursor-discord-bridge/internal/registry"
)

const (
	tickInterval          = time.Second
	inactivityReopenEvery = 30 // ticks
)

// ConversationStore is the subset of internal/convstore.Store the watcher
// needs.
type ConversationStore interface {
	GetAllIds() ([]string, error)
	GetName(id string) (string, error)
	GetArchivedIds() (map[string]struct{}, error)
	GetActiveRankedByRecency() ([]model.RankedConversation, error)
}

// Gateway is the subset of internal/gateway.Client the watcher drives.
type Gateway interface {
	CreateThread(ctx context.Context, conversationID, workspaceLabel, name string) (model.Mapping, error)
	ArchiveThread(threadID string) error
	UnarchiveThread(threadID string) error
	ExplicitlyArchived(threadID string) bool
	EnsureActiveThreadsOpen(activeConversationIDs []string) int
	IsThreadArchived(conversationID string) (archived bool, known bool)
}

// Watcher owns the reconciliation tick loop for one workspace.
type Watcher struct {
	store     ConversationStore
	gateway   Gateway
	registry  *registry.Registry
	workspace string

	cfg model.GlobalConfig

	running int32 // atomic reentrancy guard

	seen             map[string]struct{}
	processedArchive map[string]struct{}
	tickCount        int
}

// New constructs a Watcher. Call Seed once before Run to restore
// allTimeSeenChatIds / archivedChatIds (spec §6) from the mapping registry
// rather than a separate persisted list, so a restart never re-derives them
// out of sync with the registry it already trusts.
func New(store ConversationStore, gw Gateway, reg *registry.Registry, workspace string, cfg model.GlobalConfig) *Watcher {
	return &Watcher{
		store:            store,
		gateway:          gw,
		registry:         reg,
		workspace:        workspace,
		cfg:              cfg,
		seen:             make(map[string]struct{}),
		processedArchive: make(map[string]struct{}),
	}
}

// Seed restores seen/processedArchive from state the registry and the chat
// service already persist, so a daemon restart does not mistake every
// already-bridged conversation for a new one (which would otherwise create a
// duplicate thread per spec §4.3's first tick) nor re-issue a redundant
// archive call for every thread already mirrored as archived.
func (w *Watcher) Seed() {
	for _, m := range w.registry.All() {
		w.seen[m.ConversationID] = struct{}{}
		if archived, known := w.gateway.IsThreadArchived(m.ConversationID); known && archived {
			w.processedArchive[m.ConversationID] = struct{}{}
		}
	}
}

// Run ticks every second until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.maybeTick(ctx)
		}
	}
}

// maybeTick enforces the reentrancy guard (spec §4.3): if the previous tick
// is still running, this firing is skipped entirely.
func (w *Watcher) maybeTick(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&w.running, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&w.running, 0)

	if err := w.tick(ctx); err != nil {
		log.Printf("watcher: tick failed, will retry next tick: %v", err)
	}
}

func (w *Watcher) tick(ctx context.Context) error {
	w.tickCount++

	ids, err := w.store.GetAllIds()
	if err != nil {
		return err
	}

	for _, id := range ids {
		if _, known := w.seen[id]; known {
			continue
		}
		w.seen[id] = struct{}{}

		if _, alreadyMapped := w.registry.Get(id); alreadyMapped {
			// Seed should have caught this; guard anyway so a missed Seed
			// call can never cause CreateThread to mint a second thread for
			// a conversation that already has one.
			continue
		}

		name, err := w.store.GetName(id)
		if err != nil {
			log.Printf("watcher: getName(%s) failed: %v", id, err)
			continue
		}
		if name != "" {
			if _, err := w.gateway.CreateThread(ctx, id, w.workspace, name); err != nil {
				log.Printf("watcher: createThread(%s) failed: %v", id, err)
			}
			continue
		}

		if prior := w.registry.PendingComposer(); prior != "" && prior != id {
			log.Printf("watcher: replacing pending composer %s with %s", prior, id)
		}
		if err := w.registry.SetPendingComposer(id); err != nil {
			log.Printf("watcher: setPendingComposer(%s) failed: %v", id, err)
		}
	}

	if pending := w.registry.PendingComposer(); pending != "" {
		name, err := w.store.GetName(pending)
		if err == nil && name != "" {
			if _, err := w.gateway.CreateThread(ctx, pending, w.workspace, name); err != nil {
				log.Printf("watcher: createThread(pending %s) failed: %v", pending, err)
			} else if err := w.registry.SetPendingComposer(""); err != nil {
				log.Printf("watcher: clear pending composer failed: %v", err)
			}
		}
	}

	archivedIDs, err := w.store.GetArchivedIds()
	if err != nil {
		return err
	}
	w.mirrorArchive(archivedIDs)
	w.mirrorUnarchive(archivedIDs)

	if w.tickCount%inactivityReopenEvery == 0 {
		w.reopenTrulyActive()
	}

	return nil
}

func (w *Watcher) mirrorArchive(archivedIDs map[string]struct{}) {
	for id := range archivedIDs {
		if _, done := w.processedArchive[id]; done {
			continue
		}
		mapping, ok := w.registry.Get(id)
		if !ok {
			w.processedArchive[id] = struct{}{}
			continue
		}
		if err := w.gateway.ArchiveThread(mapping.ThreadID); err != nil {
			log.Printf("watcher: archiveThread(%s) failed: %v", mapping.ThreadID, err)
			continue
		}
		w.processedArchive[id] = struct{}{}
	}
}

func (w *Watcher) mirrorUnarchive(archivedIDs map[string]struct{}) {
	for id := range w.processedArchive {
		if _, stillArchived := archivedIDs[id]; stillArchived {
			continue
		}
		mapping, ok := w.registry.Get(id)
		if ok {
			if err := w.gateway.UnarchiveThread(mapping.ThreadID); err != nil {
				log.Printf("watcher: unarchiveThread(%s) failed: %v", mapping.ThreadID, err)
				continue
			}
		}
		delete(w.processedArchive, id)
	}
}

func (w *Watcher) reopenTrulyActive() {
	ranked, err := w.store.GetActiveRankedByRecency()
	if err != nil {
		log.Printf("watcher: getActiveRankedByRecency failed: %v", err)
		return
	}

	now := time.Now()
	implicitHours := time.Duration(w.cfg.ImplicitArchiveHours) * time.Hour
	var trulyActive []string
	for _, rc := range ranked {
		byRank := rc.Position < w.cfg.ImplicitArchiveCount
		byRecency := !rc.LastUpdatedAt.IsZero() && now.Sub(rc.LastUpdatedAt) < implicitHours
		if byRank || byRecency {
			trulyActive = append(trulyActive, rc.ConversationID)
		}
	}

	reopened := w.gateway.EnsureActiveThreadsOpen(trulyActive)
	if reopened > 0 {
		log.Printf("watcher: reopened %d truly-active thread(s)", reopened)
	}
}
