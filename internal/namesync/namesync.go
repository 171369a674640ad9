// Package namesync keeps chat-service thread names in sync with IDE
// conversation names. Per spec §9, the SQLite source has no
// change-notification channel, so three legs combine into one reconciling
// component: an fsnotify watch, a backup poll, and a watchdog. The watch/
// debounce/Start-Stop shape is grounded on
// theRebelliousNerd-codenerd/internal/core/mangle_watcher.go.
package namesync

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ricochet-labs/cursor-discord-bridge/internal/registry"
)

const (
	debounceDuration = 500 * time.Millisecond
	backupPollEvery  = 30 * time.Second
	watchdogEvery    = 60 * time.Second

	// staleSentinelPrefix marks a cached name that could not be refreshed
	// (the thread was unfetchable), so a later sync pass does not keep
	// retrying a rename call that will fail again (scenario 6).
	staleSentinelPrefix = "__STALE__"
)

// ConversationStore mirrors internal/convstore.Store's name-reading surface.
type ConversationStore interface {
	GetAllNames() (map[string]string, error)
}

// Renamer mirrors internal/gateway.Client's renaming surface.
type Renamer interface {
	RenameThread(threadID, name string) error
}

// ThreadNamer mirrors internal/gateway.Client's name-fetching surface, used
// only to seed the cache at startup.
type ThreadNamer interface {
	ThreadName(threadID string) (string, error)
}

// Watcher reconciles thread names with conversation names for one
// workspace-storage file.
type Watcher struct {
	store    ConversationStore
	renamer  Renamer
	registry *registry.Registry
	dbPath   string

	fsWatcher *fsnotify.Watcher

	mu          sync.Mutex
	debounceMap map[string]time.Time
	cache       map[string]string // conversationID -> last-known name (or stale sentinel)
	running     bool
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// New constructs a Watcher bound to dbPath (the IDE's state.vscdb), whose
// containing directory is watched for writes.
func New(store ConversationStore, renamer Renamer, reg *registry.Registry, dbPath string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		store:       store,
		renamer:     renamer,
		registry:    reg,
		dbPath:      dbPath,
		fsWatcher:   fsw,
		debounceMap: make(map[string]time.Time),
		cache:       make(map[string]string),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Seed populates the cache from the chat service rather than the IDE, per
// spec §4.4: this guarantees that a mismatch already present at process
// startup (e.g. a thread renamed out-of-band while the daemon was down) is
// caught by the very first sync pass instead of being mistaken for "no
// change since last observed". Mappings whose thread cannot be fetched are
// seeded with the stale sentinel so the first sync pass doesn't attempt a
// rename that will just fail again.
func (w *Watcher) Seed(namer ThreadNamer) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, m := range w.registry.All() {
		name, err := namer.ThreadName(m.ThreadID)
		if err != nil {
			w.cache[m.ConversationID] = staleSentinelPrefix + m.ConversationID
			continue
		}
		w.cache[m.ConversationID] = name
	}
}

// Start begins the three reconciliation legs. Non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	dir := filepath.Dir(w.dbPath)
	if err := w.fsWatcher.Add(dir); err != nil {
		log.Printf("namesync: initial watch of %s failed (will rely on backup poll): %v", dir, err)
	}

	go w.run(ctx)
	return nil
}

// Stop halts all three legs and waits for cleanup.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	w.fsWatcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	debounceTicker := time.NewTicker(debounceDuration)
	defer debounceTicker.Stop()
	backupTicker := time.NewTicker(backupPollEvery)
	defer backupTicker.Stop()
	watchdogTicker := time.NewTicker(watchdogEvery)
	defer watchdogTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if name := filepath.Clean(event.Name); name == filepath.Clean(w.dbPath) || name == filepath.Clean(w.dbPath+"-wal") {
				w.mu.Lock()
				w.debounceMap[w.dbPath] = time.Now()
				w.mu.Unlock()
			}

		case _, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}

		case <-debounceTicker.C:
			w.drainDebounced()

		case <-backupTicker.C:
			// Backup leg: runs regardless of whether any fsnotify event
			// fired, since some platforms/filesystems miss writes.
			w.syncPass()

		case <-watchdogTicker.C:
			w.watchdog(dirOf(w.dbPath))
		}
	}
}

func (w *Watcher) drainDebounced() {
	w.mu.Lock()
	due := time.Now()
	fire := false
	for path, at := range w.debounceMap {
		if due.Sub(at) >= debounceDuration {
			delete(w.debounceMap, path)
			fire = true
		}
	}
	w.mu.Unlock()
	if fire {
		w.syncPass()
	}
}

func dirOf(path string) string {
	return filepath.Dir(path)
}

// watchdog re-adds the fsnotify watch if it was dropped (e.g. the
// containing directory was recreated) and forces a sync pass as a
// catch-all against missed events on either of the other two legs.
func (w *Watcher) watchdog(dir string) {
	if _, err := os.Stat(dir); err == nil {
		if err := w.fsWatcher.Add(dir); err != nil {
			log.Printf("namesync: watchdog re-add of %s failed: %v", dir, err)
		}
	}
	w.syncPass()
}

// syncPass is the reconciliation pass shared by all three legs: for every
// mapping (claimed or not) whose conversation has a current, non-stale name that
// differs from the cached one, rename its thread and update the cache.
func (w *Watcher) syncPass() {
	names, err := w.store.GetAllNames()
	if err != nil {
		log.Printf("namesync: read names failed, skipping this pass: %v", err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for conversationID, name := range names {
		mapping, ok := w.registry.Get(conversationID)
		if !ok {
			continue
		}

		cached, seen := w.cache[conversationID]
		if seen && cached == name {
			continue // fixed point: no change since last observed (law L3)
		}
		if seen && isStale(cached) {
			continue // previously unfetchable; do not keep retrying blindly
		}

		if err := w.renamer.RenameThread(mapping.ThreadID, name); err != nil {
			log.Printf("namesync: rename %s -> %q failed, marking stale: %v", mapping.ThreadID, name, err)
			w.cache[conversationID] = staleSentinelPrefix + conversationID
			continue
		}
		w.cache[conversationID] = name
	}
}

func isStale(cached string) bool {
	return len(cached) >= len(staleSentinelPrefix) && cached[:len(staleSentinelPrefix)] == staleSentinelPrefix
}
