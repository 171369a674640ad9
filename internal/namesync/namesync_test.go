package namesync

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ricochet-labs/cursor-discord-bridge/internal/model"
	"github.com/ricochet-labs/cursor-discord-bridge/internal/registry"
)

type fakeStore struct {
	names map[string]string
}

func (f *fakeStore) GetAllNames() (map[string]string, error) {
	return f.names, nil
}

type fakeNamer struct {
	names map[string]string // threadID -> name; absent means unfetchable
}

func (f *fakeNamer) ThreadName(threadID string) (string, error) {
	name, ok := f.names[threadID]
	if !ok {
		return "", errTestRename
	}
	return name, nil
}

type fakeRenamer struct {
	calls  []string
	failOn map[string]bool
}

func (f *fakeRenamer) RenameThread(threadID, name string) error {
	if f.failOn[threadID] {
		return errTestRename
	}
	f.calls = append(f.calls, threadID+":"+name)
	return nil
}

var errTestRename = errors.New("rename failed")

func newTestWatcher(t *testing.T, store ConversationStore, renamer Renamer) *Watcher {
	t.Helper()
	reg, err := registry.Open(filepath.Join(t.TempDir(), "registry.json"))
	require.NoError(t, err)
	w, err := New(store, renamer, reg, filepath.Join(t.TempDir(), "state.vscdb"))
	require.NoError(t, err)
	t.Cleanup(func() { w.fsWatcher.Close() })
	return w
}

func putMapping(t *testing.T, w *Watcher, conversationID, threadID string) {
	t.Helper()
	require.NoError(t, w.registry.Put(model.Mapping{
		ConversationID: conversationID,
		ThreadID:       threadID,
		CreatedAt:      time.Now(),
	}))
}

func TestSyncPassRenamesChangedNames(t *testing.T) {
	store := &fakeStore{names: map[string]string{"c1": "New name"}}
	renamer := &fakeRenamer{}
	w := newTestWatcher(t, store, renamer)
	putMapping(t, w, "c1", "t1")

	w.syncPass()
	require.Equal(t, []string{"t1:New name"}, renamer.calls)
}

func TestSyncPassIsFixedPointWhenUnchanged(t *testing.T) {
	store := &fakeStore{names: map[string]string{"c1": "Stable"}}
	renamer := &fakeRenamer{}
	w := newTestWatcher(t, store, renamer)
	putMapping(t, w, "c1", "t1")

	w.syncPass()
	require.Len(t, renamer.calls, 1)

	w.syncPass()
	require.Len(t, renamer.calls, 1, "second pass with no IDE change should not rename again (law L3)")
}

func TestSyncPassSkipsUnmappedConversation(t *testing.T) {
	store := &fakeStore{names: map[string]string{"c1": "Name"}}
	renamer := &fakeRenamer{}
	w := newTestWatcher(t, store, renamer)

	w.syncPass()
	require.Empty(t, renamer.calls)
}

func TestSeedDetectsMismatchAtStartup(t *testing.T) {
	// Scenario 6 (spec §8): Registry has (C1,T1) and (C2,T2); chat service
	// returns T1.name="Old", and T2 is not fetchable. After seeding, a sync
	// pass with new IDE names renames only T1.
	store := &fakeStore{names: map[string]string{"c1": "New", "c2": "Rename me"}}
	renamer := &fakeRenamer{}
	w := newTestWatcher(t, store, renamer)
	putMapping(t, w, "c1", "t1")
	putMapping(t, w, "c2", "t2")

	w.Seed(&fakeNamer{names: map[string]string{"t1": "Old"}})

	w.syncPass()
	require.Equal(t, []string{"t1:New"}, renamer.calls)

	store.names["c2"] = "Rename me again"
	w.syncPass()
	require.Equal(t, []string{"t1:New"}, renamer.calls, "c2 was seeded stale and must never be renamed")
}

func TestSyncPassMarksStaleOnRenameFailureAndStopsRetrying(t *testing.T) {
	store := &fakeStore{names: map[string]string{"c1": "Old", "c2": "Rename me"}}
	renamer := &fakeRenamer{failOn: map[string]bool{"t2": true}}
	w := newTestWatcher(t, store, renamer)
	putMapping(t, w, "c1", "t1")
	putMapping(t, w, "c2", "t2")

	w.syncPass()
	require.Equal(t, []string{"t1:Old"}, renamer.calls)

	store.names["c2"] = "Rename me again"
	w.syncPass()
	require.Equal(t, []string{"t1:Old"}, renamer.calls, "c2 stayed stale so it must not be retried")
}
