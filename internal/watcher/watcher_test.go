package watcher

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ricochet-labs/cursor-discord-bridge/internal/model"
	"github.com/ricochet-labs/cursor-discord-bridge/internal/registry"
)

type fakeStore struct {
	ids      []string
	names    map[string]string
	archived map[string]struct{}
	ranked   []model.RankedConversation
}

func (f *fakeStore) GetAllIds() ([]string, error) { return f.ids, nil }
func (f *fakeStore) GetName(id string) (string, error) {
	return f.names[id], nil
}
func (f *fakeStore) GetArchivedIds() (map[string]struct{}, error) {
	if f.archived == nil {
		return map[string]struct{}{}, nil
	}
	return f.archived, nil
}
func (f *fakeStore) GetActiveRankedByRecency() ([]model.RankedConversation, error) {
	return f.ranked, nil
}

type fakeGateway struct {
	created           []string
	archivedThreads   []string
	unarchivedThreads []string
	explicit          map[string]bool
	archivedKnown     map[string]bool
	reopenCount       int
	lastActiveIDs     []string
	reg               *registry.Registry // when set, CreateThread persists its mapping like the real gateway
}

func (g *fakeGateway) CreateThread(ctx context.Context, conversationID, workspaceLabel, name string) (model.Mapping, error) {
	g.created = append(g.created, conversationID)
	m := model.Mapping{ConversationID: conversationID, ThreadID: "t-" + conversationID, Workspace: workspaceLabel, CreatedAt: time.Now()}
	if g.reg != nil {
		if err := g.reg.Put(m); err != nil {
			return model.Mapping{}, err
		}
	}
	return m, nil
}
func (g *fakeGateway) ArchiveThread(threadID string) error {
	g.archivedThreads = append(g.archivedThreads, threadID)
	return nil
}
func (g *fakeGateway) UnarchiveThread(threadID string) error {
	g.unarchivedThreads = append(g.unarchivedThreads, threadID)
	return nil
}
func (g *fakeGateway) ExplicitlyArchived(threadID string) bool {
	return g.explicit[threadID]
}
func (g *fakeGateway) EnsureActiveThreadsOpen(activeConversationIDs []string) int {
	g.reopenCount++
	g.lastActiveIDs = activeConversationIDs
	return len(activeConversationIDs)
}
func (g *fakeGateway) IsThreadArchived(conversationID string) (archived bool, known bool) {
	if g.archivedKnown == nil {
		return false, false
	}
	a, ok := g.archivedKnown[conversationID]
	return a, ok
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r, err := registry.Open(filepath.Join(t.TempDir(), "registry.json"))
	require.NoError(t, err)
	return r
}

func TestTickCreatesThreadForNamedNewConversation(t *testing.T) {
	store := &fakeStore{ids: []string{"c1"}, names: map[string]string{"c1": "Refactor parser"}}
	gw := &fakeGateway{}
	reg := newTestRegistry(t)
	w := New(store, gw, reg, "demo", model.DefaultGlobalConfig())

	require.NoError(t, w.tick(context.Background()))
	require.Equal(t, []string{"c1"}, gw.created)
}

func TestTickSetsPendingComposerForNamelessConversation(t *testing.T) {
	store := &fakeStore{ids: []string{"c1"}, names: map[string]string{}}
	gw := &fakeGateway{}
	reg := newTestRegistry(t)
	w := New(store, gw, reg, "demo", model.DefaultGlobalConfig())

	require.NoError(t, w.tick(context.Background()))
	require.Empty(t, gw.created)
	require.Equal(t, "c1", reg.PendingComposer())
}

func TestSecondTickResolvesPendingComposerOnceNamed(t *testing.T) {
	store := &fakeStore{ids: []string{"c1"}, names: map[string]string{}}
	gw := &fakeGateway{}
	reg := newTestRegistry(t)
	w := New(store, gw, reg, "demo", model.DefaultGlobalConfig())

	require.NoError(t, w.tick(context.Background()))
	require.Equal(t, "c1", reg.PendingComposer())

	store.names["c1"] = "Refactor parser"
	require.NoError(t, w.tick(context.Background()))

	require.Equal(t, []string{"c1"}, gw.created)
	require.Empty(t, reg.PendingComposer())
}

func TestTickMirrorsArchiveThenUnarchive(t *testing.T) {
	store := &fakeStore{ids: []string{"c1"}, names: map[string]string{"c1": "X"}}
	reg := newTestRegistry(t)
	gw := &fakeGateway{reg: reg}
	w := New(store, gw, reg, "demo", model.DefaultGlobalConfig())

	require.NoError(t, w.tick(context.Background()))
	require.Equal(t, []string{"c1"}, gw.created)

	store.archived = map[string]struct{}{"c1": {}}
	require.NoError(t, w.tick(context.Background()))
	require.Equal(t, []string{"t-c1"}, gw.archivedThreads)

	store.archived = map[string]struct{}{}
	require.NoError(t, w.tick(context.Background()))
	require.Equal(t, []string{"t-c1"}, gw.unarchivedThreads)
}

func TestReopenTrulyActiveFiresEvery30thTick(t *testing.T) {
	store := &fakeStore{ranked: []model.RankedConversation{{ConversationID: "c1", Position: 0, LastUpdatedAt: time.Now()}}}
	gw := &fakeGateway{}
	reg := newTestRegistry(t)
	w := New(store, gw, reg, "demo", model.DefaultGlobalConfig())

	for i := 0; i < 29; i++ {
		require.NoError(t, w.tick(context.Background()))
	}
	require.Equal(t, 0, gw.reopenCount)

	require.NoError(t, w.tick(context.Background()))
	require.Equal(t, 1, gw.reopenCount)
}

func TestTickNeverRecreatesThreadForAlreadyMappedConversation(t *testing.T) {
	store := &fakeStore{ids: []string{"c1"}, names: map[string]string{"c1": "Refactor parser"}}
	gw := &fakeGateway{}
	reg := newTestRegistry(t)
	require.NoError(t, reg.Put(model.Mapping{ConversationID: "c1", ThreadID: "t-c1"}))

	// Simulates a restart: a fresh Watcher, with seen/processedArchive empty,
	// observing a conversation the registry already maps.
	w := New(store, gw, reg, "demo", model.DefaultGlobalConfig())
	require.NoError(t, w.tick(context.Background()))

	require.Empty(t, gw.created, "must not mint a second thread for c1 after a restart")
}

func TestSeedRestoresSeenAndProcessedArchiveFromRegistryAndGateway(t *testing.T) {
	store := &fakeStore{ids: []string{"c1", "c2"}, names: map[string]string{"c1": "X", "c2": "Y"}, archived: map[string]struct{}{"c1": {}}}
	gw := &fakeGateway{archivedKnown: map[string]bool{"c1": true}}
	reg := newTestRegistry(t)
	require.NoError(t, reg.Put(model.Mapping{ConversationID: "c1", ThreadID: "t-c1"}))
	require.NoError(t, reg.Put(model.Mapping{ConversationID: "c2", ThreadID: "t-c2"}))

	w := New(store, gw, reg, "demo", model.DefaultGlobalConfig())
	w.Seed()

	require.Contains(t, w.seen, "c1")
	require.Contains(t, w.seen, "c2")
	require.Contains(t, w.processedArchive, "c1")
	require.NotContains(t, w.processedArchive, "c2")

	require.NoError(t, w.tick(context.Background()))
	require.Empty(t, gw.created)
	require.Empty(t, gw.archivedThreads, "c1 was seeded as already-archived; must not re-issue archive")
}

func TestTrulyActiveByRankOrRecency(t *testing.T) {
	cfg := model.DefaultGlobalConfig()
	cfg.ImplicitArchiveCount = 2
	cfg.ImplicitArchiveHours = 1

	now := time.Now()
	store := &fakeStore{ranked: []model.RankedConversation{
		{ConversationID: "c1", Position: 0, LastUpdatedAt: now},
		{ConversationID: "c2", Position: 1, LastUpdatedAt: now.Add(-10 * time.Minute)},
		{ConversationID: "c3", Position: 2, LastUpdatedAt: now.Add(-90 * time.Minute)},
		{ConversationID: "c4", Position: 3, LastUpdatedAt: now.Add(-10 * time.Minute)},
	}}
	gw := &fakeGateway{}
	reg := newTestRegistry(t)
	w := New(store, gw, reg, "demo", cfg)
	w.tickCount = inactivityReopenEvery - 1

	require.NoError(t, w.tick(context.Background()))
	require.Equal(t, 1, gw.reopenCount)
	require.ElementsMatch(t, []string{"c1", "c2", "c4"}, gw.lastActiveIDs)
}
