package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ricochet-labs/cursor-discord-bridge/internal/model"
)

func TestPutAndGet(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), "registry.json"))
	require.NoError(t, err)

	m := model.Mapping{ConversationID: "c1", ThreadID: "t1", Workspace: "demo", CreatedAt: time.Now()}
	require.NoError(t, r.Put(m))

	got, ok := r.Get("c1")
	require.True(t, ok)
	require.Equal(t, "t1", got.ThreadID)

	byThread, ok := r.GetByThread("t1")
	require.True(t, ok)
	require.Equal(t, "c1", byThread.ConversationID)
}

func TestPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	r, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, r.Put(model.Mapping{ConversationID: "c1", ThreadID: "t1", CreatedAt: time.Now()}))

	reopened, err := Open(path)
	require.NoError(t, err)
	got, ok := reopened.Get("c1")
	require.True(t, ok)
	require.Equal(t, "t1", got.ThreadID)
}

func TestMarkClaimedIsIdempotent(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), "registry.json"))
	require.NoError(t, err)
	require.NoError(t, r.Put(model.Mapping{ConversationID: "c1", ThreadID: "t1", CreatedAt: time.Now()}))

	require.NoError(t, r.MarkClaimed("c1"))
	first, _ := r.Get("c1")
	require.True(t, first.Claimed())

	require.NoError(t, r.MarkClaimed("c1"))
	second, _ := r.Get("c1")
	require.Equal(t, first.ClaimedAt, second.ClaimedAt)
}

func TestMostRecentUnclaimedWithinIgnoresStale(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), "registry.json"))
	require.NoError(t, err)

	stale := model.Mapping{ConversationID: "old", ThreadID: "t-old", CreatedAt: time.Now().Add(-time.Hour)}
	fresh := model.Mapping{ConversationID: "new", ThreadID: "t-new", CreatedAt: time.Now()}
	require.NoError(t, r.Put(stale))
	require.NoError(t, r.Put(fresh))

	m, ok := r.MostRecentUnclaimedWithin(30 * time.Second)
	require.True(t, ok)
	require.Equal(t, "new", m.ConversationID)
}

func TestMostRecentUnclaimedWithinExcludesClaimed(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), "registry.json"))
	require.NoError(t, err)
	require.NoError(t, r.Put(model.Mapping{ConversationID: "c1", ThreadID: "t1", CreatedAt: time.Now()}))
	require.NoError(t, r.MarkClaimed("c1"))

	_, ok := r.MostRecentUnclaimedWithin(30 * time.Second)
	require.False(t, ok)
}

func TestResolveUsesPendingComposerFirst(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), "registry.json"))
	require.NoError(t, err)
	require.NoError(t, r.Put(model.Mapping{ConversationID: "c1", ThreadID: "t1", CreatedAt: time.Now()}))
	require.NoError(t, r.SetPendingComposer("pending-1"))

	_, method, pending, err := r.Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, model.MethodWaitedForNew, method)
	require.NotNil(t, pending)
	require.Equal(t, "pending-1", pending.ConversationID)
}

func TestResolveReturnsLatestUnclaimed(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), "registry.json"))
	require.NoError(t, err)
	require.NoError(t, r.Put(model.Mapping{ConversationID: "c1", ThreadID: "t1", CreatedAt: time.Now()}))

	m, method, pending, err := r.Resolve(context.Background())
	require.NoError(t, err)
	require.Nil(t, pending)
	require.Equal(t, model.MethodLatestUnclaimed, method)
	require.Equal(t, "c1", m.ConversationID)

	claimed, _ := r.Get("c1")
	require.True(t, claimed.Claimed())
}

func TestResolveTimesOutWithNoMappings(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), "registry.json"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, _, err = r.Resolve(ctx)
	require.Error(t, err)
}

func TestCreateFromPendingClearsPendingAndClaims(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), "registry.json"))
	require.NoError(t, err)
	require.NoError(t, r.SetPendingComposer("c1"))

	claimed, err := r.CreateFromPending(model.Mapping{ConversationID: "c1", ThreadID: "t1", CreatedAt: time.Now()})
	require.NoError(t, err)
	require.True(t, claimed.Claimed())
	require.Empty(t, r.PendingComposer())
}
