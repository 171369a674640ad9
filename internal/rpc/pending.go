package rpc

import (
	"context"

	"github.com/ricochet-labs/cursor-discord-bridge/internal/model"
	"github.com/ricochet-labs/cursor-discord-bridge/internal/registry"
)

// nameReader is the subset of internal/convstore.Store needed to look up a
// name at the moment a Pending Composer must be force-created.
type nameReader interface {
	GetName(id string) (string, error)
}

// threadCreator is the subset of internal/gateway.Client needed to create a
// thread outside the normal watcher tick path.
type threadCreator interface {
	CreateThread(ctx context.Context, conversationID, workspaceLabel, name string) (model.Mapping, error)
}

// placeholderName is used when the Pending Composer still has no IDE name
// at resolve time; the Name Sync Watcher renames it once one appears (spec
// §4.5 strategy 1, §9 "placeholder then rename").
const placeholderName = "New conversation"

// PendingResolver implements rpc.PendingCreator: forcing thread creation for
// a Pending Composer id, per spec §4.5 strategy 1.
type PendingResolver struct {
	store     nameReader
	gateway   threadCreator
	registry  *registry.Registry
	workspace string
}

// NewPendingResolver constructs a PendingResolver.
func NewPendingResolver(store nameReader, gw threadCreator, reg *registry.Registry, workspace string) *PendingResolver {
	return &PendingResolver{store: store, gateway: gw, registry: reg, workspace: workspace}
}

// CreatePendingThread reads the conversation's current name (falling back to
// the placeholder if still unnamed), creates its thread, and records the
// resulting mapping as claimed.
func (p *PendingResolver) CreatePendingThread(ctx context.Context, conversationID string) (model.Mapping, error) {
	name, err := p.store.GetName(conversationID)
	if err != nil || name == "" {
		name = placeholderName
	}

	mapping, err := p.gateway.CreateThread(ctx, conversationID, p.workspace, name)
	if err != nil {
		return model.Mapping{}, err
	}
	return p.registry.CreateFromPending(mapping)
}
