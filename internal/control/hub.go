package control

import (
	"context"
	"time"

	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/identity"
	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/nodes"
)

// NodeStore is the slice of node persistence the control channel needs.
// nodes.Service satisfies it; tests substitute an in-memory fake.
type NodeStore interface {
	Upsert(ctx context.Context, n nodes.Node) (nodes.Node, error)
	Get(ctx context.Context, nodeID string) (nodes.Node, error)
	SetStatus(ctx context.Context, nodeID string, status nodes.Status) error
	UpdateLastSeen(ctx context.Context, nodeID string, t time.Time) error
	Revoke(ctx context.Context, nodeID string) error
}

// Hub bundles the shared state every session and dispatcher operates on:
// the registry and correlator (the only shared mutable structures in the
// subsystem), the node store, the agent key store, and the panel identity.
type Hub struct {
	Registry   *Registry
	Correlator *Correlator
	Store      NodeStore
	Keys       *identity.KeyStore
	Identity   *identity.KeyPair
	Config     Config
}

func NewHub(store NodeStore, keys *identity.KeyStore, id *identity.KeyPair, cfg Config) *Hub {
	return &Hub{
		Registry:   NewRegistry(),
		Correlator: NewCorrelator(),
		Store:      store,
		Keys:       keys,
		Identity:   id,
		Config:     cfg.withDefaults(),
	}
}
