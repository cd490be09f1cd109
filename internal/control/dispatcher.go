package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/identity"
	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/nodes"
)

// Dispatcher is the in-process entry point for relaying work to agents. It
// is pure routing plus correlation: it neither interprets API names nor
// persists relay results; callers decide what to do with them.
type Dispatcher struct {
	hub *Hub
}

func NewDispatcher(hub *Hub) *Dispatcher {
	return &Dispatcher{hub: hub}
}

// Call relays an API request to the node's agent and waits for the
// correlated response. A node with no live agent channel fails immediately
// with ErrNodeNotConnected; a connected but silent one fails with
// ErrTimeout after the deadline. Pass timeout <= 0 for the configured
// default.
func (d *Dispatcher) Call(ctx context.Context, nodeID, api string, payload any, timeout time.Duration) (json.RawMessage, error) {
	target, ok := d.hub.Registry.AgentChannel(nodeID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotConnected, nodeID)
	}

	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		raw = data
	}

	if timeout <= 0 {
		timeout = d.hub.Config.CallTimeout
	}

	id, w := d.hub.Correlator.Issue(nodeID, nil, target)

	slog.Debug("Relaying API call", "node_id", nodeID, "api", api, "request_id", id)

	if err := target.Send(APIRequestFrame{API: api, Payload: raw, RequestID: id}); err != nil {
		d.hub.Correlator.Fail(id, err)
		return nil, err
	}

	return w.Await(ctx, timeout)
}

// VerifyCode fans a verification challenge out to the node's group and
// reports whether the agent confirmed the code. A node with no agent
// attached simply times out: physically absent and slow-to-answer look the
// same to the operator typing the code.
func (d *Dispatcher) VerifyCode(ctx context.Context, nodeID, code string) (bool, error) {
	vid := uuid.New().String()
	w := d.hub.Correlator.Track(vid, nodeID, nil, nil)

	d.hub.Registry.Broadcast(nodeID, VerifyCodeChallengeFrame{
		Code:           code,
		VerificationID: vid,
	}, nil)

	payload, err := w.Await(ctx, d.hub.Config.VerifyTimeout)
	if err != nil {
		return false, err
	}

	var outcome VerifyOutcomeFrame
	if err := json.Unmarshal(payload, &outcome); err != nil {
		return false, fmt.Errorf("decode verification outcome: %w", err)
	}
	return outcome.Verified, nil
}

// Revoke demotes a node back to pending, discards its stored public key,
// and closes every channel in its group. The agent has to re-register and
// be re-approved by an operator before the node is usable again.
func (d *Dispatcher) Revoke(ctx context.Context, nodeID string) error {
	if err := d.hub.Store.Revoke(ctx, nodeID); err != nil {
		return err
	}

	if err := d.hub.Keys.Remove(nodeID); err != nil && !errors.Is(err, identity.ErrKeyNotFound) {
		slog.Warn("Failed to remove revoked node key", "node_id", nodeID, "error", err)
	}

	d.hub.Registry.CloseGroup(nodeID, "node revoked")

	slog.Info("Node revoked and disconnected", "node_id", nodeID)
	return nil
}

// Connected reports whether the node currently has a live agent channel.
func (d *Dispatcher) Connected(nodeID string) bool {
	_, ok := d.hub.Registry.AgentChannel(nodeID)
	return ok
}

// Node exposes the durable record behind a node id.
func (d *Dispatcher) Node(ctx context.Context, nodeID string) (nodes.Node, error) {
	return d.hub.Store.Get(ctx, nodeID)
}
