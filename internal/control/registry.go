package control

import (
	"log/slog"
	"sync"
)

// Registry is the process-wide table of live channels, grouped by node id.
// One agent connection and any number of viewer connections share a group.
// Every mutation goes through a single mutex; readers never observe a
// half-updated group.
type Registry struct {
	mu     sync.Mutex
	groups map[string]map[*Channel]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		groups: make(map[string]map[*Channel]struct{}),
	}
}

// Register adds a channel to its group, creating the group on first join.
func (r *Registry) Register(group string, ch *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.groups[group]
	if !ok {
		members = make(map[*Channel]struct{})
		r.groups[group] = members
	}
	members[ch] = struct{}{}

	slog.Info("Channel registered",
		"group", group,
		"channel_id", ch.ID,
		"role", ch.Role(),
		"group_size", len(members))
}

// Unregister removes a channel; the group itself is pruned when its last
// member leaves.
func (r *Registry) Unregister(group string, ch *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.groups[group]
	if !ok {
		return
	}
	delete(members, ch)
	if len(members) == 0 {
		delete(r.groups, group)
	}

	slog.Info("Channel unregistered",
		"group", group,
		"channel_id", ch.ID,
		"group_size", len(members))
}

// Broadcast delivers a frame to every member of the group except exclude
// (pass nil to reach everyone). Delivery order within the group follows
// send order; a member whose queue is dead is skipped, not fatal.
func (r *Registry) Broadcast(group string, f Frame, exclude *Channel) {
	r.mu.Lock()
	targets := make([]*Channel, 0, len(r.groups[group]))
	for ch := range r.groups[group] {
		if ch != exclude {
			targets = append(targets, ch)
		}
	}
	r.mu.Unlock()

	for _, ch := range targets {
		if err := ch.Send(f); err != nil {
			slog.Debug("Broadcast delivery failed",
				"group", group,
				"channel_id", ch.ID,
				"error", err)
		}
	}
}

// PromoteAgent makes ch the group's agent connection. Any previous agent
// channel in the group is closed; a reconnecting agent supersedes it, the
// same way a re-registering connection replaces its predecessor in the
// connection table.
func (r *Registry) PromoteAgent(group string, ch *Channel) {
	ch.SetRole(RoleAgent)

	r.mu.Lock()
	var stale []*Channel
	for member := range r.groups[group] {
		if member != ch && member.Role() == RoleAgent {
			stale = append(stale, member)
		}
	}
	r.mu.Unlock()

	for _, old := range stale {
		slog.Info("Superseding stale agent channel",
			"group", group,
			"channel_id", old.ID,
			"replacement_id", ch.ID)
		old.Close("superseded by reconnecting agent")
	}
}

// AgentChannel returns the group's live agent connection, if one is
// attached. A closed channel still waiting for its session to unregister
// is never returned.
func (r *Registry) AgentChannel(group string) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for ch := range r.groups[group] {
		if ch.Role() != RoleAgent {
			continue
		}
		select {
		case <-ch.Done():
			continue
		default:
			return ch, true
		}
	}
	return nil, false
}

// HasGroup reports whether any channel is attached under the group.
func (r *Registry) HasGroup(group string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.groups[group]) > 0
}

// GroupSize returns the number of channels in a group.
func (r *Registry) GroupSize(group string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.groups[group])
}

// Groups lists every group with at least one live channel.
func (r *Registry) Groups() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.groups))
	for g := range r.groups {
		out = append(out, g)
	}
	return out
}

// CloseGroup force-closes every channel in a group. Used when a node is
// revoked; each closing channel unregisters itself through its session
// cleanup.
func (r *Registry) CloseGroup(group string, reason string) {
	r.mu.Lock()
	targets := make([]*Channel, 0, len(r.groups[group]))
	for ch := range r.groups[group] {
		targets = append(targets, ch)
	}
	r.mu.Unlock()

	for _, ch := range targets {
		ch.Close(reason)
	}
}
