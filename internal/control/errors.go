package control

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when no response arrived within the deadline.
	// The channel stays usable for future calls.
	ErrTimeout = errors.New("timed out waiting for agent response")

	// ErrChannelClosed is returned when the channel a request was in flight
	// on went away. Every pending request on a dying channel resolves with
	// this error; none are left hanging.
	ErrChannelClosed = errors.New("channel closed")

	// ErrNodeNotConnected is returned when the target node has no live agent
	// channel at all. Deliberately distinct from ErrTimeout: the node being
	// absent and the node being slow are different conditions.
	ErrNodeNotConnected = errors.New("node not connected")
)

// AgentError carries an error payload the agent itself reported, relayed
// verbatim (for example "Unknown API: nlb_status").
type AgentError struct {
	API     string
	Message string
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent error on %s: %s", e.API, e.Message)
}
