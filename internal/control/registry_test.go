package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChannel(t *testing.T, group string, role Role) (*Channel, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	ch := NewChannel(conn, group, role, "127.0.0.1")
	t.Cleanup(func() { ch.Close("test done") })
	return ch, conn
}

func TestRegistryRegisterUnregister(t *testing.T) {
	r := NewRegistry()
	ch, _ := newTestChannel(t, "node-1", RoleViewer)

	r.Register("node-1", ch)
	assert.True(t, r.HasGroup("node-1"))
	assert.Equal(t, 1, r.GroupSize("node-1"))

	r.Unregister("node-1", ch)
	assert.False(t, r.HasGroup("node-1"))
	assert.Equal(t, 0, r.GroupSize("node-1"))
}

func TestRegistryPrunesEmptyGroups(t *testing.T) {
	r := NewRegistry()
	ch1, _ := newTestChannel(t, "node-1", RoleViewer)
	ch2, _ := newTestChannel(t, "node-1", RoleAgent)

	r.Register("node-1", ch1)
	r.Register("node-1", ch2)

	r.Unregister("node-1", ch1)
	assert.True(t, r.HasGroup("node-1"))

	r.Unregister("node-1", ch2)
	assert.False(t, r.HasGroup("node-1"))
	assert.Empty(t, r.Groups())
}

func TestRegistryAgentChannel(t *testing.T) {
	r := NewRegistry()
	viewer, _ := newTestChannel(t, "node-1", RoleViewer)
	agent, _ := newTestChannel(t, "node-1", RoleAgent)

	r.Register("node-1", viewer)

	_, ok := r.AgentChannel("node-1")
	assert.False(t, ok, "viewer must not satisfy agent lookup")

	r.Register("node-1", agent)

	got, ok := r.AgentChannel("node-1")
	require.True(t, ok)
	assert.Equal(t, agent.ID, got.ID)
}

func TestRegistryPromoteAgentSupersedesPrevious(t *testing.T) {
	r := NewRegistry()
	old, _ := newTestChannel(t, "node-1", RoleViewer)
	fresh, _ := newTestChannel(t, "node-1", RoleViewer)

	r.Register("node-1", old)
	r.PromoteAgent("node-1", old)

	r.Register("node-1", fresh)
	r.PromoteAgent("node-1", fresh)

	select {
	case <-old.Done():
	default:
		t.Fatal("previous agent channel not closed on promotion")
	}

	got, ok := r.AgentChannel("node-1")
	require.True(t, ok)
	assert.Equal(t, fresh.ID, got.ID, "lookup must resolve to the live agent")
}

func TestRegistryAgentChannelSkipsDeadChannel(t *testing.T) {
	r := NewRegistry()
	agent, _ := newTestChannel(t, "node-1", RoleAgent)

	r.Register("node-1", agent)
	agent.Close("gone")

	_, ok := r.AgentChannel("node-1")
	assert.False(t, ok, "a closed channel must not satisfy agent lookup")
}

func TestRegistryBroadcastExcludesSender(t *testing.T) {
	r := NewRegistry()
	sender, senderConn := newTestChannel(t, "node-1", RoleViewer)
	other, otherConn := newTestChannel(t, "node-1", RoleAgent)

	r.Register("node-1", sender)
	r.Register("node-1", other)

	r.Broadcast("node-1", VerifyCodeChallengeFrame{Code: "ABC", VerificationID: "v1"}, sender)

	frame := otherConn.peerRecv(t)
	challenge, ok := frame.(VerifyCodeChallengeFrame)
	require.True(t, ok)
	assert.Equal(t, "ABC", challenge.Code)

	select {
	case data := <-senderConn.out:
		t.Fatalf("sender received its own broadcast: %s", data)
	default:
	}
}

func TestRegistryBroadcastUnknownGroup(t *testing.T) {
	r := NewRegistry()
	// Must not panic.
	r.Broadcast("node-missing", VerifyCodeChallengeFrame{Code: "X"}, nil)
}

func TestRegistryCloseGroup(t *testing.T) {
	r := NewRegistry()
	ch1, _ := newTestChannel(t, "node-1", RoleAgent)
	ch2, _ := newTestChannel(t, "node-1", RoleViewer)

	r.Register("node-1", ch1)
	r.Register("node-1", ch2)

	r.CloseGroup("node-1", "revoked")

	select {
	case <-ch1.Done():
	default:
		t.Fatal("agent channel not closed")
	}
	select {
	case <-ch2.Done():
	default:
		t.Fatal("viewer channel not closed")
	}
}
