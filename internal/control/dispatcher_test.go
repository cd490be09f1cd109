package control

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/identity"
	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/nodes"
)

func TestDispatcherCallNotConnected(t *testing.T) {
	env := newTestEnv(t)
	d := NewDispatcher(env.hub)

	_, err := d.Call(context.Background(), "node-missing", "collect_metrics", nil, time.Second)
	assert.ErrorIs(t, err, ErrNodeNotConnected)
}

func TestDispatcherCall(t *testing.T) {
	env := newTestEnv(t)
	d := NewDispatcher(env.hub)

	agentConn := env.startSession(t)
	env.completeRegistration(t, agentConn)
	group := identity.NodeID(testServerID)

	type result struct {
		payload json.RawMessage
		err     error
	}
	resultCh := make(chan result, 1)
	go func() {
		payload, err := d.Call(context.Background(), group, "read_file",
			map[string]string{"path": "/etc/hostname"}, time.Second)
		resultCh <- result{payload, err}
	}()

	req, ok := agentConn.peerRecv(t).(APIRequestFrame)
	require.True(t, ok)
	assert.Equal(t, "read_file", req.API)
	assert.JSONEq(t, `{"path":"/etc/hostname"}`, string(req.Payload))

	agentConn.peerSend(t, APIResponseFrame{
		API:       req.API,
		RequestID: req.RequestID,
		Result:    json.RawMessage(`{"content":"web-01\n"}`),
	})

	res := <-resultCh
	require.NoError(t, res.err)
	assert.JSONEq(t, `{"content":"web-01\n"}`, string(res.payload))
}

func TestDispatcherCallTimeout(t *testing.T) {
	env := newTestEnv(t)
	d := NewDispatcher(env.hub)

	agentConn := env.startSession(t)
	env.completeRegistration(t, agentConn)
	group := identity.NodeID(testServerID)

	// Agent never answers.
	_, err := d.Call(context.Background(), group, "read_file", nil, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 0, env.hub.Correlator.PendingCount(group))
}

func TestDispatcherVerifyCodeEmptyGroupTimesOut(t *testing.T) {
	env := newTestEnv(t)
	d := NewDispatcher(env.hub)

	start := time.Now()
	_, err := d.VerifyCode(context.Background(), "node-nobody", "CODE")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), env.hub.Config.VerifyTimeout)
}

func TestDispatcherVerifyCode(t *testing.T) {
	env := newTestEnv(t)
	d := NewDispatcher(env.hub)

	agentConn := env.startSession(t)
	env.completeRegistration(t, agentConn)
	group := identity.NodeID(testServerID)

	verifiedCh := make(chan bool, 1)
	go func() {
		verified, err := d.VerifyCode(context.Background(), group, "SOMECODE")
		if err != nil {
			verifiedCh <- false
			return
		}
		verifiedCh <- verified
	}()

	challenge, ok := agentConn.peerRecv(t).(VerifyCodeChallengeFrame)
	require.True(t, ok)
	assert.Equal(t, "SOMECODE", challenge.Code)

	agentConn.peerSend(t, VerifyCodeResultFrame{
		VerificationID: challenge.VerificationID,
		Result:         "success",
	})

	assert.True(t, <-verifiedCh)
}

func TestDispatcherRevoke(t *testing.T) {
	env := newTestEnv(t)
	d := NewDispatcher(env.hub)
	group := identity.NodeID(testServerID)

	agentConn := env.startSession(t)
	env.completeRegistration(t, agentConn)
	require.True(t, d.Connected(group))
	require.True(t, env.hub.Keys.Has(group))

	require.NoError(t, d.Revoke(context.Background(), group))

	node, err := env.store.Get(context.Background(), group)
	require.NoError(t, err)
	assert.Equal(t, nodes.StatusPending, node.Status)
	assert.Empty(t, node.Code)
	assert.False(t, env.hub.Keys.Has(group), "revoke discards the stored key")

	require.Eventually(t, func() bool {
		return !d.Connected(group)
	}, 2*time.Second, 10*time.Millisecond, "revoke disconnects the agent")
}

func TestDispatcherRevokeUnknownNode(t *testing.T) {
	env := newTestEnv(t)
	d := NewDispatcher(env.hub)

	err := d.Revoke(context.Background(), "node-missing")
	assert.ErrorIs(t, err, nodes.ErrNodeNotFound)
}
