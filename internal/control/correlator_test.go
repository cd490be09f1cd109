package control

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelatorResolve(t *testing.T) {
	c := NewCorrelator()

	id, w := c.Issue("node-1", nil, nil)
	require.NotEmpty(t, id)

	go func() {
		c.Resolve(id, json.RawMessage(`{"ok":true}`))
	}()

	payload, err := w.Await(context.Background(), time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(payload))
	assert.Equal(t, 1, w.Resolutions())
}

func TestCorrelatorAtMostOnceResolution(t *testing.T) {
	c := NewCorrelator()
	id, w := c.Issue("node-1", nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Resolve(id, json.RawMessage(`1`))
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Fail(id, ErrChannelClosed)
		}()
	}
	wg.Wait()

	_, _ = w.Await(context.Background(), time.Second)
	assert.Equal(t, 1, w.Resolutions())
}

func TestCorrelatorTimeoutRemovesEntry(t *testing.T) {
	c := NewCorrelator()
	id, w := c.Issue("node-1", nil, nil)

	_, err := w.Await(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 0, c.PendingCount("node-1"))

	// A late response finds nothing to resolve.
	assert.False(t, c.Resolve(id, json.RawMessage(`{}`)))
	assert.Equal(t, 0, w.Resolutions())
}

func TestCorrelatorContextCancellation(t *testing.T) {
	c := NewCorrelator()
	_, w := c.Issue("node-1", nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.Await(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, c.PendingCount("node-1"))
}

func TestCorrelatorFailChannelResolvesAllPending(t *testing.T) {
	c := NewCorrelator()
	target := NewChannel(newFakeConn(), "node-1", RoleAgent, "127.0.0.1")
	defer target.Close("test done")

	const k = 5
	waiters := make([]*Waiter, k)
	for i := range waiters {
		_, waiters[i] = c.Issue("node-1", nil, target)
	}
	require.Equal(t, k, c.PendingCount("node-1"))

	c.FailChannel(target)

	for _, w := range waiters {
		_, err := w.Await(context.Background(), time.Second)
		assert.ErrorIs(t, err, ErrChannelClosed)
	}
	assert.Equal(t, 0, c.PendingCount("node-1"))
}

func TestCorrelatorFailChannelDropsOwnedWaiters(t *testing.T) {
	c := NewCorrelator()
	owner := NewChannel(newFakeConn(), "node-1", RoleViewer, "127.0.0.1")
	defer owner.Close("test done")

	id, w := c.Issue("node-1", owner, nil)

	c.FailChannel(owner)

	_, err := w.Await(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrChannelClosed)
	assert.False(t, c.Resolve(id, json.RawMessage(`{}`)))
}

func TestCorrelatorTrackSupersedesPreviousWaiter(t *testing.T) {
	c := NewCorrelator()

	w1 := c.Track("verify-1", "node-1", nil, nil)
	w2 := c.Track("verify-1", "node-1", nil, nil)

	_, err := w1.Await(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrChannelClosed)

	require.True(t, c.Resolve("verify-1", json.RawMessage(`{"verified":true}`)))
	payload, err := w2.Await(context.Background(), time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"verified":true}`, string(payload))
}

func TestCorrelatorLateResolveAfterResolution(t *testing.T) {
	c := NewCorrelator()
	id, w := c.Issue("node-1", nil, nil)

	require.True(t, c.Resolve(id, json.RawMessage(`"first"`)))
	assert.False(t, c.Resolve(id, json.RawMessage(`"second"`)))

	payload, err := w.Await(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, `"first"`, string(payload))
	assert.Equal(t, 1, w.Resolutions())
}
