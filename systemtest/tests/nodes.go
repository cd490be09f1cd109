package tests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/nodes"
)

func TestNodePersistence(t *testing.T, svc *nodes.Service) {
	ctx := context.Background()

	t.Run("upsert and get", func(t *testing.T) {
		saved, err := svc.Upsert(ctx, nodes.Node{
			ID:           "node-persist01",
			Hostname:     "web-01",
			IPAddress:    "192.0.2.10",
			Port:         22,
			Username:     "deploy",
			SFTPPort:     22,
			PublicKeyPEM: "-----BEGIN PUBLIC KEY-----\n...\n-----END PUBLIC KEY-----",
			Status:       nodes.StatusPending,
			Code:         "Abc123Xyz0",
		})
		require.NoError(t, err)
		assert.Equal(t, nodes.StatusPending, saved.Status)
		assert.False(t, saved.RegisteredAt.IsZero())

		got, err := svc.Get(ctx, "node-persist01")
		require.NoError(t, err)
		assert.Equal(t, "web-01", got.Hostname)
		assert.Equal(t, "Abc123Xyz0", got.Code)
	})

	t.Run("get unknown node", func(t *testing.T) {
		_, err := svc.Get(ctx, "node-missing")
		assert.ErrorIs(t, err, nodes.ErrNodeNotFound)
	})

	t.Run("reconnect preserves approved status", func(t *testing.T) {
		_, err := svc.Upsert(ctx, nodes.Node{
			ID:        "node-approved1",
			Hostname:  "db-01",
			IPAddress: "192.0.2.11",
			Port:      22,
			Username:  "root",
			Status:    nodes.StatusPending,
			Code:      "first00000",
		})
		require.NoError(t, err)
		require.NoError(t, svc.SetStatus(ctx, "node-approved1", nodes.StatusOnline))

		// The agent reconnects and re-registers with a fresh code.
		saved, err := svc.Upsert(ctx, nodes.Node{
			ID:        "node-approved1",
			Hostname:  "db-01",
			IPAddress: "192.0.2.11",
			Port:      22,
			Username:  "root",
			Status:    nodes.StatusPending,
			Code:      "second0000",
		})
		require.NoError(t, err)
		assert.Equal(t, nodes.StatusOnline, saved.Status,
			"re-registration must not demote an online node")
		assert.Equal(t, "second0000", saved.Code)
	})

	t.Run("reconnect restores an offline approved node", func(t *testing.T) {
		_, err := svc.Upsert(ctx, nodes.Node{
			ID:        "node-offline01",
			Hostname:  "cache-01",
			IPAddress: "192.0.2.12",
			Status:    nodes.StatusPending,
			Code:      "code000000",
		})
		require.NoError(t, err)
		// Approved, then its agent disconnected.
		require.NoError(t, svc.SetStatus(ctx, "node-offline01", nodes.StatusOnline))
		require.NoError(t, svc.SetStatus(ctx, "node-offline01", nodes.StatusOffline))

		saved, err := svc.Upsert(ctx, nodes.Node{
			ID:        "node-offline01",
			Hostname:  "cache-01",
			IPAddress: "192.0.2.12",
			Status:    nodes.StatusPending,
			Code:      "code111111",
		})
		require.NoError(t, err)
		assert.Equal(t, nodes.StatusOnline, saved.Status,
			"an approved node must come back online, not regress to pending")
	})

	t.Run("unapproved node stays pending", func(t *testing.T) {
		for _, code := range []string{"code222222", "code333333"} {
			saved, err := svc.Upsert(ctx, nodes.Node{
				ID:        "node-pending01",
				Hostname:  "batch-01",
				IPAddress: "192.0.2.13",
				Status:    nodes.StatusPending,
				Code:      code,
			})
			require.NoError(t, err)
			assert.Equal(t, nodes.StatusPending, saved.Status)
			assert.Equal(t, code, saved.Code)
		}
	})

	t.Run("update last seen", func(t *testing.T) {
		ts := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
		require.NoError(t, svc.UpdateLastSeen(ctx, "node-persist01", ts))

		got, err := svc.Get(ctx, "node-persist01")
		require.NoError(t, err)
		assert.True(t, got.LastSeen.UTC().Equal(ts))
	})

	t.Run("list orders by last seen", func(t *testing.T) {
		list, err := svc.List(ctx)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(list), 3)
		for i := 1; i < len(list); i++ {
			assert.False(t, list[i-1].LastSeen.Before(list[i].LastSeen))
		}
	})

	t.Run("revoke", func(t *testing.T) {
		require.NoError(t, svc.SetStatus(ctx, "node-persist01", nodes.StatusOnline))
		require.NoError(t, svc.Revoke(ctx, "node-persist01"))

		got, err := svc.Get(ctx, "node-persist01")
		require.NoError(t, err)
		assert.Equal(t, nodes.StatusPending, got.Status)
		assert.Empty(t, got.Code)

		assert.ErrorIs(t, svc.Revoke(ctx, "node-missing"), nodes.ErrNodeNotFound)
	})
}
