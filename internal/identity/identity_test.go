package identity

import (
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureAgentIdentityGeneratesAndReloads(t *testing.T) {
	dir := t.TempDir()

	kp1, err := EnsureAgentIdentity(dir)
	require.NoError(t, err)
	require.NotNil(t, kp1.Private)

	info, err := os.Stat(kp1.PrivatePath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	kp2, err := EnsureAgentIdentity(dir)
	require.NoError(t, err)
	assert.Equal(t, kp1.Private.N, kp2.Private.N, "second call must load, not regenerate")
}

func TestEnsureIdentityConcurrent(t *testing.T) {
	dir := t.TempDir()

	const n = 4
	pairs := make([]*KeyPair, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			kp, err := EnsureAgentIdentity(dir)
			assert.NoError(t, err)
			pairs[i] = kp
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Equal(t, pairs[0].Private.N, pairs[i].Private.N,
			"concurrent callers must agree on one keypair")
	}
}

func TestPublicKeyBase64RoundTrip(t *testing.T) {
	kp, err := EnsureAgentIdentity(t.TempDir())
	require.NoError(t, err)

	b64, err := kp.PublicKeyBase64()
	require.NoError(t, err)

	pub, pemBytes, err := ParsePublicKeyBase64(b64)
	require.NoError(t, err)
	assert.Equal(t, kp.Public.N, pub.N)
	assert.Contains(t, string(pemBytes), "BEGIN PUBLIC KEY")
}

func TestParsePublicKeyMalformed(t *testing.T) {
	_, err := ParsePublicKey([]byte("garbage"))
	assert.ErrorIs(t, err, ErrBadHandshake)

	_, _, err = ParsePublicKeyBase64("!!! not base64")
	assert.ErrorIs(t, err, ErrBadHandshake)

	_, _, err = ParsePublicKeyBase64("Z2FyYmFnZQ==")
	assert.ErrorIs(t, err, ErrBadHandshake)
}

func TestEnsureServerIDStable(t *testing.T) {
	dir := t.TempDir()

	id1, err := EnsureServerID(dir)
	require.NoError(t, err)
	assert.Len(t, id1, ServerIDLength)

	id2, err := EnsureServerID(dir)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestNodeID(t *testing.T) {
	assert.Equal(t, "node-abc123", NodeID("abc123"))
}

func TestKeyStore(t *testing.T) {
	ks, err := NewKeyStore(t.TempDir())
	require.NoError(t, err)

	kp, err := EnsureAgentIdentity(t.TempDir())
	require.NoError(t, err)
	pemBytes, err := kp.PublicKeyPEM()
	require.NoError(t, err)

	assert.False(t, ks.Has("node-1"))
	_, err = ks.Get("node-1")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, ks.Put("node-1", pemBytes))
	assert.True(t, ks.Has("node-1"))

	pub, err := ks.Get("node-1")
	require.NoError(t, err)
	assert.Equal(t, kp.Public.N, pub.N)

	require.NoError(t, ks.Remove("node-1"))
	assert.False(t, ks.Has("node-1"))
	assert.ErrorIs(t, ks.Remove("node-1"), ErrKeyNotFound)
}
