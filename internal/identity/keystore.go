package identity

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

var ErrKeyNotFound = errors.New("agent public key not found")

// KeyStore persists the public keys agents declare during hello, one PEM
// file per node id. Keys are written on every hello so a reinstalled agent
// that kept its server id simply overwrites its previous key.
type KeyStore struct {
	mu  sync.RWMutex
	dir string
}

func NewKeyStore(dir string) (*KeyStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create agent key dir: %w", err)
	}
	return &KeyStore{dir: dir}, nil
}

func (ks *KeyStore) path(nodeID string) string {
	return filepath.Join(ks.dir, nodeID+"-key.pem")
}

// Put stores an agent's public key PEM under its node id.
func (ks *KeyStore) Put(nodeID string, pemBytes []byte) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if err := os.WriteFile(ks.path(nodeID), pemBytes, 0o644); err != nil {
		return fmt.Errorf("write agent key: %w", err)
	}
	slog.Debug("Agent public key stored", "node_id", nodeID)
	return nil
}

// Get loads and parses the stored public key for a node.
func (ks *KeyStore) Get(nodeID string) (*rsa.PublicKey, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	pemBytes, err := os.ReadFile(ks.path(nodeID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("read agent key: %w", err)
	}
	return ParsePublicKey(pemBytes)
}

// Has reports whether a key is stored for the node.
func (ks *KeyStore) Has(nodeID string) bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	_, err := os.Stat(ks.path(nodeID))
	return err == nil
}

// Remove deletes a node's stored key. Used when a node is revoked.
func (ks *KeyStore) Remove(nodeID string) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if err := os.Remove(ks.path(nodeID)); err != nil {
		if os.IsNotExist(err) {
			return ErrKeyNotFound
		}
		return fmt.Errorf("remove agent key: %w", err)
	}
	return nil
}
