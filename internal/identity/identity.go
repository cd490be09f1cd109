// Package identity manages the asymmetric key material used by the panel
// and its node agents. The panel owns one long-lived RSA keypair; every
// agent owns its own, generated on the agent's machine. Only public halves
// ever cross the wire, exchanged base64-PEM-encoded during the hello phase.
package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

const (
	// ServerKeyBits is the key size for the control-plane keypair.
	ServerKeyBits = 4096

	// AgentKeyBits is the key size for agent keypairs.
	AgentKeyBits = 2048

	privateKeyFile = "private-key.pem"
	publicKeyFile  = "public-key.pem"
)

var (
	ErrBadHandshake = errors.New("malformed public key in handshake")

	// ensureMu serializes load-or-generate so concurrent callers cannot
	// race-generate two different keypairs for the same directory.
	ensureMu sync.Mutex
)

// KeyPair holds an RSA keypair plus the paths it is persisted at.
type KeyPair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey

	PrivatePath string
	PublicPath  string
}

// PublicKeyPEM returns the PEM (SubjectPublicKeyInfo) encoding of the
// public half.
func (kp *KeyPair) PublicKeyPEM() ([]byte, error) {
	return MarshalPublicKey(kp.Public)
}

// PublicKeyBase64 returns the base64 form of the PEM public key, which is
// what travels inside hello frames.
func (kp *KeyPair) PublicKeyBase64() (string, error) {
	pemBytes, err := kp.PublicKeyPEM()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(pemBytes), nil
}

// EnsureServerIdentity loads the control-plane keypair from dir, generating
// and persisting a fresh one on first call. Idempotent and safe to call from
// multiple goroutines. Rotation is manual: delete the files and restart.
func EnsureServerIdentity(dir string) (*KeyPair, error) {
	return ensureIdentity(dir, ServerKeyBits)
}

// EnsureAgentIdentity is the agent-side counterpart of EnsureServerIdentity.
func EnsureAgentIdentity(dir string) (*KeyPair, error) {
	return ensureIdentity(dir, AgentKeyBits)
}

func ensureIdentity(dir string, bits int) (*KeyPair, error) {
	ensureMu.Lock()
	defer ensureMu.Unlock()

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}

	privPath := filepath.Join(dir, privateKeyFile)
	pubPath := filepath.Join(dir, publicKeyFile)

	if kp, err := loadKeyPair(privPath, pubPath); err == nil {
		return kp, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	slog.Info("Generating keypair", "dir", dir, "bits", bits)

	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		return nil, fmt.Errorf("write private key: %w", err)
	}

	pubPEM, err := MarshalPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		return nil, fmt.Errorf("write public key: %w", err)
	}

	return &KeyPair{
		Private:     priv,
		Public:      &priv.PublicKey,
		PrivatePath: privPath,
		PublicPath:  pubPath,
	}, nil
}

func loadKeyPair(privPath, pubPath string) (*KeyPair, error) {
	privPEM, err := os.ReadFile(privPath)
	if err != nil {
		return nil, err
	}

	priv, err := ParsePrivateKey(privPEM)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", privPath, err)
	}

	return &KeyPair{
		Private:     priv,
		Public:      &priv.PublicKey,
		PrivatePath: privPath,
		PublicPath:  pubPath,
	}, nil
}

// MarshalPublicKey encodes an RSA public key as SubjectPublicKeyInfo PEM.
func MarshalPublicKey(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// ParsePublicKey decodes a PEM-encoded RSA public key. Malformed input is
// reported as ErrBadHandshake since this is the path hello frames arrive on.
func ParsePublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("%w: not PEM data", ErrBadHandshake)
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHandshake, err)
	}

	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", ErrBadHandshake)
	}
	return pub, nil
}

// ParsePublicKeyBase64 decodes the base64-of-PEM form used on the wire.
func ParsePublicKeyBase64(b64 string) (*rsa.PublicKey, []byte, error) {
	pemBytes, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: invalid base64", ErrBadHandshake)
	}
	pub, err := ParsePublicKey(pemBytes)
	if err != nil {
		return nil, nil, err
	}
	return pub, pemBytes, nil
}

// ParsePrivateKey decodes a PEM-encoded PKCS8 RSA private key.
func ParsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("not PEM data")
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("not an RSA private key")
	}
	return priv, nil
}
