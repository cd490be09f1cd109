// Package envelope implements the hybrid-encrypted transport unit used for
// registration-time traffic: the payload is zlib-compressed and sealed with
// AES-256-GCM under a fresh symmetric key, and that key is wrapped with
// RSA-OAEP-SHA256 under the recipient's public key. Post-registration frames
// do not use envelopes; the channel itself is transport-secured by then.
package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

const (
	keySize   = 32 // AES-256
	nonceSize = 12
)

var (
	ErrDecryptionFailed    = errors.New("envelope decryption failed")
	ErrDecompressionFailed = errors.New("envelope decompression failed")
	ErrMalformed           = errors.New("malformed envelope")
)

// Envelope is the wire form: WrappedKey carries the RSA-wrapped symmetric
// key, Body carries nonce||ciphertext. Both are base64 in JSON, matching the
// {"cryptdata": ..., "data": ...} frames agents exchange.
type Envelope struct {
	WrappedKey string `json:"cryptdata"`
	Body       string `json:"data"`
}

// Seal encrypts plaintext for recipient. Every call draws a fresh symmetric
// key and nonce; sealing the same plaintext twice never yields the same
// envelope.
func Seal(plaintext []byte, recipient *rsa.PublicKey) (Envelope, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return Envelope{}, fmt.Errorf("generate symmetric key: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Envelope{}, fmt.Errorf("generate nonce: %w", err)
	}

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(plaintext); err != nil {
		return Envelope{}, fmt.Errorf("compress payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return Envelope{}, fmt.Errorf("compress payload: %w", err)
	}

	aead, err := newAEAD(key)
	if err != nil {
		return Envelope{}, err
	}
	ciphertext := aead.Seal(nil, nonce, compressed.Bytes(), nil)

	wrappedKey, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, recipient, key, nil)
	if err != nil {
		return Envelope{}, fmt.Errorf("wrap symmetric key: %w", err)
	}

	body := make([]byte, 0, nonceSize+len(ciphertext))
	body = append(body, nonce...)
	body = append(body, ciphertext...)

	return Envelope{
		WrappedKey: base64.StdEncoding.EncodeToString(wrappedKey),
		Body:       base64.StdEncoding.EncodeToString(body),
	}, nil
}

// Open is the inverse of Seal. A wrong private key or any bit flip in the
// body surfaces as ErrDecryptionFailed; bytes that decrypt but are not valid
// zlib data surface as ErrDecompressionFailed.
func Open(env Envelope, own *rsa.PrivateKey) ([]byte, error) {
	wrappedKey, err := base64.StdEncoding.DecodeString(env.WrappedKey)
	if err != nil {
		return nil, fmt.Errorf("%w: bad cryptdata encoding", ErrMalformed)
	}
	body, err := base64.StdEncoding.DecodeString(env.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: bad data encoding", ErrMalformed)
	}
	if len(body) < nonceSize {
		return nil, fmt.Errorf("%w: body shorter than nonce", ErrMalformed)
	}

	key, err := rsa.DecryptOAEP(sha256.New(), nil, own, wrappedKey, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce, ciphertext := body[:nonceSize], body[nonceSize:]
	compressed, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, ErrDecompressionFailed
	}
	defer zr.Close()

	plaintext, err := io.ReadAll(zr)
	if err != nil {
		return nil, ErrDecompressionFailed
	}
	return plaintext, nil
}

// SealJSON marshals v and seals the result.
func SealJSON(v any, recipient *rsa.PublicKey) (Envelope, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal payload: %w", err)
	}
	return Seal(plaintext, recipient)
}

// OpenJSON opens env and unmarshals the plaintext into v.
func OpenJSON(env Envelope, own *rsa.PrivateKey, v any) error {
	plaintext, err := Open(env, own)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, v); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create AEAD: %w", err)
	}
	return aead, nil
}
