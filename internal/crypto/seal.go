// Package crypto seals device credentials (pair token, device token) before
// they are written to a plain-file store.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const prefix = "sealed:v1:"

// ErrOpen is returned when a sealed value cannot be decrypted with the configured secret.
var ErrOpen = errors.New("crypto: unable to open sealed value (wrong secret or corrupted data)")

// Sealer encrypts values with AES-256-GCM. The key name is bound as additional
// data, so a sealed value copied to another key fails to open.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives an AES-256 key from secret with HKDF-SHA256.
// An empty secret returns a nil Sealer, which passes values through unchanged.
func NewSealer(secret string) (*Sealer, error) {
	if secret == "" {
		return nil, nil
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte("allow2 device state"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// Seal returns prefix + base64(nonce || ciphertext).
func (s *Sealer) Seal(name, plaintext string) (string, error) {
	if s == nil || plaintext == "" {
		return plaintext, nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := s.aead.Seal(nonce, nonce, []byte(plaintext), []byte(name))
	return prefix + base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Values without the sealed prefix are returned as-is,
// so state written before a secret was configured keeps loading.
func (s *Sealer) Open(name, value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	if s == nil {
		return "", ErrOpen
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, prefix))
	if err != nil {
		return "", ErrOpen
	}
	n := s.aead.NonceSize()
	if len(data) < n {
		return "", ErrOpen
	}
	plain, err := s.aead.Open(nil, data[:n], data[n:], []byte(name))
	if err != nil {
		return "", ErrOpen
	}
	return string(plain), nil
}

// IsSealed reports whether value carries the sealed prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, prefix)
}
