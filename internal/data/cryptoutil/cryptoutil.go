// Package cryptoutil seals tenant credentials at rest.
//
// Ciphertexts are bound to the owning tenant through AES-GCM additional data, so a
// secret copied into another tenant's row fails to open instead of leaking across
// the boundary.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Encryptor seals and opens secrets scoped to one tenant.
type Encryptor interface {
	Encrypt(tenantID string, plaintext []byte) (string, error)
	Decrypt(tenantID, ciphertext string) ([]byte, error)
}

const (
	// Versioned prefix allows key or algorithm rotation without a data migration.
	cipherPrefixV1 = "v1:"
	noopPrefix     = "noop:"
)

// ErrTenantMismatch is returned when a ciphertext was sealed for another tenant
// or has been tampered with.
var ErrTenantMismatch = errors.New("secret does not belong to this tenant")

// AESGCMEncryptor implements Encryptor using AES-256-GCM.
type AESGCMEncryptor struct {
	aead cipher.AEAD
}

// NewAESGCMEncryptor constructs an AESGCMEncryptor. The key must be 32 bytes.
func NewAESGCMEncryptor(key []byte) (*AESGCMEncryptor, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("aes-gcm key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &AESGCMEncryptor{aead: aead}, nil
}

// Encrypt seals plaintext for tenantID and returns "v1:" + base64(nonce||ciphertext).
// An empty plaintext stays empty so optional credentials round-trip unchanged.
func (e *AESGCMEncryptor) Encrypt(tenantID string, plaintext []byte) (string, error) {
	if len(plaintext) == 0 {
		return "", nil
	}
	if tenantID == "" {
		return "", errors.New("tenant id is required to seal a secret")
	}
	nonce := make([]byte, e.aead.NonceSize(), e.aead.NonceSize()+len(plaintext)+e.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, plaintext, []byte(tenantID))
	return cipherPrefixV1 + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt for the same tenant. Values written by
// NoopEncryptor are still accepted so a deployment can turn encryption on in place.
func (e *AESGCMEncryptor) Decrypt(tenantID, ciphertext string) ([]byte, error) {
	switch {
	case ciphertext == "":
		return nil, nil
	case strings.HasPrefix(ciphertext, noopPrefix):
		return decodeNoop(ciphertext)
	case !strings.HasPrefix(ciphertext, cipherPrefixV1):
		return nil, fmt.Errorf("unknown ciphertext version (prefix: %.6s)", ciphertext)
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext[len(cipherPrefixV1):])
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	n := e.aead.NonceSize()
	if len(raw) < n {
		return nil, errors.New("ciphertext too short")
	}
	pt, err := e.aead.Open(nil, raw[:n], raw[n:], []byte(tenantID))
	if err != nil {
		return nil, ErrTenantMismatch
	}
	return pt, nil
}

// NoopEncryptor stores plaintext base64-encoded behind a marker. Development and tests only.
type NoopEncryptor struct{}

// Encrypt implements Encryptor.
func (NoopEncryptor) Encrypt(_ string, plaintext []byte) (string, error) {
	if len(plaintext) == 0 {
		return "", nil
	}
	return noopPrefix + base64.StdEncoding.EncodeToString(plaintext), nil
}

// Decrypt implements Encryptor.
func (NoopEncryptor) Decrypt(_, ciphertext string) ([]byte, error) {
	if ciphertext == "" {
		return nil, nil
	}
	if !strings.HasPrefix(ciphertext, noopPrefix) {
		return nil, errors.New("invalid noop ciphertext")
	}
	return decodeNoop(ciphertext)
}

func decodeNoop(ciphertext string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(ciphertext[len(noopPrefix):])
	if err != nil {
		return nil, fmt.Errorf("decode noop ciphertext: %w", err)
	}
	return decoded, nil
}
