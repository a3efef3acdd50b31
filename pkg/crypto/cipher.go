// Package crypto seals Message content at rest with AES-256-GCM, grounded
// on cuemby-warren's pkg/security/secrets.go. The key is a 256-bit random
// value stored in a file with 0600 permissions inside a 0700 directory
// (spec §6 "Persisted state"); it is loaded once per process and cached in
// memory.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const keyFileName = "message.key"
const keySize = 32 // AES-256

// Sealer encrypts and decrypts Message content. Safe for concurrent use —
// the key is immutable after construction.
type Sealer struct {
	key []byte
}

// LoadOrCreate loads the encryption key from <dir>/message.key, creating
// dir (0700) and a fresh random key (0600) if absent.
func LoadOrCreate(dir string) (*Sealer, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}

	path := filepath.Join(dir, keyFileName)
	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) != keySize {
			return nil, fmt.Errorf("message key at %s has wrong length: got %d, want %d", path, len(key), keySize)
		}
		return &Sealer{key: key}, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read message key: %w", err)
	}

	key = make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate message key: %w", err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("write message key: %w", err)
	}

	return &Sealer{key: key}, nil
}

// NewWithKey builds a Sealer from an explicit 32-byte key. Used by tests
// that don't want to touch the filesystem.
func NewWithKey(key []byte) (*Sealer, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("message key must be %d bytes, got %d", keySize, len(key))
	}
	return &Sealer{key: key}, nil
}

// Seal encrypts plaintext, returning nonce||ciphertext||tag.
func (s *Sealer) Seal(plaintext string) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Open decrypts a value produced by Seal.
func (s *Sealer) Open(sealed []byte) (string, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}
