// Package crypto seals clipboard history before it is written to disk.
//
// A 32-byte symmetric key is derived from the sync token using HKDF-SHA256.
// Every value is encrypted with NaCl secretbox and a random 24-byte nonce
// prepended to the ciphertext:
//
//	[ 24-byte nonce ][ ciphertext ]
//
// The same token also yields a stable, non-reversible storage key so the
// token itself never appears in the database.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

var (
	sealInfo = []byte("corridor-history-v1")
	idInfo   = []byte("corridor-store-key-v1")
)

// ErrDecrypt is returned when a sealed value cannot be opened, usually
// because it was written under a different token.
var ErrDecrypt = errors.New("decryption failed (wrong token?)")

// DeriveKey derives a 32-byte NaCl secretbox key from a token string using
// HKDF-SHA256.
func DeriveKey(token string) (*[keySize]byte, error) {
	h := hkdf.New(sha256.New, []byte(token), nil, sealInfo)
	var key [keySize]byte
	if _, err := io.ReadFull(h, key[:]); err != nil {
		return nil, fmt.Errorf("key derivation: %w", err)
	}
	return &key, nil
}

// StoreKey returns a hex identifier for token suitable as a storage key.
func StoreKey(token string) string {
	h := hkdf.New(sha256.New, []byte(token), nil, idInfo)
	buf := make([]byte, 16)
	_, _ = io.ReadFull(h, buf)
	return hex.EncodeToString(buf)
}

// Seal encrypts plaintext with key, prepending a random nonce.
func Seal(plaintext []byte, key *[keySize]byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("nonce generation: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, key), nil
}

// Open decrypts ciphertext (nonce+ciphertext) with key.
func Open(ciphertext []byte, key *[keySize]byte) ([]byte, error) {
	if len(ciphertext) < nonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])
	plain, ok := secretbox.Open(nil, ciphertext[nonceSize:], &nonce, key)
	if !ok {
		return nil, ErrDecrypt
	}
	return plain, nil
}

// Sealer binds a derived key for repeated use.
type Sealer struct {
	key *[keySize]byte
}

// NewSealer derives the history key for token.
func NewSealer(token string) (*Sealer, error) {
	key, err := DeriveKey(token)
	if err != nil {
		return nil, err
	}
	return &Sealer{key: key}, nil
}

func (s *Sealer) Seal(plaintext []byte) ([]byte, error) { return Seal(plaintext, s.key) }
func (s *Sealer) Open(ciphertext []byte) ([]byte, error) { return Open(ciphertext, s.key) }
