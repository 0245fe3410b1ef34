// Package aead provides the single AEAD convention used everywhere in this
// repository: XChaCha20-Poly1305 with a fresh random 24-byte nonce prepended
// to the ciphertext, no AAD. Every sealed artifact in the spec (sealed
// envelope, peer snapshot, beacons, replication envelopes, escrow rows) uses
// this exact framing, so it lives in one place instead of being
// reimplemented per caller.
package aead

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// NonceSize is the XChaCha20-Poly1305 nonce size in bytes.
const NonceSize = chacha20poly1305.NonceSizeX

// ErrShortCiphertext is returned when a sealed blob is too short to contain
// a nonce.
var ErrShortCiphertext = errors.New("aead: ciphertext shorter than nonce")

// Seal encrypts plaintext under key (must be 32 bytes) and returns
// nonce || ciphertext.
func Seal(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("aead: new cipher: %w", err)
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("aead: read nonce: %w", err)
	}

	out := aead.Seal(nil, nonce, plaintext, nil)
	return append(nonce, out...), nil
}

// Open reverses Seal: sealed must be nonce || ciphertext.
func Open(key, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("aead: new cipher: %w", err)
	}

	if len(sealed) < NonceSize {
		return nil, ErrShortCiphertext
	}

	nonce := sealed[:NonceSize]
	ciphertext := sealed[NonceSize:]

	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("aead: open: %w", err)
	}
	return plain, nil
}

// RandomKey returns a fresh uniformly random 32-byte key.
func RandomKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("aead: read key: %w", err)
	}
	return key, nil
}
