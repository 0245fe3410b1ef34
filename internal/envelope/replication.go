package envelope

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ReplicationEnvelope is the content-addressed record fanned out between
// peers (§3). CipherB64 uses URL-safe base64 without padding per §6.
type ReplicationEnvelope struct {
	MsgID       string `json:"msg_id"`
	OriginID    string `json:"origin_id"`
	Name        string `json:"name"`
	HashHex     string `json:"hash_hex"`
	PrevHash    string `json:"prev_hash"`
	CipherB64   string `json:"cipher_b64"`
	CreatedUnix int64  `json:"created_unix"`
	Hops        int    `json:"hops"`
}

// NewMsgID returns a fresh 128-bit random, URL-safe msg-id.
func NewMsgID() string {
	return uuid.NewString()
}

// EncodeCipher renders nonce||ciphertext as URL-safe base64 without padding.
func EncodeCipher(cipher []byte) string {
	return base64.RawURLEncoding.EncodeToString(cipher)
}

// DecodeCipher reverses EncodeCipher.
func DecodeCipher(s string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("envelope: decode cipher_b64: %w", err)
	}
	return b, nil
}

// HashHex computes the lowercase SHA-256 hex digest of cipher bytes.
func HashHex(cipher []byte) string {
	sum := sha256.Sum256(cipher)
	return hex.EncodeToString(sum[:])
}

// ErrHashMismatch is returned when SHA-256(cipher) disagrees with HashHex.
var ErrHashMismatch = errors.New("envelope: hash mismatch")

// VerifyHash checks the replication integrity invariant of §8: the decoded
// cipher-b64 must hash to hash-hex.
func VerifyHash(cipher []byte, hashHex string) error {
	if HashHex(cipher) != hashHex {
		return ErrHashMismatch
	}
	return nil
}
