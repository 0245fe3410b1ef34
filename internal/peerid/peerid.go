// Package peerid implements node identity: a stable fingerprint derived
// from an X25519 public key, used both as the directory lookup key (§3
// Peer Record "node-id") and as the distance metric input for mix relay
// path selection (§4.6).
package peerid

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// Length is the fixed byte length of a NodeID (sha256 digest).
const Length = 32

// NodeID is a node's stable cryptographic fingerprint: sha256(pubkey),
// rendered as lowercase hex wherever it crosses the wire or disk.
type NodeID [Length]byte

// String renders the NodeID as lowercase hex.
func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the all-zero value.
func (id NodeID) IsZero() bool {
	return id == NodeID{}
}

// Equal reports whether two NodeIDs are identical.
func (id NodeID) Equal(other NodeID) bool {
	return id == other
}

// Parse decodes a hex-encoded NodeID string.
func Parse(s string) (NodeID, error) {
	var id NodeID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("peerid: decode hex: %w", err)
	}
	if len(b) != Length {
		return id, errors.New("peerid: decoded node-id must be 32 bytes")
	}
	copy(id[:], b)
	return id, nil
}

// FromPublicKey derives a NodeID from a 32-byte X25519 public key.
func FromPublicKey(pub []byte) NodeID {
	sum := sha256.Sum256(pub)
	var id NodeID
	copy(id[:], sum[:Length])
	return id
}

// KeyPair is a node's X25519 identity: the private scalar is used to derive
// per-hop onion shared secrets (§4.6); the public key is what peers store
// in their Peer Record and what mix path selection reasons about.
type KeyPair struct {
	PublicKey  [32]byte
	PrivateKey [32]byte
	NodeID     NodeID
}

// NewKeyPair generates a fresh X25519 key pair and its derived NodeID.
func NewKeyPair() (*KeyPair, error) {
	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, fmt.Errorf("peerid: read private scalar: %w", err)
	}

	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("peerid: derive public point: %w", err)
	}

	kp := &KeyPair{PrivateKey: priv}
	copy(kp.PublicKey[:], pub)
	kp.NodeID = FromPublicKey(kp.PublicKey[:])
	return kp, nil
}

// FromPrivateKey rebuilds a KeyPair from a previously generated private
// scalar, re-deriving the public key and NodeID. Used to restore a node's
// identity from its sealed on-disk copy.
func FromPrivateKey(priv [32]byte) (*KeyPair, error) {
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("peerid: derive public point: %w", err)
	}
	kp := &KeyPair{PrivateKey: priv}
	copy(kp.PublicKey[:], pub)
	kp.NodeID = FromPublicKey(kp.PublicKey[:])
	return kp, nil
}

// SharedSecret computes the X25519 ECDH shared secret against a peer's
// public key.
func (kp *KeyPair) SharedSecret(peerPub [32]byte) ([]byte, error) {
	shared, err := curve25519.X25519(kp.PrivateKey[:], peerPub[:])
	if err != nil {
		return nil, fmt.Errorf("peerid: compute shared secret: %w", err)
	}
	return shared, nil
}
