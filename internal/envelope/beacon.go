package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/meshnode/meshnode/internal/aead"
)

// BeaconMagic is the 5-byte tag prefixed to every beacon datagram (§6).
const BeaconMagic = "MIXB1"

// Beacon is the plaintext record sealed under the Beacon Key and broadcast
// to the multicast group (§3).
type Beacon struct {
	Type      string `json:"type"`
	NodeID    string `json:"node_id"`
	APIPort   int    `json:"api_port"`
	Hostname  string `json:"hostname"`
	Timestamp int64  `json:"timestamp"`
	PubKeyB64 string `json:"pub_key_b64"`
}

// ErrBadMagic is returned when a datagram's magic tag does not match.
var ErrBadMagic = errors.New("envelope: bad beacon magic")

// SealBeacon encodes and seals a Beacon under key, returning
// magic || nonce || ciphertext per §6's byte-exact layout.
func SealBeacon(key []byte, b *Beacon) ([]byte, error) {
	plain, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal beacon: %w", err)
	}

	sealed, err := aead.Seal(key, plain)
	if err != nil {
		return nil, fmt.Errorf("envelope: seal beacon: %w", err)
	}

	out := make([]byte, 0, len(BeaconMagic)+len(sealed))
	out = append(out, []byte(BeaconMagic)...)
	out = append(out, sealed...)
	return out, nil
}

// OpenBeacon validates the magic tag and AEAD-opens a datagram under key.
// Any failure (short datagram, bad magic, failed decrypt) is reported so
// the receiver can silently drop per §4.3 — the caller decides whether to
// log it.
func OpenBeacon(key []byte, datagram []byte) (*Beacon, error) {
	if len(datagram) < len(BeaconMagic)+aead.NonceSize {
		return nil, errors.New("envelope: beacon datagram too short")
	}
	if !bytes.Equal(datagram[:len(BeaconMagic)], []byte(BeaconMagic)) {
		return nil, ErrBadMagic
	}

	plain, err := aead.Open(key, datagram[len(BeaconMagic):])
	if err != nil {
		return nil, fmt.Errorf("envelope: open beacon: %w", err)
	}

	var b Beacon
	if err := json.Unmarshal(plain, &b); err != nil {
		return nil, fmt.Errorf("envelope: unmarshal beacon: %w", err)
	}
	return &b, nil
}
