// Package mix implements the Mix Relay Engine (§4.6): XOR-distance path
// selection, layered onion build/peel with per-hop X25519 ECDH, and
// jittered relay forwarding. Path selection and the onion wrap/unwrap
// recursion are grounded on the teacher's router/Kademlia.go (xorDistance,
// candidate sort) and strategy/strategy_onion.go (reverse-iteration wrap),
// reworked from a raw 32-byte PeerID type to hex node-id strings and from
// "closest" to the spec's "descending distance" selection rule.
package mix

import (
	"encoding/hex"
	"sort"

	"github.com/meshnode/meshnode/internal/directory"
)

// ErrUnknownDestination is returned when the destination node-id is not a
// known peer with a published public key.
type ErrUnknownDestination struct {
	NodeID string
}

func (e *ErrUnknownDestination) Error() string {
	return "mix: unknown destination " + e.NodeID
}

// candidate pairs a peer record with its XOR distance from self, mirroring
// the teacher's router.candidate.
type candidate struct {
	peer     directory.PeerRecord
	distance []byte
}

// xorDistance XORs two equal-length hex-decoded node-ids, left-padding the
// shorter one with zero bytes first (§4.6).
func xorDistance(a, b []byte) []byte {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	ap := leftPad(a, n)
	bp := leftPad(b, n)
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = ap[i] ^ bp[i]
	}
	return out
}

func leftPad(b []byte, n int) []byte {
	if len(b) >= n {
		return b
	}
	out := make([]byte, n)
	copy(out[n-len(b):], b)
	return out
}

// greater reports whether distance d1 is numerically greater than d2 when
// compared as big-endian integers.
func greater(d1, d2 []byte) bool {
	n := len(d1)
	if len(d2) > n {
		n = len(d2)
	}
	d1p, d2p := leftPad(d1, n), leftPad(d2, n)
	for i := 0; i < n; i++ {
		if d1p[i] != d2p[i] {
			return d1p[i] > d2p[i]
		}
	}
	return false
}

// SelectPath implements §4.6's path selection: the destination must be a
// known peer with a published pub-key; intermediaries are the top-(L-1)
// *remaining* peers by descending XOR distance from self, excluding self
// and the destination; the destination is appended last.
func SelectPath(selfNodeID, destNodeID string, peers []directory.PeerRecord, maxLen int) ([]directory.PeerRecord, error) {
	selfBytes, err := hex.DecodeString(selfNodeID)
	if err != nil {
		return nil, err
	}

	var dest *directory.PeerRecord
	remaining := make([]directory.PeerRecord, 0, len(peers))
	for _, p := range peers {
		if p.NodeID == destNodeID {
			pp := p
			dest = &pp
			continue
		}
		if p.NodeID == selfNodeID {
			continue
		}
		remaining = append(remaining, p)
	}
	if dest == nil || dest.PubKeyB64 == "" {
		return nil, &ErrUnknownDestination{NodeID: destNodeID}
	}

	cands := make([]candidate, 0, len(remaining))
	for _, p := range remaining {
		idBytes, err := hex.DecodeString(p.NodeID)
		if err != nil {
			continue
		}
		cands = append(cands, candidate{peer: p, distance: xorDistance(selfBytes, idBytes)})
	}

	sort.Slice(cands, func(i, j int) bool {
		return greater(cands[i].distance, cands[j].distance)
	})

	take := maxLen - 1
	if take < 0 {
		take = 0
	}
	if take > len(cands) {
		take = len(cands)
	}

	path := make([]directory.PeerRecord, 0, take+1)
	for i := 0; i < take; i++ {
		path = append(path, cands[i].peer)
	}
	path = append(path, *dest)
	return path, nil
}
