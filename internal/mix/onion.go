package mix

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/curve25519"

	"github.com/meshnode/meshnode/internal/aead"
	"github.com/meshnode/meshnode/internal/envelope"
)

// ErrForbidden is returned when a hop cannot authenticate an incoming
// onion layer under its own private key (§4.6, step 2).
var ErrForbidden = fmt.Errorf("mix: forbidden")

// ErrTTLExpired is returned when an onion layer's TTL reaches zero before
// the final hop (§4.6, step 3).
var ErrTTLExpired = fmt.Errorf("mix: ttl expired")

const defaultTTL = 16

// hopKey derives the per-hop AEAD key as SHA-256 of the X25519 shared
// secret, per §4.6.
func hopKey(localPriv [32]byte, peerPub [32]byte) ([]byte, error) {
	shared, err := curve25519.X25519(localPriv[:], peerPub[:])
	if err != nil {
		return nil, fmt.Errorf("mix: x25519: %w", err)
	}
	sum := sha256.Sum256(shared)
	return sum[:], nil
}

// Build wraps inner (the Final Envelope bytes) in one onion layer per hop
// in path, reverse-iterating from the destination back to the first hop
// (§4.6). path[i].Addr is used for the "next" field of layer i-1; the
// returned packet is addressed to path[0].
func Build(path []Hop, msgID string, inner []byte) (*envelope.OnionPacket, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("mix: empty path")
	}

	payload := inner
	var packet *envelope.OnionPacket

	for i := len(path) - 1; i >= 0; i-- {
		hop := path[i]

		final := i == len(path)-1
		next := ""
		if !final {
			next = path[i+1].Addr
		}

		layer := envelope.OnionLayer{
			Next:       next,
			PayloadB64: base64.StdEncoding.EncodeToString(payload),
			Meta: envelope.OnionMeta{
				Final: final,
				MsgID: msgID,
				TTL:   defaultTTL,
			},
		}
		layerBytes, err := envelope.MarshalOnionLayer(&layer)
		if err != nil {
			return nil, fmt.Errorf("mix: marshal layer %d: %w", i, err)
		}

		var ephemeralPriv, ephemeralPub [32]byte
		if _, err := rand.Read(ephemeralPriv[:]); err != nil {
			return nil, fmt.Errorf("mix: read ephemeral scalar: %w", err)
		}
		pub, err := curve25519.X25519(ephemeralPriv[:], curve25519.Basepoint)
		if err != nil {
			return nil, fmt.Errorf("mix: derive ephemeral pub: %w", err)
		}
		copy(ephemeralPub[:], pub)

		key, err := hopKey(ephemeralPriv, hop.PubKey)
		if err != nil {
			return nil, err
		}

		sealed, err := aead.Seal(key, layerBytes)
		if err != nil {
			return nil, fmt.Errorf("mix: seal layer %d: %w", i, err)
		}

		packet = &envelope.OnionPacket{
			EphemeralPub: base64.StdEncoding.EncodeToString(ephemeralPub[:]),
			Ciphertext:   base64.StdEncoding.EncodeToString(sealed),
		}
		wireBytes, err := envelope.MarshalOnionPacket(packet)
		if err != nil {
			return nil, fmt.Errorf("mix: marshal packet %d: %w", i, err)
		}
		payload = wireBytes
	}

	return packet, nil
}

// Hop is one path entry carrying the addressing and crypto material Build
// needs.
type Hop struct {
	Addr   string
	PubKey [32]byte
}

// PeeledLayer is the result of successfully authenticating and parsing one
// hop's onion layer.
type PeeledLayer struct {
	Layer   envelope.OnionLayer
	Payload []byte
}

// Peel authenticates and decodes one incoming onion packet at a relay,
// using the local node's X25519 private key (§4.6, steps 1-3).
func Peel(localPriv [32]byte, packetBytes []byte) (*PeeledLayer, error) {
	packet, err := envelope.UnmarshalOnionPacket(packetBytes)
	if err != nil {
		return nil, fmt.Errorf("mix: unmarshal packet: %w", err)
	}

	ephemeralPub, err := base64.StdEncoding.DecodeString(packet.EphemeralPub)
	if err != nil || len(ephemeralPub) != 32 {
		return nil, ErrForbidden
	}
	var peerPub [32]byte
	copy(peerPub[:], ephemeralPub)

	key, err := hopKey(localPriv, peerPub)
	if err != nil {
		return nil, ErrForbidden
	}

	sealed, err := base64.StdEncoding.DecodeString(packet.Ciphertext)
	if err != nil {
		return nil, ErrForbidden
	}

	plain, err := aead.Open(key, sealed)
	if err != nil {
		return nil, ErrForbidden
	}

	layer, err := envelope.UnmarshalOnionLayer(plain)
	if err != nil {
		return nil, ErrForbidden
	}
	if layer.Meta.TTL <= 0 {
		return nil, ErrTTLExpired
	}
	layer.Meta.TTL--

	payload, err := base64.StdEncoding.DecodeString(layer.PayloadB64)
	if err != nil {
		return nil, ErrForbidden
	}

	return &PeeledLayer{Layer: *layer, Payload: payload}, nil
}
