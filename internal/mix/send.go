package mix

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/meshnode/meshnode/internal/aead"
	"github.com/meshnode/meshnode/internal/directory"
	"github.com/meshnode/meshnode/internal/envelope"
)

// Sender originates onion traffic from the loopback surface: selects a
// path, builds the layered packet, and dispatches it to the first hop.
type Sender struct {
	SelfNodeID string
	PathLength int
	TextKey    []byte
	Directory  *directory.Directory
	Transport  RelayTransport
}

// SendText builds a text Final Envelope, seals it under the pre-shared
// text key, and relays it to destNodeID via a selected onion path (§4.6,
// end-to-end scenario 5).
func (s *Sender) SendText(ctx context.Context, destNodeID, text string) (msgID string, err error) {
	cipher, err := aead.Seal(s.TextKey, []byte(text))
	if err != nil {
		return "", fmt.Errorf("mix: seal text: %w", err)
	}

	msgID = envelope.NewMsgID()
	final := envelope.FinalEnvelope{
		Type:       envelope.FinalText,
		SenderID:   s.SelfNodeID,
		ReceiverID: destNodeID,
		MsgID:      msgID,
		DataB64:    envelope.EncodeCipher(cipher),
	}
	finalBytes, err := envelope.MarshalFinalEnvelope(&final)
	if err != nil {
		return "", fmt.Errorf("mix: marshal final envelope: %w", err)
	}

	return msgID, s.dispatch(ctx, destNodeID, msgID, finalBytes)
}

// SendFile builds a file Final Envelope carrying the raw bytes verbatim
// (the mesh does not re-encrypt file payloads beyond the onion layering).
func (s *Sender) SendFile(ctx context.Context, destNodeID, name string, data []byte) (msgID string, err error) {
	msgID = envelope.NewMsgID()
	final := envelope.FinalEnvelope{
		Type:       envelope.FinalFile,
		SenderID:   s.SelfNodeID,
		ReceiverID: destNodeID,
		MsgID:      msgID,
		Name:       name,
		DataB64:    envelope.EncodeCipher(data),
	}
	finalBytes, err := envelope.MarshalFinalEnvelope(&final)
	if err != nil {
		return "", fmt.Errorf("mix: marshal final envelope: %w", err)
	}

	return msgID, s.dispatch(ctx, destNodeID, msgID, finalBytes)
}

func (s *Sender) dispatch(ctx context.Context, destNodeID, msgID string, finalBytes []byte) error {
	peers := s.Directory.List()
	pathLen := s.PathLength
	if pathLen <= 0 {
		pathLen = 4
	}
	records, err := SelectPath(s.SelfNodeID, destNodeID, peers, pathLen)
	if err != nil {
		return err
	}

	hops := make([]Hop, 0, len(records))
	for _, rec := range records {
		pub, err := base64.StdEncoding.DecodeString(rec.PubKeyB64)
		if err != nil || len(pub) != 32 {
			return fmt.Errorf("mix: peer %s has invalid pub key", rec.NodeID)
		}
		var pk [32]byte
		copy(pk[:], pub)
		hops = append(hops, Hop{Addr: rec.Address, PubKey: pk})
	}

	packet, err := Build(hops, msgID, finalBytes)
	if err != nil {
		return err
	}
	wireBytes, err := envelope.MarshalOnionPacket(packet)
	if err != nil {
		return fmt.Errorf("mix: marshal outer packet: %w", err)
	}

	if err := s.Transport.ForwardOnion(ctx, hops[0].Addr, wireBytes); err != nil {
		return ErrBadGateway
	}
	return nil
}
