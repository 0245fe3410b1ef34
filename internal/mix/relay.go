package mix

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/meshnode/meshnode/internal/aead"
	"github.com/meshnode/meshnode/internal/envelope"
	"github.com/meshnode/meshnode/internal/kvstore"
)

const (
	jitterMin = 100 * time.Millisecond
	jitterMax = 600 * time.Millisecond
)

// ErrBadGateway is returned when forwarding to the next hop fails (§4.6,
// step 5).
var ErrBadGateway = fmt.Errorf("mix: bad gateway")

// RelayTransport posts raw onion packet bytes to the next hop's relay
// endpoint.
type RelayTransport interface {
	ForwardOnion(ctx context.Context, addr string, packetBytes []byte) error
}

// Relay handles one hop of incoming onion traffic: peel, check TTL and
// finality, then either store locally (final hop) or forward with jitter
// (intermediate hop).
type Relay struct {
	LocalPriv [32]byte
	Store     *kvstore.Store
	Transport RelayTransport
	// TextKey unseals text-typed Final Envelopes' embedded ciphertext
	// (§4.6 step 4's "pre-shared text key"). internal/node derives it from
	// the File Key with DeriveTextKey.
	TextKey []byte
}

// Handle processes one inbound onion packet. It returns nil on success
// (whether the packet terminated here or was forwarded onward).
func (r *Relay) Handle(ctx context.Context, packetBytes []byte) error {
	peeled, err := Peel(r.LocalPriv, packetBytes)
	if err != nil {
		return err
	}

	if peeled.Layer.Next == "" || peeled.Layer.Meta.Final {
		r.storeFinal(peeled.Layer.Meta.MsgID, peeled.Payload)
		return nil
	}

	if err := jitterSleep(ctx); err != nil {
		return err
	}

	if err := r.Transport.ForwardOnion(ctx, peeled.Layer.Next, peeled.Payload); err != nil {
		return ErrBadGateway
	}
	return nil
}

// storeFinal decodes the innermost payload as a Final Envelope and stores
// its content under the key scheme of §4.6 step 4, degrading to a raw dump
// on parse failure.
func (r *Relay) storeFinal(msgID string, payload []byte) {
	final, err := envelope.UnmarshalFinalEnvelope(payload)
	if err != nil {
		r.Store.Put(fmt.Sprintf("mixmsg-%d", time.Now().UnixNano()), payload)
		return
	}

	switch final.Type {
	case envelope.FinalText:
		cipher, err := envelope.DecodeCipher(final.DataB64)
		if err != nil {
			r.Store.Put(fmt.Sprintf("mixmsg-%s", msgID), payload)
			return
		}
		plain, err := aead.Open(r.TextKey, cipher)
		if err != nil {
			r.Store.Put(fmt.Sprintf("mixmsg-%s", msgID), payload)
			return
		}
		r.Store.Put(fmt.Sprintf("text-%s", msgID), plain)
	case envelope.FinalFile:
		raw, err := envelope.DecodeCipher(final.DataB64)
		if err != nil {
			r.Store.Put(fmt.Sprintf("mixmsg-%s", msgID), payload)
			return
		}
		r.Store.Put(fmt.Sprintf("file-%s-%s", msgID, final.Name), raw)
	default:
		r.Store.Put(fmt.Sprintf("mixmsg-%s", msgID), payload)
	}
}

func jitterSleep(ctx context.Context) error {
	span := jitterMax - jitterMin
	n, err := rand.Int(rand.Reader, big.NewInt(int64(span)))
	if err != nil {
		return fmt.Errorf("mix: read jitter: %w", err)
	}
	d := jitterMin + time.Duration(n.Int64())

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
