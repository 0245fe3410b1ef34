package envelope_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshnode/meshnode/internal/envelope"
)

func TestNewMsgID_ProducesDistinctValues(t *testing.T) {
	a := envelope.NewMsgID()
	b := envelope.NewMsgID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestEncodeDecodeCipher_RoundTrips(t *testing.T) {
	cipher := []byte("nonce-and-ciphertext-bytes")
	encoded := envelope.EncodeCipher(cipher)

	decoded, err := envelope.DecodeCipher(encoded)
	require.NoError(t, err)
	assert.Equal(t, cipher, decoded)
}

func TestDecodeCipher_RejectsInvalidBase64(t *testing.T) {
	_, err := envelope.DecodeCipher("not base64!!!")
	assert.Error(t, err)
}

func TestVerifyHash_AcceptsMatchingDigestAndRejectsMismatch(t *testing.T) {
	cipher := []byte("some ciphertext")
	hash := envelope.HashHex(cipher)

	assert.NoError(t, envelope.VerifyHash(cipher, hash))
	assert.ErrorIs(t, envelope.VerifyHash([]byte("other bytes"), hash), envelope.ErrHashMismatch)
}

func TestReplicationEnvelope_JSONRoundTrip(t *testing.T) {
	env := envelope.ReplicationEnvelope{
		MsgID:       "msg-1",
		OriginID:    "node-a",
		Name:        "file.txt",
		HashHex:     "abc123",
		PrevHash:    "def456",
		CipherB64:   "Y2lwaGVy",
		CreatedUnix: 1700000000,
		Hops:        2,
	}

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded envelope.ReplicationEnvelope
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, env, decoded)
}
