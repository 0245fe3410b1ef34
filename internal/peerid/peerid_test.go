package peerid_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshnode/meshnode/internal/peerid"
)

func TestNewKeyPair_DerivesConsistentNodeID(t *testing.T) {
	kp, err := peerid.NewKeyPair()
	require.NoError(t, err)

	assert.False(t, kp.NodeID.IsZero())
	assert.Equal(t, peerid.FromPublicKey(kp.PublicKey[:]), kp.NodeID)
}

func TestFromPrivateKey_RebuildsIdenticalKeyPair(t *testing.T) {
	original, err := peerid.NewKeyPair()
	require.NoError(t, err)

	rebuilt, err := peerid.FromPrivateKey(original.PrivateKey)
	require.NoError(t, err)

	assert.Equal(t, original.PublicKey, rebuilt.PublicKey)
	assert.Equal(t, original.NodeID, rebuilt.NodeID)
}

func TestStringParse_RoundTrip(t *testing.T) {
	kp, err := peerid.NewKeyPair()
	require.NoError(t, err)

	s := kp.NodeID.String()
	parsed, err := peerid.Parse(s)
	require.NoError(t, err)
	assert.True(t, kp.NodeID.Equal(parsed))
}

func TestParse_RejectsWrongLength(t *testing.T) {
	_, err := peerid.Parse("abcd")
	assert.Error(t, err)
}

func TestParse_RejectsNonHex(t *testing.T) {
	_, err := peerid.Parse("not-valid-hex-zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz")
	assert.Error(t, err)
}

func TestSharedSecret_IsSymmetric(t *testing.T) {
	alice, err := peerid.NewKeyPair()
	require.NoError(t, err)
	bob, err := peerid.NewKeyPair()
	require.NoError(t, err)

	secretAB, err := alice.SharedSecret(bob.PublicKey)
	require.NoError(t, err)
	secretBA, err := bob.SharedSecret(alice.PublicKey)
	require.NoError(t, err)

	assert.Equal(t, secretAB, secretBA)
}
