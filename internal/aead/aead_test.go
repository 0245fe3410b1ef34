package aead_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshnode/meshnode/internal/aead"
)

func TestSealOpen_RoundTrip(t *testing.T) {
	key, err := aead.RandomKey()
	require.NoError(t, err)

	plaintext := []byte("the quick brown fox")
	sealed, err := aead.Seal(key, plaintext)
	require.NoError(t, err)
	assert.Len(t, sealed, aead.NonceSize+len(plaintext)+16) // Poly1305 tag

	opened, err := aead.Open(key, sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestOpen_RejectsTamperedCiphertext(t *testing.T) {
	key, err := aead.RandomKey()
	require.NoError(t, err)

	sealed, err := aead.Seal(key, []byte("payload"))
	require.NoError(t, err)

	tampered := append([]byte{}, sealed...)
	tampered[len(tampered)-1] ^= 0xFF

	_, err = aead.Open(key, tampered)
	assert.Error(t, err)
}

func TestOpen_RejectsShortCiphertext(t *testing.T) {
	key, err := aead.RandomKey()
	require.NoError(t, err)

	_, err = aead.Open(key, []byte("short"))
	assert.ErrorIs(t, err, aead.ErrShortCiphertext)
}

func TestSeal_NoncesAreUnique(t *testing.T) {
	key, err := aead.RandomKey()
	require.NoError(t, err)

	a, err := aead.Seal(key, []byte("same plaintext"))
	require.NoError(t, err)
	b, err := aead.Seal(key, []byte("same plaintext"))
	require.NoError(t, err)

	assert.NotEqual(t, a[:aead.NonceSize], b[:aead.NonceSize])
}
