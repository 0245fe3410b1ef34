package escrow_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/meshnode/meshnode/escrow"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	return db
}

func testMasterKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}
	return key
}

func newTestStore(t *testing.T) *escrow.Store {
	t.Helper()
	store, err := escrow.NewStore(openTestDB(t), testMasterKey())
	require.NoError(t, err)
	return store
}

func TestNewStore_RejectsWrongLengthMasterKey(t *testing.T) {
	_, err := escrow.NewStore(openTestDB(t), []byte("too-short"))
	assert.Error(t, err)
}

func TestNewStore_RejectsAllZeroMasterKey(t *testing.T) {
	_, err := escrow.NewStore(openTestDB(t), make([]byte, 32))
	assert.Error(t, err)
}

func TestSaveGet_RoundTrip(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Save("hash-1", "node-a", "a2V5LWJhc2U2NA==", "file.txt"))

	keyB64, name, nodeID, err := store.Get("hash-1")
	require.NoError(t, err)
	assert.Equal(t, "a2V5LWJhc2U2NA==", keyB64)
	assert.Equal(t, "file.txt", name)
	assert.Equal(t, "node-a", nodeID)
}

func TestGet_UnknownHashReturnsNotFound(t *testing.T) {
	store := newTestStore(t)

	_, _, _, err := store.Get("unknown-hash")
	assert.ErrorIs(t, err, escrow.ErrNotFound)
}

func TestList_ReturnsOnlyRecordsOwnedByNode(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save("hash-1", "node-a", "key1", "a.txt"))
	require.NoError(t, store.Save("hash-2", "node-b", "key2", "b.txt"))

	results, err := store.List("node-a")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "hash-1", results[0].FileHash)
}

func TestDelete_RemovesOwnedRecord(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save("hash-1", "node-a", "key1", "a.txt"))

	require.NoError(t, store.Delete("hash-1", "node-a"))

	_, _, _, err := store.Get("hash-1")
	assert.ErrorIs(t, err, escrow.ErrNotFound)
}

func TestDelete_MismatchedNodeReturnsNotFoundAndKeepsKey(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save("hash-1", "node-a", "key1", "a.txt"))

	err := store.Delete("hash-1", "node-b")
	assert.ErrorIs(t, err, escrow.ErrNotFound)

	// The key must remain untouched for its actual owner.
	keyB64, _, _, err := store.Get("hash-1")
	require.NoError(t, err)
	assert.Equal(t, "key1", keyB64)
}

func TestDelete_UnknownHashReturnsNotFound(t *testing.T) {
	store := newTestStore(t)
	err := store.Delete("unknown-hash", "node-a")
	assert.ErrorIs(t, err, escrow.ErrNotFound)
}
