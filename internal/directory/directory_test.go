package directory_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshnode/meshnode/internal/aead"
	"github.com/meshnode/meshnode/internal/directory"
)

func TestUpsert_PreservesFirstSeenAcrossUpdates(t *testing.T) {
	d := directory.New()
	first := time.Now().Add(-time.Hour)

	d.Upsert(directory.PeerRecord{NodeID: "n1", Address: "10.0.0.1:9000", FirstSeen: first, LastSeen: first})

	later := time.Now()
	d.Upsert(directory.PeerRecord{NodeID: "n1", Address: "10.0.0.2:9000", LastSeen: later})

	rec, ok := d.Get("n1")
	require.True(t, ok)
	assert.Equal(t, first, rec.FirstSeen)
	assert.Equal(t, "10.0.0.2:9000", rec.Address)
}

func TestUpsert_NeverMovesLastSeenBackwards(t *testing.T) {
	d := directory.New()
	now := time.Now()

	d.Upsert(directory.PeerRecord{NodeID: "n1", Address: "10.0.0.1:9000", LastSeen: now})
	d.Upsert(directory.PeerRecord{NodeID: "n1", Address: "10.0.0.1:9001", LastSeen: now.Add(-time.Minute)})

	rec, ok := d.Get("n1")
	require.True(t, ok)
	assert.Equal(t, now, rec.LastSeen)
	assert.Equal(t, "10.0.0.1:9001", rec.Address) // other fields still refresh
}

func TestPrune_RemovesStaleEntriesOnly(t *testing.T) {
	d := directory.New()
	now := time.Now()
	d.Upsert(directory.PeerRecord{NodeID: "stale", LastSeen: now.Add(-time.Hour)})
	d.Upsert(directory.PeerRecord{NodeID: "fresh", LastSeen: now})

	removed := d.Prune(now.Add(-time.Minute))
	assert.Equal(t, 1, removed)

	_, ok := d.Get("stale")
	assert.False(t, ok)
	_, ok = d.Get("fresh")
	assert.True(t, ok)
}

func TestMerge_CountsInsertsAndNewerUpdatesOnly(t *testing.T) {
	d := directory.New()
	now := time.Now()
	d.Upsert(directory.PeerRecord{NodeID: "n1", LastSeen: now, FirstSeen: now})

	count := d.Merge([]directory.PeerRecord{
		{NodeID: "n1", LastSeen: now.Add(-time.Minute)}, // older, should not count
		{NodeID: "n2", LastSeen: now},                   // new, should count
	})
	assert.Equal(t, 1, count)

	rec, ok := d.Get("n1")
	require.True(t, ok)
	assert.Equal(t, now, rec.LastSeen) // unchanged: merge record was older

	count = d.Merge([]directory.PeerRecord{
		{NodeID: "n1", LastSeen: now.Add(time.Minute)}, // newer, should count
	})
	assert.Equal(t, 1, count)
}

func TestSaveSealedLoadSealed_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.enc")
	key, err := aead.RandomKey()
	require.NoError(t, err)

	d := directory.New()
	d.Upsert(directory.PeerRecord{NodeID: "n1", Address: "10.0.0.1:9000", LastSeen: time.Now()})
	require.NoError(t, d.SaveSealed(path, key))

	loaded, err := directory.LoadSealed(path, key)
	require.NoError(t, err)
	rec, ok := loaded.Get("n1")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1:9000", rec.Address)
}

func TestLoadSealed_MissingFileReturnsEmptyDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.enc")
	key, err := aead.RandomKey()
	require.NoError(t, err)

	loaded, err := directory.LoadSealed(path, key)
	require.NoError(t, err)
	assert.Empty(t, loaded.List())
}
