package chain_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshnode/meshnode/internal/chain"
	"github.com/meshnode/meshnode/internal/envelope"
)

func TestOpen_EmptyDirStartsWithNoTip(t *testing.T) {
	l, err := chain.Open(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "", l.Tip())
}

func TestAppend_AdvancesTip(t *testing.T) {
	l, err := chain.Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, l.Append(envelope.ChainBlock{Hash: "h1", PrevHash: "", Name: "a.txt"}))
	assert.Equal(t, "h1", l.Tip())

	require.NoError(t, l.Append(envelope.ChainBlock{Hash: "h2", PrevHash: "h1", Name: "b.txt"}))
	assert.Equal(t, "h2", l.Tip())
}

func TestList_ReturnsBlocksInAppendOrder(t *testing.T) {
	l, err := chain.Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, l.Append(envelope.ChainBlock{Hash: "h1", Name: "a.txt"}))
	require.NoError(t, l.Append(envelope.ChainBlock{Hash: "h2", PrevHash: "h1", Name: "b.txt"}))

	blocks, err := l.List()
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, "h1", blocks[0].Hash)
	assert.Equal(t, "h2", blocks[1].Hash)
}

func TestAppendIfTip_RejectsStalePrevHash(t *testing.T) {
	l, err := chain.Open(t.TempDir())
	require.NoError(t, err)

	_, err = l.AppendIfTip("not-the-tip", envelope.ChainBlock{Hash: "h1", PrevHash: "not-the-tip"})
	assert.ErrorIs(t, err, chain.ErrTipMismatch)
	assert.Equal(t, "", l.Tip())
}

func TestAppendIfTip_SucceedsWhenPrevHashMatchesTip(t *testing.T) {
	l, err := chain.Open(t.TempDir())
	require.NoError(t, err)

	observed, err := l.AppendIfTip("", envelope.ChainBlock{Hash: "h1", PrevHash: ""})
	require.NoError(t, err)
	assert.Equal(t, "", observed)
	assert.Equal(t, "h1", l.Tip())

	observed, err = l.AppendIfTip("h1", envelope.ChainBlock{Hash: "h2", PrevHash: "h1"})
	require.NoError(t, err)
	assert.Equal(t, "h1", observed)
	assert.Equal(t, "h2", l.Tip())
}

func TestAppendIfTip_ConcurrentCallersWithSameTipOnlyOneWins(t *testing.T) {
	l, err := chain.Open(t.TempDir())
	require.NoError(t, err)

	const n = 16
	var wg sync.WaitGroup
	successes := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		hash := "h" + string(rune('a'+i))
		go func() {
			defer wg.Done()
			if _, err := l.AppendIfTip("", envelope.ChainBlock{Hash: hash, PrevHash: ""}); err == nil {
				successes <- hash
			}
		}()
	}
	wg.Wait()
	close(successes)

	var won []string
	for h := range successes {
		won = append(won, h)
	}
	require.Len(t, won, 1, "exactly one concurrent append from the empty tip should succeed")
	assert.Equal(t, won[0], l.Tip())

	blocks, err := l.List()
	require.NoError(t, err)
	assert.Len(t, blocks, 1)
}

func TestOpen_RecoversTipFromExistingLog(t *testing.T) {
	dir := t.TempDir()

	l, err := chain.Open(dir)
	require.NoError(t, err)
	require.NoError(t, l.Append(envelope.ChainBlock{Hash: "h1", Name: "a.txt"}))
	require.NoError(t, l.Append(envelope.ChainBlock{Hash: "h2", PrevHash: "h1", Name: "b.txt"}))

	reopened, err := chain.Open(dir)
	require.NoError(t, err)
	assert.Equal(t, "h2", reopened.Tip())
}
