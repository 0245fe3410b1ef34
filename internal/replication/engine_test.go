package replication_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshnode/meshnode/internal/chain"
	"github.com/meshnode/meshnode/internal/directory"
	"github.com/meshnode/meshnode/internal/envelope"
	"github.com/meshnode/meshnode/internal/kvstore"
	"github.com/meshnode/meshnode/internal/replication"
	"github.com/meshnode/meshnode/internal/seenset"
)

type fakeTransport struct {
	mu  sync.Mutex
	got []string
}

func (f *fakeTransport) ForwardReplicate(ctx context.Context, peerAddr string, env envelope.ReplicationEnvelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, peerAddr)
	return nil
}

func (f *fakeTransport) addrs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.got...)
}

type fakeEscrow struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeEscrow) Save(ctx context.Context, hash, nodeID, keyB64, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func newTestEngine(t *testing.T, transport replication.Transport, escrow replication.EscrowUploader) *replication.Engine {
	t.Helper()
	dir := t.TempDir()
	chainLog, err := chain.Open(dir)
	require.NoError(t, err)
	return replication.New("self-node", dir, chainLog, kvstore.New(), seenset.New(100), directory.New(), transport, escrow)
}

func TestOriginate_AdvancesChainAndFansOutToPeers(t *testing.T) {
	transport := &fakeTransport{}
	eng := newTestEngine(t, transport, nil)
	eng.Directory.Upsert(directory.PeerRecord{NodeID: "peer-1", Address: "10.0.0.2:9000"})
	eng.Directory.Upsert(directory.PeerRecord{NodeID: "self-node", Address: "10.0.0.1:9000"})

	result, err := eng.Originate(context.Background(), "file.txt", []byte("plaintext contents"))
	require.NoError(t, err)
	assert.NotEmpty(t, result.HashHex)
	assert.Equal(t, 1, result.Fanout) // self excluded

	assert.Equal(t, result.HashHex, eng.Chain.Tip())
}

func TestOriginate_UploadsKeyToEscrowWhenConfigured(t *testing.T) {
	escrow := &fakeEscrow{}
	eng := newTestEngine(t, &fakeTransport{}, escrow)

	_, err := eng.Originate(context.Background(), "file.txt", []byte("plaintext"))
	require.NoError(t, err)

	escrow.mu.Lock()
	defer escrow.mu.Unlock()
	assert.Equal(t, 1, escrow.calls)
}

func TestOriginate_EscrowFailureDoesNotBlockOrigination(t *testing.T) {
	escrow := &fakeEscrow{err: assert.AnError}
	eng := newTestEngine(t, &fakeTransport{}, escrow)

	var gotErr error
	eng.OnEscrowError = func(err error) { gotErr = err }

	result, err := eng.Originate(context.Background(), "file.txt", []byte("plaintext"))
	require.NoError(t, err)
	assert.NotEmpty(t, result.HashHex)
	assert.ErrorIs(t, gotErr, assert.AnError)
}

func TestAdmit_AcceptsMatchingPrevHash(t *testing.T) {
	eng := newTestEngine(t, &fakeTransport{}, nil)

	cipher := []byte("sealed-bytes")
	env := envelope.ReplicationEnvelope{
		MsgID:     envelope.NewMsgID(),
		OriginID:  "peer-1",
		Name:      "file.txt",
		HashHex:   envelope.HashHex(cipher),
		PrevHash:  "",
		CipherB64: envelope.EncodeCipher(cipher),
	}

	status, err := eng.Admit(context.Background(), env, "10.0.0.2:9000")
	require.NoError(t, err)
	assert.Equal(t, replication.StatusAccepted, status)
	assert.Equal(t, env.HashHex, eng.Chain.Tip())
}

func TestAdmit_RejectsChainMismatch(t *testing.T) {
	eng := newTestEngine(t, &fakeTransport{}, nil)

	cipher := []byte("sealed-bytes")
	env := envelope.ReplicationEnvelope{
		MsgID:     envelope.NewMsgID(),
		HashHex:   envelope.HashHex(cipher),
		PrevHash:  "not-the-current-tip",
		CipherB64: envelope.EncodeCipher(cipher),
	}

	_, err := eng.Admit(context.Background(), env, "10.0.0.2:9000")
	var mismatch *replication.ChainMismatchError
	assert.ErrorAs(t, err, &mismatch)
}

func TestAdmit_RejectsHashMismatch(t *testing.T) {
	eng := newTestEngine(t, &fakeTransport{}, nil)

	cipher := []byte("sealed-bytes")
	env := envelope.ReplicationEnvelope{
		MsgID:     envelope.NewMsgID(),
		HashHex:   envelope.HashHex([]byte("different-bytes")),
		PrevHash:  "",
		CipherB64: envelope.EncodeCipher(cipher),
	}

	_, err := eng.Admit(context.Background(), env, "10.0.0.2:9000")
	assert.ErrorIs(t, err, envelope.ErrHashMismatch)
}

func TestAdmit_DuplicateMsgIDIsIdempotentlySeen(t *testing.T) {
	eng := newTestEngine(t, &fakeTransport{}, nil)

	cipher := []byte("sealed-bytes")
	env := envelope.ReplicationEnvelope{
		MsgID:     envelope.NewMsgID(),
		HashHex:   envelope.HashHex(cipher),
		PrevHash:  "",
		CipherB64: envelope.EncodeCipher(cipher),
	}

	status, err := eng.Admit(context.Background(), env, "10.0.0.2:9000")
	require.NoError(t, err)
	assert.Equal(t, replication.StatusAccepted, status)

	// Replaying with the same msg_id must be recognized as already seen,
	// not re-appended to the chain or re-forwarded (loop suppression).
	status, err = eng.Admit(context.Background(), env, "10.0.0.2:9000")
	require.NoError(t, err)
	assert.Equal(t, replication.StatusSeen, status)
}

func TestAdmit_FansOutToPeersExcludingCaller(t *testing.T) {
	transport := &fakeTransport{}
	eng := newTestEngine(t, transport, nil)
	eng.Directory.Upsert(directory.PeerRecord{NodeID: "caller", Address: "10.0.0.2:9000"})
	eng.Directory.Upsert(directory.PeerRecord{NodeID: "other", Address: "10.0.0.3:9000"})

	cipher := []byte("sealed-bytes")
	env := envelope.ReplicationEnvelope{
		MsgID:     envelope.NewMsgID(),
		HashHex:   envelope.HashHex(cipher),
		PrevHash:  "",
		CipherB64: envelope.EncodeCipher(cipher),
	}

	_, err := eng.Admit(context.Background(), env, "10.0.0.2:9000")
	require.NoError(t, err)

	// Forwarding happens on its own goroutine per peer (§5); wait for it.
	assert.Eventually(t, func() bool {
		return len(transport.addrs()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"10.0.0.3:9000"}, transport.addrs())
}

func TestDecrypt_RecoversOriginalPlaintext(t *testing.T) {
	eng := newTestEngine(t, &fakeTransport{}, nil)

	plaintext := []byte("secret contents")
	result, err := eng.Originate(context.Background(), "file.txt", plaintext)
	require.NoError(t, err)

	recovered, err := eng.Decrypt(result.HashHex, "file.txt", nil)
	require.NoError(t, err)
	assert.Equal(t, plaintext, recovered)
}
