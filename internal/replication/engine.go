// Package replication implements the Replication Engine (§4.5): admit,
// verify, append, and gossip content-addressed envelopes exactly once per
// sender, plus the Sync Command broadcast that reuses the same fanout and
// loop-suppression machinery (§4.7). Grounded on the teacher's
// strategy/strategy_onion.go forwarding idiom for "iterate peers, fire a
// goroutine per forward, log and continue on error", generalized from a
// single onion hop to a full-mesh gossip fanout.
package replication

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/meshnode/meshnode/internal/aead"
	"github.com/meshnode/meshnode/internal/chain"
	"github.com/meshnode/meshnode/internal/directory"
	"github.com/meshnode/meshnode/internal/envelope"
	"github.com/meshnode/meshnode/internal/kvstore"
	"github.com/meshnode/meshnode/internal/seenset"
)

// AdmitStatus is the first-class outcome of admitting an envelope, per
// §9's directive to avoid control-flow-via-exceptions: Seen and
// ChainMismatch are results, not panics.
type AdmitStatus string

const (
	StatusAccepted AdmitStatus = "accepted"
	StatusSeen     AdmitStatus = "seen"
)

// Transport forwards a serialized envelope to a single peer's peer-facing
// /replicate endpoint. Implemented by internal/httpapi's peer client.
type Transport interface {
	ForwardReplicate(ctx context.Context, peerAddr string, env envelope.ReplicationEnvelope) error
}

// EscrowUploader archives a freshly minted artifact key with the Key
// Escrow Service (§4.5: "This artifact key is also uploaded to the Key
// Escrow"). Implemented by internal/escrowclient.Client.
type EscrowUploader interface {
	Save(ctx context.Context, hash, nodeID, keyB64, name string) error
}

// Engine ties the chain log, chunk/key storage, seen-set, and peer
// directory together.
type Engine struct {
	SelfNodeID string
	BaseDir    string

	Chain     *chain.Log
	Cache     *kvstore.Store
	Seen      *seenset.Set
	Directory *directory.Directory
	Transport Transport
	// Escrow is optional: a nil Escrow means the node runs without a
	// configured Key Escrow Service, and Originate simply skips the
	// upload step.
	Escrow EscrowUploader
	// OnEscrowError is invoked (optionally) when an Escrow.Save call
	// fails, so the caller can log it without Originate itself depending
	// on a logger.
	OnEscrowError func(error)
}

// New constructs a Replication Engine. baseDir is the node's persisted
// storage root; chunksDir and keysDir live underneath it per §6.
func New(selfNodeID, baseDir string, chainLog *chain.Log, cache *kvstore.Store, seen *seenset.Set, dir *directory.Directory, transport Transport, escrow EscrowUploader) *Engine {
	return &Engine{
		SelfNodeID: selfNodeID,
		BaseDir:    baseDir,
		Chain:      chainLog,
		Cache:      cache,
		Seen:       seen,
		Directory:  dir,
		Transport:  transport,
		Escrow:     escrow,
	}
}

func (e *Engine) chunksDir() string { return filepath.Join(e.BaseDir, "chunks") }
func (e *Engine) keysDir() string   { return filepath.Join(e.BaseDir, "keys") }

// OriginateResult reports what a local origination produced.
type OriginateResult struct {
	HashHex  string
	StoreKey string
	Fanout   int
}

// Originate mints a fresh artifact key, seals plaintext under it, links a
// new Chain Block, persists the ciphertext and the raw key, and gossips
// the envelope to every known peer (§4.5).
func (e *Engine) Originate(ctx context.Context, name string, plaintext []byte) (*OriginateResult, error) {
	key, err := aead.RandomKey()
	if err != nil {
		return nil, fmt.Errorf("replication: mint artifact key: %w", err)
	}
	cipher, err := aead.Seal(key, plaintext)
	if err != nil {
		return nil, fmt.Errorf("replication: seal artifact: %w", err)
	}

	hashHex := envelope.HashHex(cipher)

	if err := e.persistKeyFile(hashHex, name, key); err != nil {
		return nil, fmt.Errorf("%w: persist key file: %v", ErrInternal, err)
	}
	if err := e.persistChunk(hashHex, cipher); err != nil {
		return nil, fmt.Errorf("%w: persist chunk: %v", ErrInternal, err)
	}
	if e.Escrow != nil {
		keyB64 := base64.StdEncoding.EncodeToString(key)
		// Escrow archival is best-effort: a remote outage must not block
		// local origination, only the later cross-machine recovery path.
		if err := e.Escrow.Save(ctx, hashHex, e.SelfNodeID, keyB64, name); err != nil && e.OnEscrowError != nil {
			e.OnEscrowError(err)
		}
	}

	createdUnix := time.Now().Unix()

	// AppendIfTip makes the tip-read and the append a single locked
	// operation (§5), so a concurrent /replicate admission landing between
	// two separate calls can never fork the chain. A mismatch here just
	// means the tip moved since we last observed it; retry against the new
	// one rather than failing the origination.
	var prevHash string
	for {
		prevHash = e.Chain.Tip()
		block := envelope.ChainBlock{
			Hash:        hashHex,
			PrevHash:    prevHash,
			Name:        name,
			Size:        int64(len(cipher)),
			CreatedUnix: createdUnix,
			OriginID:    e.SelfNodeID,
		}
		_, err := e.Chain.AppendIfTip(prevHash, block)
		if err == nil {
			break
		}
		if errors.Is(err, chain.ErrTipMismatch) {
			continue
		}
		return nil, fmt.Errorf("%w: append block: %v", ErrInternal, err)
	}

	env := envelope.ReplicationEnvelope{
		MsgID:       envelope.NewMsgID(),
		OriginID:    e.SelfNodeID,
		Name:        name,
		HashHex:     hashHex,
		PrevHash:    prevHash,
		CipherB64:   envelope.EncodeCipher(cipher),
		CreatedUnix: createdUnix,
		Hops:        0,
	}
	e.Seen.MarkSeen(env.MsgID)

	storeKey := fmt.Sprintf("blob-%s-%s", hashHex, name)
	e.Cache.Put(storeKey, cipher)

	fanout := e.fanoutToAll(ctx, env, "")

	return &OriginateResult{HashHex: hashHex, StoreKey: storeKey, Fanout: fanout}, nil
}

// Admit runs the peer-to-peer admission pipeline of §4.5. callerAddr
// identifies the peer that POSTed this envelope so it is excluded from
// re-forwarding.
func (e *Engine) Admit(ctx context.Context, env envelope.ReplicationEnvelope, callerAddr string) (AdmitStatus, error) {
	if tip := e.Chain.Tip(); env.PrevHash != tip {
		// An envelope admitted earlier has itself moved the tip past its
		// prev-hash, so a replay of it is a duplicate, not a chain fork.
		if e.Seen.Seen(env.MsgID) {
			return StatusSeen, nil
		}
		return "", &ChainMismatchError{Expected: tip, Got: env.PrevHash}
	}

	if e.Seen.Seen(env.MsgID) {
		return StatusSeen, nil
	}

	cipher, err := envelope.DecodeCipher(env.CipherB64)
	if err != nil {
		return "", fmt.Errorf("replication: decode cipher_b64: %w", err)
	}
	if err := envelope.VerifyHash(cipher, env.HashHex); err != nil {
		return "", err
	}

	block := envelope.ChainBlock{
		Hash:        env.HashHex,
		PrevHash:    env.PrevHash,
		Name:        env.Name,
		Size:        int64(len(cipher)),
		CreatedUnix: env.CreatedUnix,
		OriginID:    env.OriginID,
	}
	// AppendIfTip re-checks prev-hash against the tip under the same lock
	// as the write, closing the race between the fast-path check above and
	// the actual commit: two concurrent Admit calls bearing the same valid
	// prev-hash can no longer both pass and fork the chain (§5, §8).
	observedTip, err := e.Chain.AppendIfTip(env.PrevHash, block)
	if errors.Is(err, chain.ErrTipMismatch) {
		return "", &ChainMismatchError{Expected: observedTip, Got: env.PrevHash}
	}
	if err != nil {
		return "", fmt.Errorf("%w: append block: %v", ErrInternal, err)
	}

	if err := e.persistChunk(env.HashHex, cipher); err != nil {
		return "", fmt.Errorf("%w: persist chunk: %v", ErrInternal, err)
	}
	storeKey := fmt.Sprintf("blob-%s-%s", env.HashHex, env.Name)
	e.Cache.Put(storeKey, cipher)

	e.Seen.MarkSeen(env.MsgID)

	forwarded := env
	forwarded.Hops = env.Hops + 1
	e.fanoutToAll(ctx, forwarded, callerAddr)

	return StatusAccepted, nil
}

// fanoutToAll forwards env to every known peer except self and any peer
// whose host matches exclude's host (the caller's source port is not its
// API port, so only the host identifies it), firing each forward as its
// own goroutine so a slow or dead peer never blocks the others (§5: "each
// peer forward is its own short-lived task").
func (e *Engine) fanoutToAll(ctx context.Context, env envelope.ReplicationEnvelope, exclude string) int {
	excludeHost, _, err := net.SplitHostPort(exclude)
	if err != nil {
		excludeHost = exclude
	}
	peers := e.Directory.List()
	count := 0
	for _, p := range peers {
		peerHost, _, err := net.SplitHostPort(p.Address)
		if err != nil {
			peerHost = p.Address
		}
		if (exclude != "" && peerHost == excludeHost) || p.NodeID == e.SelfNodeID {
			continue
		}
		count++
		addr := p.Address
		go func() {
			fctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = e.Transport.ForwardReplicate(fctx, addr, env)
		}()
		_ = ctx
	}
	return count
}

func (e *Engine) persistChunk(hashHex string, cipher []byte) error {
	if err := os.MkdirAll(e.chunksDir(), 0o700); err != nil {
		return err
	}
	path := filepath.Join(e.chunksDir(), hashHex+".bin")
	return os.WriteFile(path, cipher, 0o600)
}

func (e *Engine) persistKeyFile(hashHex, name string, key []byte) error {
	if err := os.MkdirAll(e.keysDir(), 0o700); err != nil {
		return err
	}
	short := hashHex
	if len(short) > 16 {
		short = short[:16]
	}
	ext := filepath.Ext(name)
	path := filepath.Join(e.keysDir(), short+ext+".fkey")
	return os.WriteFile(path, key, 0o600)
}

// Decrypt implements the local-only decryption path of §4.5: locate the
// chunk by hash, resolve the key (either explicitly supplied or the
// locally stashed key file), open the AEAD, and optionally write
// plaintext to a named sibling.
func (e *Engine) Decrypt(hashHex string, name string, keyB64 *string) ([]byte, error) {
	chunkPath := filepath.Join(e.chunksDir(), hashHex+".bin")
	cipher, err := os.ReadFile(chunkPath)
	if err != nil {
		return nil, fmt.Errorf("replication: read chunk: %w", err)
	}

	var key []byte
	if keyB64 != nil && *keyB64 != "" {
		key, err = decodeKeyB64(*keyB64)
		if err != nil {
			return nil, fmt.Errorf("replication: decode key_b64: %w", err)
		}
	} else {
		short := hashHex
		if len(short) > 16 {
			short = short[:16]
		}
		ext := filepath.Ext(name)
		path := filepath.Join(e.keysDir(), short+ext+".fkey")
		key, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("replication: read key file: %w", err)
		}
	}

	plain, err := aead.Open(key, cipher)
	if err != nil {
		return nil, fmt.Errorf("replication: open artifact: %w", err)
	}
	return plain, nil
}

func decodeKeyB64(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("replication: key must be 32 bytes, got %d", len(b))
	}
	return b, nil
}
