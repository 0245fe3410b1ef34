// Package node implements the Host facade of §2's control flow:
// composing the Sealed Envelope, Peer Directory, Beacon Transport, Chain
// Log, Replication Engine, Mix Relay Engine, and the two HTTP surfaces
// into a single runnable object. Grounded on the teacher's host/host.go
// Facade-over-Builder pattern, generalized from a single QUIC Node to the
// mesh's beacon/replication/mix/HTTP component set.
package node

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/meshnode/meshnode/internal/beacon"
	"github.com/meshnode/meshnode/internal/chain"
	"github.com/meshnode/meshnode/internal/directory"
	"github.com/meshnode/meshnode/internal/kvstore"
	"github.com/meshnode/meshnode/internal/mix"
	"github.com/meshnode/meshnode/internal/replication"
	"github.com/meshnode/meshnode/internal/vault"
)

const peerSnapshotInterval = 5 * time.Minute

// Host is a complete mesh node instance.
type Host struct {
	selfNodeID string
	baseDir    string
	logger     *zap.Logger

	env       *vault.Envelope
	directory *directory.Directory
	chain     *chain.Log
	cache     *kvstore.Store

	replication *replication.Engine
	commands    *replication.CommandBroadcaster
	relay       *mix.Relay
	sender      *mix.Sender

	emitter  *beacon.Emitter
	receiver *beacon.Receiver

	peerServer     *http.Server
	loopbackServer *http.Server
	peersPath      string
}

// ID returns the node's stable hex-encoded fingerprint.
func (h *Host) ID() string { return h.selfNodeID }

// Directory exposes the live peer directory for callers that need direct
// read access.
func (h *Host) Directory() *directory.Directory { return h.directory }

// Replication exposes the replication engine for CLI-driven origination.
func (h *Host) Replication() *replication.Engine { return h.replication }

// Sender exposes the mix send path for CLI-driven origination.
func (h *Host) Sender() *mix.Sender { return h.sender }

// Start runs every long-lived task of §5: the beacon emitter, the beacon
// receiver, the periodic peer-snapshot saver, and both HTTP acceptors. It
// blocks until ctx is cancelled, then drains each server with a 5-second
// timeout.
func (h *Host) Start(ctx context.Context) error {
	errCh := make(chan error, 4)

	go func() {
		if err := h.emitter.Run(ctx, func(err error) {
			h.logger.Warn("beacon emit failed", zap.Error(err))
		}); err != nil {
			errCh <- err
		}
	}()

	go func() {
		if err := h.receiver.Run(ctx, h.onBeacon); err != nil {
			errCh <- err
		}
	}()

	go h.runSnapshotLoop(ctx)

	go func() {
		h.logger.Info("peer-facing surface listening", zap.String("addr", h.peerServer.Addr))
		if err := h.peerServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	go func() {
		h.logger.Info("loopback surface listening", zap.String("addr", h.loopbackServer.Addr))
		if err := h.loopbackServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		h.shutdown()
		return nil
	case err := <-errCh:
		h.shutdown()
		return err
	}
}

func (h *Host) shutdown() {
	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = h.peerServer.Shutdown(drainCtx)
	_ = h.loopbackServer.Shutdown(drainCtx)
}

func (h *Host) onBeacon(rcv beacon.Received) {
	addr := net.JoinHostPort(rcv.SourceIP.String(), strconv.Itoa(rcv.Beacon.APIPort))
	// LastSeen is the receiver's own clock, not the beacon's self-reported
	// timestamp: reordered or duplicated UDP datagrams (routine on a LAN
	// multicast group) could otherwise carry an older timestamp and move
	// last-seen backwards (§8: "upsert results in last-seen >= prior
	// last-seen").
	h.directory.Upsert(directory.PeerRecord{
		NodeID:    rcv.Beacon.NodeID,
		Address:   addr,
		APIPort:   rcv.Beacon.APIPort,
		Hostname:  rcv.Beacon.Hostname,
		PubKeyB64: rcv.Beacon.PubKeyB64,
		LastSeen:  time.Now(),
	})
}

func (h *Host) runSnapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(peerSnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.directory.SaveSealed(h.peersPath, h.env.FileKey); err != nil {
				h.logger.Warn("peer snapshot save failed", zap.Error(err))
			}
		}
	}
}
