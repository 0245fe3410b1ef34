package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/meshnode/meshnode/internal/envelope"
)

// peerClientTimeout caps outbound fan-out and relay calls per §5 ("HTTP
// clients used for fan-out and escrow calls cap at roughly 10-30 s").
const peerClientTimeout = 20 * time.Second

// PeerClient is the outbound half of the peer-facing surface: it
// implements replication.Transport, replication.CommandTransport, and
// mix.RelayTransport against a plain net/http client, one forward per
// goroutine as the callers already arrange.
type PeerClient struct {
	HTTP *http.Client
}

// NewPeerClient returns a PeerClient with the default fan-out timeout.
func NewPeerClient() *PeerClient {
	return &PeerClient{HTTP: &http.Client{Timeout: peerClientTimeout}}
}

func (c *PeerClient) post(ctx context.Context, addr, path string, body []byte) error {
	url := fmt.Sprintf("http://%s%s", addr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("httpapi: peer %s responded %d", addr, resp.StatusCode)
	}
	return nil
}

// ForwardReplicate implements replication.Transport.
func (c *PeerClient) ForwardReplicate(ctx context.Context, addr string, env envelope.ReplicationEnvelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.post(ctx, addr, "/replicate", body)
}

// ForwardCommand implements replication.CommandTransport.
func (c *PeerClient) ForwardCommand(ctx context.Context, addr string, cmd envelope.SyncCommand) error {
	body, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return c.post(ctx, addr, "/p2p/command", body)
}

// ForwardOnion implements mix.RelayTransport.
func (c *PeerClient) ForwardOnion(ctx context.Context, addr string, packetBytes []byte) error {
	return c.post(ctx, addr, "/mix/relay", packetBytes)
}
