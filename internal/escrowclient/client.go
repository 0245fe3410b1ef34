// Package escrowclient is the Replication Engine's outbound half of §4.8's
// Key Escrow protocol: after Originate mints and persists an artifact key
// locally, it also uploads that key to the remote Key Escrow service so it
// can be recovered from a different machine. Grounded on
// internal/httpapi's PeerClient (same bounded-timeout net/http.Client
// convention), generalized from peer-fanout POSTs to a single
// bearer-authenticated remote call.
package escrowclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// clientTimeout caps escrow calls per §5 ("HTTP clients used for fan-out
// and escrow calls cap at roughly 10-30 s").
const clientTimeout = 20 * time.Second

// Client talks to a Key Escrow Service instance over HTTP(S).
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// New returns a Client pointed at baseURL. token may be empty when the
// escrow service runs in open mode.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: clientTimeout},
	}
}

// Record mirrors the Key Escrow Record of §3, minus key material, as
// returned by List.
type Record struct {
	FileHash   string `json:"file_hash"`
	OriginNode string `json:"origin_node_id"`
	FileName   string `json:"file_name"`
	CreatedAt  int64  `json:"created_at"`
}

type saveRequest struct {
	Hash   string `json:"hash"`
	KeyB64 string `json:"key_b64"`
	NodeID string `json:"node_id"`
	Name   string `json:"name"`
}

type getResponse struct {
	KeyB64 string `json:"key_b64"`
	Name   string `json:"name"`
	NodeID string `json:"node_id"`
}

// Save uploads an artifact's symmetric key, keyed by content hash (§4.8
// save). A zero-value Client (empty BaseURL) is treated as "escrow
// disabled" and is a no-op, so nodes can run without a configured escrow
// service.
func (c *Client) Save(ctx context.Context, hash, nodeID, keyB64, name string) error {
	if c == nil || c.BaseURL == "" {
		return nil
	}
	body, err := json.Marshal(saveRequest{Hash: hash, KeyB64: keyB64, NodeID: nodeID, Name: name})
	if err != nil {
		return fmt.Errorf("escrowclient: marshal save request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/keys/save", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("escrowclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("escrowclient: save: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("escrowclient: save responded %d", resp.StatusCode)
	}
	return nil
}

// Get retrieves a previously saved key by content hash (§4.8 get).
func (c *Client) Get(ctx context.Context, hash string) (keyB64, name, nodeID string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/keys/get?hash="+url.QueryEscape(hash), nil)
	if err != nil {
		return "", "", "", fmt.Errorf("escrowclient: build request: %w", err)
	}
	c.authorize(req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", "", "", fmt.Errorf("escrowclient: get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", "", "", ErrNotFound
	}
	if resp.StatusCode >= 300 {
		return "", "", "", fmt.Errorf("escrowclient: get responded %d", resp.StatusCode)
	}

	var out getResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", "", fmt.Errorf("escrowclient: decode response: %w", err)
	}
	return out.KeyB64, out.Name, out.NodeID, nil
}

// List returns every record (without key material) owned by nodeID.
func (c *Client) List(ctx context.Context, nodeID string) ([]Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/keys/list?node_id="+url.QueryEscape(nodeID), nil)
	if err != nil {
		return nil, fmt.Errorf("escrowclient: build request: %w", err)
	}
	c.authorize(req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("escrowclient: list: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("escrowclient: list responded %d", resp.StatusCode)
	}

	var out []Record
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("escrowclient: decode response: %w", err)
	}
	return out, nil
}

// Delete removes a record, but only if nodeID matches the row's origin
// (enforced server-side per §4.8).
func (c *Client) Delete(ctx context.Context, hash, nodeID string) error {
	target := fmt.Sprintf("%s/keys/delete?hash=%s&node_id=%s", c.BaseURL, url.QueryEscape(hash), url.QueryEscape(nodeID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
	if err != nil {
		return fmt.Errorf("escrowclient: build request: %w", err)
	}
	c.authorize(req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("escrowclient: delete: %w", err)
	}
	defer io.Copy(io.Discard, resp.Body)
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("escrowclient: delete responded %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
}

// ErrNotFound is returned by Get when the escrow service has no record
// for the requested hash.
var ErrNotFound = fmt.Errorf("escrowclient: not found")
