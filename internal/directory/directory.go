// Package directory implements the Peer Directory (§4.2): the in-memory,
// mutex-guarded set of known peers, periodically re-sealed to disk under
// the File Key so a restarted node recovers its neighbourhood without
// waiting for fresh beacons. Grounded on the teacher's use of RWMutex-
// guarded maps with copy-out snapshot accessors (host/host.go's peer map).
package directory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/meshnode/meshnode/internal/aead"
)

// PeerRecord is one entry in the directory (§3).
type PeerRecord struct {
	NodeID    string    `json:"node_id"`
	Address   string    `json:"address"`
	APIPort   int       `json:"api_port"`
	Hostname  string    `json:"hostname"`
	PubKeyB64 string    `json:"pub_key_b64"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Directory is the concurrency-safe peer table.
type Directory struct {
	mu    sync.RWMutex
	peers map[string]PeerRecord
}

// New returns an empty Directory.
func New() *Directory {
	return &Directory{peers: make(map[string]PeerRecord)}
}

// Upsert inserts or refreshes a peer record, preserving FirstSeen across
// updates and never moving LastSeen backwards (§8: "upsert results in
// last-seen >= prior last-seen for the same node-id"), so a reordered or
// duplicated beacon datagram can't regress a peer's last-seen time.
func (d *Directory) Upsert(rec PeerRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()

	existing, ok := d.peers[rec.NodeID]
	if ok {
		rec.FirstSeen = existing.FirstSeen
		if rec.LastSeen.Before(existing.LastSeen) {
			rec.LastSeen = existing.LastSeen
		}
	} else {
		rec.FirstSeen = rec.LastSeen
	}
	d.peers[rec.NodeID] = rec
}

// Get returns the record for nodeID, if known.
func (d *Directory) Get(nodeID string) (PeerRecord, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.peers[nodeID]
	return rec, ok
}

// List returns a snapshot copy of all known peers.
func (d *Directory) List() []PeerRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]PeerRecord, 0, len(d.peers))
	for _, rec := range d.peers {
		out = append(out, rec)
	}
	return out
}

// Prune drops peers whose LastSeen is older than cutoff and returns how
// many were removed.
func (d *Directory) Prune(cutoff time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for id, rec := range d.peers {
		if rec.LastSeen.Before(cutoff) {
			delete(d.peers, id)
			removed++
		}
	}
	return removed
}

// Merge folds a batch of remote records into the directory, keeping the
// most recent LastSeen for each node, and returns how many entries were
// inserted or updated (§4.2: "merge(snapshot) → count"). Used when a peer
// shares its own directory snapshot over the HTTP surface.
func (d *Directory) Merge(records []PeerRecord) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	count := 0
	for _, rec := range records {
		existing, ok := d.peers[rec.NodeID]
		if !ok {
			d.peers[rec.NodeID] = rec
			count++
			continue
		}
		if rec.LastSeen.After(existing.LastSeen) {
			merged := rec
			merged.FirstSeen = existing.FirstSeen
			if existing.FirstSeen.Before(rec.FirstSeen) {
				merged.FirstSeen = existing.FirstSeen
			}
			d.peers[rec.NodeID] = merged
			count++
		}
	}
	return count
}

// SaveSealed writes a snapshot of the directory to path, sealed under
// fileKey, so it can be restored on the next startup.
func (d *Directory) SaveSealed(path string, fileKey []byte) error {
	snapshot := d.List()
	plain, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	sealed, err := aead.Seal(fileKey, plain)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, sealed, 0o600)
}

// LoadSealed restores a directory snapshot previously written by
// SaveSealed. A missing file is not an error: the directory simply starts
// empty and fills in from beacons.
func LoadSealed(path string, fileKey []byte) (*Directory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, err
	}

	plain, err := aead.Open(fileKey, raw)
	if err != nil {
		return nil, err
	}

	var snapshot []PeerRecord
	if err := json.Unmarshal(plain, &snapshot); err != nil {
		return nil, err
	}

	d := New()
	for _, rec := range snapshot {
		d.peers[rec.NodeID] = rec
	}
	return d, nil
}
