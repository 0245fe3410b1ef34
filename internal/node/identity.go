package node

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/meshnode/meshnode/internal/aead"
	"github.com/meshnode/meshnode/internal/peerid"
)

const identityFileName = "identity.enc"

var errCorruptIdentity = errors.New("node: corrupt identity file")

// loadOrCreateIdentity recovers the node's persistent X25519 key pair,
// sealed under the File Key, or mints a fresh one on first run. The
// identity is distinct from the Sealed Envelope's BeaconKey/FileKey pair:
// it is the node's own long-lived cryptographic fingerprint, not a shared
// mesh secret.
func loadOrCreateIdentity(baseDir string, fileKey []byte) (*peerid.KeyPair, error) {
	path := filepath.Join(baseDir, identityFileName)

	raw, err := os.ReadFile(path)
	if err == nil {
		plain, err := aead.Open(fileKey, raw)
		if err != nil {
			return nil, err
		}
		if len(plain) != 32 {
			return nil, errCorruptIdentity
		}
		var priv [32]byte
		copy(priv[:], plain)
		return peerid.FromPrivateKey(priv)
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	kp, err := peerid.NewKeyPair()
	if err != nil {
		return nil, err
	}

	sealed, err := aead.Seal(fileKey, kp.PrivateKey[:])
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, sealed, 0o600); err != nil {
		return nil, err
	}
	return kp, nil
}
