// Package vault implements the Sealed Envelope Store (§4.1): the
// passphrase-sealed on-disk container holding the long-lived Beacon Key
// and File Key. Grounded on the teacher's envelop/crypto.go AEAD pairing,
// generalized from AES-GCM to XChaCha20-Poly1305 and from a raw key to an
// Argon2id-derived one, per the byte-exact layout in spec.md §6.
package vault

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"

	"github.com/meshnode/meshnode/internal/aead"
)

// Magic is the 5-byte tag at the start of a sealed envelope file.
const Magic = "MENV1"

const (
	saltSize = 16
	keySize  = 32
)

// Argon2 parameters. Chosen to be memory-hard but usable on a commodity
// laptop within a few hundred milliseconds; tune per deployment if needed.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
)

// Envelope is the plaintext record sealed inside the vault file: two
// independent 32-byte uniformly random keys (§3).
type Envelope struct {
	BeaconKey []byte
	FileKey   []byte
}

type plainRecord struct {
	BeaconKeyB64 string `json:"beacon_key_b64"`
	FileKeyB64   string `json:"file_key_b64"`
}

var (
	// ErrAlreadyExists is returned by Provision when the target file exists
	// and overwrite was not requested.
	ErrAlreadyExists = errors.New("vault: sealed envelope already exists")
	// ErrBadFormat is returned when the file layout doesn't match §6.
	ErrBadFormat = errors.New("vault: bad sealed envelope format")
	// ErrWrongPassphrase is returned when AEAD authentication fails.
	ErrWrongPassphrase = errors.New("vault: wrong passphrase")
	// ErrCorrupt is returned when the file decodes but its contents are
	// structurally invalid.
	ErrCorrupt = errors.New("vault: corrupt sealed envelope")
)

func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, keySize)
}

// encodeKey/decodeKey use base64url per §6: "plaintext is a two-field
// record serializing the two base64url-encoded 32-byte keys."
func encodeKey(k []byte) string { return base64.RawURLEncoding.EncodeToString(k) }

func decodeKey(s string) ([]byte, error) {
	k, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(k) != keySize {
		return nil, fmt.Errorf("vault: key has wrong length %d", len(k))
	}
	return k, nil
}

// Provision creates a new Sealed Envelope at path, generating fresh
// BeaconKey and FileKey values. If the file already exists and overwrite is
// false, it fails with ErrAlreadyExists; if overwrite is true, the existing
// file is renamed to a ".backup" sibling first.
func Provision(path, passphrase string, overwrite bool) (*Envelope, error) {
	if _, err := os.Stat(path); err == nil {
		if !overwrite {
			return nil, ErrAlreadyExists
		}
		if err := os.Rename(path, path+".backup"); err != nil {
			return nil, fmt.Errorf("vault: backup existing envelope: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("vault: stat %s: %w", path, err)
	}

	beaconKey, err := aead.RandomKey()
	if err != nil {
		return nil, err
	}
	fileKey, err := aead.RandomKey()
	if err != nil {
		return nil, err
	}
	env := &Envelope{BeaconKey: beaconKey, FileKey: fileKey}

	if err := write(path, passphrase, env); err != nil {
		return nil, err
	}
	return env, nil
}

// Open parses the framed layout, derives the KDF key from passphrase+salt,
// authenticates and decrypts.
func Open(path, passphrase string) (*Envelope, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vault: read %s: %w", path, err)
	}

	if len(raw) < len(Magic)+saltSize+aead.NonceSize+4 {
		return nil, ErrBadFormat
	}
	if string(raw[:len(Magic)]) != Magic {
		return nil, ErrBadFormat
	}
	offset := len(Magic)

	salt := raw[offset : offset+saltSize]
	offset += saltSize

	nonce := raw[offset : offset+aead.NonceSize]
	offset += aead.NonceSize

	if offset+4 > len(raw) {
		return nil, ErrBadFormat
	}
	reservedLen := int(raw[offset])<<24 | int(raw[offset+1])<<16 | int(raw[offset+2])<<8 | int(raw[offset+3])
	offset += 4
	if offset+reservedLen > len(raw) {
		return nil, ErrBadFormat
	}
	offset += reservedLen // reserved bytes are skipped, not interpreted today

	ciphertext := raw[offset:]
	sealed := append(append([]byte{}, nonce...), ciphertext...)

	key := deriveKey(passphrase, salt)
	plain, err := aead.Open(key, sealed)
	if err != nil {
		return nil, ErrWrongPassphrase
	}

	var rec plainRecord
	if err := json.Unmarshal(plain, &rec); err != nil {
		return nil, ErrCorrupt
	}

	beaconKey, err := decodeKey(rec.BeaconKeyB64)
	if err != nil {
		return nil, ErrCorrupt
	}
	fileKey, err := decodeKey(rec.FileKeyB64)
	if err != nil {
		return nil, ErrCorrupt
	}

	return &Envelope{BeaconKey: beaconKey, FileKey: fileKey}, nil
}

// Reseal rewrites the sealed envelope file in place under a (possibly new)
// passphrase.
func Reseal(path, passphrase string, env *Envelope) error {
	return write(path, passphrase, env)
}

func write(path, passphrase string, env *Envelope) error {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("vault: read salt: %w", err)
	}

	rec := plainRecord{
		BeaconKeyB64: encodeKey(env.BeaconKey),
		FileKeyB64:   encodeKey(env.FileKey),
	}
	plain, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("vault: marshal plaintext record: %w", err)
	}

	key := deriveKey(passphrase, salt)
	sealed, err := aead.Seal(key, plain)
	if err != nil {
		return fmt.Errorf("vault: seal: %w", err)
	}
	nonce := sealed[:aead.NonceSize]
	ciphertext := sealed[aead.NonceSize:]

	out := make([]byte, 0, len(Magic)+len(salt)+len(nonce)+4+len(ciphertext))
	out = append(out, []byte(Magic)...)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, 0, 0, 0, 0) // reserved-length: no reserved data today
	out = append(out, ciphertext...)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("vault: mkdir: %w", err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("vault: write %s: %w", path, err)
	}
	return nil
}
