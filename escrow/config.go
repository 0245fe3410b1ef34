package escrow

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config is the Key Escrow Service's own immutable configuration record,
// layered the same way as internal/config (defaults, then environment),
// since the escrow binary is deployed and operated independently of a
// mesh node.
type Config struct {
	ListenAddr string
	DSN        string
	MasterKey  []byte
	Tokens     []string
	TLSCert    string
	TLSKey     string
	PlaintextDev bool
}

// LoadConfig builds a Config from built-in defaults overridden by
// ESCROW_-prefixed environment variables. MasterKey is decoded from
// base64; a missing or non-base64 master key is an error here. Its length
// and all-zero checks happen in NewStore (§4.8, §7).
func LoadConfig() (*Config, error) {
	k := koanf.New(".")
	_ = k.Load(confmap.Provider(map[string]interface{}{
		"listen_addr":   "0.0.0.0:9443",
		"dsn":           "escrow.db",
		"plaintext_dev": false,
	}, "."), nil)

	if err := k.Load(env.Provider("ESCROW_", ".", envKeyMap), nil); err != nil {
		return nil, fmt.Errorf("escrow: load environment: %w", err)
	}

	masterKeyB64 := k.String("master_key_b64")
	if masterKeyB64 == "" {
		return nil, fmt.Errorf("escrow: %w", ErrMissingMasterKey)
	}
	masterKey, err := base64.StdEncoding.DecodeString(masterKeyB64)
	if err != nil {
		return nil, fmt.Errorf("escrow: decode master key: %w", err)
	}

	var tokens []string
	if raw := k.String("tokens"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			t = strings.TrimSpace(t)
			if t != "" {
				tokens = append(tokens, t)
			}
		}
	}

	return &Config{
		ListenAddr:   k.String("listen_addr"),
		DSN:          k.String("dsn"),
		MasterKey:    masterKey,
		Tokens:       tokens,
		TLSCert:      k.String("tls_cert"),
		TLSKey:       k.String("tls_key"),
		PlaintextDev: k.Bool("plaintext_dev"),
	}, nil
}

func envKeyMap(s string) string {
	trimmed := strings.TrimPrefix(s, "ESCROW_")
	return strings.ToLower(trimmed)
}

// ErrMissingMasterKey is returned by LoadConfig when ESCROW_MASTER_KEY_B64
// was not set.
var ErrMissingMasterKey = fmt.Errorf("escrow: ESCROW_MASTER_KEY_B64 not configured")
