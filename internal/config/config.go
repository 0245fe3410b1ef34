// Package config implements the immutable configuration record of §9's
// re-architected "process-wide static configuration" note: a value loaded
// once at startup and passed by value into each engine's constructor,
// rather than a package-level mutable global. Loading is layered
// (defaults, then file, then environment) using koanf, grounded on the
// pobradovic08-route-beacon-ri manifest in the example pack.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the immutable record consumed by internal/node's Builder.
// Every engine receives the subset of fields it needs by value.
type Config struct {
	BaseDir string

	PeerBindAddr     string
	PeerPort         int
	LoopbackBindAddr string
	LoopbackPort     int

	MulticastGroup    string
	MulticastPort     int
	BroadcastInterval time.Duration
	ForcedInterface   string
	SubnetCIDR        string

	MixPathLength int

	EscrowURL   string
	EscrowToken string

	Passphrase string
}

// defaults mirrors the fallback values referenced across §6's external
// interfaces section.
func defaults() *koanf.Koanf {
	k := koanf.New(".")
	_ = k.Load(confmap.Provider(map[string]interface{}{
		"peer_bind_addr":     "0.0.0.0",
		"peer_port":          8080,
		"loopback_bind_addr": "127.0.0.1",
		"loopback_port":      8081,
		"multicast_group":    "239.42.0.1",
		"multicast_port":     9191,
		"broadcast_interval": "3s",
		"mix_path_length":    4,
		"base_dir":           ".",
	}, "."), nil)
	return k
}

// Load builds a Config from, in increasing precedence: built-in defaults,
// an optional YAML file at path (skipped if path is empty; a non-empty
// path that cannot be loaded is an error), and MESHNODE_-prefixed
// environment variables.
func Load(path string) (*Config, error) {
	k := defaults()

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("MESHNODE_", ".", envKeyMap), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	interval, err := time.ParseDuration(k.String("broadcast_interval"))
	if err != nil {
		return nil, fmt.Errorf("config: parse broadcast_interval: %w", err)
	}

	cfg := &Config{
		BaseDir:           k.String("base_dir"),
		PeerBindAddr:      k.String("peer_bind_addr"),
		PeerPort:          k.Int("peer_port"),
		LoopbackBindAddr:  k.String("loopback_bind_addr"),
		LoopbackPort:      k.Int("loopback_port"),
		MulticastGroup:    k.String("multicast_group"),
		MulticastPort:     k.Int("multicast_port"),
		BroadcastInterval: interval,
		ForcedInterface:   k.String("forced_interface"),
		SubnetCIDR:        k.String("subnet_cidr"),
		MixPathLength:     k.Int("mix_path_length"),
		EscrowURL:         k.String("escrow_url"),
		EscrowToken:       k.String("escrow_token"),
		Passphrase:        k.String("passphrase"),
	}

	if cfg.Passphrase == "" {
		return nil, fmt.Errorf("config: %w", ErrMissingPassphrase)
	}

	return cfg, nil
}

func envKeyMap(s string) string {
	trimmed := strings.TrimPrefix(s, "MESHNODE_")
	return strings.ToLower(trimmed)
}
