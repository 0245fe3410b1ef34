package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshnode/meshnode/internal/config"
)

func TestLoad_MissingPassphraseFails(t *testing.T) {
	t.Setenv("MESHNODE_PASSPHRASE", "")
	_, err := config.Load("")
	assert.ErrorIs(t, err, config.ErrMissingPassphrase)
}

func TestLoad_AppliesDefaultsWhenNoFileOrEnvOverride(t *testing.T) {
	t.Setenv("MESHNODE_PASSPHRASE", "test-pass")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.PeerBindAddr)
	assert.Equal(t, 8080, cfg.PeerPort)
	assert.Equal(t, "127.0.0.1", cfg.LoopbackBindAddr)
	assert.Equal(t, 8081, cfg.LoopbackPort)
	assert.Equal(t, "239.42.0.1", cfg.MulticastGroup)
	assert.Equal(t, 3*time.Second, cfg.BroadcastInterval)
	assert.Equal(t, 4, cfg.MixPathLength)
	assert.Equal(t, "test-pass", cfg.Passphrase)
}

func TestLoad_EnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("MESHNODE_PASSPHRASE", "test-pass")
	t.Setenv("MESHNODE_PEER_PORT", "9999")
	t.Setenv("MESHNODE_MIX_PATH_LENGTH", "6")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.PeerPort)
	assert.Equal(t, 6, cfg.MixPathLength)
}
