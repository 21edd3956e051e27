package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir is a stand-in for t.Chdir, which requires Go 1.24+.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir()) // no config file present

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultTCPPort, cfg.TCPPort)
	assert.Equal(t, DefaultUDPPort, cfg.UDPPort)
	assert.Equal(t, DefaultPoolSize, cfg.PoolSize)
	assert.Equal(t, "history", cfg.HistoryDir)
	assert.EqualValues(t, DefaultMaxVoiceBytes, cfg.MaxVoiceBytes)
	assert.Equal(t, 0, cfg.BridgePort)
}

func TestLoadPositionalOverrides(t *testing.T) {
	chdir(t, t.TempDir())

	t.Run("all three", func(t *testing.T) {
		cfg, err := Load([]string{"7000", "7001", "16"})
		require.NoError(t, err)
		assert.Equal(t, 7000, cfg.TCPPort)
		assert.Equal(t, 7001, cfg.UDPPort)
		assert.Equal(t, 16, cfg.PoolSize)
	})

	t.Run("trailing args take defaults", func(t *testing.T) {
		cfg, err := Load([]string{"7000"})
		require.NoError(t, err)
		assert.Equal(t, 7000, cfg.TCPPort)
		assert.Equal(t, DefaultUDPPort, cfg.UDPPort)
		assert.Equal(t, DefaultPoolSize, cfg.PoolSize)
	})
}

func TestLoadRejectsBadArgs(t *testing.T) {
	chdir(t, t.TempDir())

	t.Run("non-numeric", func(t *testing.T) {
		_, err := Load([]string{"not-a-port"})
		assert.Error(t, err)
	})

	t.Run("too many", func(t *testing.T) {
		_, err := Load([]string{"1", "2", "3", "4"})
		assert.Error(t, err)
	})

	t.Run("zero pool", func(t *testing.T) {
		_, err := Load([]string{"5000", "6000", "0"})
		assert.Error(t, err)
	})
}
