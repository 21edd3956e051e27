// Package config loads server settings from defaults, an optional yaml file
// and the positional command line `server <tcpPort> <udpPort> <poolSize>`.
// Positional arguments win over the file; the file wins over defaults.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	DefaultTCPPort  = 5000
	DefaultUDPPort  = 6000
	DefaultPoolSize = 8

	// DefaultMaxVoiceBytes bounds the length field of a voice note. A peer
	// announcing a larger body is disconnected.
	DefaultMaxVoiceBytes = 16 << 20
)

type Config struct {
	TCPPort       int    `mapstructure:"tcp_port"`
	UDPPort       int    `mapstructure:"udp_port"`
	PoolSize      int    `mapstructure:"pool_size"`
	HistoryDir    string `mapstructure:"history_dir"`
	MaxVoiceBytes int64  `mapstructure:"max_voice_bytes"`

	// BridgePort exposes the WebSocket bridge for web clients; 0 disables it.
	BridgePort int    `mapstructure:"bridge_port"`
	StaticPath string `mapstructure:"static_path"`
	Mode       string `mapstructure:"mode"`
}

// Load reads configuration and applies args as positional overrides.
// args is the command line after the program name.
func Load(args []string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	v.SetDefault("tcp_port", DefaultTCPPort)
	v.SetDefault("udp_port", DefaultUDPPort)
	v.SetDefault("pool_size", DefaultPoolSize)
	v.SetDefault("history_dir", "history")
	v.SetDefault("max_voice_bytes", DefaultMaxVoiceBytes)
	v.SetDefault("bridge_port", 0)
	v.SetDefault("static_path", "./web")
	v.SetDefault("mode", "release")

	if err := v.ReadInConfig(); err != nil {
		log.Debug().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config file")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.applyArgs(args); err != nil {
		return nil, err
	}
	if cfg.PoolSize < 1 {
		return nil, fmt.Errorf("pool size must be positive, got %d", cfg.PoolSize)
	}
	return &cfg, nil
}

func (c *Config) applyArgs(args []string) error {
	fields := []struct {
		name string
		dst  *int
	}{
		{"tcpPort", &c.TCPPort},
		{"udpPort", &c.UDPPort},
		{"poolSize", &c.PoolSize},
	}
	if len(args) > len(fields) {
		return fmt.Errorf("usage: server <tcpPort> <udpPort> <poolSize>")
	}
	for i, arg := range args {
		n, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", fields[i].name, arg, err)
		}
		*fields[i].dst = n
	}
	return nil
}
