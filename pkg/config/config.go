// Package config provides YAML-based configuration loading for pitmesh.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// AppName optional logical name of the bot
	AppName string `mapstructure:"app_name"`

	// Nick is the initial ephemeral identity presented on every channel
	Nick string `mapstructure:"nick"`

	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`

	// Channels lists the message channels to join. The set is fixed for
	// the process lifetime.
	Channels []ChannelConfig `mapstructure:"channels"`

	// Net holds routing-layer tunables
	Net NetConfig `mapstructure:"net"`
}

// ChannelConfig describes one message channel.
type ChannelConfig struct {
	// HostID identifies the transport; it is embedded in signing payloads,
	// so both sides must agree on it exactly.
	HostID string `mapstructure:"hostid"`
	// Kind selects the transport implementation (e.g. mem)
	Kind string `mapstructure:"kind"`
	// Address is a transport-specific endpoint string
	Address string `mapstructure:"address"`
}

// NetConfig holds routing-layer tunables.
type NetConfig struct {
	// WelcomeGraceSec bounds the wait for straggler channels at startup
	WelcomeGraceSec int `mapstructure:"welcome_grace_sec"`
	// PubmsgRatePerSec / PubmsgBurst bound inbound pit traffic per channel
	PubmsgRatePerSec float64 `mapstructure:"pubmsg_rate_per_sec"`
	PubmsgBurst      int     `mapstructure:"pubmsg_burst"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName: "pitmesh-node",
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/pitmesh.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Channels: []ChannelConfig{
			{HostID: "mem:pit", Kind: "mem", Address: "pit"},
		},
		Net: NetConfig{WelcomeGraceSec: 60, PubmsgRatePerSec: 50, PubmsgBurst: 100},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix PITMESH and `.`/`-` are replaced
// with `_`. Example: PITMESH_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PITMESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("nick", cfg.Nick)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("channels", cfg.Channels)
	v.SetDefault("net.welcome_grace_sec", cfg.Net.WelcomeGraceSec)
	v.SetDefault("net.pubmsg_rate_per_sec", cfg.Net.PubmsgRatePerSec)
	v.SetDefault("net.pubmsg_burst", cfg.Net.PubmsgBurst)

	// Choose config file
	if path == "" {
		if envPath := os.Getenv("PITMESH_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search common locations with base name `pitmesh`
		v.SetConfigName("pitmesh")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".pitmesh"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var viperConfigFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &viperConfigFileNotFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	if len(c.Channels) == 0 {
		return errors.New("at least one channel is required")
	}
	seen := map[string]struct{}{}
	for i := range c.Channels {
		c.Channels[i].Kind = strings.ToLower(strings.TrimSpace(c.Channels[i].Kind))
		hostid := strings.TrimSpace(c.Channels[i].HostID)
		if hostid == "" {
			return fmt.Errorf("channel %d: hostid is required", i)
		}
		if _, dup := seen[hostid]; dup {
			return fmt.Errorf("duplicate channel hostid: %q", hostid)
		}
		seen[hostid] = struct{}{}
	}
	if c.Net.WelcomeGraceSec <= 0 {
		c.Net.WelcomeGraceSec = 60
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
