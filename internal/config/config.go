// Package config loads the daemon's TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"msgrelay/internal/logger"
)

// DefaultSpoolDir is the documented default spool root.
const DefaultSpoolDir = "/var/spool/msgrelay"

// SpoolConfig locates the spool tree and the instance lock.
type SpoolConfig struct {
	Dir      string `toml:"dir" mapstructure:"dir"`
	LockFile string `toml:"lockfile" mapstructure:"lockfile"` // default <dir>/msgrelay.lock
}

// RelayConfig names the external copy transport and the remote shell used
// to rename the transferred entry into place on the peer.
type RelayConfig struct {
	Command     string   `toml:"command" mapstructure:"command"`
	Args        []string `toml:"args" mapstructure:"args"`
	RemoteShell string   `toml:"remote_shell" mapstructure:"remote_shell"`
}

// WatchConfig tunes the queue watch loop.
type WatchConfig struct {
	FallbackPoll time.Duration `toml:"fallback_poll" mapstructure:"fallback_poll"`
}

// ServerConfig controls the optional HTTP status API.
type ServerConfig struct {
	Enabled  bool   `toml:"enabled" mapstructure:"enabled"`
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

// HistoryConfig selects the optional dispatch-outcome export sink.
type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

// Config is the top-level TOML structure.
type Config struct {
	Hostname string        `toml:"hostname" mapstructure:"hostname"` // override for tests/multi-homed hosts
	Spool    SpoolConfig   `toml:"spool" mapstructure:"spool"`
	Relay    RelayConfig   `toml:"relay" mapstructure:"relay"`
	Watch    WatchConfig   `toml:"watch" mapstructure:"watch"`
	Log      logger.Config `toml:"log" mapstructure:"log"`
	Server   ServerConfig  `toml:"server" mapstructure:"server"`
	History  HistoryConfig `toml:"history" mapstructure:"history"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Spool: SpoolConfig{Dir: DefaultSpoolDir},
		Relay: RelayConfig{Command: "scp", Args: []string{"-Bq"}, RemoteShell: "ssh"},
		Server: ServerConfig{
			Listen:   "127.0.0.1:8321",
			BasePath: "/api",
		},
	}
}

// Load reads the TOML file at path over the defaults. An empty path yields
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Spool.Dir == "" {
		cfg.Spool.Dir = DefaultSpoolDir
	}
	if cfg.Relay.Command == "" {
		cfg.Relay.Command = "scp"
	}
	if cfg.Relay.RemoteShell == "" {
		cfg.Relay.RemoteShell = "ssh"
	}
	return cfg, nil
}

// LockPath returns the configured lock file, defaulting into the spool root.
func (c Config) LockPath() string {
	if c.Spool.LockFile != "" {
		return c.Spool.LockFile
	}
	return filepath.Join(c.Spool.Dir, "msgrelay.lock")
}

// LocalHost resolves the hostname local destinations map to.
func (c Config) LocalHost() (string, error) {
	if c.Hostname != "" {
		return c.Hostname, nil
	}
	h, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("resolve local hostname: %w", err)
	}
	return h, nil
}
