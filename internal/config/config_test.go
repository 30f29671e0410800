package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Spool.Dir != DefaultSpoolDir {
		t.Fatalf("spool dir: %q", cfg.Spool.Dir)
	}
	if cfg.Relay.Command != "scp" || cfg.Relay.RemoteShell != "ssh" {
		t.Fatalf("relay: %+v", cfg.Relay)
	}
	if cfg.LockPath() != filepath.Join(DefaultSpoolDir, "msgrelay.lock") {
		t.Fatalf("lock path: %q", cfg.LockPath())
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "msgrelay.toml")
	content := `
hostname = "node05"

[spool]
dir = "/srv/spool/relay"
lockfile = "/run/msgrelay.pid"

[relay]
command = "rsync"
args = ["-az", "--timeout=10"]

[watch]
fallback_poll = "30s"

[log]
path = "/var/log/msgrelay.log"
level = "debug"

[server]
enabled = true
listen = "0.0.0.0:9321"

[history]
dsn = "sqlite:///var/lib/msgrelay/history.db"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Hostname != "node05" {
		t.Fatalf("hostname: %q", cfg.Hostname)
	}
	if cfg.Spool.Dir != "/srv/spool/relay" || cfg.LockPath() != "/run/msgrelay.pid" {
		t.Fatalf("spool: %+v", cfg.Spool)
	}
	if cfg.Relay.Command != "rsync" || len(cfg.Relay.Args) != 2 {
		t.Fatalf("relay: %+v", cfg.Relay)
	}
	if cfg.Relay.RemoteShell != "ssh" {
		t.Fatalf("remote shell default not applied: %+v", cfg.Relay)
	}
	if cfg.Watch.FallbackPoll != 30*time.Second {
		t.Fatalf("fallback poll: %v", cfg.Watch.FallbackPoll)
	}
	if cfg.Log.Path != "/var/log/msgrelay.log" || cfg.Log.Level != "debug" {
		t.Fatalf("log: %+v", cfg.Log)
	}
	if !cfg.Server.Enabled || cfg.Server.Listen != "0.0.0.0:9321" {
		t.Fatalf("server: %+v", cfg.Server)
	}
	if cfg.History.DSN == "" {
		t.Fatalf("history: %+v", cfg.History)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLocalHostOverride(t *testing.T) {
	cfg := Default()
	cfg.Hostname = "forced"
	h, err := cfg.LocalHost()
	if err != nil || h != "forced" {
		t.Fatalf("LocalHost: %q %v", h, err)
	}

	cfg.Hostname = ""
	h, err = cfg.LocalHost()
	if err != nil || h == "" {
		t.Fatalf("LocalHost from os: %q %v", h, err)
	}
}
