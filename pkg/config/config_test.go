package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "info" || len(cfg.Channels) == 0 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Net.WelcomeGraceSec != 60 {
		t.Fatalf("welcome grace default: %d", cfg.Net.WelcomeGraceSec)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("PITMESH_LOG_LEVEL", "debug")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("env override ignored: %q", cfg.Log.Level)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pitmesh.yaml")
	data := []byte(`
nick: bot1
log:
  level: warn
channels:
  - hostid: "irc.example.net:6697"
    kind: irc
    address: "irc.example.net:6697"
  - hostid: "mem:pit"
    kind: mem
    address: pit
net:
  welcome_grace_sec: 5
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Nick != "bot1" || cfg.Log.Level != "warn" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if len(cfg.Channels) != 2 || cfg.Channels[0].HostID != "irc.example.net:6697" {
		t.Fatalf("channels: %+v", cfg.Channels)
	}
	if cfg.Net.WelcomeGraceSec != 5 {
		t.Fatalf("welcome grace: %d", cfg.Net.WelcomeGraceSec)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "loud"
	if err := cfg.validate(); err == nil {
		t.Fatalf("invalid level should fail validation")
	}

	cfg = Default()
	cfg.Channels = nil
	if err := cfg.validate(); err == nil {
		t.Fatalf("empty channel set should fail validation")
	}

	cfg = Default()
	cfg.Channels = []ChannelConfig{
		{HostID: "mem:pit", Kind: "mem"},
		{HostID: "mem:pit", Kind: "mem"},
	}
	if err := cfg.validate(); err == nil {
		t.Fatalf("duplicate hostid should fail validation")
	}
}
