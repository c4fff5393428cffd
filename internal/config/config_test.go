package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Name != defaultName {
		t.Errorf("Name = %q, want %q", cfg.Name, defaultName)
	}
	if cfg.ControlPort != defaultControlPort {
		t.Errorf("ControlPort = %d, want %d", cfg.ControlPort, defaultControlPort)
	}
	if cfg.SSRCOverride != 0 {
		t.Errorf("SSRCOverride = %#x, want 0", cfg.SSRCOverride)
	}
	if len(cfg.AutoConnect) != 0 {
		t.Errorf("AutoConnect = %v, want empty", cfg.AutoConnect)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rtpmidid.conf")
	contents := "# comment line\n" +
		"id = 0a0b0c0d\n" +
		"port = 5004\n" +
		"name = studio\n" +
		"\n" +
		"piano.local:5004\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SSRCOverride != 0x0a0b0c0d {
		t.Errorf("SSRCOverride = %#x, want 0x0a0b0c0d", cfg.SSRCOverride)
	}
	if cfg.ControlPort != 5004 {
		t.Errorf("ControlPort = %d, want 5004", cfg.ControlPort)
	}
	if cfg.Name != "studio" {
		t.Errorf("Name = %q, want studio", cfg.Name)
	}
	if len(cfg.AutoConnect) != 1 || cfg.AutoConnect[0].Host != "piano.local" || cfg.AutoConnect[0].Port != 5004 {
		t.Errorf("AutoConnect = %+v, want one entry piano.local:5004", cfg.AutoConnect)
	}
}

func TestLoadPositionalArgs(t *testing.T) {
	cfg, err := Load("", []string{"10.0.0.5:10008", "viola.local:6000"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.AutoConnect) != 2 {
		t.Fatalf("AutoConnect len = %d, want 2", len(cfg.AutoConnect))
	}
	if cfg.AutoConnect[0].Host != "10.0.0.5" || cfg.AutoConnect[0].Port != 10008 {
		t.Errorf("AutoConnect[0] = %+v", cfg.AutoConnect[0])
	}
	if cfg.AutoConnect[1].Host != "viola.local" || cfg.AutoConnect[1].Port != 6000 {
		t.Errorf("AutoConnect[1] = %+v", cfg.AutoConnect[1])
	}
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rtpmidid.conf")
	if err := os.WriteFile(path, []byte("bogus = value\n"), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	if _, err := Load(path, nil); err == nil {
		t.Fatal("expected error for unrecognized key, got nil")
	}
}

func TestLoadRejectsBadPeerLine(t *testing.T) {
	if _, err := Load("", []string{"no-port-here"}); err == nil {
		t.Fatal("expected error for malformed positional arg, got nil")
	}
}
