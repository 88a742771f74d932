package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CARDKIT_HOST", "")
	t.Setenv("CARDKIT_PORT", "")

	cfg := Load()
	if cfg.Address() != "127.0.0.1:32145" {
		t.Fatalf("Address() = %q, want 127.0.0.1:32145", cfg.Address())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CARDKIT_HOST", "0.0.0.0")
	t.Setenv("CARDKIT_PORT", "9000")

	cfg := Load()
	if cfg.Address() != "0.0.0.0:9000" {
		t.Fatalf("Address() = %q, want 0.0.0.0:9000", cfg.Address())
	}
}
