package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got error: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "advertise port out of range",
			mutate: func(c *Config) { c.Discovery.AdvertisePort = 70000 },
		},
		{
			name:   "empty probe ports",
			mutate: func(c *Config) { c.Discovery.ProbePorts = nil },
		},
		{
			name:   "probe timeout must be > 0",
			mutate: func(c *Config) { c.Discovery.ProbeTimeout = 0 },
		},
		{
			name:   "max in flight must be > 0",
			mutate: func(c *Config) { c.Discovery.MaxInFlight = 0 },
		},
		{
			name:   "pong window must be shorter than ping interval",
			mutate: func(c *Config) { c.Session.PongWindow = c.Session.PingInterval },
		},
		{
			name:   "reconnect max delay below initial",
			mutate: func(c *Config) { c.Session.Reconnect.MaxDelay = 500 * time.Millisecond },
		},
		{
			name:   "reconnect multiplier below 1",
			mutate: func(c *Config) { c.Session.Reconnect.Multiplier = 0.5 },
		},
		{
			name:   "empty call server url",
			mutate: func(c *Config) { c.Calls.ServerURL = "" },
		},
		{
			name:   "ring timeout must be > 0",
			mutate: func(c *Config) { c.Calls.RingTimeout = 0 },
		},
		{
			name:   "rate limiting enabled requires positive rate",
			mutate: func(c *Config) { c.RateLimiting.Enabled = true; c.RateLimiting.RequestsPerSecond = 0 },
		},
		{
			name:   "redis enabled requires address",
			mutate: func(c *Config) { c.Redis.Enabled = true; c.Redis.Address = "" },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error, got nil")
			}
		})
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("expected defaults on missing file, got error: %v", err)
	}
	if cfg.Receiver.Address != ":8080" {
		t.Fatalf("unexpected default receiver address: %s", cfg.Receiver.Address)
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte(`
receiver:
  address: ":9999"
  device_name: "LivingRoom"
session:
  ping_interval: 15s
  pong_window: 5s
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.Receiver.Address != ":9999" {
		t.Errorf("receiver address not overridden: %s", cfg.Receiver.Address)
	}
	if cfg.Receiver.DeviceName != "LivingRoom" {
		t.Errorf("device name not overridden: %s", cfg.Receiver.DeviceName)
	}
	if cfg.Session.PingInterval != 15*time.Second {
		t.Errorf("ping interval not overridden: %v", cfg.Session.PingInterval)
	}
	// Untouched values keep defaults.
	if cfg.Calls.RingTimeout != 30*time.Second {
		t.Errorf("ring timeout default lost: %v", cfg.Calls.RingTimeout)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TVLINK_RECEIVER_ADDRESS", ":7070")
	t.Setenv("TVLINK_LOG_LEVEL", "debug")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.Receiver.Address != ":7070" {
		t.Errorf("env override not applied: %s", cfg.Receiver.Address)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("env override not applied: %s", cfg.Logging.Level)
	}
}
