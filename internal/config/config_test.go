package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vessel.yaml")
	body := []byte("debug: true\nipban:\n  enabled: true\n  threshold: 5\n  ban_status: 451\n  ttl: 1h\n  trigger_status: [404, 405, 501]\n  key_prefix: 'ipban::'\nlimiter:\n  enabled: true\n  default: 100/hour\n  fail: 5/minute\n  slow: 1/minute\n  medium: 10/minute\n  fast: 50/minute\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Debug {
		t.Error("expected debug true")
	}
	if cfg.IPBan.Threshold != 5 {
		t.Errorf("expected threshold 5, got %d", cfg.IPBan.Threshold)
	}
	if cfg.IPBan.BanStatus != 451 {
		t.Errorf("expected ban_status 451, got %d", cfg.IPBan.BanStatus)
	}
	// Untouched keys keep their defaults.
	if cfg.RequestID.Header != "X-Request-ID" {
		t.Errorf("expected default request id header, got %q", cfg.RequestID.Header)
	}
}

func TestLoadRejectsBadRate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vessel.yaml")
	if err := os.WriteFile(path, []byte("limiter:\n  fail: often\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed rate")
	}
}

func TestValidateDispatchMode(t *testing.T) {
	cfg := Default()
	for _, mode := range []string{"", "default", "subdomain", "urlprefix"} {
		cfg.Errors.DispatchMode = mode
		if err := cfg.Validate(); err != nil {
			t.Errorf("mode %q should validate: %v", mode, err)
		}
	}
	cfg.Errors.DispatchMode = "hostport"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown dispatch mode")
	}
}

func TestParseRate(t *testing.T) {
	tests := []struct {
		in     string
		count  int
		window time.Duration
		ok     bool
	}{
		{"100/minute", 100, time.Minute, true},
		{"1/second", 1, time.Second, true},
		{"5/h", 5, time.Hour, true},
		{"2/day", 2, 24 * time.Hour, true},
		{"0/minute", 0, 0, false},
		{"ten/minute", 0, 0, false},
		{"10/fortnight", 0, 0, false},
		{"10", 0, 0, false},
	}
	for _, tc := range tests {
		count, window, err := ParseRate(tc.in)
		if tc.ok && err != nil {
			t.Errorf("%q: unexpected error %v", tc.in, err)
			continue
		}
		if !tc.ok {
			if err == nil {
				t.Errorf("%q: expected error", tc.in)
			}
			continue
		}
		if count != tc.count || window != tc.window {
			t.Errorf("%q: got (%d, %v), want (%d, %v)", tc.in, count, window, tc.count, tc.window)
		}
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "env-secret")
	cfg, err := LoadOrDefault("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.JWT.SecretKey != "env-secret" {
		t.Errorf("expected env secret, got %q", cfg.JWT.SecretKey)
	}
}
