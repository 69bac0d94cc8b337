package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(env(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != Default() {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestLoad_Env(t *testing.T) {
	cfg, err := load(env(map[string]string{
		"PORT":             "9090",
		"DATABASE_URL":     "postgres://localhost/flow",
		"PERIOD":           "10s",
		"REFRESH_INTERVAL": "1s",
		"HISTORY_LIMIT":    "25",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "9090" || cfg.DatabaseURL != "postgres://localhost/flow" {
		t.Errorf("unexpected connection settings: %+v", cfg)
	}
	if cfg.Period != 10*time.Second || cfg.RefreshInterval != time.Second || cfg.HistoryLimit != 25 {
		t.Errorf("unexpected tuning: %+v", cfg)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.yaml")
	data := []byte("port: \"7000\"\nperiod: 2s\nrefresh_interval: 250ms\nhistory_limit: 5\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := load(env(map[string]string{"CONFIG_FILE": path, "PORT": "7001"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "7001" {
		t.Errorf("expected env to override port, got %s", cfg.Port)
	}
	if cfg.Period != 2*time.Second || cfg.RefreshInterval != 250*time.Millisecond || cfg.HistoryLimit != 5 {
		t.Errorf("expected file settings, got %+v", cfg)
	}
	if cfg.ResultCacheTTL != Default().ResultCacheTTL {
		t.Errorf("expected default cache ttl, got %s", cfg.ResultCacheTTL)
	}
}

func TestLoad_FileUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.yaml")
	os.WriteFile(path, []byte("perod: 2s\n"), 0o644)

	if _, err := load(env(map[string]string{"CONFIG_FILE": path})); err == nil {
		t.Error("expected unknown key to be rejected")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad duration", map[string]string{"PERIOD": "soon"}},
		{"zero period", map[string]string{"PERIOD": "0s"}},
		{"refresh longer than period", map[string]string{"PERIOD": "1s", "REFRESH_INTERVAL": "2s"}},
		{"bad history limit", map[string]string{"HISTORY_LIMIT": "lots"}},
		{"zero history limit", map[string]string{"HISTORY_LIMIT": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := load(env(tt.env)); !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}
