// Package config loads server settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("config: invalid setting")

// Config holds everything cmd/server needs to start.
type Config struct {
	Port            string        `yaml:"port"`
	DatabaseURL     string        `yaml:"database_url"`
	RedisURL        string        `yaml:"redis_url"`
	Period          time.Duration `yaml:"period"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	ResultCacheTTL  time.Duration `yaml:"result_cache_ttl"`
	HistoryLimit    int           `yaml:"history_limit"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Port:            "8080",
		Period:          5 * time.Second,
		RefreshInterval: 500 * time.Millisecond,
		ResultCacheTTL:  30 * time.Second,
		HistoryLimit:    100,
	}
}

// Load reads CONFIG_FILE (if set) and then the environment.
func Load() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	cfg := Default()
	if path := getenv("CONFIG_FILE"); path != "" {
		if err := cfg.readFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// readFile overlays the YAML file at path onto c. Unknown keys are rejected.
func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		c.Port = v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"PERIOD", &c.Period},
		{"REFRESH_INTERVAL", &c.RefreshInterval},
		{"RESULT_CACHE_TTL", &c.ResultCacheTTL},
	}
	for _, d := range durations {
		v := getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalid, d.key, v, err)
		}
		*d.dst = parsed
	}

	if v := getenv("HISTORY_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: HISTORY_LIMIT=%q: %v", ErrInvalid, v, err)
		}
		c.HistoryLimit = n
	}
	return nil
}

// Validate checks that all settings are usable.
func (c Config) Validate() error {
	switch {
	case c.Port == "":
		return fmt.Errorf("%w: port is empty", ErrInvalid)
	case c.Period <= 0:
		return fmt.Errorf("%w: period must be positive, got %s", ErrInvalid, c.Period)
	case c.RefreshInterval <= 0:
		return fmt.Errorf("%w: refresh_interval must be positive, got %s", ErrInvalid, c.RefreshInterval)
	case c.RefreshInterval > c.Period:
		return fmt.Errorf("%w: refresh_interval %s exceeds period %s", ErrInvalid, c.RefreshInterval, c.Period)
	case c.ResultCacheTTL < 0:
		return fmt.Errorf("%w: result_cache_ttl must not be negative", ErrInvalid)
	case c.HistoryLimit <= 0:
		return fmt.Errorf("%w: history_limit must be positive, got %d", ErrInvalid, c.HistoryLimit)
	}
	return nil
}
