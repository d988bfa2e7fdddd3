package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// PlacementConfig configures the connection to the external placement
// service. An empty BaseURL selects the in-process placement double.
type PlacementConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
}

// PublisherConfig configures the inventory publisher's retry behavior.
type PublisherConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
}

// Config holds the server configuration.
type Config struct {
	Addr              string          `yaml:"addr"`
	Placement         PlacementConfig `yaml:"placement"`
	Publisher         PublisherConfig `yaml:"publisher"`
	ReconcileSchedule string          `yaml:"reconcile_schedule"`
}

// LoadConfig loads configuration from a YAML file and environment variables.
// Environment variables override YAML values.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		// Defaults
		Addr: ":8080",
		Placement: PlacementConfig{
			Timeout:    10 * time.Second,
			MaxRetries: 3,
			Backoff:    time.Second,
		},
		Publisher: PublisherConfig{
			MaxRetries: 3,
			Backoff:    500 * time.Millisecond,
		},
		ReconcileSchedule: "@every 5m",
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if v := os.Getenv("SEGMENTPAM_ADDR"); v != "" {
		cfg.Addr = v
	}
	if p := os.Getenv("PORT"); p != "" { // Heroku-style
		cfg.Addr = ":" + p
	}
	if v := os.Getenv("SEGMENTPAM_PLACEMENT_URL"); v != "" {
		cfg.Placement.BaseURL = v
	}
	if v := os.Getenv("SEGMENTPAM_PLACEMENT_API_KEY"); v != "" {
		cfg.Placement.APIKey = v
	}
	if v := os.Getenv("SEGMENTPAM_PLACEMENT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Placement.Timeout = d
		}
	}
	if v := os.Getenv("SEGMENTPAM_RECONCILE_SCHEDULE"); v != "" {
		cfg.ReconcileSchedule = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("addr is required (set SEGMENTPAM_ADDR or yaml)")
	}
	if c.Placement.Timeout <= 0 {
		return errors.New("placement timeout must be positive")
	}
	if c.Placement.MaxRetries < 0 {
		return errors.New("placement max_retries must not be negative")
	}
	if c.Publisher.MaxRetries < 0 {
		return errors.New("publisher max_retries must not be negative")
	}
	if _, err := cron.ParseStandard(c.ReconcileSchedule); err != nil {
		return fmt.Errorf("reconcile_schedule %q: %w", c.ReconcileSchedule, err)
	}
	return nil
}
