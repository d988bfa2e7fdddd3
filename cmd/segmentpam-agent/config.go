package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the agent configuration.
type Config struct {
	ServerURL        string        `yaml:"server_url"`
	APIKey           string        `yaml:"api_key"`
	Host             string        `yaml:"host"`
	PhysicalNetworks []string      `yaml:"physical_networks"`
	ReportInterval   time.Duration `yaml:"report_interval"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
}

// LoadConfig loads configuration from a YAML file and environment variables.
// Environment variables override YAML values.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		// Defaults
		ReportInterval: 1 * time.Minute,
		MaxRetries:     3,
		RetryBackoff:   5 * time.Second,
		RequestTimeout: 30 * time.Second,
	}

	// Load from YAML file if provided
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	// Override with environment variables
	if v := os.Getenv("SEGMENTPAM_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("SEGMENTPAM_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("SEGMENTPAM_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("SEGMENTPAM_PHYSNETS"); v != "" {
		cfg.PhysicalNetworks = splitList(v)
	}
	if v := os.Getenv("SEGMENTPAM_REPORT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ReportInterval = d
		}
	}

	if cfg.Host == "" {
		if hostname, err := os.Hostname(); err == nil {
			cfg.Host = hostname
		}
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration fields are set.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server_url is required (set SEGMENTPAM_SERVER_URL or yaml)")
	}
	if c.Host == "" {
		return errors.New("host is required (set SEGMENTPAM_HOST or yaml)")
	}
	if c.ReportInterval < 10*time.Second {
		return errors.New("report_interval must be at least 10 seconds")
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
