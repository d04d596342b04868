package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/dossier/pkg/dossier/internalerr"
)

// Config is the full runtime configuration, loaded from YAML.
type Config struct {
	Stores   Stores            `yaml:"stores"`
	Paths    map[string]string `yaml:"paths"` // stored prefix → current prefix
	Pipeline Pipeline          `yaml:"pipeline"`
	Service  Service           `yaml:"service"`
}

// Stores locates the persisted data files.
type Stores struct {
	Mentions    string `yaml:"mentions"`    // sqlite mention index
	Biographies string `yaml:"biographies"` // JSON biography store
	News        string `yaml:"news"`        // JSON news-article store
}

// Pipeline tunes the run itself.
type Pipeline struct {
	DocLimit        int `yaml:"doc_limit"`
	MinMentions     int `yaml:"min_mentions"`
	MaxExcerptBytes int `yaml:"max_excerpt_bytes"`
	Workers         int `yaml:"workers"`
}

// Service configures the generative-text endpoint.
type Service struct {
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	RateDelayMS    int    `yaml:"rate_delay_ms"`
	Retry          Retry  `yaml:"retry"`
}

// Retry is the explicit bounded-retry schedule for service calls.
type Retry struct {
	MaxAttempts int `yaml:"max_attempts"`
	BaseDelayMS int `yaml:"base_delay_ms"`
}

// Timeout returns the per-call timeout as a duration.
func (s Service) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// RateDelay returns the minimum inter-call delay as a duration.
func (s Service) RateDelay() time.Duration {
	return time.Duration(s.RateDelayMS) * time.Millisecond
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Stores.Mentions == "" {
		return fmt.Errorf("config: stores.mentions required: %w", internalerr.ErrInvalidConfig)
	}
	if c.Stores.Biographies == "" {
		return fmt.Errorf("config: stores.biographies required: %w", internalerr.ErrInvalidConfig)
	}
	if c.Pipeline.DocLimit < 0 || c.Pipeline.MinMentions < 0 || c.Pipeline.MaxExcerptBytes < 0 || c.Pipeline.Workers < 0 {
		return fmt.Errorf("config: pipeline values must be non-negative: %w", internalerr.ErrInvalidConfig)
	}
	if c.Service.TimeoutSeconds < 0 || c.Service.RateDelayMS < 0 {
		return fmt.Errorf("config: service timings must be non-negative: %w", internalerr.ErrInvalidConfig)
	}
	if c.Service.Retry.MaxAttempts < 0 || c.Service.Retry.BaseDelayMS < 0 {
		return fmt.Errorf("config: retry values must be non-negative: %w", internalerr.ErrInvalidConfig)
	}
	return nil
}
