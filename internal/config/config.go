// Package config loads and validates the wardnote YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// SyncURL is the base URL of the remote sync server. Leave empty to
	// run local-only: the synchronizers then refuse to start a cycle.
	SyncURL string `yaml:"sync_url"`

	// TokenSecret signs the HS256 bearer tokens sent with sync requests.
	// Required whenever SyncURL is set.
	TokenSecret string `yaml:"token_secret"`

	// UserID identifies the signed-in user in minted tokens.
	UserID string `yaml:"user_id"`

	// Database is the SQLite file path. Defaults to "wardnote.db".
	Database string `yaml:"database"`

	// SyncInterval controls how often the background push/pull tasks run.
	// Minimum 15m; defaults to 15m if unset.
	SyncInterval time.Duration `yaml:"sync_interval"`

	// HTTPTimeout bounds each remote request. Defaults to 30s.
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	// LocationInterval controls how often a location sample is taken.
	// Defaults to 1m.
	LocationInterval time.Duration `yaml:"location_interval"`
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// validate checks required fields and fills defaults.
func (c *Config) validate() error {
	if c.SyncURL != "" {
		u, err := url.ParseRequestURI(c.SyncURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("sync_url %q must be a valid http or https URL", c.SyncURL)
		}
		if c.TokenSecret == "" {
			return fmt.Errorf("token_secret is required when sync_url is set")
		}
		if c.UserID == "" {
			return fmt.Errorf("user_id is required when sync_url is set")
		}
	}

	if c.Database == "" {
		c.Database = "wardnote.db"
	}

	if c.SyncInterval == 0 {
		c.SyncInterval = 15 * time.Minute
	}
	if c.SyncInterval < 15*time.Minute {
		return fmt.Errorf("sync_interval %v is too short (minimum 15m)", c.SyncInterval)
	}

	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = 30 * time.Second
	}
	if c.HTTPTimeout < time.Second {
		return fmt.Errorf("http_timeout %v is too short (minimum 1s)", c.HTTPTimeout)
	}

	if c.LocationInterval == 0 {
		c.LocationInterval = time.Minute
	}
	if c.LocationInterval < time.Second {
		return fmt.Errorf("location_interval %v is too short (minimum 1s)", c.LocationInterval)
	}

	return nil
}
