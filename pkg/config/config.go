// Package config is the merge engine's configuration surface: local
// site identity, connection pool sizing, and the retry policy applied
// to transient database errors.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// Config is the top-level configuration tree for a merge-engine
// process.
type Config struct {
	SiteID     SiteIDConfig     `json:"site_id"`
	Connection ConnectionConfig `json:"connection"`
	Retry      RetryConfig      `json:"retry"`
	Merge      MergeConfig      `json:"merge"`
}

// SiteIDConfig controls how the local site identifier is obtained.
type SiteIDConfig struct {
	// Hex is the site id in a form uuid.Parse accepts (the dashed UUID
	// form or 32 hex digits). DefaultConfig fills it with a fresh UUID v4.
	Hex string `json:"hex"`
}

// ConnectionConfig holds pool sizing. MaxOpen and MaxIdle are
// pool.SQLConnectionPool's constructor parameters; Lifetime is not passed
// to the pool, which sets a fixed one-hour connection lifetime.
type ConnectionConfig struct {
	MaxOpen  int           `json:"max_open"`
	MaxIdle  int           `json:"max_idle"`
	Lifetime time.Duration `json:"lifetime"`
}

// RetryConfig configures reliability.ErrorRecoveryManager's strategy
// for the connection/transaction error classes the merge engine can
// hit against the underlying sqlite handle.
type RetryConfig struct {
	MaxRetries    int           `json:"max_retries"`
	RetryInterval time.Duration `json:"retry_interval"`
	BackoffFactor float64       `json:"backoff_factor"`
}

// MergeConfig bounds the fields of an incoming change record.
type MergeConfig struct {
	MaxTableNameLen int `json:"max_table_name_len"`
	MaxSiteIDLen    int `json:"max_site_id_len"`
}

// DefaultConfig returns a Config with a freshly generated local site
// id and conservative pool/retry defaults.
func DefaultConfig() *Config {
	return &Config{
		SiteID: SiteIDConfig{
			Hex: uuid.New().String(),
		},
		Connection: ConnectionConfig{
			MaxOpen:  10,
			MaxIdle:  5,
			Lifetime: 30 * time.Minute,
		},
		Retry: RetryConfig{
			MaxRetries:    3,
			RetryInterval: 100 * time.Millisecond,
			BackoffFactor: 2.0,
		},
		Merge: MergeConfig{
			MaxTableNameLen: 64,
			MaxSiteIDLen:    16,
		},
	}
}

// LoadConfig reads a Config from a JSON file, falling back to
// DefaultConfig when configPath is empty. Fields absent from the file
// keep DefaultConfig's values.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed parsing config file: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SiteIDBytes decodes the configured site id into the raw bytes the
// merge engine compares and stores. A UUID string decodes to its 16
// raw bytes.
func (c *Config) SiteIDBytes() ([]byte, error) {
	id, err := uuid.Parse(c.SiteID.Hex)
	if err != nil {
		return nil, fmt.Errorf("invalid site id %q: %w", c.SiteID.Hex, err)
	}
	return id[:], nil
}

func validateConfig(c *Config) error {
	if c.Connection.MaxOpen < 1 {
		return fmt.Errorf("connection.max_open must be greater than 0")
	}
	if c.Connection.MaxIdle < 0 {
		return fmt.Errorf("connection.max_idle must not be negative")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative")
	}
	if c.Retry.BackoffFactor < 1.0 {
		return fmt.Errorf("retry.backoff_factor must be at least 1.0")
	}
	if c.Merge.MaxTableNameLen < 1 {
		return fmt.Errorf("merge.max_table_name_len must be greater than 0")
	}
	if c.Merge.MaxSiteIDLen < 1 {
		return fmt.Errorf("merge.max_site_id_len must be greater than 0")
	}
	return nil
}
