// Package config loads and validates gateway configuration from YAML with
// environment expansion.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dmelojr/zapgate/internal/store"
	"github.com/dmelojr/zapgate/internal/supervisor"
	"github.com/dmelojr/zapgate/internal/transport/wameow"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// HousekeepingConfig controls the owned-message mark purge task.
type HousekeepingConfig struct {
	// PurgeInterval is how often old marks are purged.
	PurgeInterval time.Duration `yaml:"purge_interval"`
	// MarkRetention is how long marks are kept before purging.
	MarkRetention time.Duration `yaml:"mark_retention"`
}

// Config is the root gateway configuration.
type Config struct {
	Server       ServerConfig          `yaml:"server"`
	Database     *store.PostgresConfig `yaml:"database"`
	Transport    wameow.Config         `yaml:"transport"`
	Supervisor   supervisor.Config     `yaml:"supervisor"`
	Housekeeping HousekeepingConfig    `yaml:"housekeeping"`

	// AutoStart re-acquires every session with stored credentials on boot.
	AutoStart bool `yaml:"auto_start"`
}

// Default returns the default configuration. Database settings honor the
// conventional PG* environment variables.
func Default() *Config {
	db := store.DefaultPostgresConfig()
	if v := os.Getenv("PGHOST"); v != "" {
		db.Host = v
	}
	if v := os.Getenv("PGPORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			db.Port = port
		}
	}
	if v := os.Getenv("PGUSER"); v != "" {
		db.User = v
	}
	if v := os.Getenv("PGPASSWORD"); v != "" {
		db.Password = v
	}
	if v := os.Getenv("PGDATABASE"); v != "" {
		db.Database = v
	}

	return &Config{
		Server:     ServerConfig{Host: "0.0.0.0", Port: 3000},
		Database:   db,
		Transport:  wameow.DefaultConfig(),
		Supervisor: supervisor.DefaultConfig(),
		Housekeeping: HousekeepingConfig{
			PurgeInterval: 6 * time.Hour,
			MarkRetention: 7 * 24 * time.Hour,
		},
		AutoStart: true,
	}
}

// Load reads the YAML file at path over the defaults, expanding ${ENV}
// references. An empty path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server: port %d out of range", c.Server.Port)
	}
	if c.Transport.StorePath == "" {
		return fmt.Errorf("transport: store_path is required")
	}
	if c.Supervisor.ReconnectDelay < 0 {
		return fmt.Errorf("supervisor: reconnect_delay must not be negative")
	}
	if c.Housekeeping.PurgeInterval <= 0 {
		return fmt.Errorf("housekeeping: purge_interval must be positive")
	}
	if c.Housekeeping.MarkRetention <= 0 {
		return fmt.Errorf("housekeeping: mark_retention must be positive")
	}
	return nil
}
