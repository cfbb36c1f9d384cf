// Package common provides shared configuration, logging, and startup
// utilities for backtestd.
package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for backtestd.
type Config struct {
	Environment string           `toml:"environment"`
	Storage     StorageConfig    `toml:"storage"`
	Catalog     CatalogConfig    `toml:"catalog"`
	DataSource  DataSourceConfig `toml:"datasource"`
	Logging     LoggingConfig    `toml:"logging"`
}

// StorageConfig selects and configures the attribute-store backend.
type StorageConfig struct {
	// Driver is one of "memory", "sqlite", "surreal".
	Driver string `toml:"driver"`

	SQLite  SQLiteConfig  `toml:"sqlite"`
	Surreal SurrealConfig `toml:"surreal"`
}

// SQLiteConfig configures internal/store/sqlitestore.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// SurrealConfig configures internal/store/surrealstore.
type SurrealConfig struct {
	Address   string `toml:"address"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
	RateLimit int    `toml:"rate_limit"`
}

// CatalogConfig configures the portfolio catalog directory.
type CatalogConfig struct {
	Path string `toml:"path"`
}

// DataSourceConfig configures data-source plugin discovery.
type DataSourceConfig struct {
	PluginPath string `toml:"plugin_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string   `toml:"level"`
	Format     string   `toml:"format"`
	Outputs    []string `toml:"outputs"`
	FilePath   string   `toml:"file_path"`
	MaxSizeMB  int      `toml:"max_size_mb"`
	MaxBackups int      `toml:"max_backups"`
}

// NewDefaultConfig returns a Config with sensible defaults.
func NewDefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Environment: "development",
		Storage: StorageConfig{
			Driver: "memory",
			SQLite: SQLiteConfig{
				Path: "data/backtestd.sqlite",
			},
			Surreal: SurrealConfig{
				Address:   "ws://localhost:8000/rpc",
				Username:  "root",
				Password:  "root",
				Namespace: "backtestd",
				Database:  "backtestd",
				RateLimit: 20,
			},
		},
		Catalog: CatalogConfig{
			Path: filepath.Join(home, ".backtestd", "portfolios"),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Outputs:    []string{"console"},
			FilePath:   "./logs/backtestd.log",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// LoadConfig loads configuration from TOML files with environment overrides.
// Later paths override earlier ones; missing files are skipped.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

func applyEnvOverrides(config *Config) {
	if env := os.Getenv("BACKTESTD_ENV"); env != "" {
		config.Environment = env
	}
	if level := os.Getenv("BACKTESTD_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if driver := os.Getenv("BACKTESTD_STORAGE_DRIVER"); driver != "" {
		config.Storage.Driver = strings.ToLower(driver)
	}
	if path := os.Getenv("BACKTESTD_SQLITE_PATH"); path != "" {
		config.Storage.SQLite.Path = path
	}
	if addr := os.Getenv("BACKTESTD_SURREAL_ADDRESS"); addr != "" {
		config.Storage.Surreal.Address = addr
	}
	if path := os.Getenv("BACKTESTD_CATALOG_PATH"); path != "" {
		config.Catalog.Path = path
	}
	if path := os.Getenv("BACKTESTD_DATASOURCE_PLUGIN_PATH"); path != "" {
		config.DataSource.PluginPath = path
	}
	if rl := os.Getenv("BACKTESTD_SURREAL_RATE_LIMIT"); rl != "" {
		if v, err := strconv.Atoi(rl); err == nil {
			config.Storage.Surreal.RateLimit = v
		}
	}
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// GetTimeout is a small helper mirroring the client-config pattern used
// throughout the codebase for duration fields stored as strings.
func GetTimeout(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
