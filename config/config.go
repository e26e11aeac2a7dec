/*
Package config loads server configuration from a YAML file plus
environment overrides.

PURPOSE:
  One place for everything the binary needs at startup: listen port,
  store driver, retry budget, log level. Every field has a default so
  the server runs with no config file at all.

PRECEDENCE:
  defaults < config file < environment (LEDGER_ prefix, dots become
  underscores, e.g. LEDGER_STORE_DRIVER=postgres).
*/
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Store driver names accepted in store.driver.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Store  StoreConfig  `mapstructure:"store"`
	Ledger LedgerConfig `mapstructure:"ledger"`
	Log    LogConfig    `mapstructure:"log"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type StoreConfig struct {
	Driver      string `mapstructure:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

type LedgerConfig struct {
	MaxRetryAttempts int `mapstructure:"max_retry_attempts"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from the given path. An empty path skips the
// file and uses defaults plus environment overrides only.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.sqlite_path", "./data/ledger.db")
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("ledger.max_retry_attempts", 3)
	v.SetDefault("log.level", "info")

	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case DriverMemory, DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver == DriverPostgres && c.Store.PostgresDSN == "" {
		return fmt.Errorf("store.postgres_dsn is required for the postgres driver")
	}
	if c.Ledger.MaxRetryAttempts < 1 {
		return fmt.Errorf("ledger.max_retry_attempts must be at least 1")
	}
	return nil
}
