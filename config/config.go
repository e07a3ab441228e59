/*
Package config loads server configuration.

SOURCES (later wins):
  1. Defaults()
  2. YAML file (optional, -config flag)
  3. Environment: SHIPMENT_PORT, SHIPMENT_DB, SHIPMENT_LOG_LEVEL,
     SHIPMENT_LOG_FORMAT
  4. Command-line flags (-port, -db), applied by cmd/server

EXAMPLE FILE:
  server:
    port: 8080
    read_timeout: 15s
    cors_origins: ["http://localhost:5173"]
  database:
    path: ./data/shipments.db
  log:
    level: debug
    format: console
  seed:
    enabled: true
  auditor:
    enabled: true
    interval: 10m
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Seed     SeedConfig     `yaml:"seed"`
	Auditor  AuditorConfig  `yaml:"auditor"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

type DatabaseConfig struct {
	// Path is a SQLite file path or ":memory:".
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // trace, debug, info, warn, error
	Format string `yaml:"format"` // console or json
}

// SeedConfig controls the default user created on an empty database.
type SeedConfig struct {
	Enabled bool   `yaml:"enabled"`
	Name    string `yaml:"name"`
	Email   string `yaml:"email"`
}

type AuditorConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORSOrigins:     []string{"http://localhost:5173", "http://localhost:8080"},
		},
		Database: DatabaseConfig{Path: "shipments.db"},
		Log:      LogConfig{Level: "info", Format: "console"},
		Seed: SeedConfig{
			Enabled: true,
			Name:    "Default User",
			Email:   "user@example.com",
		},
		Auditor: AuditorConfig{Enabled: true, Interval: time.Hour},
	}
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty) and the environment.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("SHIPMENT_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SHIPMENT_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("SHIPMENT_DB"); ok {
		c.Database.Path = v
	}
	if v, ok := lookup("SHIPMENT_LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := lookup("SHIPMENT_LOG_FORMAT"); ok {
		c.Log.Format = v
	}
	return nil
}

// Validate rejects configurations the server can't start with.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	if c.Auditor.Enabled && c.Auditor.Interval <= 0 {
		return fmt.Errorf("auditor.interval must be positive")
	}
	return nil
}
