package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the optional application configuration file. Everything
// that parameterizes the aggregation cores comes from CLI flags; the file
// only carries operational settings (logging, telemetry).
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ConsoleLoggingConfig contains console log output settings
type ConsoleLoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
}

// FileLoggingConfig contains log file output settings
type FileLoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains application logging settings
type LoggingConfig struct {
	Console ConsoleLoggingConfig `yaml:"console"`
	File    FileLoggingConfig    `yaml:"file"`
}

// MetricsConfig contains Prometheus endpoint settings
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Console.Level == "" {
		c.Logging.Console.Level = "info"
	}
	if c.Logging.Console.Format == "" {
		c.Logging.Console.Format = "text"
	}
	if !c.Logging.Console.Enabled && !c.Logging.File.Enabled {
		c.Logging.Console.Enabled = true
	}
	if c.Logging.File.Level == "" {
		c.Logging.File.Level = "info"
	}
	if c.Logging.File.Format == "" {
		c.Logging.File.Format = "text"
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9101"
	}
}
