// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port         string        `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Type             string        `yaml:"type"`
	Path             string        `yaml:"path"`
	HistoryRetention time.Duration `yaml:"history_retention"`
}

type PrometheusConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MetricsPath string `yaml:"metrics_path"`
}

type MonitoringConfig struct {
	// Continuous starts the background check loop at startup. A nil value
	// means the default (enabled).
	Continuous      *bool         `yaml:"continuous"`
	CheckInterval   time.Duration `yaml:"check_interval"`
	ChecksFile      string        `yaml:"checks_file"`
	CacheDuration   time.Duration `yaml:"cache_duration"`
	FreshnessWindow time.Duration `yaml:"freshness_window"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const (
	DatabaseBolt   = "boltdb"
	DatabaseSQLite = "sqlite"
)

// IsContinuous reports whether the background monitoring loop should run.
func (m MonitoringConfig) IsContinuous() bool {
	return m.Continuous == nil || *m.Continuous
}

func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	setDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8000"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}

	if cfg.Database.Type == "" {
		cfg.Database.Type = DatabaseBolt
	}
	if cfg.Database.Path == "" {
		if cfg.Database.Type == DatabaseSQLite {
			cfg.Database.Path = "./data/status_history.db"
		} else {
			cfg.Database.Path = "./data/status_history.bolt"
		}
	}
	if cfg.Database.HistoryRetention == 0 {
		cfg.Database.HistoryRetention = 30 * 24 * time.Hour
	}

	if cfg.Prometheus.MetricsPath == "" {
		cfg.Prometheus.MetricsPath = "/metrics"
	}

	if cfg.Monitoring.CheckInterval == 0 {
		cfg.Monitoring.CheckInterval = 30 * time.Second
	}
	if cfg.Monitoring.ChecksFile == "" {
		cfg.Monitoring.ChecksFile = "checks.yaml"
	}
	if cfg.Monitoring.CacheDuration == 0 {
		cfg.Monitoring.CacheDuration = 30 * time.Second
	}
	if cfg.Monitoring.FreshnessWindow == 0 {
		cfg.Monitoring.FreshnessWindow = 10 * time.Minute
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

func validate(cfg *Config) error {
	switch cfg.Database.Type {
	case DatabaseBolt, DatabaseSQLite:
	default:
		return fmt.Errorf("database.type must be %q or %q, got %q", DatabaseBolt, DatabaseSQLite, cfg.Database.Type)
	}
	if cfg.Database.HistoryRetention < 0 {
		return fmt.Errorf("database.history_retention must not be negative")
	}

	if cfg.Monitoring.CheckInterval < 0 {
		return fmt.Errorf("monitoring.check_interval must not be negative")
	}
	if cfg.Monitoring.CacheDuration < 0 {
		return fmt.Errorf("monitoring.cache_duration must not be negative")
	}
	if cfg.Monitoring.FreshnessWindow < 0 {
		return fmt.Errorf("monitoring.freshness_window must not be negative")
	}

	if !strings.HasPrefix(cfg.Prometheus.MetricsPath, "/") {
		return fmt.Errorf("prometheus.metrics_path must start with '/'")
	}

	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}
	return nil
}
