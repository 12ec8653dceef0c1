// Package config loads the sifts CLI configuration from YAML or JSON5
// files, with environment variable expansion and include support.
package config

import (
	"github.com/haasonsaas/sifts/internal/embeddings"
)

// Config is the main configuration structure for the sifts CLI.
type Config struct {
	Database   DatabaseConfig    `yaml:"database"`
	Embeddings embeddings.Config `yaml:"embeddings"`
	Logging    LoggingConfig     `yaml:"logging"`
	Metrics    MetricsConfig     `yaml:"metrics"`
	Tracing    TracingConfig     `yaml:"tracing"`
}

// DatabaseConfig selects the storage backend and default collection.
type DatabaseConfig struct {
	// URL is the database connection string. Empty or sqlite:// URLs use
	// the embedded backend; postgres:// URLs use a server backend.
	URL string `yaml:"url"`

	// Collection is the collection name commands operate on unless
	// overridden by a flag.
	Collection string `yaml:"collection"`

	// FTS toggles full-text indexing. Unset means enabled.
	FTS *bool `yaml:"fts"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled        bool              `yaml:"enabled"`
	Endpoint       string            `yaml:"endpoint"`
	ServiceName    string            `yaml:"service_name"`
	ServiceVersion string            `yaml:"service_version"`
	Environment    string            `yaml:"environment"`
	SamplingRate   float64           `yaml:"sampling_rate"`
	Insecure       bool              `yaml:"insecure"`
	Attributes     map[string]string `yaml:"attributes"`
}

// Default returns the configuration used when no config file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// FTSEnabled reports whether full-text indexing is on.
func (d DatabaseConfig) FTSEnabled() bool {
	return d.FTS == nil || *d.FTS
}

func applyDefaults(cfg *Config) {
	if cfg.Database.Collection == "" {
		cfg.Database.Collection = "default"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "sifts"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
}
