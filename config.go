package sentry_transport

import (
	"time"

	"github.com/roadrunner-server/errors"
)

const PluginName = "sentry_transport"

// Config represents the plugin configuration
type Config struct {
	// Enable/disable the plugin
	Enabled bool `mapstructure:"enabled"`

	// Sentry DSN, empty means events are logged but never transmitted
	DSN string `mapstructure:"dsn"`

	// HTTP transport settings
	Transport TransportConfig `mapstructure:"transport"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// TransportConfig contains HTTP transport settings
type TransportConfig struct {
	// Request timeout
	Timeout time.Duration `mapstructure:"timeout"`
	// Connection timeout
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// Gzip request bodies
	Compression bool `mapstructure:"compression"`
	// Skip TLS certificate verification
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`
	// Proxy URL
	Proxy string `mapstructure:"proxy"`
	// Endpoint replaces every ingestion URL derived from the DSN
	Endpoint string `mapstructure:"endpoint"`
	// Maximum number of concurrent requests
	BufferSize int `mapstructure:"buffer_size"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	// Log level for plugin operations
	Level string `mapstructure:"level"`
}

// InitDefaults initializes default configuration values
func (cfg *Config) InitDefaults() {
	cfg.Transport.InitDefaults()

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// InitDefaults fills zero timeouts and buffer size
func (cfg *TransportConfig) InitDefaults() {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = DefaultBufferSize
	}
}

// Validate validates the configuration. A malformed DSN fails here, at
// setup, rather than on the first send.
func (cfg *Config) Validate() error {
	const op = errors.Op("sentry_transport_config_validate")

	if cfg.Transport.BufferSize < 0 {
		return errors.E(op, newConfigurationError(string(op), "buffer_size must not be negative"))
	}
	if cfg.Transport.Timeout < 0 || cfg.Transport.ConnectTimeout < 0 {
		return errors.E(op, newConfigurationError(string(op), "timeouts must not be negative"))
	}

	if cfg.DSN == "" {
		return nil
	}

	dsn, err := ParseDSN(cfg.DSN)
	if err != nil {
		return errors.E(op, err)
	}
	if _, err := NewAPI(dsn, cfg.Transport.Endpoint); err != nil {
		return errors.E(op, err)
	}

	return nil
}
