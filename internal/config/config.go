package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds server, client and logging configuration.
type Config struct {
	LogLevel string       `mapstructure:"log_level" yaml:"log_level"`
	Server   ServerConfig `mapstructure:"server" yaml:"server"`
	Client   ClientConfig `mapstructure:"client" yaml:"client"`
}

// ServerConfig configures the reference table server.
type ServerConfig struct {
	Addr                 string        `mapstructure:"addr" yaml:"addr"`
	DatabasePath         string        `mapstructure:"database_path" yaml:"database_path"`
	ReadHeaderTimeout    time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout      time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxRequestsPerMinute int           `mapstructure:"max_requests_per_minute" yaml:"max_requests_per_minute"`
}

// ClientConfig configures the table client used by the CLI.
type ClientConfig struct {
	URL              string        `mapstructure:"url" yaml:"url"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
	RetryInterval    time.Duration `mapstructure:"retry_interval" yaml:"retry_interval"`
	PingInterval     time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	AutoConnect      bool          `mapstructure:"auto_connect" yaml:"auto_connect"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		LogLevel: "info",
		Server: ServerConfig{
			Addr:              ":8080",
			DatabasePath:      "warptables.db",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   5 * time.Second,
		},
		Client: ClientConfig{
			URL:              "ws://localhost:8080/ws",
			ConnectTimeout:   5 * time.Second,
			HandshakeTimeout: 2 * time.Second,
			FetchTimeout:     5 * time.Second,
			RetryInterval:    250 * time.Millisecond,
			PingInterval:     10 * time.Second,
			AutoConnect:      true,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.DatabasePath != "" {
		c.Server.DatabasePath = other.Server.DatabasePath
	}
	if other.Server.ReadHeaderTimeout != 0 {
		c.Server.ReadHeaderTimeout = other.Server.ReadHeaderTimeout
	}
	if other.Server.ShutdownTimeout != 0 {
		c.Server.ShutdownTimeout = other.Server.ShutdownTimeout
	}
	if other.Server.MaxRequestsPerMinute != 0 {
		c.Server.MaxRequestsPerMinute = other.Server.MaxRequestsPerMinute
	}
	if other.Client.URL != "" {
		c.Client.URL = other.Client.URL
	}
	if other.Client.ConnectTimeout != 0 {
		c.Client.ConnectTimeout = other.Client.ConnectTimeout
	}
	if other.Client.HandshakeTimeout != 0 {
		c.Client.HandshakeTimeout = other.Client.HandshakeTimeout
	}
	if other.Client.FetchTimeout != 0 {
		c.Client.FetchTimeout = other.Client.FetchTimeout
	}
	if other.Client.RetryInterval != 0 {
		c.Client.RetryInterval = other.Client.RetryInterval
	}
	if other.Client.PingInterval != 0 {
		c.Client.PingInterval = other.Client.PingInterval
	}
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Server.DatabasePath == "" {
		return errors.New("server.database_path is required")
	}
	if c.Server.MaxRequestsPerMinute < 0 {
		return errors.New("server.max_requests_per_minute must not be negative")
	}
	if !strings.HasPrefix(c.Client.URL, "ws://") && !strings.HasPrefix(c.Client.URL, "wss://") {
		return fmt.Errorf("client.url %q must be a ws:// or wss:// URL", c.Client.URL)
	}

	durations := []struct {
		key string
		d   time.Duration
	}{
		{"server.shutdown_timeout", c.Server.ShutdownTimeout},
		{"client.connect_timeout", c.Client.ConnectTimeout},
		{"client.handshake_timeout", c.Client.HandshakeTimeout},
		{"client.fetch_timeout", c.Client.FetchTimeout},
		{"client.retry_interval", c.Client.RetryInterval},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.key, d.d)
		}
	}
	return nil
}
