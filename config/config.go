// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration for the MQTT broker.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Broker    BrokerConfig    `toml:"broker"`
	Logging   LoggingConfig   `toml:"logging"`
	Auth      AuthConfig      `toml:"auth"`
	Storage   StorageConfig   `toml:"storage"`
	RateLimit RateLimitConfig `toml:"ratelimit"`
}

// ServerConfig holds listener-related configuration.
type ServerConfig struct {
	Address         string        `toml:"address"`
	MaxConnections  int           `toml:"max_connections"`
	ReadTimeout     time.Duration `toml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	IdleTimeout     time.Duration `toml:"idle_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
	TCPKeepAlive    time.Duration `toml:"tcp_keepalive"`
	TLS             TLSConfig     `toml:"tls"`
}

// TLSConfig holds TLS listener settings.
type TLSConfig struct {
	Enabled    bool   `toml:"enabled"`
	CertFile   string `toml:"cert_file"`
	KeyFile    string `toml:"key_file"`
	CAFile     string `toml:"ca_file"`     // required when ClientAuth is "request" or "require"
	ClientAuth string `toml:"client_auth"` // "none", "request", "require"
}

// BrokerConfig holds protocol-level broker settings.
type BrokerConfig struct {
	ConnectTimeout        time.Duration `toml:"connect_timeout"`
	MaxMessageSize        uint32        `toml:"max_message_size"`
	MaxRetainedMessages   int           `toml:"max_retained_messages"`
	MaxQueuedMessages     int           `toml:"max_queued_messages"`
	QueueOverflowPolicy   string        `toml:"queue_overflow_policy"` // drop_oldest, drop_newest, reject_publish
	DefaultExpiryInterval uint32        `toml:"default_expiry_interval"`
	MaxInflightMessages   int           `toml:"max_inflight_messages"`
}

// LoggingConfig holds slog-backed logging configuration.
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text, json
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Enabled         bool   `toml:"enabled"`
	CredentialsFile string `toml:"credentials_file"`
	CircuitBreaker  bool   `toml:"circuit_breaker"`
}

// StorageConfig holds storage backend configuration.
type StorageConfig struct {
	Type            string `toml:"type"` // memory, badger
	BadgerDir       string `toml:"badger_dir"`
	RetainedDurable bool   `toml:"retained_durable"` // zstd-compressed snapshot for the memory backend
	SnapshotPath    string `toml:"snapshot_path"`
}

// RateLimitConfig mirrors ratelimit.Config's shape in TOML form; it is
// translated into a ratelimit.Config at startup.
type RateLimitConfig struct {
	Enabled              bool          `toml:"enabled"`
	ConnectionsPerSecond float64       `toml:"connections_per_second"`
	ConnectionsBurst     int           `toml:"connections_burst"`
	MessagesPerSecond    float64       `toml:"messages_per_second"`
	MessagesBurst        int           `toml:"messages_burst"`
	SubscribesPerSecond  float64       `toml:"subscribes_per_second"`
	SubscribesBurst      int           `toml:"subscribes_burst"`
	CleanupInterval      time.Duration `toml:"cleanup_interval"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":1883",
			MaxConnections:  10000,
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     5 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
			TCPKeepAlive:    30 * time.Second,
			TLS: TLSConfig{
				Enabled:    false,
				ClientAuth: "none",
			},
		},
		Broker: BrokerConfig{
			ConnectTimeout:        10 * time.Second,
			MaxMessageSize:        1024 * 1024,
			MaxRetainedMessages:   10000,
			MaxQueuedMessages:     1000,
			QueueOverflowPolicy:   "drop_oldest",
			DefaultExpiryInterval: 300,
			MaxInflightMessages:   65535,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Auth: AuthConfig{
			Enabled:        false,
			CircuitBreaker: true,
		},
		Storage: StorageConfig{
			Type:            "memory",
			BadgerDir:       "/var/lib/mercuriod/badger",
			RetainedDurable: false,
			SnapshotPath:    "/var/lib/mercuriod/retained.snap",
		},
		RateLimit: RateLimitConfig{
			Enabled:              false,
			ConnectionsPerSecond: 10,
			ConnectionsBurst:     20,
			MessagesPerSecond:    100,
			MessagesBurst:        200,
			SubscribesPerSecond:  20,
			SubscribesBurst:      40,
			CleanupInterval:      5 * time.Minute,
		},
	}
}

// Load loads configuration from a TOML file. If filename is empty, returns
// default configuration.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address cannot be empty")
	}
	if c.Server.MaxConnections < 0 {
		return fmt.Errorf("server.max_connections cannot be negative")
	}
	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" {
			return fmt.Errorf("server.tls.cert_file required when TLS is enabled")
		}
		if c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("server.tls.key_file required when TLS is enabled")
		}
		validClientAuth := map[string]bool{"none": true, "request": true, "require": true}
		if !validClientAuth[c.Server.TLS.ClientAuth] {
			return fmt.Errorf("server.tls.client_auth must be one of: none, request, require")
		}
		if (c.Server.TLS.ClientAuth == "request" || c.Server.TLS.ClientAuth == "require") && c.Server.TLS.CAFile == "" {
			return fmt.Errorf("server.tls.ca_file required when client_auth is %q", c.Server.TLS.ClientAuth)
		}
	}

	if c.Broker.MaxMessageSize < 1024 {
		return fmt.Errorf("broker.max_message_size must be at least 1KB")
	}
	if c.Broker.ConnectTimeout < time.Second {
		return fmt.Errorf("broker.connect_timeout must be at least 1 second")
	}
	validOverflow := map[string]bool{"drop_oldest": true, "drop_newest": true, "reject_publish": true}
	if !validOverflow[c.Broker.QueueOverflowPolicy] {
		return fmt.Errorf("broker.queue_overflow_policy must be one of: drop_oldest, drop_newest, reject_publish")
	}
	if c.Broker.MaxQueuedMessages < 1 {
		return fmt.Errorf("broker.max_queued_messages must be at least 1")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: text, json")
	}

	if c.Auth.Enabled && c.Auth.CredentialsFile == "" {
		return fmt.Errorf("auth.credentials_file required when auth is enabled")
	}

	validStorage := map[string]bool{"memory": true, "badger": true}
	if !validStorage[c.Storage.Type] {
		return fmt.Errorf("storage.type must be one of: memory, badger")
	}
	if c.Storage.Type == "badger" && c.Storage.BadgerDir == "" {
		return fmt.Errorf("storage.badger_dir required when type is badger")
	}
	if c.Storage.RetainedDurable && c.Storage.SnapshotPath == "" {
		return fmt.Errorf("storage.snapshot_path required when retained_durable is true")
	}

	return nil
}

// Save writes the configuration to a TOML file.
func (c *Config) Save(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return nil
}
