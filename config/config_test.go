// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Address != ":1883" {
		t.Errorf("expected default address :1883, got %s", cfg.Server.Address)
	}
	if cfg.Server.MaxConnections != 10000 {
		t.Errorf("expected default max connections 10000, got %d", cfg.Server.MaxConnections)
	}
	if cfg.Broker.ConnectTimeout != 10*time.Second {
		t.Errorf("expected connect timeout 10s, got %v", cfg.Broker.ConnectTimeout)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level info, got %s", cfg.Logging.Level)
	}
	if cfg.Storage.Type != "memory" {
		t.Errorf("expected default storage type memory, got %s", cfg.Storage.Type)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "default config is valid",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "empty server address",
			modify: func(c *Config) {
				c.Server.Address = ""
			},
			wantErr: true,
		},
		{
			name: "TLS enabled without cert",
			modify: func(c *Config) {
				c.Server.TLS.Enabled = true
			},
			wantErr: true,
		},
		{
			name: "TLS require without CA",
			modify: func(c *Config) {
				c.Server.TLS.Enabled = true
				c.Server.TLS.CertFile = "cert.pem"
				c.Server.TLS.KeyFile = "key.pem"
				c.Server.TLS.ClientAuth = "require"
			},
			wantErr: true,
		},
		{
			name: "message size too small",
			modify: func(c *Config) {
				c.Broker.MaxMessageSize = 100
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			modify: func(c *Config) {
				c.Logging.Level = "invalid"
			},
			wantErr: true,
		},
		{
			name: "connect timeout too short",
			modify: func(c *Config) {
				c.Broker.ConnectTimeout = 500 * time.Millisecond
			},
			wantErr: true,
		},
		{
			name: "invalid queue overflow policy",
			modify: func(c *Config) {
				c.Broker.QueueOverflowPolicy = "explode"
			},
			wantErr: true,
		},
		{
			name: "auth enabled without credentials file",
			modify: func(c *Config) {
				c.Auth.Enabled = true
			},
			wantErr: true,
		},
		{
			name: "badger storage without dir",
			modify: func(c *Config) {
				c.Storage.Type = "badger"
				c.Storage.BadgerDir = ""
			},
			wantErr: true,
		},
		{
			name: "retained durable without snapshot path",
			modify: func(c *Config) {
				c.Storage.RetainedDurable = true
				c.Storage.SnapshotPath = ""
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadNonExistent(t *testing.T) {
	cfg, err := Load("nonexistent.toml")
	if err != nil {
		t.Fatalf("Load() should return default config and no error when file doesn't exist, got error: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load() should return a default config, got nil")
	}

	if cfg.Server.Address != ":1883" {
		t.Errorf("expected default config, got address %s", cfg.Server.Address)
	}
}

func TestSaveLoad(t *testing.T) {
	tmpfile := t.TempDir() + "/config.toml"

	cfg := Default()
	cfg.Server.Address = ":8883"
	cfg.Broker.ConnectTimeout = 15 * time.Second
	cfg.Logging.Level = "debug"

	if err := cfg.Save(tmpfile); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(tmpfile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loaded.Server.Address != ":8883" {
		t.Errorf("expected address :8883, got %s", loaded.Server.Address)
	}
	if loaded.Broker.ConnectTimeout != 15*time.Second {
		t.Errorf("expected connect timeout 15s, got %v", loaded.Broker.ConnectTimeout)
	}
	if loaded.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", loaded.Logging.Level)
	}
}
