/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package mediator assembles the full mediator service: storage, secrets,
// resolver, envelope engine, protocol services, dispatcher and transports.
package mediator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/envelope"
	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/live"
	"github.com/openmediation/didcomm-mediator-go/pkg/store/mailbox"
)

// Storage backend names accepted in configuration.
const (
	StorageMem    = "mem"
	StorageSQLite = "sqlite"
)

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Type string `yaml:"type"`
	Path string `yaml:"path"`
}

// Config is the mediator configuration file model.
type Config struct {
	ListenAddr  string `yaml:"listen_addr"`
	ExternalURL string `yaml:"external_url"`

	// MediatorDID pins the identity to serve. The keys must already be in
	// the secrets store; startup fails on a mismatch rather than silently
	// serving a different DID. Empty means use (or mint) the stored one.
	MediatorDID string `yaml:"mediator_did"`

	SupportedAlgs []string `yaml:"supported_algs"`

	MailboxSoftCap     int   `yaml:"mailbox_soft_cap"`
	MailboxHardByteCap int64 `yaml:"mailbox_hard_byte_cap"`

	ResolverCacheTTLSeconds int `yaml:"resolver_cache_ttl_seconds"`
	ResolverCacheSize       int `yaml:"resolver_cache_size"`

	LiveDeliveryBackpressureBound int `yaml:"live_delivery_backpressure_bound"`

	AllowedDIDMethods []string `yaml:"allowed_did_methods"`

	LogLevel string `yaml:"log_level"`

	Storage StorageConfig `yaml:"storage"`
}

// DefaultConfig returns the configuration used when options are omitted.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:                    ":8080",
		ExternalURL:                   "http://localhost:8080",
		SupportedAlgs:                 []string{envelope.AlgAuthcrypt, envelope.AlgAnoncrypt},
		MailboxSoftCap:                mailbox.DefaultSoftCap,
		MailboxHardByteCap:            mailbox.DefaultHardByteCap,
		ResolverCacheTTLSeconds:       300,
		ResolverCacheSize:             256,
		LiveDeliveryBackpressureBound: live.DefaultBackpressureBound,
		AllowedDIDMethods:             []string{"key", "peer", "web"},
		LogLevel:                      "info",
		Storage:                       StorageConfig{Type: StorageMem},
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the mediator cannot serve.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen_addr is required")
	}

	if c.ExternalURL == "" {
		return fmt.Errorf("config: external_url is required")
	}

	for _, alg := range c.SupportedAlgs {
		if alg != envelope.AlgAuthcrypt && alg != envelope.AlgAnoncrypt {
			return fmt.Errorf("config: unsupported algorithm %q", alg)
		}
	}

	if len(c.SupportedAlgs) == 0 {
		return fmt.Errorf("config: supported_algs must not be empty")
	}

	switch c.Storage.Type {
	case StorageMem:
	case StorageSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("config: storage.path is required for sqlite")
		}
	default:
		return fmt.Errorf("config: unknown storage type %q", c.Storage.Type)
	}

	if c.MailboxSoftCap <= 0 || c.MailboxHardByteCap <= 0 {
		return fmt.Errorf("config: mailbox caps must be positive")
	}

	if c.LiveDeliveryBackpressureBound <= 0 {
		return fmt.Errorf("config: live_delivery_backpressure_bound must be positive")
	}

	return nil
}
