/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mediator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/envelope"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mediator.yaml")

	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":9090"
external_url: "https://mediator.example.com"
mailbox_soft_cap: 50
supported_algs:
  - ECDH-1PU+A256KW
storage:
  type: sqlite
  path: /tmp/mediator.db
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.ListenAddr)
	require.Equal(t, "https://mediator.example.com", cfg.ExternalURL)
	require.Equal(t, 50, cfg.MailboxSoftCap)
	require.Equal(t, []string{envelope.AlgAuthcrypt}, cfg.SupportedAlgs)
	require.Equal(t, StorageSQLite, cfg.Storage.Type)

	// untouched fields keep their defaults
	require.Equal(t, 256, cfg.ResolverCacheSize)
	require.Equal(t, []string{"key", "peer", "web"}, cfg.AllowedDIDMethods)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"empty listen addr":  func(c *Config) { c.ListenAddr = "" },
		"empty external url": func(c *Config) { c.ExternalURL = "" },
		"unknown alg":        func(c *Config) { c.SupportedAlgs = []string{"RSA-OAEP"} },
		"no algs":            func(c *Config) { c.SupportedAlgs = nil },
		"unknown storage":    func(c *Config) { c.Storage.Type = "redis" },
		"sqlite without path": func(c *Config) {
			c.Storage = StorageConfig{Type: StorageSQLite}
		},
		"zero mailbox cap":  func(c *Config) { c.MailboxSoftCap = 0 },
		"zero backpressure": func(c *Config) { c.LiveDeliveryBackpressureBound = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
