package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/zerovault/internal/crypto"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("GATE_PRIMARY_CREDENTIAL", "primary-pass")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, crypto.AlgorithmAES256GCM, cfg.Vault.Algorithm)
	assert.Equal(t, crypto.DefaultChunkSize, cfg.Vault.ChunkSize)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 30*time.Second, cfg.Gate.GrantTTL)
	assert.Equal(t, 1024, cfg.Audit.MaxEvents)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfigFile(t, `
listen_addr: ":9090"
log_level: debug
vault:
  algorithm: ChaCha20-Poly1305
  chunk_size: 32768
  text_preview_limit: 8192
gate:
  primary_credential: primary-pass
  secondary_credentials:
    - share-link-pass
  grant_ttl: 45s
audit:
  max_events: 64
tracing:
  enabled: true
  exporter: otlp
  endpoint: localhost:4317
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, crypto.AlgorithmChaCha20Poly1305, cfg.Vault.Algorithm)
	assert.Equal(t, 32768, cfg.Vault.ChunkSize)
	assert.Equal(t, 8192, cfg.Vault.TextPreviewLimit)
	assert.Equal(t, []string{"share-link-pass"}, cfg.Gate.SecondaryCredentials)
	assert.Equal(t, 45*time.Second, cfg.Gate.GrantTTL)
	assert.Equal(t, 64, cfg.Audit.MaxEvents)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "otlp", cfg.Tracing.Exporter)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeConfigFile(t, `
listen_addr: ":9090"
gate:
  primary_credential: from-file
`)

	t.Setenv("LISTEN_ADDR", ":7070")
	t.Setenv("GATE_PRIMARY_CREDENTIAL", "from-env")
	t.Setenv("VAULT_CHUNK_SIZE", "65536")
	t.Setenv("GATE_GRANT_TTL", "10s")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.ListenAddr)
	assert.Equal(t, "from-env", cfg.Gate.PrimaryCredential)
	assert.Equal(t, 65536, cfg.Vault.ChunkSize)
	assert.Equal(t, 10*time.Second, cfg.Gate.GrantTTL)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Gate.PrimaryCredential = "primary-pass"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"bad algorithm", func(c *Config) { c.Vault.Algorithm = "ROT13" }, true},
		{"chunk size too small", func(c *Config) { c.Vault.ChunkSize = 1 }, true},
		{"chunk size too large", func(c *Config) { c.Vault.ChunkSize = 1 << 30 }, true},
		{"zero text limit", func(c *Config) { c.Vault.TextPreviewLimit = 0 }, true},
		{"unknown backend", func(c *Config) { c.Store.Backend = "tape" }, true},
		{"s3 without bucket", func(c *Config) { c.Store.Backend = "s3" }, true},
		{"s3 with bucket", func(c *Config) {
			c.Store.Backend = "s3"
			c.Store.S3.Bucket = "vault"
		}, false},
		{"missing credential", func(c *Config) { c.Gate.PrimaryCredential = "" }, true},
		{"zero grant ttl", func(c *Config) { c.Gate.GrantTTL = 0 }, true},
		{"unknown exporter", func(c *Config) { c.Tracing.Exporter = "zipkin" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfigRejectsMalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "listen_addr: [not, a, string")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}
