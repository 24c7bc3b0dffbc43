package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kenneth/zerovault/internal/crypto"
	"github.com/kenneth/zerovault/internal/store"
)

// Config holds the complete application configuration.
type Config struct {
	ListenAddr string        `yaml:"listen_addr" env:"LISTEN_ADDR"`
	LogLevel   string        `yaml:"log_level" env:"LOG_LEVEL"`
	Vault      VaultConfig   `yaml:"vault"`
	Store      StoreConfig   `yaml:"store"`
	Gate       GateConfig    `yaml:"gate"`
	Audit      AuditConfig   `yaml:"audit"`
	Tracing    TracingConfig `yaml:"tracing"`
	Server     ServerConfig  `yaml:"server"`
}

// VaultConfig holds encryption and preview settings.
type VaultConfig struct {
	Algorithm        string `yaml:"algorithm" env:"VAULT_ALGORITHM"`
	ChunkSize        int    `yaml:"chunk_size" env:"VAULT_CHUNK_SIZE"`
	TextPreviewLimit int    `yaml:"text_preview_limit" env:"VAULT_TEXT_PREVIEW_LIMIT"`
}

// StoreConfig selects and configures the ciphertext store backend.
type StoreConfig struct {
	Backend string         `yaml:"backend" env:"STORE_BACKEND"` // memory or s3
	S3      store.S3Config `yaml:"s3"`
}

// GateConfig holds the local access gate configuration.
type GateConfig struct {
	PrimaryCredential    string        `yaml:"primary_credential" env:"GATE_PRIMARY_CREDENTIAL"`
	SecondaryCredentials []string      `yaml:"secondary_credentials"`
	GrantTTL             time.Duration `yaml:"grant_ttl" env:"GATE_GRANT_TTL"`
}

// AuditConfig holds audit event retention settings.
type AuditConfig struct {
	MaxEvents int `yaml:"max_events" env:"AUDIT_MAX_EVENTS"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled" env:"TRACING_ENABLED"`
	Exporter string `yaml:"exporter" env:"TRACING_EXPORTER"` // stdout, otlp, or jaeger
	Endpoint string `yaml:"endpoint" env:"TRACING_ENDPOINT"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	ReadTimeout       time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout      time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"SERVER_READ_HEADER_TIMEOUT"`
}

// LoadConfig loads configuration from a file and environment variables. A
// missing file is not an error; env and defaults still apply.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	loadFromEnv(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// DefaultConfig returns a configuration with defaults applied.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr: ":8080",
		LogLevel:   "info",
		Vault: VaultConfig{
			Algorithm:        crypto.AlgorithmAES256GCM,
			ChunkSize:        crypto.DefaultChunkSize,
			TextPreviewLimit: 32 * 1024,
		},
		Store: StoreConfig{Backend: "memory"},
		Gate:  GateConfig{GrantTTL: 30 * time.Second},
		Audit: AuditConfig{MaxEvents: 1024},
		Tracing: TracingConfig{
			Exporter: "stdout",
		},
		Server: ServerConfig{
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// loadFromEnv loads configuration values from environment variables.
func loadFromEnv(config *Config) {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		config.ListenAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.LogLevel = v
	}
	if v := os.Getenv("VAULT_ALGORITHM"); v != "" {
		config.Vault.Algorithm = v
	}
	if v := os.Getenv("VAULT_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Vault.ChunkSize = n
		}
	}
	if v := os.Getenv("VAULT_TEXT_PREVIEW_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Vault.TextPreviewLimit = n
		}
	}
	if v := os.Getenv("STORE_BACKEND"); v != "" {
		config.Store.Backend = v
	}
	if v := os.Getenv("STORE_S3_ENDPOINT"); v != "" {
		config.Store.S3.Endpoint = v
	}
	if v := os.Getenv("STORE_S3_REGION"); v != "" {
		config.Store.S3.Region = v
	}
	if v := os.Getenv("STORE_S3_BUCKET"); v != "" {
		config.Store.S3.Bucket = v
	}
	if v := os.Getenv("STORE_S3_ACCESS_KEY"); v != "" {
		config.Store.S3.AccessKey = v
	}
	if v := os.Getenv("STORE_S3_SECRET_KEY"); v != "" {
		config.Store.S3.SecretKey = v
	}
	if v := os.Getenv("STORE_S3_USE_PATH_STYLE"); v != "" {
		config.Store.S3.UsePathStyle = v == "true" || v == "1"
	}
	if v := os.Getenv("GATE_PRIMARY_CREDENTIAL"); v != "" {
		config.Gate.PrimaryCredential = v
	}
	if v := os.Getenv("GATE_GRANT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Gate.GrantTTL = d
		}
	}
	if v := os.Getenv("AUDIT_MAX_EVENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Audit.MaxEvents = n
		}
	}
	if v := os.Getenv("TRACING_ENABLED"); v != "" {
		config.Tracing.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("TRACING_EXPORTER"); v != "" {
		config.Tracing.Exporter = v
	}
	if v := os.Getenv("TRACING_ENDPOINT"); v != "" {
		config.Tracing.Endpoint = v
	}
	if v := os.Getenv("SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Server.WriteTimeout = d
		}
	}
	if v := os.Getenv("SERVER_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Server.IdleTimeout = d
		}
	}
	if v := os.Getenv("SERVER_READ_HEADER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Server.ReadHeaderTimeout = d
		}
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	switch c.Vault.Algorithm {
	case crypto.AlgorithmAES256GCM, crypto.AlgorithmChaCha20Poly1305:
	default:
		return fmt.Errorf("unsupported vault algorithm: %s", c.Vault.Algorithm)
	}
	if c.Vault.ChunkSize < crypto.MinChunkSize || c.Vault.ChunkSize > crypto.MaxChunkSize {
		return fmt.Errorf("vault chunk size %d out of range [%d, %d]", c.Vault.ChunkSize, crypto.MinChunkSize, crypto.MaxChunkSize)
	}
	if c.Vault.TextPreviewLimit <= 0 {
		return fmt.Errorf("text preview limit must be positive")
	}

	switch c.Store.Backend {
	case "memory":
	case "s3":
		if c.Store.S3.Bucket == "" {
			return fmt.Errorf("s3 store requires a bucket")
		}
	default:
		return fmt.Errorf("unsupported store backend: %s", c.Store.Backend)
	}

	if c.Gate.PrimaryCredential == "" {
		return fmt.Errorf("gate primary credential is required")
	}
	if c.Gate.GrantTTL <= 0 {
		return fmt.Errorf("gate grant ttl must be positive")
	}

	switch c.Tracing.Exporter {
	case "stdout", "otlp", "jaeger":
	default:
		return fmt.Errorf("unsupported tracing exporter: %s", c.Tracing.Exporter)
	}
	return nil
}
