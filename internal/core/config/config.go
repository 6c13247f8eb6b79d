// Package config provides configuration management for cascade.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/solatis/cascade/internal/core/pipeline"
	"github.com/solatis/cascade/internal/executor/archive"
)

// Rule source kinds.
const (
	RulesSourceDir = "dir"
	RulesSourceSQL = "sql"
)

// EngineConfig controls rule loading and the worker pool.
type EngineConfig struct {
	RulesSource    string
	RulesDir       string
	Workers        int
	QueueSize      int
	HotReload      bool
	ReloadDebounce time.Duration
}

// Pipeline returns the worker pool settings.
func (e EngineConfig) Pipeline() pipeline.Config {
	return pipeline.Config{Workers: e.Workers, QueueSize: e.QueueSize}
}

// APIConfig holds configuration for the collector gRPC API.
type APIConfig struct {
	Host           string
	Port           int
	MaxConnections int
	RequestTimeout time.Duration
	// Auth requires collectors to present an x-api-key.
	Auth bool
}

// Addr returns host:port.
func (a APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// MetricsConfig holds the Prometheus listener. Empty Addr disables it.
type MetricsConfig struct {
	Addr string
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string
	Format string
}

// DBConfig holds the database URL (sqlite://path or postgres://...).
type DBConfig struct {
	URL string
}

// Config is the complete service configuration.
type Config struct {
	Engine  EngineConfig
	API     APIConfig
	Metrics MetricsConfig
	Log     LogConfig
	Archive archive.Config
	DB      DBConfig
}

// DefaultConfig returns configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			RulesSource:    RulesSourceDir,
			RulesDir:       "./rules",
			Workers:        4,
			QueueSize:      1024,
			HotReload:      false,
			ReloadDebounce: time.Second,
		},
		API: APIConfig{
			Host:           "0.0.0.0",
			Port:           50051,
			MaxConnections: 1000,
			RequestTimeout: 30 * time.Second,
			Auth:           true,
		},
		Metrics: MetricsConfig{Addr: ":9090"},
		Log:     LogConfig{Level: "info", Format: "json"},
		Archive: archive.DefaultConfig(),
	}
}

// HMACSecrets extracts HMAC secrets from environment variables.
// Supports CASCADE_HMAC_SECRET (single) and CASCADE_HMAC_SECRET_N (rotation).
// Returns map of secret_id -> decoded secret bytes.
func HMACSecrets() (map[string][]byte, error) {
	secrets := make(map[string][]byte)

	add := func(key, val string) error {
		secretID, decoded, err := ParseHMACSecretWithID(val)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if _, exists := secrets[secretID]; exists {
			return fmt.Errorf("duplicate secret_id '%s' found in environment variables (check CASCADE_HMAC_SECRET and CASCADE_HMAC_SECRET_* for conflicts)", secretID)
		}
		secrets[secretID] = decoded
		return nil
	}

	if val := os.Getenv("CASCADE_HMAC_SECRET"); val != "" {
		if err := add("CASCADE_HMAC_SECRET", val); err != nil {
			return nil, err
		}
	}

	// Numbered secrets stop at the first gap.
	for i := 1; ; i++ {
		key := fmt.Sprintf("CASCADE_HMAC_SECRET_%d", i)
		val := os.Getenv(key)
		if val == "" {
			break
		}
		if err := add(key, val); err != nil {
			return nil, err
		}
	}

	return secrets, nil
}

// ParseHMACSecret decodes a base64 secret of at least 32 bytes.
func ParseHMACSecret(envValue string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(envValue))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}
	if len(decoded) < 32 {
		return nil, fmt.Errorf("secret must be at least 32 bytes, got %d", len(decoded))
	}
	return decoded, nil
}

// ParseHMACSecretWithID parses secret_id:base64_secret format.
// Secret ID must be 32 lowercase hex chars (UUIDv7 without hyphens).
func ParseHMACSecretWithID(envValue string) (secretID string, secret []byte, err error) {
	parts := strings.SplitN(strings.TrimSpace(envValue), ":", 2)
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("format must be <secret_id>:<base64_secret>")
	}

	secretID = parts[0]
	if len(secretID) != 32 {
		return "", nil, fmt.Errorf("secret_id must be 32 hex chars (UUIDv7 without hyphens)")
	}
	for _, c := range secretID {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return "", nil, fmt.Errorf("secret_id must be hex chars only")
		}
	}

	secret, err = ParseHMACSecret(parts[1])
	if err != nil {
		return "", nil, err
	}
	return secretID, secret, nil
}
