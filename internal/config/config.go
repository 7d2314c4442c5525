// Package config loads engine settings from an optional YAML file and
// PVM_* environment variables, the latter taking precedence.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendFile   = "file"
)

// Config is the complete engine configuration.
type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Log       LogConfig       `mapstructure:"log"`
	Lock      LockConfig      `mapstructure:"lock"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Security  SecurityConfig  `mapstructure:"security"`
	Tools     ToolsConfig     `mapstructure:"tools"`
}

// StoreConfig selects where instances, history and definitions live.
type StoreConfig struct {
	Backend string       `mapstructure:"backend" env:"PVM_STORE_BACKEND"`
	Redis   RedisConfig  `mapstructure:"redis"`
	SQLite  SQLiteConfig `mapstructure:"sqlite"`
	File    FileConfig   `mapstructure:"file"`
}

// RedisConfig configures the redis adapter.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr" env:"PVM_REDIS_ADDR"`
	Password string        `mapstructure:"password" env:"PVM_REDIS_PASSWORD"`
	DB       int           `mapstructure:"db" env:"PVM_REDIS_DB"`
	Prefix   string        `mapstructure:"prefix" env:"PVM_REDIS_PREFIX"`
	TTL      time.Duration `mapstructure:"ttl" env:"PVM_REDIS_TTL"`
}

// SQLiteConfig configures the sqlite adapter.
type SQLiteConfig struct {
	Path string `mapstructure:"path" env:"PVM_SQLITE_PATH"`
}

// FileConfig configures the JSON file adapter.
type FileConfig struct {
	Path string `mapstructure:"path" env:"PVM_FILE_PATH"`
}

// LogConfig configures the application logger.
type LogConfig struct {
	Level  string `mapstructure:"level" env:"PVM_LOG_LEVEL"`
	Format string `mapstructure:"format" env:"PVM_LOG_FORMAT"`
}

// LockConfig configures per-instance command serialisation.
type LockConfig struct {
	TTL time.Duration `mapstructure:"ttl" env:"PVM_LOCK_TTL"`
	// Distributed also takes a redis lock; only meaningful with the redis backend.
	Distributed bool `mapstructure:"distributed" env:"PVM_LOCK_DISTRIBUTED"`
}

// MetricsConfig configures the HTTP listener of the serve command.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" env:"PVM_METRICS_ADDR"`
}

// TelemetryConfig configures OpenTelemetry tracing. Tracing is off without an endpoint.
type TelemetryConfig struct {
	Endpoint    string `mapstructure:"endpoint" env:"PVM_OTEL_ENDPOINT"`
	ServiceName string `mapstructure:"service_name" env:"PVM_OTEL_SERVICE_NAME"`
}

// SecurityConfig protects process variables at rest and in the inspection API.
type SecurityConfig struct {
	// EncryptionKey is a base64 encoded 32 byte AES key. Variables are stored in clear text without it.
	EncryptionKey string `mapstructure:"encryption_key" env:"PVM_ENCRYPTION_KEY"`
	// FallbackKeys decrypt instances written before a key rotation.
	FallbackKeys []string `mapstructure:"fallback_keys" env:"PVM_ENCRYPTION_FALLBACK_KEYS"`
	// Redact lists variable name patterns masked by the serve command.
	Redact []string `mapstructure:"redact" env:"PVM_REDACT"`
}

// ToolsConfig points at the allow-list of external commands service activities may run.
type ToolsConfig struct {
	Path string `mapstructure:"path" env:"PVM_TOOLS_PATH"`
	Dir  string `mapstructure:"dir" env:"PVM_TOOLS_DIR"`
}

// Keys decodes the active and fallback encryption keys.
func (s SecurityConfig) Keys() (active []byte, fallback [][]byte, err error) {
	if s.EncryptionKey == "" {
		return nil, nil, nil
	}
	if active, err = decodeKey(s.EncryptionKey); err != nil {
		return nil, nil, fmt.Errorf("security.encryption_key: %w", err)
	}
	for i, k := range s.FallbackKeys {
		key, err := decodeKey(k)
		if err != nil {
			return nil, nil, fmt.Errorf("security.fallback_keys[%d]: %w", i, err)
		}
		fallback = append(fallback, key)
	}
	return active, fallback, nil
}

func decodeKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Backend: BackendMemory,
			Redis:   RedisConfig{Addr: "localhost:6379", Prefix: "pvm:"},
			SQLite:  SQLiteConfig{Path: "pvm.db"},
			File:    FileConfig{Path: ".pvm"},
		},
		Log:       LogConfig{Level: "info", Format: "text"},
		Lock:      LockConfig{TTL: 30 * time.Second},
		Metrics:   MetricsConfig{Addr: ":2112"},
		Telemetry: TelemetryConfig{ServiceName: "pvm"},
	}
}

// Load reads path when it is not empty, applies environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           cfg,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("invalid config %s: %w", path, err)
	}
	return nil
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Store.Redis.Addr == "" {
			errs = append(errs, errors.New("store.redis.addr is required for the redis backend"))
		}
	case BackendSQLite:
		if c.Store.SQLite.Path == "" {
			errs = append(errs, errors.New("store.sqlite.path is required for the sqlite backend"))
		}
	case BackendFile:
		if c.Store.File.Path == "" {
			errs = append(errs, errors.New("store.file.path is required for the file backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}
	if c.Lock.Distributed && c.Store.Backend != BackendRedis {
		errs = append(errs, errors.New("lock.distributed requires the redis backend"))
	}
	if _, _, err := c.Security.Keys(); err != nil {
		errs = append(errs, err)
	}
	if c.Lock.TTL <= 0 {
		errs = append(errs, errors.New("lock.ttl must be positive"))
	}
	return errors.Join(errs...)
}
