// Package config loads lsmeta settings from a YAML file, LSMETA_*
// environment variables and built-in defaults, in that order of
// precedence lowest-last.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Config is the root configuration.
type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	Guard   GuardConfig   `mapstructure:"guard"`
	Policy  PolicyConfig  `mapstructure:"policy"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Server  ServerConfig  `mapstructure:"server"`
}

// StorageConfig selects the durable log backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend" validate:"required,oneof=sqlite badger memory"`
	// Path is the SQLite file or Badger directory. Unused for memory.
	Path string `mapstructure:"path"`
	// Keep is how many entries per stream compaction retains; 0 keeps all.
	Keep int `mapstructure:"keep" validate:"gte=0"`
}

type GuardConfig struct {
	// WarnThreshold is the critical section hold time that triggers a
	// warning. Zero disables the warning.
	WarnThreshold time.Duration `mapstructure:"warn_threshold" validate:"gte=0"`
}

type PolicyConfig struct {
	// File is an optional CUE document replacing the built-in transition
	// tables.
	File string `mapstructure:"file"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Format string `mapstructure:"format" validate:"required,oneof=text json"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type ServerConfig struct {
	Listen string `mapstructure:"listen" validate:"required,hostname_port"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.backend", BackendSQLite)
	v.SetDefault("storage.path", "lsmeta.db")
	v.SetDefault("storage.keep", 16)
	v.SetDefault("guard.warn_threshold", 100*time.Millisecond)
	v.SetDefault("policy.file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("server.listen", "127.0.0.1:9464")
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("unmarshal defaults: %v", err))
	}
	return &cfg
}

// Load reads the configuration at path. An empty path, or a path that does
// not exist, falls back to defaults plus environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LSMETA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field tags and the rules that span several fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Storage.Backend != BackendMemory && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required for backend %s", c.Storage.Backend)
	}
	if c.Policy.File != "" {
		if _, err := os.Stat(c.Policy.File); err != nil {
			return fmt.Errorf("policy.file: %w", err)
		}
	}
	return nil
}

// SlogLevel maps Log.Level to a slog level.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a logger writing to w in the configured format.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
