// Package config loads playback settings: YAML file first, then environment
// overrides. Command-line flags are applied by the CLI on top.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/roach88/playback/internal/cassette"
)

// DefaultFile is the config file looked up when none is given.
const DefaultFile = "playback.yaml"

// Config is the root of playback.yaml.
type Config struct {
	Storage Storage `yaml:"storage"`
	Player  Player  `yaml:"player"`

	// Comparators is an optional CUE file of declarative comparator rules.
	// Relative paths are resolved against the config file's directory.
	Comparators string `yaml:"comparators,omitempty"`

	LogLevel string `yaml:"log_level,omitempty"`
}

// Storage selects and configures the cassette backend.
type Storage struct {
	// Type is memory, fs, s3, sqlite or redis. Empty selects by environment.
	Type string `yaml:"type,omitempty"`
	// Root is the fs directory, or the key prefix for s3 and redis.
	Root   string `yaml:"root,omitempty"`
	S3     S3     `yaml:"s3"`
	SQLite SQLite `yaml:"sqlite"`
	Redis  Redis  `yaml:"redis"`
}

// S3 configures the s3 backend.
type S3 struct {
	Bucket   string        `yaml:"bucket,omitempty"`
	Region   string        `yaml:"region,omitempty"`
	Endpoint string        `yaml:"endpoint,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
}

// SQLite configures the sqlite backend.
type SQLite struct {
	Path string `yaml:"path,omitempty"`
}

// Redis configures the redis backend.
type Redis struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// Player configures batch replay.
type Player struct {
	SkipRecordedErrors bool `yaml:"skip_recorded_errors,omitempty"`
	// Window is how far back the customer mode looks. Default 7 days.
	Window time.Duration `yaml:"window,omitempty"`
	// MinSize skips listed objects of this size or smaller. Default 10 bytes.
	MinSize int64 `yaml:"min_size,omitempty"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Storage: Storage{
			S3: S3{
				Bucket:  cassette.DefaultS3Bucket,
				Region:  cassette.DefaultS3Region,
				Timeout: cassette.DefaultRequestTimeout,
			},
			SQLite: SQLite{Path: cassette.DefaultSQLitePath},
			Redis:  Redis{Addr: cassette.DefaultRedisAddr},
		},
		Player: Player{
			Window:  7 * 24 * time.Hour,
			MinSize: 10,
		},
	}
}

// Load reads path over the defaults. Unknown fields are rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Comparators != "" && !filepath.IsAbs(cfg.Comparators) {
		cfg.Comparators = filepath.Join(filepath.Dir(path), cfg.Comparators)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOptional is Load, except that a missing file yields the defaults.
func LoadOptional(path string) (Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// ApplyEnv overrides fields from environment variables. getenv is usually
// os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string, logger zerolog.Logger) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			logger.Debug().Str("key", key).Str("source", "environment").Msg("using environment variable")
			*dst = v
		}
	}

	str("PLAYBACK_STORAGE", &c.Storage.Type)
	str("PLAYBACK_ROOT", &c.Storage.Root)
	str("PLAYBACK_RECORDING_BUCKET", &c.Storage.S3.Bucket)
	str("PLAYBACK_S3_REGION", &c.Storage.S3.Region)
	str("PLAYBACK_S3_ENDPOINT", &c.Storage.S3.Endpoint)
	str("PLAYBACK_SQLITE_PATH", &c.Storage.SQLite.Path)
	str("PLAYBACK_REDIS_ADDR", &c.Storage.Redis.Addr)
	str("PLAYBACK_REDIS_PASSWORD", &c.Storage.Redis.Password)
	str("PLAYBACK_COMPARATORS", &c.Comparators)
	str("LOG_LEVEL", &c.LogLevel)

	if v := getenv("PLAYBACK_REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PLAYBACK_REDIS_DB: %w", err)
		}
		c.Storage.Redis.DB = db
	}
	if v := getenv("PLAYBACK_SKIP_RECORDED_ERRORS"); v != "" {
		skip, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PLAYBACK_SKIP_RECORDED_ERRORS: %w", err)
		}
		c.Player.SkipRecordedErrors = skip
	}
	return c.Validate()
}

// Validate checks field values.
func (c *Config) Validate() error {
	if c.Storage.Type != "" {
		if _, err := cassette.ParseKind(c.Storage.Type); err != nil {
			return fmt.Errorf("storage.type: %w", err)
		}
	}
	if c.Storage.S3.Timeout < 0 {
		return fmt.Errorf("storage.s3.timeout must not be negative")
	}
	if c.Storage.Redis.DB < 0 {
		return fmt.Errorf("storage.redis.db must not be negative")
	}
	if c.Player.Window < 0 {
		return fmt.Errorf("player.window must not be negative")
	}
	if c.Player.MinSize < 0 {
		return fmt.Errorf("player.min_size must not be negative")
	}
	return nil
}

// StorageKind resolves the backend: configured type, then environment
// policy, then memory.
func (c *Config) StorageKind(getenv func(string) string) (cassette.Kind, error) {
	return cassette.Select(c.Storage.Type, getenv)
}

// CassetteOptions converts the storage section for cassette.New.
func (c *Config) CassetteOptions(logger zerolog.Logger) cassette.Options {
	return cassette.Options{
		Root: c.Storage.Root,
		S3: cassette.S3Config{
			Bucket:         c.Storage.S3.Bucket,
			Region:         c.Storage.S3.Region,
			Endpoint:       c.Storage.S3.Endpoint,
			RequestTimeout: c.Storage.S3.Timeout,
		},
		SQLitePath: c.Storage.SQLite.Path,
		Redis: cassette.RedisConfig{
			Addr:     c.Storage.Redis.Addr,
			Password: c.Storage.Redis.Password,
			DB:       c.Storage.Redis.DB,
		},
		Logger: logger,
	}
}
