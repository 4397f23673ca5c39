package cassette

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Defaults for the local backends.
const (
	DefaultFSRoot     = "recordings"
	DefaultSQLitePath = "playback.db"
	DefaultRedisAddr  = "localhost:6379"
)

// Options configures New. Zero values select each backend's defaults.
type Options struct {
	// Root is the fs directory, or the key prefix for s3 and redis.
	Root string

	S3 S3Config
	// S3Client overrides the client built from S3.
	S3Client S3API

	SQLitePath string

	Redis RedisConfig
	// RedisClient overrides the client dialed from Redis.
	RedisClient *redis.Client

	Logger zerolog.Logger
}

// ParseKind validates a backend name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unsupported storage type %q (want one of %v)", s, Kinds)
}

// Select picks the backend kind: an explicit choice wins, then the
// environment (PLAYBACK_ENV=production, or ENV=titus, selects s3), then memory.
// getenv is usually os.Getenv.
func Select(explicit string, getenv func(string) string) (Kind, error) {
	if explicit != "" {
		return ParseKind(explicit)
	}
	if getenv != nil {
		if getenv("PLAYBACK_ENV") == "production" || getenv("ENV") == "titus" {
			return KindS3, nil
		}
	}
	return KindMemory, nil
}

// New creates a cassette of the given kind for method.
func New(ctx context.Context, kind Kind, method string, opts Options) (Cassette, error) {
	switch kind {
	case KindMemory:
		return NewMemoryCassette(method), nil

	case KindFS:
		root := opts.Root
		if root == "" {
			root = DefaultFSRoot
		}
		return NewFSCassette(method, root), nil

	case KindS3:
		cfg := opts.S3
		if cfg.Root == "" {
			cfg.Root = opts.Root
		}
		client := opts.S3Client
		if client == nil {
			c, err := NewS3Client(ctx, cfg)
			if err != nil {
				return nil, err
			}
			client = c
		}
		return NewS3Cassette(method, client, cfg, opts.Logger), nil

	case KindSQLite:
		path := opts.SQLitePath
		if path == "" {
			path = DefaultSQLitePath
		}
		return NewSQLiteCassette(method, path)

	case KindRedis:
		cfg := opts.Redis
		if cfg.Root == "" {
			cfg.Root = opts.Root
		}
		if cfg.Addr == "" {
			cfg.Addr = DefaultRedisAddr
		}
		client := opts.RedisClient
		if client == nil {
			c, err := NewRedisClient(ctx, cfg)
			if err != nil {
				return nil, err
			}
			client = c
		}
		return NewRedisCassette(method, client, cfg.Root), nil

	default:
		return nil, fmt.Errorf("unsupported storage type %q", kind)
	}
}
