package cassette

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/playback/internal/recording"
)

// DefaultRedisRoot is the key prefix of the redis backend.
const DefaultRedisRoot = "playback"

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string // Redis server address (host:port)
	Password string // Redis password (optional)
	DB       int    // Redis database number
	Root     string // key prefix for every recording
}

// NewRedisClient dials Redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

// RedisCassette stores each recording file as a string key named by its
// storage path. A sorted set per root indexes every path by modification
// time (unix milliseconds) for listings.
type RedisCassette struct {
	base

	client *redis.Client
	now    func() time.Time
}

// NewRedisCassette creates a redis cassette using client. The cassette owns
// the client and closes it on Close.
func NewRedisCassette(method string, client *redis.Client, root string) *RedisCassette {
	if root == "" {
		root = DefaultRedisRoot
	}
	c := &RedisCassette{client: client, now: time.Now}
	c.init(method, KindRedis, root)
	return c
}

func (c *RedisCassette) indexKey() string {
	return c.root + ":index"
}

// SaveRecording writes both halves and their index entries in one MULTI.
func (c *RedisCassette) SaveRecording(ctx context.Context, id string, rec *recording.Recording) error {
	data, md := rec.Snapshot()

	dataPath := c.dataPath(id)
	dataBody, err := encodeData(data)
	if err != nil {
		return writeFailed(dataPath, err)
	}
	metaPath := c.metaPath(id)
	metaBody, err := encodeMetadata(md)
	if err != nil {
		return writeFailed(metaPath, err)
	}

	score := float64(c.now().UnixMilli())
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, dataPath, dataBody, 0)
		pipe.Set(ctx, metaPath, metaBody, 0)
		pipe.ZAdd(ctx, c.indexKey(),
			redis.Z{Score: score, Member: dataPath},
			redis.Z{Score: score, Member: metaPath},
		)
		return nil
	})
	if err != nil {
		return writeFailed(dataPath, err)
	}

	c.rememberSaved(id)
	return nil
}

func (c *RedisCassette) readFile(ctx context.Context, path string) ([]byte, error) {
	b, err := c.client.Get(ctx, path).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(path, err)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return b, nil
}

// GetRecordingByKey reads and decodes the data key.
func (c *RedisCassette) GetRecordingByKey(ctx context.Context, id string) (recording.Data, error) {
	path := c.dataPath(id)
	b, err := c.readFile(ctx, path)
	if err != nil {
		return recording.Data{}, err
	}
	d, err := decodeData(b)
	if err != nil {
		return recording.Data{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return d, nil
}

// GetMetaData reads and decodes the metadata key.
func (c *RedisCassette) GetMetaData(ctx context.Context, id string) (recording.Metadata, error) {
	path := c.metaPath(id)
	b, err := c.readFile(ctx, path)
	if err != nil {
		return nil, err
	}
	md, err := recording.DecodeMetadata(b)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return md, nil
}

// ListObjects scans the index in score order and keeps paths under dir.
// Sizes are read with one pipelined STRLEN per match.
func (c *RedisCassette) ListObjects(ctx context.Context, filter Filter, dir string) ([]Object, error) {
	dir = c.listDir(dir)

	entries, err := c.client.ZRangeWithScores(ctx, c.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	var objs []Object
	for _, z := range entries {
		key, ok := z.Member.(string)
		if !ok || !underDir(key, dir) {
			continue
		}
		objs = append(objs, Object{Key: key, LastModified: time.UnixMilli(int64(z.Score))})
	}
	if len(objs) == 0 {
		return objs, nil
	}

	lens := make([]*redis.IntCmd, len(objs))
	_, err = c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, o := range objs {
			lens[i] = pipe.StrLen(ctx, o.Key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	for i := range objs {
		objs[i].Size = lens[i].Val()
	}

	return keepObjects(objs, filter), nil
}

// GetAllRecordingIDs lists every id under dir.
func (c *RedisCassette) GetAllRecordingIDs(ctx context.Context, dir string) ([]string, error) {
	return c.GetRecordingsByFilter(ctx, nil, dir)
}

// GetRecordingsByFilter lists ids of keys accepted by filter.
func (c *RedisCassette) GetRecordingsByFilter(ctx context.Context, filter Filter, dir string) ([]string, error) {
	objs, err := c.ListObjects(ctx, filter, dir)
	if err != nil {
		return nil, err
	}
	return objectIDs(objs), nil
}

// Close closes the Redis connection.
func (c *RedisCassette) Close() error {
	return c.client.Close()
}
