package cassette

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/playback/internal/recording"
)

type memoryEntry struct {
	data     recording.Data
	metadata recording.Metadata
	isMeta   bool
	size     int64
	modified time.Time
}

// MemoryCassette keeps recordings in a process-local map keyed by storage
// path. Writes complete before SaveRecording returns.
type MemoryCassette struct {
	base

	now func() time.Time

	storeMu sync.RWMutex
	store   map[string]memoryEntry
	order   []string
}

// NewMemoryCassette creates an empty in-memory cassette for method.
func NewMemoryCassette(method string) *MemoryCassette {
	return NewMemoryCassetteWithClock(method, time.Now)
}

// NewMemoryCassetteWithClock is NewMemoryCassette with a custom clock for
// the LastModified of listed objects.
func NewMemoryCassetteWithClock(method string, now func() time.Time) *MemoryCassette {
	c := &MemoryCassette{
		now:   now,
		store: make(map[string]memoryEntry),
	}
	c.init(method, KindMemory, "memory")
	return c
}

// SaveRecording stores a snapshot of the recording's data and metadata.
func (c *MemoryCassette) SaveRecording(_ context.Context, id string, rec *recording.Recording) error {
	data, md := rec.Snapshot()

	var dataSize, metaSize int64
	if b, err := encodeData(data); err == nil {
		dataSize = int64(len(b))
	}
	if b, err := encodeMetadata(md); err == nil {
		metaSize = int64(len(b))
	}

	now := c.now()
	c.put(c.dataPath(id), memoryEntry{data: data, size: dataSize, modified: now})
	c.put(c.metaPath(id), memoryEntry{metadata: md, isMeta: true, size: metaSize, modified: now})
	c.rememberSaved(id)
	return nil
}

func (c *MemoryCassette) put(key string, e memoryEntry) {
	c.storeMu.Lock()
	defer c.storeMu.Unlock()
	if _, exists := c.store[key]; !exists {
		c.order = append(c.order, key)
	}
	c.store[key] = e
}

func (c *MemoryCassette) get(key string) (memoryEntry, bool) {
	c.storeMu.RLock()
	defer c.storeMu.RUnlock()
	e, ok := c.store[key]
	return e, ok
}

// GetRecordingByKey returns a copy of the stored data.
func (c *MemoryCassette) GetRecordingByKey(_ context.Context, id string) (recording.Data, error) {
	key := c.dataPath(id)
	e, ok := c.get(key)
	if !ok {
		return recording.Data{}, notFound(key, nil)
	}
	return e.data.Clone(), nil
}

// GetMetaData returns a copy of the stored metadata.
func (c *MemoryCassette) GetMetaData(_ context.Context, id string) (recording.Metadata, error) {
	key := c.metaPath(id)
	e, ok := c.get(key)
	if !ok {
		return nil, notFound(key, nil)
	}
	return e.metadata.Clone(), nil
}

// ListObjects lists stored files under dir in save order, then by LastModified.
func (c *MemoryCassette) ListObjects(_ context.Context, filter Filter, dir string) ([]Object, error) {
	dir = c.listDir(dir)

	c.storeMu.RLock()
	objs := make([]Object, 0, len(c.order))
	for _, key := range c.order {
		if !underDir(key, dir) {
			continue
		}
		e := c.store[key]
		objs = append(objs, Object{Key: key, Size: e.size, LastModified: e.modified})
	}
	c.storeMu.RUnlock()

	objs = keepObjects(objs, filter)
	sortByModified(objs)
	return objs, nil
}

// GetAllRecordingIDs lists every id under dir.
func (c *MemoryCassette) GetAllRecordingIDs(ctx context.Context, dir string) ([]string, error) {
	return c.GetRecordingsByFilter(ctx, nil, dir)
}

// GetRecordingsByFilter lists ids of objects accepted by filter.
func (c *MemoryCassette) GetRecordingsByFilter(ctx context.Context, filter Filter, dir string) ([]string, error) {
	objs, err := c.ListObjects(ctx, filter, dir)
	if err != nil {
		return nil, err
	}
	return objectIDs(objs), nil
}

// Close is a no-op.
func (c *MemoryCassette) Close() error { return nil }
