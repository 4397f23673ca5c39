package cassette

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/roach88/playback/internal/recording"
)

// FSCassette persists each recording as two sibling JSON files (full data
// and metadata) under a local root directory. Writes are atomic and durable:
// renameio writes a temp file, fsyncs and renames it into place.
type FSCassette struct {
	base
}

// NewFSCassette creates a filesystem cassette rooted at root.
// Directories are created on demand when saving.
func NewFSCassette(method, root string) *FSCassette {
	c := &FSCassette{}
	c.init(method, KindFS, filepath.ToSlash(root))
	return c
}

// SaveRecording writes the data file, then the metadata file.
func (c *FSCassette) SaveRecording(_ context.Context, id string, rec *recording.Recording) error {
	data, md := rec.Snapshot()

	dataPath := c.dataPath(id)
	body, err := encodeData(data)
	if err != nil {
		return writeFailed(dataPath, err)
	}
	if err := saveFile(dataPath, body); err != nil {
		return err
	}
	c.rememberSaved(id)

	metaPath := c.metaPath(id)
	metaBody, err := encodeMetadata(md)
	if err != nil {
		return writeFailed(metaPath, err)
	}
	return saveFile(metaPath, metaBody)
}

// saveFile creates parent directories and atomically replaces path.
func saveFile(path string, content []byte) error {
	osPath := filepath.FromSlash(path)
	//nolint:gosec // G301: recordings are shared with other tooling
	if err := os.MkdirAll(filepath.Dir(osPath), 0o755); err != nil {
		return writeFailed(path, err)
	}

	pending, err := renameio.NewPendingFile(osPath, renameio.WithPermissions(0o644))
	if err != nil {
		return writeFailed(path, err)
	}
	// Cleanup is a no-op once the file has been committed.
	defer func() { _ = pending.Cleanup() }()

	if _, err := pending.Write(content); err != nil {
		return writeFailed(path, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return writeFailed(path, err)
	}
	return nil
}

func readFile(path string) ([]byte, error) {
	b, err := os.ReadFile(filepath.FromSlash(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(path, err)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return b, nil
}

// GetRecordingByKey reads and decodes the data file.
func (c *FSCassette) GetRecordingByKey(_ context.Context, id string) (recording.Data, error) {
	path := c.dataPath(id)
	b, err := readFile(path)
	if err != nil {
		return recording.Data{}, err
	}
	d, err := decodeData(b)
	if err != nil {
		return recording.Data{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return d, nil
}

// GetMetaData reads and decodes the metadata file.
func (c *FSCassette) GetMetaData(_ context.Context, id string) (recording.Metadata, error) {
	path := c.metaPath(id)
	b, err := readFile(path)
	if err != nil {
		return nil, err
	}
	md, err := recording.DecodeMetadata(b)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return md, nil
}

// ListObjects walks dir recursively. A missing directory lists as empty.
func (c *FSCassette) ListObjects(ctx context.Context, filter Filter, dir string) ([]Object, error) {
	dir = c.listDir(dir)

	var objs []Object
	err := filepath.WalkDir(filepath.FromSlash(dir), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		objs = append(objs, Object{
			Key:          filepath.ToSlash(p),
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	objs = keepObjects(objs, filter)
	sortByModified(objs)
	return objs, nil
}

// GetAllRecordingIDs lists every id under dir.
func (c *FSCassette) GetAllRecordingIDs(ctx context.Context, dir string) ([]string, error) {
	return c.GetRecordingsByFilter(ctx, nil, dir)
}

// GetRecordingsByFilter lists ids of files accepted by filter.
func (c *FSCassette) GetRecordingsByFilter(ctx context.Context, filter Filter, dir string) ([]string, error) {
	objs, err := c.ListObjects(ctx, filter, dir)
	if err != nil {
		return nil, err
	}
	return objectIDs(objs), nil
}

// Close is a no-op.
func (c *FSCassette) Close() error { return nil }
