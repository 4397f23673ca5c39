// Package cassette stores recordings.
//
// A Cassette is bound to one worker method and one backend kind. It owns a
// mutable customer namespace; every read and write is addressed through the
// path scheme
//
//	{root}/{customer}/{full|metadata}/{method}/{id}.json
//
// # Backends
//
//   - memory: process-local map, synchronous
//   - fs: two JSON files per recording, atomic writes
//   - s3: remote bucket, writes are not awaited by the caller; reads wait for
//     all outstanding writes first (read-your-writes barrier)
//   - sqlite: single table keyed by storage path
//   - redis: string keys plus a per-directory sorted-set index
//
// Re-saving an id overwrites the previous value. There is no merge, no
// version history and no collision detection.
package cassette

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/playback/internal/recording"
)

// Kind selects a storage backend.
type Kind string

const (
	KindMemory Kind = "memory"
	KindFS     Kind = "fs"
	KindS3     Kind = "s3"
	KindSQLite Kind = "sqlite"
	KindRedis  Kind = "redis"
)

// Kinds lists every supported backend kind.
var Kinds = []Kind{KindMemory, KindFS, KindS3, KindSQLite, KindRedis}

// DefaultCustomer is the namespace used until SetCustomer is called.
const DefaultCustomer = "test-customer"

// Path segments separating full recordings from their metadata.
const (
	fullDir     = "full"
	metadataDir = "metadata"
)

// Object is one stored file as seen by a listing.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Filter decides whether a listed object is kept. A nil Filter keeps everything.
type Filter func(Object) bool

// Cassette is the storage capability shared by every backend.
type Cassette interface {
	Method() string
	Kind() Kind
	Root() string
	Customer() string
	// SetCustomer redirects subsequent reads and writes to another namespace.
	SetCustomer(customer string)

	SaveRecording(ctx context.Context, id string, rec *recording.Recording) error
	GetRecordingByKey(ctx context.Context, id string) (recording.Data, error)
	GetMetaData(ctx context.Context, id string) (recording.Metadata, error)

	// GetAllRecordingIDs lists ids under dir, or under the method's
	// recordings directory when dir is empty.
	GetAllRecordingIDs(ctx context.Context, dir string) ([]string, error)
	// GetRecordingsByFilter lists ids of objects under dir accepted by filter.
	GetRecordingsByFilter(ctx context.Context, filter Filter, dir string) ([]string, error)
	// ListObjects is GetRecordingsByFilter without the key-to-id mapping.
	ListObjects(ctx context.Context, filter Filter, dir string) ([]Object, error)

	// GetLatestRecordedIDs returns ids saved through this instance, oldest first.
	GetLatestRecordedIDs() []string

	Close() error
}

// PlayBackFileSuffix is the extension of every recording file.
func PlayBackFileSuffix() string {
	return ".json"
}

// IDFromKey extracts the recording id from a storage key or file name.
func IDFromKey(key string) string {
	return strings.TrimSuffix(path.Base(key), PlayBackFileSuffix())
}

// CustomerFromKey returns the customer segment of a key stored under root.
// It returns "" when key is not under root.
func CustomerFromKey(root, key string) string {
	rel := key
	if root = cleanRoot(root); root != "" && root != "." {
		prefix := root + "/"
		if !strings.HasPrefix(key, prefix) {
			return ""
		}
		rel = strings.TrimPrefix(key, prefix)
	}
	customer, _, found := strings.Cut(rel, "/")
	if !found {
		return ""
	}
	return customer
}

// IsRecordingKey reports whether key addresses a full recording of method.
func IsRecordingKey(key, method string) bool {
	return strings.HasSuffix(key, PlayBackFileSuffix()) &&
		strings.Contains(key, "/"+fullDir+"/"+method+"/")
}

// base holds the state and addressing shared by all backends.
type base struct {
	method string
	kind   Kind
	root   string

	mu       sync.RWMutex
	customer string
	latest   []string
}

func (b *base) init(method string, kind Kind, root string) {
	b.method = method
	b.kind = kind
	b.root = cleanRoot(root)
	b.customer = DefaultCustomer
}

func (b *base) Method() string { return b.method }
func (b *base) Kind() Kind     { return b.kind }
func (b *base) Root() string   { return b.root }

func (b *base) Customer() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.customer
}

// SetCustomer stores the NFC-normalized customer name so that visually
// identical names map to the same storage path.
func (b *base) SetCustomer(customer string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.customer = norm.NFC.String(customer)
}

func (b *base) GetLatestRecordedIDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.latest...)
}

func (b *base) rememberSaved(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest = append(b.latest, id)
}

func (b *base) join(elem ...string) string {
	if b.root == "" {
		return path.Join(elem...)
	}
	return path.Join(append([]string{b.root}, elem...)...)
}

// recordingsDir is {root}/{customer}/full/{method}.
func (b *base) recordingsDir() string {
	return b.join(b.Customer(), fullDir, b.method)
}

// metaDir is {root}/{customer}/metadata/{method}.
func (b *base) metaDir() string {
	return b.join(b.Customer(), metadataDir, b.method)
}

func (b *base) dataPath(id string) string {
	return b.recordingsDir() + "/" + id + PlayBackFileSuffix()
}

func (b *base) metaPath(id string) string {
	return b.metaDir() + "/" + id + PlayBackFileSuffix()
}

// listDir resolves the directory argument of the listing operations.
func (b *base) listDir(dir string) string {
	if dir == "" {
		return b.recordingsDir()
	}
	return cleanRoot(dir)
}

// cleanRoot returns the lexically cleaned form of a root or directory, the
// form listings report keys in. The empty root stays empty.
func cleanRoot(root string) string {
	if root == "" {
		return ""
	}
	return path.Clean(root)
}

// underDir reports whether key lives below dir.
func underDir(key, dir string) bool {
	if dir == "" || dir == "." {
		return true
	}
	return strings.HasPrefix(key, dir+"/")
}

// keepObjects applies filter and the recording suffix check.
func keepObjects(objs []Object, filter Filter) []Object {
	out := make([]Object, 0, len(objs))
	for _, o := range objs {
		if !strings.HasSuffix(o.Key, PlayBackFileSuffix()) {
			continue
		}
		if filter != nil && !filter(o) {
			continue
		}
		out = append(out, o)
	}
	return out
}

// sortByModified orders objects oldest first; ties keep discovery order.
func sortByModified(objs []Object) {
	sort.SliceStable(objs, func(i, j int) bool {
		return objs[i].LastModified.Before(objs[j].LastModified)
	})
}

func objectIDs(objs []Object) []string {
	ids := make([]string, len(objs))
	for i, o := range objs {
		ids[i] = IDFromKey(o.Key)
	}
	return ids
}
