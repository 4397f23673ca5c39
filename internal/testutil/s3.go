package testutil

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeObject struct {
	body     []byte
	modified time.Time
}

// FakeS3 is an in-memory stand-in for the S3 client covering put, get,
// head and paginated list. Keys are listed in lexicographic order.
//
// Thread-safety: all methods are safe for concurrent use.
type FakeS3 struct {
	// Now stamps LastModified on put. Defaults to time.Now.
	Now func() time.Time
	// PutDelay holds every PutObject before it is stored.
	PutDelay time.Duration
	// PutErr, when it returns non-nil for a key, fails that put.
	PutErr func(key string) error
	// PageSize caps each list page. Defaults to 1000.
	PageSize int

	mu      sync.Mutex
	objects map[string]fakeObject

	puts      atomic.Int64
	listCalls atomic.Int64
}

// NewFakeS3 creates an empty fake bucket store.
func NewFakeS3() *FakeS3 {
	return &FakeS3{objects: make(map[string]fakeObject)}
}

// PutObject stores the body after PutDelay.
func (f *FakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.PutDelay > 0 {
		select {
		case <-time.After(f.PutDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	key := aws.ToString(in.Key)
	if f.PutErr != nil {
		if err := f.PutErr(key); err != nil {
			return nil, err
		}
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.objects[key] = fakeObject{body: body, modified: f.now()}
	f.mu.Unlock()
	f.puts.Add(1)
	return &s3.PutObjectOutput{}, nil
}

// GetObject returns NoSuchKey for missing keys.
func (f *FakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	obj, ok := f.lookup(aws.ToString(in.Key))
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.body)),
		ContentLength: aws.Int64(int64(len(obj.body))),
		LastModified:  aws.Time(obj.modified),
	}, nil
}

// HeadObject returns NotFound for missing keys.
func (f *FakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	obj, ok := f.lookup(aws.ToString(in.Key))
	if !ok {
		return nil, &types.NotFound{Message: aws.String("Not Found")}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.body))),
		LastModified:  aws.Time(obj.modified),
	}, nil
}

// ListObjectsV2 lists keys under Prefix. The continuation token is the
// offset of the next key.
func (f *FakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.listCalls.Add(1)
	prefix := aws.ToString(in.Prefix)

	f.mu.Lock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if tok := aws.ToString(in.ContinuationToken); tok != "" {
		n, err := strconv.Atoi(tok)
		if err != nil {
			f.mu.Unlock()
			return nil, err
		}
		start = n
	}
	size := f.PageSize
	if in.MaxKeys != nil && *in.MaxKeys > 0 {
		size = int(*in.MaxKeys)
	}
	if size <= 0 {
		size = 1000
	}
	end := min(start+size, len(keys))

	out := &s3.ListObjectsV2Output{}
	for _, k := range keys[start:end] {
		obj := f.objects[k]
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(obj.body))),
			LastModified: aws.Time(obj.modified),
		})
	}
	f.mu.Unlock()

	out.KeyCount = aws.Int32(int32(len(out.Contents)))
	if end < len(keys) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	} else {
		out.IsTruncated = aws.Bool(false)
	}
	return out, nil
}

// SetObject stores body directly, bypassing delays and errors.
func (f *FakeS3) SetObject(key string, body []byte, modified time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = fakeObject{body: body, modified: modified}
}

// Keys returns every stored key in lexicographic order.
func (f *FakeS3) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Puts returns the number of successful puts.
func (f *FakeS3) Puts() int64 { return f.puts.Load() }

// ListCalls returns the number of ListObjectsV2 calls (one per page).
func (f *FakeS3) ListCalls() int64 { return f.listCalls.Load() }

func (f *FakeS3) lookup(key string) (fakeObject, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	return obj, ok
}

func (f *FakeS3) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}
