package cassette

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/playback/internal/recording"
)

// Defaults for the s3 backend.
const (
	DefaultS3Bucket       = "optibus-archive"
	DefaultS3Region       = "eu-west-1"
	DefaultS3Root         = "tape_recorder_recordings_js"
	DefaultRequestTimeout = 240 * time.Second
)

// S3API is the subset of the S3 client used by S3Cassette.
// *s3.Client satisfies it; tests substitute a fake.
type S3API interface {
	s3.ListObjectsV2APIClient
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Config holds configuration for S3Cassette.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // optional custom endpoint (MinIO, LocalStack)
	Root     string // key prefix for every recording
	// RequestTimeout bounds each background write and every read request.
	RequestTimeout time.Duration
}

func (c S3Config) withDefaults() S3Config {
	if c.Bucket == "" {
		c.Bucket = DefaultS3Bucket
	}
	if c.Region == "" {
		c.Region = DefaultS3Region
	}
	if c.Root == "" {
		c.Root = DefaultS3Root
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	return c
}

// NewS3Client builds an S3 client from the default AWS credential chain.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	cfg = cfg.withDefaults()
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // required for MinIO/LocalStack
		}
	}), nil
}

// S3Cassette persists recordings to an S3 bucket.
//
// SaveRecording starts both uploads and returns without waiting for them.
// Every read-type operation first waits for all uploads started before it
// (read-your-writes). A failed upload is reported by the next wait.
type S3Cassette struct {
	base

	client  S3API
	bucket  string
	timeout time.Duration
	logger  zerolog.Logger

	inflight inflightWrites
}

// NewS3Cassette creates an S3 cassette using client.
func NewS3Cassette(method string, client S3API, cfg S3Config, logger zerolog.Logger) *S3Cassette {
	cfg = cfg.withDefaults()
	c := &S3Cassette{
		client:  client,
		bucket:  cfg.Bucket,
		timeout: cfg.RequestTimeout,
		logger:  logger.With().Str("component", "s3-cassette").Str("bucket", cfg.Bucket).Logger(),
	}
	c.init(method, KindS3, cfg.Root)
	return c
}

// SaveRecording serializes both halves and uploads them in the background.
// Serialization errors are returned immediately; upload errors surface on
// the next read or Flush.
func (c *S3Cassette) SaveRecording(ctx context.Context, id string, rec *recording.Recording) error {
	data, md := rec.Snapshot()

	metaPath := c.metaPath(id)
	metaBody, err := encodeMetadata(md)
	if err != nil {
		return writeFailed(metaPath, err)
	}
	dataPath := c.dataPath(id)
	dataBody, err := encodeData(data)
	if err != nil {
		return writeFailed(dataPath, err)
	}

	// Uploads outlive the caller's request but keep its values.
	bg := context.WithoutCancel(ctx)
	done := c.inflight.track()
	go func() {
		wctx, cancel := context.WithTimeout(bg, c.timeout)
		defer cancel()

		g, gctx := errgroup.WithContext(wctx)
		g.Go(func() error { return c.putObject(gctx, metaPath, metaBody) })
		g.Go(func() error { return c.putObject(gctx, dataPath, dataBody) })
		err := g.Wait()
		if err != nil {
			c.logger.Error().Err(err).Str("recording_id", id).Msg("background save failed")
		}
		done(err)
	}()

	c.rememberSaved(id)
	return nil
}

func (c *S3Cassette) putObject(ctx context.Context, key string, body []byte) error {
	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return writeFailed(key, err)
	}
	return nil
}

// Flush waits for every upload started so far.
func (c *S3Cassette) Flush(ctx context.Context) error {
	return c.inflight.wait(ctx)
}

// getFile checks existence first so absence is reported as NotFoundError
// instead of a transport failure.
func (c *S3Cassette) getFile(ctx context.Context, key string) ([]byte, error) {
	if err := c.inflight.wait(ctx); err != nil {
		return nil, err
	}

	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.client.HeadObject(rctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, notFound(key, err)
		}
		return nil, fmt.Errorf("s3 head %s: %w", key, err)
	}

	out, err := c.client.GetObject(rctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, notFound(key, err)
		}
		return nil, fmt.Errorf("s3 get %s: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read %s: %w", key, err)
	}
	return b, nil
}

func isS3NotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	return errors.As(err, &nf) || errors.As(err, &nsk)
}

// GetRecordingByKey fetches and decodes the data object.
func (c *S3Cassette) GetRecordingByKey(ctx context.Context, id string) (recording.Data, error) {
	key := c.dataPath(id)
	b, err := c.getFile(ctx, key)
	if err != nil {
		return recording.Data{}, err
	}
	d, err := decodeData(b)
	if err != nil {
		return recording.Data{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return d, nil
}

// GetMetaData fetches and decodes the metadata object.
func (c *S3Cassette) GetMetaData(ctx context.Context, id string) (recording.Metadata, error) {
	key := c.metaPath(id)
	b, err := c.getFile(ctx, key)
	if err != nil {
		return nil, err
	}
	md, err := recording.DecodeMetadata(b)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return md, nil
}

// ListObjects enumerates every page under dir. Each page is filtered and
// sorted by LastModified; pages are concatenated in listing order.
func (c *S3Cassette) ListObjects(ctx context.Context, filter Filter, dir string) ([]Object, error) {
	if err := c.inflight.wait(ctx); err != nil {
		return nil, err
	}
	prefix := c.listDir(dir) + "/"

	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})

	var objs []Object
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list %s: %w", prefix, err)
		}
		part := make([]Object, 0, len(page.Contents))
		for _, o := range page.Contents {
			part = append(part, Object{
				Key:          aws.ToString(o.Key),
				Size:         aws.ToInt64(o.Size),
				LastModified: aws.ToTime(o.LastModified),
			})
		}
		part = keepObjects(part, filter)
		sortByModified(part)
		objs = append(objs, part...)
	}
	return objs, nil
}

// GetAllRecordingIDs lists every id under dir.
func (c *S3Cassette) GetAllRecordingIDs(ctx context.Context, dir string) ([]string, error) {
	return c.GetRecordingsByFilter(ctx, nil, dir)
}

// GetRecordingsByFilter lists ids of objects accepted by filter.
func (c *S3Cassette) GetRecordingsByFilter(ctx context.Context, filter Filter, dir string) ([]string, error) {
	objs, err := c.ListObjects(ctx, filter, dir)
	if err != nil {
		return nil, err
	}
	return objectIDs(objs), nil
}

// Close waits for outstanding uploads.
func (c *S3Cassette) Close() error {
	return c.inflight.wait(context.Background())
}

// inflightWrites tracks each save separately. A waiter only waits for the
// saves that were pending when it started; saves never clear each other.
type inflightWrites struct {
	mu      sync.Mutex
	next    uint64
	pending map[uint64]chan struct{}
	failed  []error
}

// track registers a save and returns the function that completes it.
func (w *inflightWrites) track() func(error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == nil {
		w.pending = make(map[uint64]chan struct{})
	}
	id := w.next
	w.next++
	done := make(chan struct{})
	w.pending[id] = done

	return func(err error) {
		w.mu.Lock()
		delete(w.pending, id)
		if err != nil {
			w.failed = append(w.failed, err)
		}
		w.mu.Unlock()
		close(done)
	}
}

// wait blocks until every save pending at call time has finished, then
// returns (and forgets) the errors of failed saves.
func (w *inflightWrites) wait(ctx context.Context) error {
	w.mu.Lock()
	waiting := make([]chan struct{}, 0, len(w.pending))
	for _, ch := range w.pending {
		waiting = append(waiting, ch)
	}
	w.mu.Unlock()

	for _, ch := range waiting {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	w.mu.Lock()
	failed := w.failed
	w.failed = nil
	w.mu.Unlock()
	return errors.Join(failed...)
}

// pendingCount returns the number of unfinished saves.
func (w *inflightWrites) pendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}
