// Package worker wraps computational workers with capture and replay.
//
// A Wrapper records the exact arguments and result (or failure) of each
// real invocation onto a recording, hands it to a TapeRecorder on request,
// and can later re-run a stored input against the current implementation.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/roach88/playback/internal/cassette"
	"github.com/roach88/playback/internal/recorder"
	"github.com/roach88/playback/internal/recording"
)

// Worker is a named computational unit.
type Worker interface {
	// Method is the stable name recordings are stored under.
	Method() string
	// Compute runs the core computation. It must not depend on anything
	// but its arguments for replay to be meaningful.
	Compute(ctx context.Context, args ...any) (any, error)
}

// Call is one invocation request: caller context plus arguments.
type Call struct {
	// Context is caller metadata merged into the recording; its
	// "customer" entry selects the storage namespace.
	Context map[string]any
	Args    []any
}

// Wrapper adds capture and replay to a Worker.
//
// A Wrapper serves one invocation at a time: Execute (or Compute), then
// SaveRecording. Saving starts a fresh recording for the next invocation.
type Wrapper struct {
	worker   Worker
	recorder *recorder.TapeRecorder
	logger   zerolog.Logger
	ids      recording.IDGenerator
	now      func() time.Time

	mu      sync.Mutex
	current *recording.Recording
}

// Option configures a Wrapper.
type Option func(*Wrapper)

// WithLogger sets the structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(w *Wrapper) { w.logger = l }
}

// WithIDGenerator sets the recording id source.
func WithIDGenerator(g recording.IDGenerator) Option {
	return func(w *Wrapper) { w.ids = g }
}

// WithClock sets the clock used for recording timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *Wrapper) { w.now = now }
}

// Wrap creates a Wrapper storing through r.
func Wrap(w Worker, r *recorder.TapeRecorder, opts ...Option) *Wrapper {
	wr := &Wrapper{
		worker:   w,
		recorder: r,
		logger:   zerolog.Nop(),
		ids:      recording.UUIDv7Generator{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(wr)
	}
	wr.current = wr.newRecording()
	return wr
}

func (w *Wrapper) newRecording() *recording.Recording {
	return recording.NewWithGenerator(w.worker.Method(), w.ids, w.now())
}

// Method returns the wrapped worker's method.
func (w *Wrapper) Method() string { return w.worker.Method() }

// Recorder returns the tape recorder.
func (w *Wrapper) Recorder() *recorder.TapeRecorder { return w.recorder }

// Recording returns the recording of the current invocation.
func (w *Wrapper) Recording() *recording.Recording {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Execute selects the customer namespace from call.Context (default
// test-customer), merges the context into the recording's metadata and runs
// the captured computation.
func (w *Wrapper) Execute(ctx context.Context, call Call) (any, error) {
	customer := cassette.DefaultCustomer
	if c, ok := call.Context[recording.KeyCustomer].(string); ok && c != "" {
		customer = c
	}
	w.recorder.Cassette().SetCustomer(customer)

	if len(call.Context) > 0 {
		w.Recording().AddMetaData(call.Context)
	}
	return w.Compute(ctx, call.Args...)
}

// Compute runs the worker and captures {input, output}. On failure (error
// or panic) the output is nil, the metadata is tagged with error=true and
// an exception snapshot, and a *CaptureError is returned.
func (w *Wrapper) Compute(ctx context.Context, args ...any) (any, error) {
	rec := w.Recording()

	out, err := w.run(ctx, args)
	if err != nil {
		rec.SetData(recording.Data{Input: args})
		rec.AddMetaData(map[string]any{
			recording.KeyError:     true,
			recording.KeyException: recording.SnapshotError(err).Fields(),
		})
		w.logger.Debug().Err(err).
			Str("method", w.Method()).
			Str("recording_id", rec.ID()).
			Msg("computation failed")
		return nil, &CaptureError{RecordingID: rec.ID(), Err: err}
	}

	rec.SetData(recording.Data{Input: args, Output: out})
	return out, nil
}

// run calls the worker, converting a panic into a *PanicError.
func (w *Wrapper) run(ctx context.Context, args []any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &PanicError{Method: w.Method(), Value: r}
		}
	}()
	return w.worker.Compute(ctx, args...)
}

// SaveRecording hands the current recording to the recorder and starts a
// fresh one. On failure the current recording is kept.
func (w *Wrapper) SaveRecording(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec := w.current
	w.logger.Info().
		Str("recording_id", rec.ID()).
		Str("method", rec.Method()).
		Str("customer", w.recorder.Cassette().Customer()).
		Msg("saving recording")

	if err := w.recorder.SaveRecording(ctx, rec); err != nil {
		return err
	}
	w.current = w.newRecording()
	return nil
}

// PlaybackByInput re-runs the computation on input without capturing and
// returns the result as it would read back from storage: numbers as
// json.Number, structs as maps, undefined fields kept as Undefined.
func (w *Wrapper) PlaybackByInput(ctx context.Context, input []any) (any, error) {
	out, err := w.run(ctx, input)
	if err != nil {
		return nil, err
	}
	canon, err := cassette.Canonicalize(out)
	if err != nil {
		return nil, err
	}
	return cassette.Decanonicalize(canon), nil
}

// PlaybackByRecordingID fetches a stored recording and replays its input.
func (w *Wrapper) PlaybackByRecordingID(ctx context.Context, id string) (any, error) {
	data, err := w.recorder.GetRecordingByKey(ctx, id)
	if err != nil {
		return nil, err
	}
	return w.PlaybackByInput(ctx, data.Input)
}

// LatestRecordedID returns the id most recently saved through this wrapper's
// cassette.
func (w *Wrapper) LatestRecordedID() (string, bool) {
	ids := w.recorder.GetLatestRecordedIDs()
	if len(ids) == 0 {
		return "", false
	}
	return ids[len(ids)-1], true
}

func (w *Wrapper) GetRecordingByKey(ctx context.Context, id string) (recording.Data, error) {
	return w.recorder.GetRecordingByKey(ctx, id)
}

func (w *Wrapper) GetMetaData(ctx context.Context, id string) (recording.Metadata, error) {
	return w.recorder.GetMetaData(ctx, id)
}

func (w *Wrapper) GetAllRecordingIDs(ctx context.Context, dir string) ([]string, error) {
	return w.recorder.GetAllRecordingIDs(ctx, dir)
}

func (w *Wrapper) GetRecordingsByFilter(ctx context.Context, filter cassette.Filter, dir string) ([]string, error) {
	return w.recorder.GetRecordingsByFilter(ctx, filter, dir)
}
