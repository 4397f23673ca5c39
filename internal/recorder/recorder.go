// Package recorder provides the TapeRecorder, the single entry point through
// which recordings reach storage.
package recorder

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/roach88/playback/internal/cassette"
	"github.com/roach88/playback/internal/config"
	"github.com/roach88/playback/internal/recording"
)

// TapeRecorder forwards every operation to the cassette it holds.
// It keeps no state of its own.
type TapeRecorder struct {
	cassette cassette.Cassette
}

// New creates a TapeRecorder around c.
func New(c cassette.Cassette) *TapeRecorder {
	return &TapeRecorder{cassette: c}
}

// Open builds the cassette selected by cfg (configured type, then the
// environment policy) and wraps it.
func Open(ctx context.Context, method string, cfg config.Config, logger zerolog.Logger) (*TapeRecorder, error) {
	kind, err := cfg.StorageKind(os.Getenv)
	if err != nil {
		return nil, err
	}
	c, err := cassette.New(ctx, kind, method, cfg.CassetteOptions(logger))
	if err != nil {
		return nil, fmt.Errorf("open %s cassette: %w", kind, err)
	}
	logger.Debug().
		Str("method", method).
		Str("storage", string(kind)).
		Str("root", c.Root()).
		Msg("cassette opened")
	return New(c), nil
}

// Cassette returns the held cassette.
func (r *TapeRecorder) Cassette() cassette.Cassette { return r.cassette }

// SaveRecording stores rec under its own id.
func (r *TapeRecorder) SaveRecording(ctx context.Context, rec *recording.Recording) error {
	return r.cassette.SaveRecording(ctx, rec.ID(), rec)
}

func (r *TapeRecorder) GetRecordingByKey(ctx context.Context, id string) (recording.Data, error) {
	return r.cassette.GetRecordingByKey(ctx, id)
}

func (r *TapeRecorder) GetMetaData(ctx context.Context, id string) (recording.Metadata, error) {
	return r.cassette.GetMetaData(ctx, id)
}

func (r *TapeRecorder) GetAllRecordingIDs(ctx context.Context, dir string) ([]string, error) {
	return r.cassette.GetAllRecordingIDs(ctx, dir)
}

func (r *TapeRecorder) GetRecordingsByFilter(ctx context.Context, filter cassette.Filter, dir string) ([]string, error) {
	return r.cassette.GetRecordingsByFilter(ctx, filter, dir)
}

func (r *TapeRecorder) ListObjects(ctx context.Context, filter cassette.Filter, dir string) ([]cassette.Object, error) {
	return r.cassette.ListObjects(ctx, filter, dir)
}

func (r *TapeRecorder) GetLatestRecordedIDs() []string {
	return r.cassette.GetLatestRecordedIDs()
}

// Close releases the cassette.
func (r *TapeRecorder) Close() error {
	return r.cassette.Close()
}
