package cassette

import (
	"errors"
	"fmt"
)

// ErrNotFound is matched (via errors.Is) by every NotFoundError.
var ErrNotFound = errors.New("recording not found")

// NotFoundError reports a missing recording or metadata file.
type NotFoundError struct {
	// Path is the storage path that was requested.
	Path string
	// Err is the backend error that signalled absence, if any.
	Err error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("recording file was not found: %s", e.Path)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrNotFound) true for any NotFoundError.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// WriteError wraps a failed write with the path it targeted.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("save %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// IsNotFound returns true if err reports a missing recording.
// Uses errors.Is to handle wrapped errors.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func notFound(path string, cause error) error {
	return &NotFoundError{Path: path, Err: cause}
}

func writeFailed(path string, cause error) error {
	return &WriteError{Path: path, Err: cause}
}
