package worker

import (
	"errors"
	"fmt"
)

// ErrUnknownMethod is returned when no worker is registered for a method.
var ErrUnknownMethod = errors.New("unknown worker method")

// CaptureError is returned by a captured computation that failed.
// The failure is already stored on the recording (error=true plus the
// exception snapshot); RecordingID links the error back to it.
type CaptureError struct {
	// RecordingID identifies the recording that captured the failure.
	RecordingID string

	// Err is the computation's own error.
	Err error
}

// Error implements the error interface.
func (e *CaptureError) Error() string {
	return fmt.Sprintf("%v (recording=%s)", e.Err, e.RecordingID)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// RecordingIDOf returns the recording id attached to a capture failure.
// Uses errors.As to handle wrapped errors.
func RecordingIDOf(err error) (string, bool) {
	var ce *CaptureError
	if errors.As(err, &ce) {
		return ce.RecordingID, true
	}
	return "", false
}

// PanicError reports a computation that panicked.
type PanicError struct {
	Method string
	Value  any
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("%s panicked: %v", e.Method, e.Value)
}
