package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/playback/internal/cassette"
)

// Exit codes for CLI commands. A replay run that finds mismatches still
// exits with ExitSuccess: the report is the result.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // unexpected failure
	ExitCommandError = 2 // bad flags, unknown method, unreachable storage, missing recording
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError returns an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError returns an ExitError caused by err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps err to a process exit code: ExitSuccess for nil, the
// code of a wrapped ExitError, ExitFailure for anything else.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// errorCode is the machine-readable code reported in a JSON error envelope.
func errorCode(err error) string {
	switch {
	case cassette.IsNotFound(err):
		return "not_found"
	case GetExitCode(err) == ExitCommandError:
		return "command_error"
	default:
		return "failure"
	}
}

// OutputFormatter writes command results as JSON or text.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // verbose output and text-mode errors; defaults to Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope of every command result.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError describes a failed command in a CLIResponse.
type CLIError struct {
	Code    string `json:"code"` // not_found, command_error or failure
	Message string `json:"message"`
	Cause   string `json:"cause,omitempty"`
}

// JSON reports whether the formatter emits JSON.
func (f *OutputFormatter) JSON() bool { return f.Format == "json" }

func (f *OutputFormatter) encode(resp CLIResponse) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetEscapeHTML(false)
	return enc.Encode(resp)
}

// Success writes data, enveloped in JSON mode and with fmt.Fprintln in text
// mode.
func (f *OutputFormatter) Success(data any) error {
	if f.JSON() {
		return f.encode(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Failure reports a failed command. In JSON mode the envelope goes to
// Writer so scripted callers always get one JSON document; in text mode
// the error goes to the error writer.
func (f *OutputFormatter) Failure(err error) error {
	message, cause := err.Error(), ""
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		message = exitErr.Message
		if exitErr.Err != nil {
			cause = exitErr.Err.Error()
		}
	}
	if f.JSON() {
		return f.encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: errorCode(err), Message: message, Cause: cause},
		})
	}
	_, werr := fmt.Fprintln(f.errWriter(), "Error:", err)
	return werr
}

// VerboseLog outputs a message only if verbose mode is enabled.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.errWriter(), format+"\n", args...)
}

func (f *OutputFormatter) errWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
