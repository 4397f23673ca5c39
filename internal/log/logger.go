// Package log configures the structured zerolog channel used for
// diagnostics. Human-facing progress and reports are written elsewhere.
package log

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Config captures options for configuring the base logger.
type Config struct {
	Level   string    // optional log level ("debug", "info", etc.)
	Output  io.Writer // optional writer (defaults to os.Stderr)
	Service string    // optional service name attached to every log entry
	// Console selects human-readable output. Defaults to true when Output
	// is a terminal.
	Console *bool
}

var (
	mu   sync.RWMutex
	base = zerolog.Nop()
)

// Configure replaces the base logger. It may be called more than once;
// loggers derived earlier keep their previous settings.
func Configure(cfg Config) zerolog.Logger {
	level := zerolog.InfoLevel
	if cfg.Level == "" {
		cfg.Level = os.Getenv("LOG_LEVEL")
	}
	if cfg.Level != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level)); err == nil {
			level = parsed
		}
	}
	zerolog.TimeFieldFormat = time.RFC3339

	writer := cfg.Output
	if writer == nil {
		writer = os.Stderr
	}
	console := IsTerminal(writer)
	if cfg.Console != nil {
		console = *cfg.Console
	}
	if console {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.Kitchen}
	}

	service := cfg.Service
	if service == "" {
		service = "playback"
	}

	l := zerolog.New(writer).Level(level).With().
		Timestamp().
		Str("service", service).
		Logger()

	mu.Lock()
	base = l
	mu.Unlock()
	return l
}

// Base returns the configured base logger. Before Configure it discards
// everything.
func Base() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// WithComponent returns a child logger annotated with the given component name.
func WithComponent(component string) zerolog.Logger {
	return Base().With().Str("component", component).Logger()
}

// IsTerminal reports whether v is a file descriptor attached to a terminal.
func IsTerminal(v any) bool {
	f, ok := v.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
