package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/roach88/playback/internal/config"
	"github.com/roach88/playback/internal/log"
	"github.com/roach88/playback/internal/worker"
)

// RootOptions holds global flags for all commands, plus the configuration
// resolved from them before any subcommand runs.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Storage    string
	Root       string
	LogLevel   string
	NoColor    bool

	Config config.Config
	Logger zerolog.Logger

	workers *worker.Registry
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command with the built-in workers.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWith(worker.Builtins())
}

// NewRootCommandWith creates the root command over workers, so that a
// program embedding the player can replay its own computations.
func NewRootCommandWith(workers *worker.Registry) *cobra.Command {
	opts := &RootOptions{workers: workers}

	cmd := &cobra.Command{
		Use:   "playback",
		Short: "Replay recorded worker invocations and report drift",
		Long: `playback replays recordings captured from worker computations against
the current implementation and prints a diff for every output that changed.

Storage is chosen by --storage, the config file, or the environment
(PLAYBACK_ENV=production selects s3); the default is memory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return opts.resolve(cmd)
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.ConfigPath, "config", "", "config file (default ./"+config.DefaultFile+" if present)")
	flags.StringVar(&opts.Storage, "storage", "", "storage backend (memory|fs|s3|sqlite|redis)")
	flags.StringVar(&opts.Root, "root", "", "storage root: fs directory or s3/redis key prefix")
	flags.StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	flags.BoolVar(&opts.NoColor, "no-color", false, "disable colored output")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewMethodsCommand(opts))

	return cmd
}

// Execute runs cmd and reports a failure in the output format selected by
// its --format flag. It returns the process exit code.
func Execute(ctx context.Context, cmd *cobra.Command) int {
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	format, _ := cmd.PersistentFlags().GetString("format")
	if !isValidFormat(format) {
		format = "text"
	}
	f := &OutputFormatter{Format: format, Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr()}
	_ = f.Failure(err)
	return GetExitCode(err)
}

// resolve loads the config file, then environment overrides, then flags,
// and configures the structured logger on the command's stderr.
func (o *RootOptions) resolve(cmd *cobra.Command) error {
	var (
		cfg config.Config
		err error
	)
	if o.ConfigPath != "" {
		cfg, err = config.Load(o.ConfigPath)
	} else {
		cfg, err = config.LoadOptional(config.DefaultFile)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	level := o.LogLevel
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	if level == "" {
		level = cfg.LogLevel
	}
	if level == "" && o.Verbose {
		level = "debug"
	}
	o.Logger = log.Configure(log.Config{Level: level, Output: cmd.ErrOrStderr()})

	if err := cfg.ApplyEnv(os.Getenv, o.Logger); err != nil {
		return WrapExitError(ExitCommandError, "invalid environment", err)
	}
	if o.Storage != "" {
		cfg.Storage.Type = o.Storage
	}
	if o.Root != "" {
		cfg.Storage.Root = o.Root
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	o.Config = cfg
	return nil
}

// formatter builds the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
