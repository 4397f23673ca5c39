package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/spf13/cobra"

	"github.com/roach88/playback/internal/log"
	"github.com/roach88/playback/internal/player"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Customer           string
	Method             string
	RecordingKey       string
	SkipRecordedErrors bool
	Interactive        bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Replay recordings and report mismatches",
		Long: `Replay recordings of a method against its current implementation.

With --recording-key a single recording is replayed. Otherwise every recent
recording of --customer is replayed, or of every customer when the customer
is "any". Options missing from the command line are asked for when stdin is
a terminal or --interactive is set.

The report of mismatches is the result: the command exits 0 whether or not
recordings failed.

Exit codes:
  0 - Replay finished
  2 - Command error (unknown method, storage unreachable, recording not found)

Examples:
  playback run --method Sum --customer acme
  playback run --method Sum --customer any --skip-recorded-errors
  playback run --method Sum --customer acme --recording-key 0190a1b2-...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlayer(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Customer, "customer", "", `customer name, or "any" for all customers`)
	cmd.Flags().StringVar(&opts.Method, "method", "", "method to replay")
	cmd.Flags().StringVar(&opts.RecordingKey, "recording-key", "", "replay only this recording")
	cmd.Flags().BoolVar(&opts.SkipRecordedErrors, "skip-recorded-errors", false, "skip recordings whose capture failed")
	cmd.Flags().BoolVarP(&opts.Interactive, "interactive", "i", false, "ask for missing options")

	return cmd
}

func runPlayer(opts *RunOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()

	if !cmd.Flags().Changed("skip-recorded-errors") {
		opts.SkipRecordedErrors = opts.Config.Player.SkipRecordedErrors
	}
	if opts.Interactive || log.IsTerminal(cmd.InOrStdin()) {
		if err := askMissing(opts, cmd); err != nil {
			return WrapExitError(ExitCommandError, "prompt failed", err)
		}
	}
	if opts.Customer == "" {
		opts.Customer = player.AllCustomers
	}
	if opts.Method == "" {
		return NewExitError(ExitCommandError, "--method is required")
	}

	wrapper, err := opts.openWrapper(ctx, opts.Method, "")
	if err != nil {
		return err
	}
	defer wrapper.Recorder().Close()

	comparators, err := opts.comparators()
	if err != nil {
		return err
	}

	formatter := opts.formatter(cmd)
	out := cmd.OutOrStdout()
	progress := out
	color := false
	if formatter.JSON() {
		progress = io.Discard
	} else if f, ok := out.(*os.File); ok && !opts.NoColor && log.IsTerminal(f) {
		progress = colorable.NewColorable(f)
		color = true
	}

	p := player.New(wrapper, comparators, progress, player.Options{
		SkipRecordedErrors: opts.SkipRecordedErrors,
		Window:             opts.Config.Player.Window,
		MinSize:            opts.Config.Player.MinSize,
		Color:              color,
		Logger:             opts.Logger,
	})

	formatter.VerboseLog("replaying %s recordings from %s storage", opts.Method, wrapper.Recorder().Cassette().Kind())
	report, err := p.Run(ctx, player.Selection{Customer: opts.Customer, Key: opts.RecordingKey})
	if err != nil {
		return storageError("replay failed", err)
	}

	if formatter.JSON() {
		return formatter.Success(report)
	}
	fmt.Fprintf(progress, "Finished running program: %d passed, %d failed, %d pending, %d skipped\n",
		report.Passed, report.Failed, report.Pending, report.Skipped)
	return nil
}

// askMissing prompts for every option not given as a flag.
func askMissing(opts *RunOptions, cmd *cobra.Command) error {
	p := NewPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
	var err error

	if !cmd.Flags().Changed("customer") {
		if opts.Customer, err = p.Input("Enter customer", player.AllCustomers); err != nil {
			return err
		}
	}
	if !cmd.Flags().Changed("method") {
		if opts.Method, err = p.Choose("Choose available method", methodChoices(opts.workers.Names())); err != nil {
			return err
		}
	}
	if !cmd.Flags().Changed("recording-key") {
		if opts.RecordingKey, err = p.Input("Enter recording key", ""); err != nil {
			return err
		}
	}
	if !cmd.Flags().Changed("skip-recorded-errors") {
		if opts.SkipRecordedErrors, err = p.Confirm("Skip recorded errors", opts.SkipRecordedErrors); err != nil {
			return err
		}
	}
	return nil
}
