package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/playback/internal/cassette"
	"github.com/roach88/playback/internal/diff"
	"github.com/roach88/playback/internal/recording"
)

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
	Customer string
	Method   string
}

// ShownRecording is the output of the show command.
type ShownRecording struct {
	ID       string             `json:"id"`
	Data     recording.Data     `json:"data"`
	Metadata recording.Metadata `json:"metadata"`
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show <recording-id>",
		Short: "Print a stored recording and its metadata",
		Long: `Print the input, output and metadata of one stored recording.

Examples:
  playback show --method Sum --customer acme 0190a1b2-...`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Customer, "customer", cassette.DefaultCustomer, "customer name")
	cmd.Flags().StringVar(&opts.Method, "method", "", "method of the recording (required)")
	_ = cmd.MarkFlagRequired("method")

	return cmd
}

func runShow(opts *ShowOptions, id string, cmd *cobra.Command) error {
	ctx := cmd.Context()

	wrapper, err := opts.openWrapper(ctx, opts.Method, opts.Customer)
	if err != nil {
		return err
	}
	defer wrapper.Recorder().Close()

	md, err := wrapper.GetMetaData(ctx, id)
	if err != nil {
		return storageError("failed to read metadata", err)
	}
	data, err := wrapper.GetRecordingByKey(ctx, id)
	if err != nil {
		return storageError("failed to read recording", err)
	}

	shown := ShownRecording{ID: id, Data: data, Metadata: md}
	formatter := opts.formatter(cmd)
	if formatter.JSON() {
		return formatter.Success(shown)
	}
	text, err := diff.Stringify(shown)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to render recording", err)
	}
	return formatter.Success(text)
}
