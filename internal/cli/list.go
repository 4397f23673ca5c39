package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/playback/internal/cassette"
	"github.com/roach88/playback/internal/player"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Customer string
	Method   string
}

// ListedRecording is one row of the list command.
type ListedRecording struct {
	ID           string    `json:"id"`
	Customer     string    `json:"customer"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored recordings of a method",
		Long: `List stored recordings of a method, oldest first.

Examples:
  playback list --method Sum --customer acme
  playback list --method Sum --customer any --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Customer, "customer", player.AllCustomers, `customer name, or "any" for all customers`)
	cmd.Flags().StringVar(&opts.Method, "method", "", "method whose recordings are listed (required)")
	_ = cmd.MarkFlagRequired("method")

	return cmd
}

func runList(opts *ListOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	all := opts.Customer == player.AllCustomers || opts.Customer == "all"

	customer := opts.Customer
	if all {
		customer = ""
	}
	wrapper, err := opts.openWrapper(ctx, opts.Method, customer)
	if err != nil {
		return err
	}
	rec := wrapper.Recorder()
	defer rec.Close()

	c := rec.Cassette()
	dir := ""
	if all {
		dir = c.Root()
	}
	objs, err := rec.ListObjects(ctx, func(o cassette.Object) bool {
		return cassette.IsRecordingKey(o.Key, opts.Method)
	}, dir)
	if err != nil {
		return storageError("failed to list recordings", err)
	}

	rows := make([]ListedRecording, len(objs))
	for i, o := range objs {
		rows[i] = ListedRecording{
			ID:           cassette.IDFromKey(o.Key),
			Customer:     cassette.CustomerFromKey(c.Root(), o.Key),
			Size:         o.Size,
			LastModified: o.LastModified.UTC(),
		}
	}

	formatter := opts.formatter(cmd)
	if formatter.JSON() {
		return formatter.Success(rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No recordings found.")
		return nil
	}
	for _, r := range rows {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d\t%s\n", r.Customer, r.ID, r.Size, r.LastModified.Format(time.RFC3339))
	}
	return nil
}
