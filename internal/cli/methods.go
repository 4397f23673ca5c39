package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// MethodInfo describes one replayable method.
type MethodInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

// NewMethodsCommand creates the methods command.
func NewMethodsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "methods",
		Short:         "List the methods that can be replayed",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			names := rootOpts.workers.Names()
			infos := make([]MethodInfo, len(names))
			for i, n := range names {
				infos[i] = MethodInfo{Name: n, DisplayName: DisplayName(n)}
			}

			formatter := rootOpts.formatter(cmd)
			if formatter.JSON() {
				return formatter.Success(infos)
			}
			for _, info := range infos {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", info.Name, info.DisplayName)
			}
			return nil
		},
	}
}
