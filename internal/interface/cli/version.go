package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hmiyata/weave/internal/buildinfo"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the weave version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "weave version %s\n", buildinfo.GetVersion())
			return nil
		},
	}
}
