package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRunCommand() *cobra.Command {
	var drain bool
	cmd := &cobra.Command{
		Use:     "run",
		Aliases: []string{"dispatch"},
		Short:   "Run the orchestrator loop, dispatching work items to agents",
		Long: "Run claims the highest-leverage available work items, starts an\n" +
			"execution and a workspace for each, and feeds agent results back\n" +
			"through the state machine until interrupted.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			container, err := openContainer()
			if err != nil {
				return err
			}
			defer container.Close()

			if err := container.Start(ctx); err != nil {
				return err
			}

			GetLogger().Info("orchestrator started (drain=%v)", drain)
			if err := container.Orchestrator().Run(ctx, drain); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&drain, "drain", false, "exit once no dispatchable work remains")
	return cmd
}
