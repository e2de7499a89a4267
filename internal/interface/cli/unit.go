package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hmiyata/weave/internal/domain/model/execution"
)

func newUnitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unit",
		Short: "Resolve work units of the current phase",
	}
	cmd.AddCommand(newUnitCompleteCommand())
	cmd.AddCommand(newUnitSkipCommand())
	return cmd
}

func newUnitCompleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <execution-id> <unit-id>",
		Short: "Mark a work unit of the current phase completed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := openContainer()
			if err != nil {
				return err
			}
			defer container.Close()

			view, err := container.UnitUseCase().Complete(cmd.Context(), execution.ExecutionID(args[0]), args[1])
			if err != nil {
				return err
			}
			return newPresenter(cmd).Execution(view)
		},
	}
}

func newUnitSkipCommand() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "skip <execution-id> <unit-id>",
		Short: "Skip an optional work unit with a recorded reason",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if reason == "" {
				return fmt.Errorf("--reason is required")
			}
			container, err := openContainer()
			if err != nil {
				return err
			}
			defer container.Close()

			view, err := container.UnitUseCase().Skip(cmd.Context(), execution.ExecutionID(args[0]), args[1], reason)
			if err != nil {
				return err
			}
			return newPresenter(cmd).Execution(view)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the unit is skipped")
	return cmd
}
