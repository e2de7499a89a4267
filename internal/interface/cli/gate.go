package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hmiyata/weave/internal/domain/model/execution"
)

func newGateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Resolve approval gates",
	}
	cmd.AddCommand(newGateApproveCommand())
	cmd.AddCommand(newGateRejectCommand())
	cmd.AddCommand(newGateSkipCommand())
	return cmd
}

func newGateApproveCommand() *cobra.Command {
	var approver string
	cmd := &cobra.Command{
		Use:   "approve <execution-id> <gate-id>",
		Short: "Approve a pending gate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approver == "" {
				return fmt.Errorf("--by is required")
			}
			container, err := openContainer()
			if err != nil {
				return err
			}
			defer container.Close()

			view, err := container.GateUseCase().Approve(cmd.Context(), execution.ExecutionID(args[0]), args[1], approver)
			if err != nil {
				return err
			}
			return newPresenter(cmd).Execution(view)
		},
	}
	cmd.Flags().StringVar(&approver, "by", "", "who approves the gate")
	return cmd
}

func newGateRejectCommand() *cobra.Command {
	var (
		approver string
		feedback string
	)
	cmd := &cobra.Command{
		Use:   "reject <execution-id> <gate-id>",
		Short: "Reject a pending gate with feedback",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approver == "" {
				return fmt.Errorf("--by is required")
			}
			if feedback == "" {
				return fmt.Errorf("--feedback is required")
			}
			container, err := openContainer()
			if err != nil {
				return err
			}
			defer container.Close()

			view, err := container.GateUseCase().Reject(cmd.Context(), execution.ExecutionID(args[0]), args[1], approver, feedback)
			if err != nil {
				return err
			}
			return newPresenter(cmd).Execution(view)
		},
	}
	cmd.Flags().StringVar(&approver, "by", "", "who rejects the gate")
	cmd.Flags().StringVar(&feedback, "feedback", "", "what must change before re-approval")
	return cmd
}

func newGateSkipCommand() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "skip <execution-id> <gate-id>",
		Short: "Skip a non-required gate with a recorded reason",
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

			view, err := container.GateUseCase().Skip(cmd.Context(), execution.ExecutionID(args[0]), args[1], reason)
			if err != nil {
				return err
			}
			return newPresenter(cmd).Execution(view)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the gate is skipped")
	return cmd
}
