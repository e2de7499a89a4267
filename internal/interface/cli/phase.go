package cli

import (
	"github.com/spf13/cobra"

	executionuc "github.com/hmiyata/weave/internal/application/usecase/execution"
	"github.com/hmiyata/weave/internal/domain/model/execution"
)

func newPhaseCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "phase",
		Short: "Drive phase transitions",
	}
	cmd.AddCommand(newPhaseAdvanceCommand())
	return cmd
}

func newPhaseAdvanceCommand() *cobra.Command {
	var (
		workspacePath string
		attemptBy     string
	)
	cmd := &cobra.Command{
		Use:   "advance <execution-id>",
		Short: "Complete the current phase and enter the next one",
		Long: "Advance runs the phase's verification hook in the given workspace and,\n" +
			"when required units and the gate are resolved, moves the execution to\n" +
			"the next phase. A verification failure records the cause and applies\n" +
			"the retry policy.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := openContainer()
			if err != nil {
				return err
			}
			defer container.Close()

			view, err := container.AdvanceUseCase().Execute(cmd.Context(), executionuc.AdvanceInput{
				ExecutionID:   execution.ExecutionID(args[0]),
				WorkspacePath: workspacePath,
				AttemptBy:     attemptBy,
			})
			if err != nil {
				return err
			}
			return newPresenter(cmd).Execution(view)
		},
	}
	cmd.Flags().StringVar(&workspacePath, "workspace", "", "workspace the verification hook runs in")
	cmd.Flags().StringVar(&attemptBy, "attempt-by", "", "agent id for the failure record")
	return cmd
}
