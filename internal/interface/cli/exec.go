package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hmiyata/weave/internal/application/dto"
	executionuc "github.com/hmiyata/weave/internal/application/usecase/execution"
	"github.com/hmiyata/weave/internal/domain/model/execution"
)

// newExecCommand groups the execution lifecycle subcommands
func newExecCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Manage execution lifecycles",
	}
	cmd.AddCommand(newExecStartCommand())
	cmd.AddCommand(newExecGetCommand())
	cmd.AddCommand(newExecListCommand())
	cmd.AddCommand(newExecPauseCommand())
	cmd.AddCommand(newExecResumeCommand())
	cmd.AddCommand(newExecAbortCommand())
	cmd.AddCommand(newExecUnblockCommand())
	return cmd
}

// withLifecycle opens the container and hands its lifecycle use case to fn,
// presenting the returned view
func withLifecycle(cmd *cobra.Command, fn func(uc *executionuc.LifecycleUseCase) (*dto.ExecutionView, error)) error {
	container, err := openContainer()
	if err != nil {
		return err
	}
	defer container.Close()

	view, err := fn(container.LifecycleUseCase())
	if err != nil {
		return err
	}
	return newPresenter(cmd).Execution(view)
}

func newExecStartCommand() *cobra.Command {
	var workItemID string
	cmd := &cobra.Command{
		Use:   "start <template-id>",
		Short: "Start an execution from a workflow template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLifecycle(cmd, func(uc *executionuc.LifecycleUseCase) (*dto.ExecutionView, error) {
				return uc.Start(cmd.Context(), executionuc.StartExecutionInput{
					TemplateID: args[0],
					WorkItemID: workItemID,
				})
			})
		},
	}
	cmd.Flags().StringVar(&workItemID, "work-item", "", "work item this execution serves")
	return cmd
}

func newExecGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "get <execution-id>",
		Aliases: []string{"status"},
		Short:   "Show one execution",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLifecycle(cmd, func(uc *executionuc.LifecycleUseCase) (*dto.ExecutionView, error) {
				return uc.Get(cmd.Context(), execution.ExecutionID(args[0]))
			})
		},
	}
}

func newExecListCommand() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List executions, optionally filtered by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := openContainer()
			if err != nil {
				return err
			}
			defer container.Close()

			views, err := container.LifecycleUseCase().List(cmd.Context(), execution.Status(status))
			if err != nil {
				return err
			}
			return newPresenter(cmd).Executions(views)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter: active, paused, blocked, failed, completed, aborted")
	return cmd
}

func newExecPauseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <execution-id>",
		Short: "Pause an active execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLifecycle(cmd, func(uc *executionuc.LifecycleUseCase) (*dto.ExecutionView, error) {
				return uc.Pause(cmd.Context(), execution.ExecutionID(args[0]))
			})
		},
	}
}

func newExecResumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <execution-id>",
		Short: "Resume a paused execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLifecycle(cmd, func(uc *executionuc.LifecycleUseCase) (*dto.ExecutionView, error) {
				return uc.Resume(cmd.Context(), execution.ExecutionID(args[0]))
			})
		},
	}
}

func newExecAbortCommand() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "abort <execution-id>",
		Short: "Abort an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if reason == "" {
				return fmt.Errorf("--reason is required")
			}
			return withLifecycle(cmd, func(uc *executionuc.LifecycleUseCase) (*dto.ExecutionView, error) {
				return uc.Abort(cmd.Context(), execution.ExecutionID(args[0]), reason)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the execution is aborted")
	return cmd
}

func newExecUnblockCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unblock <execution-id>",
		Short: "Return a blocked execution to active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLifecycle(cmd, func(uc *executionuc.LifecycleUseCase) (*dto.ExecutionView, error) {
				return uc.Unblock(cmd.Context(), execution.ExecutionID(args[0]))
			})
		},
	}
}
