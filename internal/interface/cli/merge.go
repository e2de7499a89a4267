package cli

import (
	"github.com/spf13/cobra"

	"github.com/hmiyata/weave/internal/domain/model/execution"
	"github.com/hmiyata/weave/internal/domain/model/merge"
)

func newMergeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Manage the serialized merge queue",
	}
	cmd.AddCommand(newMergeEnqueueCommand())
	cmd.AddCommand(newMergeCheckCommand())
	cmd.AddCommand(newMergeExecuteCommand())
	cmd.AddCommand(newMergeRecheckCommand())
	cmd.AddCommand(newMergeListCommand())
	return cmd
}

func presentRequest(cmd *cobra.Command, req *merge.Request) error {
	return newPresenter(cmd).MergeRequests([]*merge.Request{req})
}

func newMergeEnqueueCommand() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "enqueue <execution-id> <source-branch>",
		Short: "Enqueue a branch for merging into the baseline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := openContainer()
			if err != nil {
				return err
			}
			defer container.Close()

			if target == "" {
				target = globalConfig.Baseline()
			}
			req, err := container.MergeCoordinator().Enqueue(cmd.Context(), execution.ExecutionID(args[0]), args[1], target)
			if err != nil {
				return err
			}
			return presentRequest(cmd, req)
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "target baseline branch (default from configuration)")
	return cmd
}

func newMergeCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <request-id>",
		Short: "Dry-run the merge and report conflicts without mutating the baseline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := openContainer()
			if err != nil {
				return err
			}
			defer container.Close()

			req, err := container.MergeCoordinator().CheckConflicts(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return presentRequest(cmd, req)
		},
	}
}

func newMergeExecuteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "execute <request-id>",
		Short: "Merge a ready request into its target baseline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := openContainer()
			if err != nil {
				return err
			}
			defer container.Close()

			req, err := container.MergeCoordinator().ExecuteMerge(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return presentRequest(cmd, req)
		},
	}
}

func newMergeRecheckCommand() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "recheck",
		Short: "Re-check parked conflicted requests against the current baseline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := openContainer()
			if err != nil {
				return err
			}
			defer container.Close()

			if target == "" {
				target = globalConfig.Baseline()
			}
			if err := container.MergeCoordinator().RecheckParked(cmd.Context(), target); err != nil {
				return err
			}
			reqs, err := container.MergeRepository().ListPendingByTarget(cmd.Context(), target)
			if err != nil {
				return err
			}
			return newPresenter(cmd).MergeRequests(reqs)
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "target baseline branch (default from configuration)")
	return cmd
}

func newMergeListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List merge requests in queue order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := openContainer()
			if err != nil {
				return err
			}
			defer container.Close()

			reqs, err := container.MergeRepository().List(cmd.Context())
			if err != nil {
				return err
			}
			return newPresenter(cmd).MergeRequests(reqs)
		},
	}
}
