package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hmiyata/weave/internal/domain/model/workitem"
)

func newItemCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "item",
		Short: "Manage the leverage-ranked work item queue",
	}
	cmd.AddCommand(newItemAddCommand())
	cmd.AddCommand(newItemListCommand())
	cmd.AddCommand(newItemNextCommand())
	return cmd
}

func newItemAddCommand() *cobra.Command {
	var (
		title      string
		templateID string
		dependsOn  []string
		alignment  float64
		unlock     float64
		likelihood float64
		timeCost   float64
		effort     float64
	)
	cmd := &cobra.Command{
		Use:   "add <item-id>",
		Short: "Add a work item with its leverage factors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if title == "" {
				return fmt.Errorf("--title is required")
			}
			if templateID == "" {
				return fmt.Errorf("--template is required")
			}
			item, err := workitem.New(args[0], title, templateID, workitem.LeverageFactors{
				Alignment:        alignment,
				DownstreamUnlock: unlock,
				Likelihood:       likelihood,
				Time:             timeCost,
				Effort:           effort,
			}, dependsOn)
			if err != nil {
				return err
			}

			container, err := openContainer()
			if err != nil {
				return err
			}
			defer container.Close()

			if err := container.WorkItemRepository().Save(cmd.Context(), item); err != nil {
				return err
			}
			return newPresenter(cmd).WorkItems([]*workitem.WorkItem{item})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "human-readable title")
	cmd.Flags().StringVar(&templateID, "template", "", "workflow template this item runs")
	cmd.Flags().StringSliceVar(&dependsOn, "depends-on", nil, "item ids that must complete first")
	cmd.Flags().Float64Var(&alignment, "alignment", 1, "strategic alignment factor")
	cmd.Flags().Float64Var(&unlock, "unlock", 1, "downstream unlock factor")
	cmd.Flags().Float64Var(&likelihood, "likelihood", 1, "likelihood of success factor")
	cmd.Flags().Float64Var(&timeCost, "time", 1, "calendar cost factor")
	cmd.Flags().Float64Var(&effort, "effort", 1, "working cost factor")
	return cmd
}

func newItemListCommand() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work items, optionally filtered by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := openContainer()
			if err != nil {
				return err
			}
			defer container.Close()

			var items []*workitem.WorkItem
			if status == "" {
				items, err = container.WorkItemRepository().List(cmd.Context())
			} else {
				items, err = container.WorkItemRepository().ListByStatus(cmd.Context(), workitem.Status(status))
			}
			if err != nil {
				return err
			}
			return newPresenter(cmd).WorkItems(items)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter: available, blocked, dispatched, done")
	return cmd
}

func newItemNextCommand() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Show the highest-leverage dispatchable items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := openContainer()
			if err != nil {
				return err
			}
			defer container.Close()

			items, err := container.Orchestrator().NextBatch(cmd.Context(), count)
			if err != nil {
				return err
			}
			return newPresenter(cmd).WorkItems(items)
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "how many items to show")
	return cmd
}
