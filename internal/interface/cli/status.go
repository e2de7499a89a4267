package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hmiyata/weave/internal/domain/model/execution"
	"github.com/hmiyata/weave/internal/domain/model/merge"
	"github.com/hmiyata/weave/internal/domain/model/workitem"
)

type statusSummary struct {
	Executions   map[string]int `json:"executions"`
	WorkItems    map[string]int `json:"work_items"`
	MergeQueue   int            `json:"merge_queue"`
	Reservations int            `json:"reservations"`
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarize executions, work items, merges, and reservations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := openContainer()
			if err != nil {
				return err
			}
			defer container.Close()

			ctx := cmd.Context()
			summary := statusSummary{
				Executions: make(map[string]int),
				WorkItems:  make(map[string]int),
			}

			views, err := container.LifecycleUseCase().List(ctx, execution.Status(""))
			if err != nil {
				return err
			}
			for _, v := range views {
				summary.Executions[v.Status]++
			}

			items, err := container.WorkItemRepository().List(ctx)
			if err != nil {
				return err
			}
			for _, it := range items {
				summary.WorkItems[string(it.Status)]++
			}

			reqs, err := container.MergeRepository().List(ctx)
			if err != nil {
				return err
			}
			for _, r := range reqs {
				if r.Status != merge.StatusMerged && r.Status != merge.StatusCanceled {
					summary.MergeQueue++
				}
			}

			rs, err := container.ReservationService().List(ctx)
			if err != nil {
				return err
			}
			summary.Reservations = len(rs)

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Executions:")
			printCounts(out, summary.Executions, executionStatusOrder)
			fmt.Fprintln(out, "Work items:")
			printCounts(out, summary.WorkItems, workItemStatusOrder)
			fmt.Fprintf(out, "Merge queue:   %d pending\n", summary.MergeQueue)
			fmt.Fprintf(out, "Reservations:  %d active\n", summary.Reservations)
			return nil
		},
	}
}

var executionStatusOrder = []string{
	string(execution.StatusActive),
	string(execution.StatusPaused),
	string(execution.StatusBlocked),
	string(execution.StatusFailed),
	string(execution.StatusCompleted),
	string(execution.StatusAborted),
}

var workItemStatusOrder = []string{
	string(workitem.StatusAvailable),
	string(workitem.StatusBlocked),
	string(workitem.StatusDispatched),
	string(workitem.StatusDone),
}

func printCounts(out io.Writer, counts map[string]int, order []string) {
	any := false
	for _, status := range order {
		if n := counts[status]; n > 0 {
			fmt.Fprintf(out, "  %-12s %d\n", status, n)
			any = true
		}
	}
	if !any {
		fmt.Fprintln(out, "  none")
	}
}
