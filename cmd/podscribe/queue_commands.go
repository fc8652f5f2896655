package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"podscribe/internal/api"
	"podscribe/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the task queue",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show task counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				counts, err := client.QueueStatus(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, counts)
				}
				out := cmd.OutOrStdout()
				if counts.Total == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}
				fmt.Fprint(out, renderTable(
					[]column{{Header: "Status"}, {Header: "Count", Right: true}},
					buildQueueStatusRows(counts.Counts),
					[]string{"Total", strconv.Itoa(counts.Total)},
				))
				return nil
			})
		},
	}
}

// buildQueueStatusRows lists statuses in lifecycle order, skipping empty ones.
func buildQueueStatusRows(counts map[string]int) [][]string {
	rows := make([][]string, 0, len(counts))
	for _, status := range queue.AllStatuses {
		count := counts[string(status)]
		if count == 0 {
			continue
		}
		rows = append(rows, []string{formatStatusLabel(string(status)), strconv.Itoa(count)})
	}
	return rows
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filters := make([]queue.Status, 0, len(statuses))
			for _, raw := range statuses {
				status := queue.Status(strings.ToUpper(strings.TrimSpace(raw)))
				if !status.Valid() {
					return fmt.Errorf("unknown status %q", raw)
				}
				filters = append(filters, status)
			}
			return ctx.withClient(func(client *api.Client) error {
				tasks, err := client.ListTasks(cmd.Context(), limit, filters...)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, tasks)
				}
				out := cmd.OutOrStdout()
				if len(tasks) == 0 {
					fmt.Fprintln(out, "No tasks")
					return nil
				}
				fmt.Fprint(out, renderTable(
					[]column{
						{Header: "ID", Right: true},
						{Header: "Status"},
						{Header: "Episode", Right: true},
						{Header: "Source", MaxWidth: 60},
						{Header: "Updated"},
					},
					buildTaskRows(tasks),
					nil,
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of tasks to show")
	return cmd
}

func buildTaskRows(tasks []api.Task) [][]string {
	rows := make([][]string, 0, len(tasks))
	for _, task := range tasks {
		episode := "-"
		if task.EpisodeID > 0 {
			episode = strconv.FormatInt(task.EpisodeID, 10)
		}
		status := formatStatusLabel(task.Status)
		if task.CancelRequested && !queue.Status(task.Status).Terminal() {
			status += " (canceling)"
		}
		rows = append(rows, []string{
			strconv.FormatInt(task.ID, 10),
			status,
			episode,
			task.SourceURL,
			formatDisplayTime(task.UpdatedAt),
		})
	}
	return rows
}
