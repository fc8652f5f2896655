package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"podscribe/internal/api"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var requester string

	cmd := &cobra.Command{
		Use:   "submit <url>",
		Short: "Queue an episode URL for transcription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.Submit(cmd.Context(), api.SubmitRequest{
					SourceURL: strings.TrimSpace(args[0]),
					Requester: requester,
				})
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if resp.Created {
					fmt.Fprintf(out, "Queued task %d for %s\n", resp.Task.ID, resp.Task.SourceURL)
				} else {
					fmt.Fprintf(out, "Task %d already tracks %s (%s)\n", resp.Task.ID, resp.Task.SourceURL, formatStatusLabel(resp.Task.Status))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&requester, "requester", "cli", "Requester recorded on the task")
	return cmd
}

func newLookupCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <url|task-id>",
		Short: "Show the task for a URL or task ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				target := strings.TrimSpace(args[0])
				var (
					task api.Task
					err  error
				)
				if id, parseErr := strconv.ParseInt(target, 10, 64); parseErr == nil {
					task, err = client.GetTask(cmd.Context(), id)
				} else {
					task, err = client.LookupTask(cmd.Context(), target)
				}
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, task)
				}
				printTaskDetails(cmd.OutOrStdout(), task)
				return nil
			})
		},
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Request cancellation of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "task")
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				task, err := client.CancelTask(cmd.Context(), id)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, task)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for task %d (%s)\n", task.ID, formatStatusLabel(task.Status))
				return nil
			})
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, worker, and dependency status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				status, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, status)
				}
				out := cmd.OutOrStdout()
				fmt.Fprint(out, renderDaemonStatus(status, shouldColorize(out)))
				return nil
			})
		},
	}
}

func renderDaemonStatus(status api.DaemonStatus, colorize bool) string {
	var lines []string
	lines = append(lines, renderSectionHeader("Daemon", colorize)...)
	if status.Running {
		lines = append(lines, renderStatusLine("Daemon", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize))
	} else {
		lines = append(lines, renderStatusLine("Daemon", statusWarn, "Stopped", colorize))
	}
	if status.Version != "" {
		lines = append(lines, renderStatusLine("Version", statusInfo, status.Version, colorize))
	}
	lines = append(lines, renderStatusLine("Queue database", statusInfo, status.QueueDBPath, colorize))
	lines = append(lines, renderStatusLine("Index backend", statusInfo, status.IndexBackend, colorize))

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Workflow", colorize)...)
	workers := fmt.Sprintf("%d configured, %d active", status.Workflow.Workers, len(status.Workflow.ActiveTasks))
	lines = append(lines, renderStatusLine("Workers", statusInfo, workers, colorize))
	if status.Workflow.LastError != "" {
		lines = append(lines, renderStatusLine("Last error", statusError, status.Workflow.LastError, colorize))
	}
	if status.Workflow.EventsDropped > 0 {
		lines = append(lines, renderStatusLine("Events dropped", statusWarn, strconv.FormatInt(status.Workflow.EventsDropped, 10), colorize))
	}
	for _, stage := range status.Workflow.Health {
		kind, message := statusOK, "Ready"
		if !stage.Ready {
			kind, message = statusError, "Not ready"
		}
		if stage.Detail != "" {
			message += " (" + stage.Detail + ")"
		}
		lines = append(lines, renderStatusLine(stage.Name, kind, message, colorize))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Cache", colorize)...)
	cacheSummary := fmt.Sprintf("%d entries, %d local hits, %d remote hits, %d misses",
		status.Cache.Entries, status.Cache.LocalHits, status.Cache.RemoteHits, status.Cache.Misses)
	lines = append(lines, renderStatusLine("Transcripts", statusInfo, cacheSummary, colorize))
	remote := "Disabled"
	if status.Cache.Remote {
		remote = "Enabled"
	}
	lines = append(lines, renderStatusLine("Redis tier", statusInfo, remote, colorize))

	if qa := status.QAUsage; qa != nil {
		lines = append(lines, "")
		lines = append(lines, renderSectionHeader("Questions", colorize)...)
		answered := fmt.Sprintf("%d LLM calls, %d embeddings, $%.4f estimated", qa.LLMCalls, qa.EmbeddedInputs, qa.EstimatedCostUSD)
		lines = append(lines, renderStatusLine("Usage", statusInfo, answered, colorize))
	}

	if len(status.Dependencies) > 0 {
		lines = append(lines, "")
		lines = append(lines, renderSectionHeader("Dependencies", colorize)...)
		for _, dep := range status.Dependencies {
			kind, message := statusOK, "Available"
			switch {
			case !dep.Available && dep.Optional:
				kind, message = statusWarn, "Missing (optional)"
			case !dep.Available:
				kind, message = statusError, "Missing"
			}
			if dep.Detail != "" && !dep.Available {
				message += ": " + dep.Detail
			}
			lines = append(lines, renderStatusLine(dep.Name, kind, message, colorize))
		}
	}
	return strings.Join(lines, "\n") + "\n"
}

func printTaskDetails(out io.Writer, task api.Task) {
	fmt.Fprintf(out, "Task %d\n", task.ID)
	fmt.Fprintf(out, "  Status:     %s\n", formatStatusLabel(task.Status))
	fmt.Fprintf(out, "  Source:     %s\n", task.SourceURL)
	if task.Requester != "" {
		fmt.Fprintf(out, "  Requester:  %s\n", task.Requester)
	}
	if task.EpisodeID > 0 {
		fmt.Fprintf(out, "  Episode:    %d\n", task.EpisodeID)
	}
	fmt.Fprintf(out, "  Created:    %s\n", formatDisplayTime(task.CreatedAt))
	if task.StartedAt != "" {
		fmt.Fprintf(out, "  Started:    %s\n", formatDisplayTime(task.StartedAt))
	}
	if task.CompletedAt != "" {
		fmt.Fprintf(out, "  Completed:  %s\n", formatDisplayTime(task.CompletedAt))
	}
	if task.CancelRequested {
		fmt.Fprintln(out, "  Cancel:     requested")
	}
	if task.Error != "" {
		fmt.Fprintf(out, "  Error:      %s\n", task.Error)
	}
}

func parseID(raw, what string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", what, raw)
	}
	return id, nil
}
