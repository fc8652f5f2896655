package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"podscribe/internal/api"
	"podscribe/internal/summary"
	"podscribe/internal/vectorindex"
)

func newEpisodeCommand(ctx *commandContext) *cobra.Command {
	episodeCmd := &cobra.Command{
		Use:     "episode",
		Aliases: []string{"episodes"},
		Short:   "Inspect and reprocess stored episodes",
	}

	episodeCmd.AddCommand(newEpisodeShowCommand(ctx))
	episodeCmd.AddCommand(newEpisodeProcessCommand(ctx))
	episodeCmd.AddCommand(newEpisodeReindexCommand(ctx))

	return episodeCmd
}

func newEpisodeShowCommand(ctx *commandContext) *cobra.Command {
	var withSegments bool

	cmd := &cobra.Command{
		Use:   "show <episode-id>",
		Short: "Show an episode's transcript and summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "episode")
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				episode, err := client.GetEpisode(cmd.Context(), id, withSegments)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, episode)
				}
				printEpisode(cmd.OutOrStdout(), episode)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&withSegments, "segments", false, "Include timed transcript segments")
	return cmd
}

func newEpisodeProcessCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "process <episode-id>",
		Short: "Queue a new pipeline run for an episode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "episode")
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.ProcessEpisode(cmd.Context(), id)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				verb := "Queued"
				if !resp.Created {
					verb = "Already queued:"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s task %d for episode %d\n", verb, resp.Task.ID, id)
				return nil
			})
		},
	}
}

func newEpisodeReindexCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex <episode-id>",
		Short: "Rebuild an episode's vector index entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "episode")
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.ReindexEpisode(cmd.Context(), id)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d chunks for episode %d\n", resp.Chunks, resp.EpisodeID)
				return nil
			})
		},
	}
}

func printEpisode(out io.Writer, episode api.Episode) {
	title := episode.Title
	if title == "" {
		title = "(untitled)"
	}
	fmt.Fprintf(out, "Episode %d: %s\n", episode.ID, title)
	fmt.Fprintf(out, "  Source:    %s\n", episode.SourceURL)
	fmt.Fprintf(out, "  Duration:  %s\n", vectorindex.FormatTimestamp(episode.DurationSeconds))
	if episode.CleaningMethod != "" {
		fmt.Fprintf(out, "  Cleaning:  %s\n", formatStatusLabel(episode.CleaningMethod))
	}
	fmt.Fprintf(out, "  Segments:  %d\n", episode.SegmentCount)
	fmt.Fprintf(out, "  Updated:   %s\n", formatDisplayTime(episode.UpdatedAt))

	var report summary.Summary
	if len(episode.Summary) > 0 && json.Unmarshal(episode.Summary, &report) == nil && report.Overview != "" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Summary:")
		fmt.Fprintf(out, "  %s\n", report.Overview)
		if report.Truncated {
			fmt.Fprintln(out, "  (summarized from the beginning of a long transcript)")
		}
		for _, point := range report.KeyPoints {
			fmt.Fprintf(out, "  - %s\n", point)
		}
		if len(report.Topics) > 0 {
			fmt.Fprintf(out, "  Topics: %s\n", strings.Join(report.Topics, ", "))
		}
	}

	if len(episode.Segments) > 0 {
		rows := make([][]string, 0, len(episode.Segments))
		for i, seg := range episode.Segments {
			rows = append(rows, []string{
				strconv.Itoa(i + 1),
				vectorindex.FormatTimestamp(seg.Start),
				vectorindex.FormatTimestamp(seg.End),
				seg.Text,
			})
		}
		fmt.Fprintln(out)
		fmt.Fprint(out, renderTable(
			[]column{{Header: "#", Right: true}, {Header: "Start", Right: true}, {Header: "End", Right: true}, {Header: "Text", MaxWidth: 80}},
			rows,
			nil,
		))
	} else if episode.Script != "" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Transcript:")
		fmt.Fprintln(out, episode.Script)
	}
}
