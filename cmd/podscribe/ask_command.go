package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"podscribe/internal/api"
	"podscribe/internal/vectorindex"
)

func newAskCommand(ctx *commandContext) *cobra.Command {
	var episodeID int64

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from indexed transcripts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			return ctx.withClient(func(client *api.Client) error {
				answer, err := client.Ask(cmd.Context(), api.AskRequest{Text: question, EpisodeID: episodeID})
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, answer)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, strings.TrimSpace(answer.Text))
				if len(answer.Citations) > 0 {
					fmt.Fprintln(out)
					fmt.Fprintln(out, "Sources:")
					for i, citation := range answer.Citations {
						fmt.Fprintf(out, "  %s\n", formatCitation(i+1, citation))
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().Int64VarP(&episodeID, "episode", "e", 0, "Restrict retrieval to one episode")
	return cmd
}

func formatCitation(n int, c vectorindex.Citation) string {
	return fmt.Sprintf("[%d] episode %d, %s-%s", n, c.EpisodeID,
		vectorindex.FormatTimestamp(c.Start), vectorindex.FormatTimestamp(c.End))
}
