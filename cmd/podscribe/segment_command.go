package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"podscribe/internal/media/ffprobe"
	"podscribe/internal/pipeline"
	"podscribe/internal/segment"
	"podscribe/internal/vectorindex"
)

type segmentPlan struct {
	DurationSeconds float64           `json:"duration_seconds"`
	SegmentSeconds  float64           `json:"segment_seconds"`
	Segments        []segment.Segment `json:"segments"`
}

func newSegmentCommand(ctx *commandContext) *cobra.Command {
	var durationFlag string
	var segmentSeconds float64

	cmd := &cobra.Command{
		Use:   "segment [source]",
		Short: "Preview how an episode would be split for transcription",
		Long: "Computes the transcription segments for an episode using the configured\n" +
			"speech recognition limits. Pass --duration, or a local file or URL to probe\n" +
			"with ffprobe.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var total float64
			switch {
			case strings.TrimSpace(durationFlag) != "":
				total, err = parseDurationSeconds(durationFlag)
				if err != nil {
					return err
				}
			case len(args) == 1:
				prober := ffprobe.Prober{
					Binary:  cfg.ASR.FFprobeBinary,
					Timeout: time.Duration(cfg.ASR.ProbeTimeoutSeconds) * time.Second,
				}
				total, err = prober.Duration(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("probe %s: %w", args[0], err)
				}
			default:
				return fmt.Errorf("provide --duration or a source to probe")
			}

			settings := pipeline.SettingsFromConfig(cfg)
			requested := settings.SegmentSeconds
			if segmentSeconds > 0 {
				requested = segmentSeconds
			}
			segments, err := segment.Plan(total, requested, settings.Limits)
			if err != nil {
				return err
			}
			plan := segmentPlan{
				DurationSeconds: total,
				SegmentSeconds:  settings.Limits.Clamp(requested),
				Segments:        segments,
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, plan)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderSegmentPlan(plan))
			return nil
		},
	}

	cmd.Flags().StringVarP(&durationFlag, "duration", "d", "", "Episode length in seconds or as a duration (e.g. 1h12m)")
	cmd.Flags().Float64Var(&segmentSeconds, "segment-seconds", 0, "Requested segment length (defaults to asr.segment_seconds)")
	return cmd
}

// parseDurationSeconds accepts plain seconds ("4380.5") or a Go duration ("1h13m").
func parseDurationSeconds(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if seconds, err := strconv.ParseFloat(raw, 64); err == nil {
		if seconds <= 0 {
			return 0, fmt.Errorf("duration must be positive, got %q", raw)
		}
		return seconds, nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %q", raw)
	}
	return parsed.Seconds(), nil
}

func renderSegmentPlan(plan segmentPlan) string {
	rows := make([][]string, 0, len(plan.Segments))
	incompatible := 0
	for _, seg := range plan.Segments {
		fits := "yes"
		if !seg.Compatible {
			fits = "no"
			incompatible++
		}
		size := "-"
		if seg.EstimatedSizeBytes > 0 {
			size = formatBytes(seg.EstimatedSizeBytes)
		}
		rows = append(rows, []string{
			strconv.Itoa(seg.Index),
			vectorindex.FormatTimestamp(seg.Start),
			vectorindex.FormatTimestamp(seg.End),
			vectorindex.FormatTimestamp(seg.Duration),
			size,
			fits,
		})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Episode length %s split into %d segment(s)\n", vectorindex.FormatTimestamp(plan.DurationSeconds), len(plan.Segments))
	b.WriteString(renderTable(
		[]column{
			{Header: "#", Right: true},
			{Header: "Start", Right: true},
			{Header: "End", Right: true},
			{Header: "Length", Right: true},
			{Header: "Est. Size", Right: true},
			{Header: "Fits"},
		},
		rows,
		nil,
	))
	if incompatible > 0 {
		fmt.Fprintf(&b, "%d segment(s) exceed the provider limits; lower --segment-seconds or asr.bitrate_kbps\n", incompatible)
	}
	return b.String()
}
