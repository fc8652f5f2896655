package cleaning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"podscribe/internal/services/llm"
	"podscribe/internal/transcript"
)

const speakerWindowSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["script"],
  "properties": {
    "script": {"type": "string", "minLength": 1},
    "speakers": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    }
  }
}`

var speakerWindowValidator = llm.MustCompileSchema("speaker_window.json", speakerWindowSchema)

// boundaryWindow is a run of whole ASR segments rendered as speaker turns.
type boundaryWindow struct {
	start float64
	end   float64
	text  string
}

// boundaryWindows groups consecutive segments into windows of at most size
// bytes. A window only ends on a segment boundary; a single segment larger
// than size becomes its own window.
func boundaryWindows(segments []transcript.Segment, size int) []boundaryWindow {
	var windows []boundaryWindow
	var current *boundaryWindow
	var b strings.Builder
	lastSpeaker := ""

	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		speaker := strings.TrimSpace(seg.Speaker)
		continuing := current != nil && speaker == lastSpeaker
		piece := text
		if !continuing && speaker != "" {
			piece = speaker + ": " + text
		}
		sep := ""
		if current != nil {
			sep = "\n"
			if continuing {
				sep = " "
			}
		}
		if current != nil && size > 0 && b.Len()+len(sep)+len(piece) > size {
			current.text = b.String()
			windows = append(windows, *current)
			current = nil
			b.Reset()
			sep = ""
			if speaker != "" {
				piece = speaker + ": " + text
			}
		}
		if current == nil {
			current = &boundaryWindow{start: seg.Start}
		}
		b.WriteString(sep)
		b.WriteString(piece)
		current.end = seg.End
		lastSpeaker = speaker
	}
	if current != nil {
		current.text = b.String()
		windows = append(windows, *current)
	}
	return windows
}

type speakerWindowResponse struct {
	Script   string            `json:"script"`
	Speakers map[string]string `json:"speakers"`
}

// cleanSpeakerWindow is one stateless call: the known map goes in, the folded
// map comes out.
func cleanSpeakerWindow(ctx context.Context, r *Run, index, total int, window boundaryWindow, known SpeakerMap) (string, SpeakerMap, error) {
	knownJSON, err := json.Marshal(known)
	if err != nil {
		return "", known, err
	}
	prompt := fmt.Sprintf("Known speakers (label to name): %s\n\n%s", knownJSON, windowPrompt(index, total, window.text))
	out, err := r.CompleteJSON(ctx, boundarySystemPrompt, prompt)
	if err != nil {
		return "", known, err
	}
	var resp speakerWindowResponse
	if err := llm.DecodeValidated(speakerWindowValidator, out, &resp); err != nil {
		return "", known, fmt.Errorf("window response: %w", err)
	}
	return strings.TrimSpace(resp.Script), known.Fold(resp.Speakers), nil
}

func cleanBoundary(ctx context.Context, r *Run, in Input) (Result, error) {
	opts := r.Options()
	windows := boundaryWindows(in.Segments, opts.ChunkChars)
	if len(windows) == 0 {
		return Result{}, wrapClean(MethodBoundary, errors.New("no transcript segments"))
	}

	speakers := SpeakerMap{}
	outcomes := make([]windowOutcome, len(windows))
	failed := 0
	for i, window := range windows {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		outcomes[i].raw = window.text
		script, next, err := cleanSpeakerWindow(ctx, r, i, len(windows), window, speakers)
		if err != nil {
			if abortsWindows(ctx, err) {
				return Result{}, wrapClean(MethodBoundary, err)
			}
			failed++
			outcomes[i].err = err
			outcomes[i].cleaned = window.text
			r.logWindowFailure(MethodBoundary, i, len(windows), err)
			continue
		}
		outcomes[i].cleaned = script
		speakers = next
	}
	if failed == len(windows) {
		return Result{}, wrapClean(MethodBoundary, fmt.Errorf("all %d windows failed: %w", failed, outcomes[0].err))
	}

	parts := make([]string, len(outcomes))
	var issues []string
	total := 0.0
	for i, outcome := range outcomes {
		// Names learned in later windows also relabel earlier ones.
		parts[i] = speakers.Apply(outcome.cleaned)
		if outcome.err != nil {
			issues = append(issues, fmt.Sprintf("window %d/%d (%.0fs-%.0fs) left uncleaned: %v", i+1, len(outcomes), windows[i].start, windows[i].end, outcome.err))
			continue
		}
		score, issue := ratioQuality(len(outcome.raw), len(outcome.cleaned), opts.MinOutputRatio)
		total += score
		if issue != "" {
			issues = append(issues, fmt.Sprintf("window %d/%d: %s", i+1, len(outcomes), issue))
		}
	}
	if unnamed := transcript.SpeakerCount(in.Segments) - len(speakers); unnamed > 0 {
		issues = append(issues, fmt.Sprintf("%d speaker labels left unnamed", unnamed))
	}

	return Result{
		Script:   strings.Join(parts, "\n\n"),
		Method:   MethodBoundary,
		Reason:   fmt.Sprintf("%d windows aligned to ASR boundaries; %d speakers named", len(windows), len(speakers)),
		Windows:  len(windows),
		Quality:  Quality{Score: total / float64(len(windows)), Issues: issues},
		Speakers: speakers,
	}, nil
}
