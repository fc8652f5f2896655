// Package summary turns a cleaned episode script into a structured summary.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"podscribe/internal/logging"
	"podscribe/internal/services"
	"podscribe/internal/services/llm"
	"podscribe/internal/usage"
)

const summarySchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["title", "overview", "key_points"],
  "properties": {
    "title": {"type": "string", "minLength": 1},
    "overview": {"type": "string", "minLength": 1},
    "key_points": {"type": "array", "minItems": 1, "items": {"type": "string"}},
    "topics": {"type": "array", "items": {"type": "string"}},
    "people": {"type": "array", "items": {"type": "string"}},
    "quotes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["text"],
        "properties": {
          "speaker": {"type": "string"},
          "text": {"type": "string", "minLength": 1}
        }
      }
    }
  }
}`

var summaryValidator = llm.MustCompileSchema("summary.json", summarySchema)

const systemPrompt = `You summarize cleaned podcast transcripts.
Respond with JSON only, matching this shape:
{"title": "<short episode title>",
 "overview": "<one paragraph>",
 "key_points": ["<point>", ...],
 "topics": ["<topic>", ...],
 "people": ["<person mentioned or speaking>", ...],
 "quotes": [{"speaker": "<name>", "text": "<verbatim quote>"}]}
Use only what the transcript says. Quotes must be verbatim.`

// Quote is a verbatim line from the episode.
type Quote struct {
	Speaker string `json:"speaker,omitempty"`
	Text    string `json:"text"`
}

// Summary is the structured report stored with an episode.
type Summary struct {
	Title     string   `json:"title"`
	Overview  string   `json:"overview"`
	KeyPoints []string `json:"key_points"`
	Topics    []string `json:"topics,omitempty"`
	People    []string `json:"people,omitempty"`
	Quotes    []Quote  `json:"quotes,omitempty"`
	// Truncated is set when the script exceeded the input limit and only its
	// beginning was summarized.
	Truncated bool `json:"truncated,omitempty"`
}

// LLM is the JSON-mode text-generation collaborator.
type LLM interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Generator produces summaries.
type Generator struct {
	llm           LLM
	maxInputChars int
	logger        *slog.Logger
}

// NewGenerator builds a generator. maxInputChars <= 0 disables truncation.
func NewGenerator(client LLM, maxInputChars int, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Generator{
		llm:           client,
		maxInputChars: maxInputChars,
		logger:        logging.NewComponentLogger(logger, "summary"),
	}
}

// Generate summarizes script. LLM usage is recorded in stats, which may be nil.
func (g *Generator) Generate(ctx context.Context, script string, stats *usage.Collector) (Summary, error) {
	script = strings.TrimSpace(script)
	if script == "" {
		return Summary{}, services.Wrap(services.ErrValidation, "summarize", "generate", "script is empty", nil)
	}
	input, truncated := truncate(script, g.maxInputChars)
	if truncated {
		logging.WarnWithContext(g.logger, "script truncated for summary", "summary_truncated",
			logging.Int("chars", len(script)),
			logging.Int("limit", g.maxInputChars),
			logging.String(logging.FieldImpact, "summary covers the beginning of the episode only"),
		)
	}

	out, err := g.llm.CompleteJSON(ctx, systemPrompt, input)
	stats.RecordLLM(len(systemPrompt)+len(input), len(out), err)
	if err != nil {
		if services.Kind(err) != services.ErrorKindUnknown {
			return Summary{}, fmt.Errorf("summarize: %w", err)
		}
		return Summary{}, services.Wrap(services.ErrUpstream, "summarize", "generate", "summary call failed", err)
	}

	var summary Summary
	if err := llm.DecodeValidated(summaryValidator, out, &summary); err != nil {
		return Summary{}, services.Wrap(services.ErrUpstream, "summarize", "decode", "model returned an invalid summary", err)
	}
	summary.Truncated = truncated
	summary.KeyPoints = compact(summary.KeyPoints)
	summary.Topics = compact(summary.Topics)
	summary.People = compact(summary.People)
	return summary, nil
}

// truncate cuts text to at most limit bytes, backing up to a word boundary.
func truncate(text string, limit int) (string, bool) {
	if limit <= 0 || len(text) <= limit {
		return text, false
	}
	cut := strings.LastIndexAny(text[:limit], " \n\t")
	if cut <= 0 {
		cut = limit
		for cut > 0 && !isRuneStart(text[cut]) {
			cut--
		}
	}
	return strings.TrimSpace(text[:cut]), true
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func compact(values []string) []string {
	out := values[:0]
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, value)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
