package vectorindex

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"podscribe/internal/events"
	"podscribe/internal/logging"
	"podscribe/internal/services"
	"podscribe/internal/usage"
)

// NotFoundAnswer is returned verbatim when nothing relevant is indexed.
const NotFoundAnswer = "Not found in transcript."

const answerSystemPrompt = `You answer questions about podcast episodes using only the transcript excerpts provided.
Each excerpt is numbered and labeled with its episode title and time range.
Cite excerpts inline by number, for example [2]. If the excerpts do not contain
the answer, reply with exactly: ` + NotFoundAnswer

// LLM is the text-generation collaborator used to compose answers.
type LLM interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// TitleSource resolves episode titles for grounding context.
type TitleSource interface {
	Titles(ctx context.Context, ids []int64) (map[int64]string, error)
}

// Question is a QA request. EpisodeID 0 searches every episode.
type Question struct {
	Text      string `json:"question"`
	EpisodeID int64  `json:"episode_id,omitempty"`
}

// Citation points at the transcript span that grounds an answer.
type Citation struct {
	EpisodeID int64   `json:"episode_id"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	ChunkID   int64   `json:"chunk_id"`
}

// Answer is a grounded response.
type Answer struct {
	Text      string     `json:"answer"`
	Citations []Citation `json:"citations"`
}

// Answerer retrieves chunks and asks the LLM to answer from them.
type Answerer struct {
	index    Index
	embedder Embedder
	llm      LLM
	titles   TitleSource
	limit    int
	emitter  *events.Emitter
	stats    *usage.Collector
	logger   *slog.Logger
}

// AnswererOption customizes an Answerer.
type AnswererOption func(*Answerer)

// WithEmitter publishes an answer_served event per answer.
func WithEmitter(emitter *events.Emitter) AnswererOption {
	return func(a *Answerer) { a.emitter = emitter }
}

// WithUsage records embedding and LLM usage.
func WithUsage(stats *usage.Collector) AnswererOption {
	return func(a *Answerer) { a.stats = stats }
}

// NewAnswerer builds an answerer retrieving limit chunks per question.
func NewAnswerer(index Index, embedder Embedder, client LLM, titles TitleSource, limit int, logger *slog.Logger, opts ...AnswererOption) *Answerer {
	if limit <= 0 {
		limit = 5
	}
	a := &Answerer{
		index:    index,
		embedder: embedder,
		llm:      client,
		titles:   titles,
		limit:    limit,
		logger:   logging.NewComponentLogger(logger, "qa"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Answer embeds the question, retrieves the nearest chunks, and answers
// strictly from them. No chunks yields NotFoundAnswer without an LLM call.
func (a *Answerer) Answer(ctx context.Context, q Question) (Answer, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return Answer{}, services.Wrap(services.ErrValidation, "qa", "answer", "question is empty", nil)
	}
	vectors, err := a.embedder.Embed(ctx, []string{text})
	a.stats.RecordEmbedding(1)
	if err != nil {
		return Answer{}, fmt.Errorf("embed question: %w", err)
	}
	if len(vectors) != 1 {
		return Answer{}, services.Wrap(services.ErrUpstream, "qa", "embed", "embedding response missing", nil)
	}
	matches, err := a.index.Search(ctx, q.EpisodeID, vectors[0], a.limit)
	if err != nil {
		return Answer{}, fmt.Errorf("search index: %w", err)
	}

	answer := Answer{Text: NotFoundAnswer, Citations: []Citation{}}
	if len(matches) > 0 {
		prompt := fmt.Sprintf("Question: %s\n\nExcerpts:\n%s", text, a.groundingContext(ctx, matches))
		out, err := a.llm.Complete(ctx, answerSystemPrompt, prompt)
		a.stats.RecordLLM(len(answerSystemPrompt)+len(prompt), len(out), err)
		if err != nil {
			return Answer{}, fmt.Errorf("compose answer: %w", err)
		}
		answer.Text = strings.TrimSpace(out)
		if answer.Text == "" || isNotFound(answer.Text) {
			answer.Text = NotFoundAnswer
		} else {
			for _, m := range matches {
				answer.Citations = append(answer.Citations, Citation{EpisodeID: m.EpisodeID, Start: m.Start, End: m.End, ChunkID: m.ID})
			}
		}
	}

	a.logger.Info("answer served",
		logging.Int64(logging.FieldEpisodeID, q.EpisodeID),
		logging.Int("chunks", len(matches)),
		logging.Int("citations", len(answer.Citations)),
	)
	a.emitter.Emit(events.Event{
		Type:      events.AnswerServed,
		EpisodeID: q.EpisodeID,
		Detail:    text,
	})
	return answer, nil
}

// isNotFound reports whether a model reply is the not-found answer, ignoring
// case, quoting and trailing punctuation.
func isNotFound(reply string) bool {
	trim := func(s string) string {
		return strings.ToLower(strings.TrimFunc(s, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSpace(r)
		}))
	}
	return trim(reply) == trim(NotFoundAnswer)
}

func (a *Answerer) groundingContext(ctx context.Context, matches []Match) string {
	ids := make([]int64, 0, len(matches))
	seen := map[int64]bool{}
	for _, m := range matches {
		if !seen[m.EpisodeID] {
			seen[m.EpisodeID] = true
			ids = append(ids, m.EpisodeID)
		}
	}
	titles := map[int64]string{}
	if a.titles != nil {
		found, err := a.titles.Titles(ctx, ids)
		if err != nil {
			logging.WarnWithContext(a.logger, "episode titles unavailable", "qa_titles_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "excerpts labeled by episode id"),
			)
		} else {
			titles = found
		}
	}

	var b strings.Builder
	for i, m := range matches {
		title := titles[m.EpisodeID]
		if title == "" {
			title = fmt.Sprintf("Episode %d", m.EpisodeID)
		}
		fmt.Fprintf(&b, "[%d] %s (%s-%s)\n%s\n\n", i+1, title, FormatTimestamp(m.Start), FormatTimestamp(m.End), m.Text)
	}
	return strings.TrimSpace(b.String())
}

// FormatTimestamp renders seconds as m:ss or h:mm:ss.
func FormatTimestamp(seconds float64) string {
	total := int(max(seconds, 0))
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
