package vectorindex

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"podscribe/internal/events"
	"podscribe/internal/services"
	"podscribe/internal/transcript"
	"podscribe/internal/usage"
)

// keywordEmbedder maps texts onto a tiny vocabulary so distances are
// predictable.
type keywordEmbedder struct {
	calls int
}

var vocabulary = []string{"garage", "funding", "product", "weather"}

func (k *keywordEmbedder) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	k.calls++
	out := make([][]float32, len(inputs))
	for i, input := range inputs {
		v := make([]float32, len(vocabulary))
		lower := strings.ToLower(input)
		for j, word := range vocabulary {
			v[j] = float32(strings.Count(lower, word))
		}
		out[i] = v
	}
	return out, nil
}

type fakeLLM struct {
	prompts []string
	reply   string
}

func (f *fakeLLM) Complete(_ context.Context, _, user string) (string, error) {
	f.prompts = append(f.prompts, user)
	return f.reply, nil
}

type staticTitles map[int64]string

func (s staticTitles) Titles(_ context.Context, ids []int64) (map[int64]string, error) {
	out := map[int64]string{}
	for _, id := range ids {
		if title, ok := s[id]; ok {
			out[id] = title
		}
	}
	return out, nil
}

func openTestIndex(t *testing.T) *SQLiteIndex {
	t.Helper()
	index, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = index.Close() })
	return index
}

func TestEnsureIndexSetupIsIdempotent(t *testing.T) {
	index := openTestIndex(t)
	for i := 0; i < 2; i++ {
		if err := index.EnsureIndexSetup(context.Background()); err != nil {
			t.Fatalf("EnsureIndexSetup #%d: %v", i+1, err)
		}
	}
}

func TestSQLiteSearchOrdersByDistance(t *testing.T) {
	ctx := context.Background()
	index := openTestIndex(t)
	if err := index.ReplaceEpisodeChunks(ctx, 1, []Chunk{
		{Text: "a", Start: 0, End: 10, Embedding: []float32{1, 0}},
		{Text: "b", Start: 10, End: 20, Embedding: []float32{0.7, 0.7}},
		{Text: "c", Start: 20, End: 30, Embedding: []float32{0, 1}},
	}); err != nil {
		t.Fatalf("ReplaceEpisodeChunks: %v", err)
	}
	if err := index.ReplaceEpisodeChunks(ctx, 2, []Chunk{
		{Text: "d", Embedding: []float32{1, 0.1}},
	}); err != nil {
		t.Fatalf("ReplaceEpisodeChunks: %v", err)
	}

	all, err := index.Search(ctx, 0, []float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(all) != 3 || all[0].Text != "a" || all[1].Text != "d" || all[2].Text != "b" {
		t.Fatalf("unexpected ranking %+v", all)
	}
	for i := 1; i < len(all); i++ {
		if all[i].Distance < all[i-1].Distance {
			t.Fatal("results not ascending by distance")
		}
	}

	scoped, err := index.Search(ctx, 1, []float32{0, 1}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(scoped) != 3 || scoped[0].Text != "c" || scoped[0].EpisodeID != 1 {
		t.Fatalf("unexpected scoped results %+v", scoped)
	}
}

func TestReplaceEpisodeChunksSupersedesSet(t *testing.T) {
	ctx := context.Background()
	index := openTestIndex(t)
	first := []Chunk{{Text: "old one", Embedding: []float32{1}}, {Text: "old two", Embedding: []float32{1}}}
	if err := index.ReplaceEpisodeChunks(ctx, 5, first); err != nil {
		t.Fatalf("ReplaceEpisodeChunks: %v", err)
	}
	if err := index.ReplaceEpisodeChunks(ctx, 5, []Chunk{{Text: "new", Embedding: []float32{1}}}); err != nil {
		t.Fatalf("ReplaceEpisodeChunks: %v", err)
	}
	count, err := index.ChunkCount(ctx, 5)
	if err != nil || count != 1 {
		t.Fatalf("expected one chunk after replace, got %d (%v)", count, err)
	}

	err = index.ReplaceEpisodeChunks(ctx, 5, []Chunk{{Text: "x", Embedding: []float32{1, 2}}, {Text: "y", Embedding: []float32{1}}})
	if !errors.Is(err, services.ErrConsistency) {
		t.Fatalf("expected consistency error for mixed dimensions, got %v", err)
	}
	if count, _ := index.ChunkCount(ctx, 5); count != 1 {
		t.Fatalf("failed replace must not touch stored chunks, have %d", count)
	}
}

func TestVectorEncodingRoundTrip(t *testing.T) {
	v := []float32{0, -1.5, float32(math.Pi), 1e-7}
	got := decodeVector(encodeVector(v))
	for i := range v {
		if got[i] != v[i] {
			t.Fatalf("component %d: got %v want %v", i, got[i], v[i])
		}
	}
	if vectorLiteral([]float32{1, -0.5, 0.25}) != "[1,-0.5,0.25]" {
		t.Fatalf("unexpected literal %s", vectorLiteral([]float32{1, -0.5, 0.25}))
	}
}

func TestWindowsOverlapAndAlignToTime(t *testing.T) {
	segments := []transcript.Segment{
		{Start: 0, End: 10, Text: "one two three four five"},
		{Start: 10, End: 20, Text: "six seven eight nine ten"},
	}
	script := "One two three four five six seven eight nine ten."
	chunks := Windows(segments, script, WindowOptions{Words: 4, Overlap: 1})
	if len(chunks) != 3 {
		t.Fatalf("expected 3 windows, got %d: %+v", len(chunks), chunks)
	}
	if chunks[0].Text != "One two three four" || chunks[1].Text != "four five six seven" || chunks[2].Text != "seven eight nine ten." {
		t.Fatalf("unexpected window texts %+v", chunks)
	}
	if chunks[0].Start != 0 || chunks[0].End != 8 || chunks[1].Start != 6 || chunks[2].End != 20 {
		t.Fatalf("unexpected time ranges %+v", chunks)
	}
	for i, chunk := range chunks {
		if chunk.Seq != i {
			t.Fatalf("chunk %d has seq %d", i, chunk.Seq)
		}
	}
	if got := Windows(nil, "a b", WindowOptions{Words: 4}); len(got) != 1 || got[0].End != 0 {
		t.Fatalf("expected one untimed window, got %+v", got)
	}
	if Windows(segments, "   ", WindowOptions{}) != nil {
		t.Fatal("expected no windows for an empty script")
	}
}

func TestWindowsSplitUnspacedScript(t *testing.T) {
	phrase := "今天我们聊一聊播客的制作流程。"
	segments := []transcript.Segment{
		{Start: 0, End: 900, Text: strings.Repeat(phrase, 1000)},
		{Start: 900, End: 1800, Text: strings.Repeat(phrase, 1000)},
	}
	script := strings.Repeat(phrase, 2000)
	chunks := Windows(segments, script, WindowOptions{Words: 180, Overlap: 30})
	if len(chunks) != 200 {
		t.Fatalf("expected 200 windows, got %d", len(chunks))
	}
	runes := []rune(script)
	if chunks[0].Text != string(runes[:180]) {
		t.Fatalf("unexpected first window %q", chunks[0].Text)
	}
	if chunks[1].Text != string(runes[150:330]) {
		t.Fatalf("expected a 30 rune overlap, got %q", chunks[1].Text)
	}
	for i, chunk := range chunks {
		if n := len([]rune(chunk.Text)); n > 180 || strings.Contains(chunk.Text, " ") {
			t.Fatalf("window %d has %d runes: %q", i, n, chunk.Text)
		}
	}
	if chunks[0].Start != 0 || chunks[len(chunks)-1].End != 1800 {
		t.Fatalf("unexpected span %v-%v", chunks[0].Start, chunks[len(chunks)-1].End)
	}
}

func TestIndexerRejectsMissingScript(t *testing.T) {
	ix := NewIndexer(openTestIndex(t), &keywordEmbedder{}, WindowOptions{}, nil)
	if _, err := ix.IndexEpisode(context.Background(), 1, nil, " ", nil); !errors.Is(err, services.ErrConsistency) {
		t.Fatalf("expected consistency error, got %v", err)
	}
}

func TestAnswerGroundsAndCites(t *testing.T) {
	ctx := context.Background()
	index := openTestIndex(t)
	embedder := &keywordEmbedder{}
	ix := NewIndexer(index, embedder, WindowOptions{Words: 6, Overlap: 0}, nil)
	segments := []transcript.Segment{
		{Start: 0, End: 30, Text: "we started in a garage downtown"},
		{Start: 30, End: 60, Text: "then the weather turned very cold"},
	}
	count, err := ix.IndexEpisode(ctx, 9, segments, "We started in a garage downtown. Then the weather turned very cold.", nil)
	if err != nil || count != 2 {
		t.Fatalf("IndexEpisode: count=%d err=%v", count, err)
	}

	recorder := &struct{ events []events.Event }{}
	emitter := events.NewEmitter(4, nil, events.SinkFunc(func(_ context.Context, e events.Event) error {
		recorder.events = append(recorder.events, e)
		return nil
	}))
	llm := &fakeLLM{reply: "They started in a garage [1]."}
	stats := usage.New(usage.Prices{})
	answerer := NewAnswerer(index, embedder, llm, staticTitles{9: "Origins"}, 1, nil, WithEmitter(emitter), WithUsage(stats))

	answer, err := answerer.Answer(ctx, Question{Text: "Where was the garage?"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if answer.Text != "They started in a garage [1]." || len(answer.Citations) != 1 {
		t.Fatalf("unexpected answer %+v", answer)
	}
	citation := answer.Citations[0]
	if citation.EpisodeID != 9 || citation.Start != 0 || citation.End != 30 || citation.ChunkID == 0 {
		t.Fatalf("unexpected citation %+v", citation)
	}
	if snap := stats.Snapshot(); snap.LLMCalls != 1 || snap.EmbeddedInputs != 1 {
		t.Fatalf("expected question usage to be recorded, got %+v", snap)
	}
	if !strings.Contains(llm.prompts[0], "[1] Origins (0:00-0:30)") {
		t.Fatalf("grounding context missing title and range: %q", llm.prompts[0])
	}

	_ = emitter.Close(ctx)
	if len(recorder.events) != 1 || recorder.events[0].Type != events.AnswerServed {
		t.Fatalf("expected answer_served event, got %+v", recorder.events)
	}
}

func TestAnswerWithoutChunksIsNotFound(t *testing.T) {
	llm := &fakeLLM{reply: "made up"}
	answerer := NewAnswerer(openTestIndex(t), &keywordEmbedder{}, llm, nil, 5, nil)
	answer, err := answerer.Answer(context.Background(), Question{Text: "anything?"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if answer.Text != NotFoundAnswer || answer.Citations == nil || len(answer.Citations) != 0 {
		t.Fatalf("expected fixed not-found answer with empty citations, got %+v", answer)
	}
	if len(llm.prompts) != 0 {
		t.Fatal("LLM must not be called without retrieved chunks")
	}
}

func TestAnswerNormalizesNotFoundReplies(t *testing.T) {
	ctx := context.Background()
	index := openTestIndex(t)
	embedder := &keywordEmbedder{}
	ix := NewIndexer(index, embedder, WindowOptions{Words: 6}, nil)
	segments := []transcript.Segment{{Start: 0, End: 30, Text: "we started in a garage downtown"}}
	if _, err := ix.IndexEpisode(ctx, 3, segments, "We started in a garage downtown.", nil); err != nil {
		t.Fatalf("IndexEpisode: %v", err)
	}

	for _, reply := range []string{"Not found in transcript", "  not found in transcript!  ", `"NOT FOUND IN TRANSCRIPT."`} {
		answerer := NewAnswerer(index, embedder, &fakeLLM{reply: reply}, nil, 3, nil)
		answer, err := answerer.Answer(ctx, Question{Text: "Who funded the garage?"})
		if err != nil {
			t.Fatalf("Answer(%q): %v", reply, err)
		}
		if answer.Text != NotFoundAnswer || len(answer.Citations) != 0 {
			t.Fatalf("reply %q: expected not-found without citations, got %+v", reply, answer)
		}
	}
}

func TestAnswerRejectsEmptyQuestion(t *testing.T) {
	answerer := NewAnswerer(openTestIndex(t), &keywordEmbedder{}, &fakeLLM{}, nil, 5, nil)
	if _, err := answerer.Answer(context.Background(), Question{Text: " "}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestFormatTimestamp(t *testing.T) {
	cases := map[float64]string{0: "0:00", 65.4: "1:05", 3725: "1:02:05", -3: "0:00"}
	for in, want := range cases {
		if got := FormatTimestamp(in); got != want {
			t.Fatalf("FormatTimestamp(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestPostgresIndex(t *testing.T) {
	dsn := os.Getenv("PODSCRIBE_PG_DSN")
	if dsn == "" {
		t.Skip("PODSCRIBE_PG_DSN not set")
	}
	ctx := context.Background()
	index, err := OpenPostgres(ctx, PostgresConfig{DSN: dsn, Dimensions: 2}, nil)
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	defer index.Close()
	if err := index.EnsureIndexSetup(ctx); err != nil {
		t.Fatalf("EnsureIndexSetup: %v", err)
	}
	const episodeID = 987654321
	if err := index.ReplaceEpisodeChunks(ctx, episodeID, []Chunk{
		{Text: "near", Embedding: []float32{1, 0}},
		{Text: "far", Embedding: []float32{0, 1}},
	}); err != nil {
		t.Fatalf("ReplaceEpisodeChunks: %v", err)
	}
	defer func() { _ = index.ReplaceEpisodeChunks(ctx, episodeID, nil) }()
	matches, err := index.Search(ctx, episodeID, []float32{1, 0.1}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 || matches[0].Text != "near" {
		t.Fatalf("unexpected matches %+v", matches)
	}
}

func TestOpenPostgresRequiresDSN(t *testing.T) {
	if _, err := OpenPostgres(context.Background(), PostgresConfig{Dimensions: 2}, nil); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
