package vectorindex

import (
	"strings"
	"unicode/utf8"

	"podscribe/internal/transcript"
)

// maxWordRunes caps a whitespace-delimited word. Longer runs, such as
// unspaced CJK text, are counted one rune per word.
const maxWordRunes = 32

// token is one countable unit of a script. spaced records whether
// whitespace preceded it in the source.
type token struct {
	text   string
	spaced bool
}

func tokenize(text string) []token {
	var tokens []token
	for i, field := range strings.Fields(text) {
		if utf8.RuneCountInString(field) <= maxWordRunes {
			tokens = append(tokens, token{text: field, spaced: i > 0})
			continue
		}
		for j, r := range field {
			tokens = append(tokens, token{text: string(r), spaced: i > 0 && j == 0})
		}
	}
	return tokens
}

func joinTokens(tokens []token) string {
	var b strings.Builder
	for i, t := range tokens {
		if i > 0 && t.spaced {
			b.WriteByte(' ')
		}
		b.WriteString(t.text)
	}
	return b.String()
}

// WindowOptions sizes index windows in words.
type WindowOptions struct {
	Words   int
	Overlap int
}

func (o WindowOptions) normalized() WindowOptions {
	if o.Words <= 0 {
		o.Words = 180
	}
	if o.Overlap < 0 || o.Overlap >= o.Words {
		o.Overlap = o.Words / 6
	}
	return o
}

// Windows splits script into overlapping word windows and assigns each a
// time range. The cleaned script carries no timestamps, so a script word's
// time is taken from the raw segment word at the same relative position.
// Without segments every window spans 0-0.
func Windows(segments []transcript.Segment, script string, opts WindowOptions) []Chunk {
	opts = opts.normalized()
	words := tokenize(script)
	if len(words) == 0 {
		return nil
	}
	timeline := newTimeline(segments)

	step := opts.Words - opts.Overlap
	var chunks []Chunk
	for start := 0; start < len(words); start += step {
		end := min(start+opts.Words, len(words))
		from, _ := timeline.at(start, len(words))
		_, to := timeline.at(end-1, len(words))
		chunks = append(chunks, Chunk{
			Seq:   len(chunks),
			Start: from,
			End:   to,
			Text:  joinTokens(words[start:end]),
		})
		if end == len(words) {
			break
		}
	}
	return chunks
}

// wordSpan is the interpolated time range of one raw transcript word.
type wordSpan struct {
	start float64
	end   float64
}

type timeline []wordSpan

func newTimeline(segments []transcript.Segment) timeline {
	var spans timeline
	for _, seg := range transcript.Merge([]transcript.Part{{Segments: segments}}) {
		count := len(tokenize(seg.Text))
		if count == 0 {
			continue
		}
		duration := max(seg.End-seg.Start, 0)
		for i := 0; i < count; i++ {
			spans = append(spans, wordSpan{
				start: seg.Start + duration*float64(i)/float64(count),
				end:   seg.Start + duration*float64(i+1)/float64(count),
			})
		}
	}
	return spans
}

// at maps word index of total script words onto the raw timeline.
func (t timeline) at(index, total int) (float64, float64) {
	if len(t) == 0 || total <= 0 {
		return 0, 0
	}
	pos := index * len(t) / total
	pos = min(max(pos, 0), len(t)-1)
	return t[pos].start, t[pos].end
}
