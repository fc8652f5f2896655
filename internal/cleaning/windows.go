package cleaning

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// charWindows splits text into windows of at most size bytes that overlap by
// roughly overlap bytes. Cuts prefer sentence ends, then whitespace, in the
// second half of each window.
func charWindows(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if size <= 0 || len(text) <= size {
		return []string{text}
	}
	if overlap < 0 || overlap >= size/2 {
		overlap = size / 4
	}

	var windows []string
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			windows = append(windows, strings.TrimSpace(text[start:]))
			break
		}
		cut := cutPoint(text, start+size/2, end)
		windows = append(windows, strings.TrimSpace(text[start:cut]))

		next := wordStart(text, cut-overlap, cut)
		if next <= start {
			next = cut
		}
		start = next
	}
	return windows
}

// cutPoint finds the best window end in text[lo:hi].
func cutPoint(text string, lo, hi int) int {
	region := text[lo:hi]
	best := -1
	for _, mark := range []string{". ", "? ", "! ", ".\n", "?\n", "!\n", "。", "？", "！"} {
		if idx := strings.LastIndex(region, mark); idx >= 0 {
			best = max(best, idx+len(strings.TrimRight(mark, " \n")))
		}
	}
	if best >= 0 {
		return lo + best
	}
	if idx := strings.LastIndexFunc(region, unicode.IsSpace); idx >= 0 {
		return lo + idx
	}
	return runeStart(text, hi)
}

// wordStart returns the first word start at or after pos, bounded by limit.
// Text with no word break before limit starts on the next rune boundary so
// unspaced scripts keep their overlap.
func wordStart(text string, pos, limit int) int {
	if pos <= 0 {
		return 0
	}
	if pos >= limit {
		return limit
	}
	if isSpaceByte(text[pos-1]) {
		return pos
	}
	i := pos
	for i < limit && !isSpaceByte(text[i]) {
		i++
	}
	if i == limit {
		for pos < limit && !utf8.RuneStart(text[pos]) {
			pos++
		}
		return pos
	}
	for i < limit && isSpaceByte(text[i]) {
		i++
	}
	return i
}

func runeStart(text string, pos int) int {
	for pos > 0 && pos < len(text) && !utf8.RuneStart(text[pos]) {
		pos--
	}
	return pos
}

const (
	anchorWords = 4
	anchorRunes = 8
)

// stitch joins cleaned windows in order, dropping the text each window
// repeats from the end of the previous one.
func stitch(parts []string, overlapChars int) string {
	limit := max(12, overlapChars/3)
	var b strings.Builder
	var tail []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if b.Len() > 0 {
			if skip := repeatedPrefix(tail, strings.Fields(part), limit); skip > 0 {
				part = dropLeadingWords(part, skip)
			} else if skip := repeatedRunes(b.String(), part, max(2*anchorRunes, overlapChars)); skip > 0 {
				part = strings.TrimSpace(part[skip:])
			}
			if part == "" {
				continue
			}
			b.WriteString("\n\n")
		}
		b.WriteString(part)
		tail = lastWords(b.String(), limit)
	}
	return b.String()
}

// repeatedPrefix returns how many leading words of next repeat the end of
// prev. It first anchors on prev's final words anywhere within the first
// limit words of next, then falls back to an exact suffix/prefix match.
func repeatedPrefix(prev, next []string, limit int) int {
	if len(prev) == 0 || len(next) == 0 {
		return 0
	}
	a := normalizeWords(prev)
	b := normalizeWords(next[:min(len(next), limit+anchorWords)])

	n := min(anchorWords, len(a))
	if n >= 2 {
		anchor := a[len(a)-n:]
		for p := 0; p+n <= len(b) && p <= limit; p++ {
			if equalWords(b[p:p+n], anchor) {
				return p + n
			}
		}
	}
	for k := min(len(a), len(b)); k >= 2; k-- {
		if equalWords(a[len(a)-k:], b[:k]) {
			return k
		}
	}
	return 0
}

// repeatedRunes is the fallback for unspaced text, where a window is one
// long word. It returns how many leading bytes of next repeat the final
// runes of prev, searching the first limit runes of next.
func repeatedRunes(prev, next string, limit int) int {
	anchor := lastRunes(prev, anchorRunes)
	if utf8.RuneCountInString(anchor) < anchorRunes || strings.IndexFunc(anchor, unicode.IsSpace) >= 0 {
		return 0
	}
	head := next
	if n := utf8.RuneCountInString(next); n > limit+anchorRunes {
		head = string([]rune(next)[:limit+anchorRunes])
	}
	if idx := strings.Index(head, anchor); idx >= 0 {
		return idx + len(anchor)
	}
	return 0
}

func lastRunes(text string, n int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) > n {
		runes = runes[len(runes)-n:]
	}
	return string(runes)
}

func normalizeWords(words []string) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = strings.ToLower(strings.TrimFunc(w, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		}))
	}
	return out
}

func equalWords(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func lastWords(text string, n int) []string {
	words := strings.Fields(text)
	if len(words) > n {
		words = words[len(words)-n:]
	}
	return words
}

// dropLeadingWords removes the first n whitespace-separated words of s while
// keeping the rest of its formatting.
func dropLeadingWords(s string, n int) string {
	i := 0
	for w := 0; w < n; w++ {
		for i < len(s) && isSpaceByte(s[i]) {
			i++
		}
		for i < len(s) && !isSpaceByte(s[i]) {
			i++
		}
	}
	return strings.TrimSpace(s[i:])
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}
