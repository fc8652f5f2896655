package cleaning

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// SpeakerMap maps ASR speaker labels (SPEAKER_00) to real names. It is
// threaded through boundary windows as a fold accumulator and never mutated
// in place.
type SpeakerMap map[string]string

// Fold returns a new map with the names found in one window added. A label
// keeps the first name it was given so earlier windows stay consistent.
func (m SpeakerMap) Fold(found map[string]string) SpeakerMap {
	out := make(SpeakerMap, len(m)+len(found))
	for label, name := range m {
		out[label] = name
	}
	for label, name := range found {
		label = strings.TrimSpace(label)
		name = strings.TrimSpace(name)
		if label == "" || name == "" || strings.EqualFold(label, name) {
			continue
		}
		if _, known := out[label]; known {
			continue
		}
		out[label] = name
	}
	return out
}

// Apply replaces labels in text with their names. A label only matches as a
// whole token, so SPEAKER_1 never rewrites SPEAKER_10 or a longer word.
func (m SpeakerMap) Apply(text string) string {
	if len(m) == 0 {
		return text
	}
	labels := make([]string, 0, len(m))
	for label := range m {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if len(labels[i]) != len(labels[j]) {
			return len(labels[i]) > len(labels[j])
		}
		return labels[i] < labels[j]
	})

	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); {
		prev, _ := utf8.DecodeLastRuneInString(text[:i])
		if i == 0 || !isWordRune(prev) {
			if label, ok := matchLabel(text[i:], labels); ok {
				b.WriteString(m[label])
				i += len(label)
				continue
			}
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		b.WriteString(text[i : i+size])
		i += size
	}
	return b.String()
}

func matchLabel(rest string, labels []string) (string, bool) {
	for _, label := range labels {
		if !strings.HasPrefix(rest, label) {
			continue
		}
		if next, size := utf8.DecodeRuneInString(rest[len(label):]); size > 0 && isWordRune(next) {
			continue
		}
		return label, true
	}
	return "", false
}

// isWordRune reports whether r continues a Latin word or label. Han and
// other unspaced scripts may follow a label directly.
func isWordRune(r rune) bool {
	return r == '_' || unicode.IsDigit(r) || unicode.In(r, unicode.Latin)
}
