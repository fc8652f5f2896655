package cleaning

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// AtRisk is one factual sentence whose key terms are missing from the
// cleaned output.
type AtRisk struct {
	Window       int      `json:"window"`
	Sentence     string   `json:"sentence"`
	MissingTerms []string `json:"missing_terms"`
}

// IntegrityReport itemizes factual statements checked during cleaning.
type IntegrityReport struct {
	Checked   int      `json:"checked"`
	Preserved int      `json:"preserved"`
	AtRisk    []AtRisk `json:"at_risk"`
}

var sentencePattern = regexp.MustCompile(`[^.!?\n]+[.!?]*`)

// fact is a sentence with the terms that must survive cleaning.
type fact struct {
	sentence string
	terms    []string
}

// extractFacts returns sentences containing numbers or mid-sentence proper
// nouns, with those tokens as key terms.
func extractFacts(text string) []fact {
	var facts []fact
	for _, sentence := range sentencePattern.FindAllString(text, -1) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		words := strings.Fields(sentence)
		var terms []string
		seen := map[string]bool{}
		for i, raw := range words {
			word := strings.TrimFunc(raw, func(r rune) bool {
				return unicode.IsPunct(r) && r != '%' && r != '$'
			})
			if word == "" || seen[word] {
				continue
			}
			if isKeyTerm(word, i) {
				seen[word] = true
				terms = append(terms, word)
			}
		}
		if len(terms) > 0 {
			facts = append(facts, fact{sentence: sentence, terms: terms})
		}
	}
	return facts
}

func isKeyTerm(word string, position int) bool {
	hasDigit := strings.IndexFunc(word, unicode.IsDigit) >= 0
	if hasDigit {
		return true
	}
	if position == 0 || len(word) < 2 || word == "I" {
		return false
	}
	first := []rune(word)[0]
	return unicode.IsUpper(first)
}

// factCheck is the outcome for one fact in one window.
type factCheck struct {
	sentence string
	missing  []string
}

// checkFacts compares facts found in raw against cleaned.
func checkFacts(raw, cleaned string) []factCheck {
	haystack := strings.ToLower(cleaned)
	digits := " " + digitRuns(cleaned) + " "
	var checks []factCheck
	for _, f := range extractFacts(raw) {
		check := factCheck{sentence: f.sentence}
		for _, term := range f.terms {
			if !termPresent(term, haystack, digits) {
				check.missing = append(check.missing, term)
			}
		}
		checks = append(checks, check)
	}
	return checks
}

// termPresent matches case-insensitively. Numeric terms also match when only
// separators changed, for example "1,000" versus "1000".
func termPresent(term, haystack, haystackDigits string) bool {
	if strings.Contains(haystack, strings.ToLower(term)) {
		return true
	}
	if runs := digitRuns(term); runs != "" {
		return strings.Contains(haystackDigits, " "+runs+" ")
	}
	return false
}

// digitRuns returns the digit groups of s separated by single spaces. Commas
// and periods between digits do not split a group.
func digitRuns(s string) string {
	var b strings.Builder
	pendingSpace := false
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		case r == ',' || r == '.':
		default:
			pendingSpace = true
		}
	}
	return b.String()
}

func cleanIntegrity(ctx context.Context, r *Run, in Input) (Result, error) {
	opts := r.Options()
	windows := charWindows(in.Text, opts.ChunkChars, opts.OverlapChars)
	outcomes, err := cleanWindows(ctx, r, MethodIntegrity, integritySystemPrompt, windows)
	if err != nil {
		return Result{}, err
	}
	result := windowedResult(r, MethodIntegrity, outcomes)

	report := &IntegrityReport{AtRisk: []AtRisk{}}
	seen := map[string]bool{}
	for i, outcome := range outcomes {
		for _, check := range checkFacts(outcome.raw, outcome.cleaned) {
			// Overlapping windows repeat sentences; the first window decides.
			if seen[check.sentence] {
				continue
			}
			seen[check.sentence] = true
			report.Checked++
			if len(check.missing) == 0 {
				report.Preserved++
				continue
			}
			report.AtRisk = append(report.AtRisk, AtRisk{Window: i, Sentence: check.sentence, MissingTerms: check.missing})
		}
	}
	result.Integrity = report
	if report.Checked > 0 {
		result.Quality.Score = float64(report.Preserved) / float64(report.Checked)
	}
	if n := len(report.AtRisk); n > 0 {
		result.Quality.Issues = append(result.Quality.Issues, fmt.Sprintf("%d factual statements at risk", n))
	}
	result.Reason = fmt.Sprintf("%d windows; %d of %d factual statements preserved", len(windows), report.Preserved, report.Checked)
	return result, nil
}
