package cleaning

import "fmt"

// Facts are the measurable input properties the rule table keys off.
type Facts struct {
	Chars      int
	Budget     int
	Boundaries int
	Speakers   int
	// Forced is the override method, empty when selection is automatic.
	Forced   Method
	Critical bool
}

// FitsWhole reports whether the input fits the single-call budget.
func (f Facts) FitsWhole() bool {
	return f.Chars <= f.Budget
}

// Rule is one row of the selection table.
type Rule struct {
	Name   string
	When   func(Facts) bool
	Method func(Facts) Method
	Reason func(Facts) string
}

// Decision is the outcome of evaluating the rule table.
type Decision struct {
	Rule   string
	Method Method
	Reason string
}

func always(Facts) bool { return true }

func use(method Method) func(Facts) Method {
	return func(Facts) Method { return method }
}

// DefaultRules returns the built-in table in priority order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:   "forced",
			When:   func(f Facts) bool { return f.Forced != "" },
			Method: func(f Facts) Method { return f.Forced },
			Reason: func(f Facts) string { return fmt.Sprintf("method forced to %s", f.Forced) },
		},
		{
			Name:   "correctness-critical",
			When:   func(f Facts) bool { return f.Critical },
			Method: use(MethodIntegrity),
			Reason: func(Facts) string { return "correctness-critical input; tracking factual statements" },
		},
		{
			Name:   "fits-whole",
			When:   Facts.FitsWhole,
			Method: use(MethodWhole),
			Reason: func(f Facts) string {
				return fmt.Sprintf("%d chars within whole budget of %d", f.Chars, f.Budget)
			},
		},
		{
			Name:   "speaker-boundaries",
			When:   func(f Facts) bool { return !f.FitsWhole() && f.Boundaries >= 2 && f.Speakers >= 2 },
			Method: use(MethodBoundary),
			Reason: func(f Facts) string {
				return fmt.Sprintf("%d chars over budget of %d; %d ASR boundaries with %d speakers", f.Chars, f.Budget, f.Boundaries, f.Speakers)
			},
		},
		{
			Name:   "no-boundaries",
			When:   func(f Facts) bool { return !f.FitsWhole() && f.Boundaries < 2 },
			Method: use(MethodChunked),
			Reason: func(f Facts) string {
				return fmt.Sprintf("%d chars over budget of %d without usable segment boundaries", f.Chars, f.Budget)
			},
		},
		{
			Name:   "default",
			When:   always,
			Method: use(MethodSmart),
			Reason: func(f Facts) string {
				return fmt.Sprintf("%d chars with %d boundaries and %d speakers; trying whole before chunked", f.Chars, f.Boundaries, f.Speakers)
			},
		},
	}
}

// Select returns the first matching rule's decision. An empty table or no
// match selects smart.
func Select(rules []Rule, facts Facts) Decision {
	for _, rule := range rules {
		if rule.When == nil || !rule.When(facts) {
			continue
		}
		decision := Decision{Rule: rule.Name, Method: rule.Method(facts)}
		if rule.Reason != nil {
			decision.Reason = rule.Reason(facts)
		}
		return decision
	}
	return Decision{Rule: "fallback", Method: MethodSmart, Reason: "no rule matched"}
}
