package cleaning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"podscribe/internal/config"
	"podscribe/internal/logging"
	"podscribe/internal/services"
	"podscribe/internal/transcript"
	"podscribe/internal/usage"
)

// Method names a cleaning strategy.
type Method string

const (
	MethodAuto      Method = "auto"
	MethodWhole     Method = "whole"
	MethodChunked   Method = "chunked"
	MethodSmart     Method = "smart"
	MethodIntegrity Method = "integrity"
	MethodBoundary  Method = "boundary"
)

// ParseMethod validates a configured or requested method name.
func ParseMethod(value string) (Method, error) {
	method := Method(strings.ToLower(strings.TrimSpace(value)))
	switch method {
	case "", MethodAuto:
		return MethodAuto, nil
	case MethodWhole, MethodChunked, MethodSmart, MethodIntegrity, MethodBoundary:
		return method, nil
	default:
		return "", services.Wrap(services.ErrValidation, "clean", "parse method", fmt.Sprintf("unknown cleaning method %q", value), nil)
	}
}

// LLM is the text-generation collaborator used by every strategy.
type LLM interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Options holds the size thresholds that drive selection and windowing.
type Options struct {
	Method           Method
	WholeMaxChars    int
	WholeMargin      float64
	ChunkChars       int
	OverlapChars     int
	MaxInputChars    int
	MinOutputRatio   float64
	IntegrityDefault bool
	Prices           usage.Prices
}

// OptionsFromConfig reads the [cleaning] and pricing settings.
func OptionsFromConfig(cfg *config.Config) Options {
	method, err := ParseMethod(cfg.Cleaning.Method)
	if err != nil {
		method = MethodAuto
	}
	return Options{
		Method:           method,
		WholeMaxChars:    cfg.Cleaning.WholeMaxChars,
		WholeMargin:      cfg.Cleaning.WholeMargin,
		ChunkChars:       cfg.Cleaning.ChunkChars,
		OverlapChars:     cfg.Cleaning.OverlapChars,
		MaxInputChars:    cfg.Cleaning.MaxInputChars,
		MinOutputRatio:   cfg.Cleaning.MinOutputRatio,
		IntegrityDefault: cfg.Cleaning.IntegrityDefault,
		Prices: usage.Prices{
			InputPerMillion:  cfg.LLM.InputPricePerMillion,
			OutputPerMillion: cfg.LLM.OutputPricePerMillion,
		},
	}
}

// Budget is the largest input the whole strategy accepts once the safety
// margin is applied.
func (o Options) Budget() int {
	margin := o.WholeMargin
	if margin < 0 || margin >= 1 {
		margin = 0
	}
	return int(float64(o.WholeMaxChars) * (1 - margin))
}

// Input is one transcript to clean.
type Input struct {
	// Text is the raw transcript. When empty it is built from Segments.
	Text string
	// Segments carries ASR boundaries and speaker labels when available.
	Segments []transcript.Segment
	// Method overrides selection when set to anything but auto.
	Method Method
	// Critical requests integrity tracking.
	Critical bool
}

// Quality is the strategy-specific assessment of a result.
type Quality struct {
	Score  float64  `json:"score"`
	Issues []string `json:"issues,omitempty"`
}

// Result is the outcome of one Clean call.
type Result struct {
	Script           string           `json:"-"`
	Method           Method           `json:"method"`
	Rule             string           `json:"rule"`
	Reason           string           `json:"reason"`
	ProcessingTime   time.Duration    `json:"-"`
	ProcessingMS     int64            `json:"processing_ms"`
	EstimatedCostUSD float64          `json:"estimated_cost_usd"`
	InputChars       int              `json:"input_chars"`
	OutputChars      int              `json:"output_chars"`
	Windows          int              `json:"windows"`
	Calls            int              `json:"calls"`
	Quality          Quality          `json:"quality"`
	Integrity        *IntegrityReport `json:"integrity,omitempty"`
	Speakers         SpeakerMap       `json:"speakers,omitempty"`
}

// Strategy cleans one input. Implementations must be safe to call
// concurrently; per-call state lives in the run.
type Strategy func(ctx context.Context, r *Run, in Input) (Result, error)

// Cleaner selects and runs strategies.
type Cleaner struct {
	llm        LLM
	opts       Options
	rules      []Rule
	strategies map[Method]Strategy
	logger     *slog.Logger
}

// CleanerOption customizes a Cleaner.
type CleanerOption func(*Cleaner)

// WithRules replaces the selection rule table.
func WithRules(rules []Rule) CleanerOption {
	return func(c *Cleaner) {
		c.rules = append([]Rule(nil), rules...)
	}
}

// WithStrategy registers or replaces the strategy for method.
func WithStrategy(method Method, strategy Strategy) CleanerOption {
	return func(c *Cleaner) {
		c.strategies[method] = strategy
	}
}

// NewCleaner builds a cleaner with the default rules and strategies.
func NewCleaner(llm LLM, opts Options, logger *slog.Logger, options ...CleanerOption) *Cleaner {
	if logger == nil {
		logger = logging.NewNop()
	}
	c := &Cleaner{
		llm:   llm,
		opts:  opts,
		rules: DefaultRules(),
		strategies: map[Method]Strategy{
			MethodWhole:     cleanWhole,
			MethodChunked:   cleanChunked,
			MethodSmart:     cleanSmart,
			MethodIntegrity: cleanIntegrity,
			MethodBoundary:  cleanBoundary,
		},
		logger: logging.NewComponentLogger(logger, "cleaning"),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Options returns the cleaner's thresholds.
func (c *Cleaner) Options() Options {
	return c.opts
}

// Facts measures the properties of in that the rules key off.
func (c *Cleaner) Facts(in Input) Facts {
	text := inputText(in)
	forced := in.Method
	if forced == "" || forced == MethodAuto {
		forced = c.opts.Method
	}
	if forced == MethodAuto {
		forced = ""
	}
	return Facts{
		Chars:      len(text),
		Budget:     c.opts.Budget(),
		Boundaries: len(in.Segments),
		Speakers:   transcript.SpeakerCount(in.Segments),
		Forced:     forced,
		Critical:   in.Critical || c.opts.IntegrityDefault,
	}
}

// Clean selects a strategy for in and runs it. LLM usage is recorded in
// stats, which may be nil.
func (c *Cleaner) Clean(ctx context.Context, in Input, stats *usage.Collector) (Result, error) {
	in.Text = inputText(in)
	if strings.TrimSpace(in.Text) == "" {
		return Result{}, services.Wrap(services.ErrValidation, "clean", "select", "transcript is empty", nil)
	}
	if c.opts.MaxInputChars > 0 && len(in.Text) > c.opts.MaxInputChars {
		return Result{}, services.Wrap(services.ErrCapacity, "clean", "select",
			fmt.Sprintf("transcript has %d characters; the limit is %d even with chunked cleaning", len(in.Text), c.opts.MaxInputChars), nil)
	}

	facts := c.Facts(in)
	decision := Select(c.rules, facts)
	strategy, ok := c.strategies[decision.Method]
	if !ok {
		return Result{}, services.Wrap(services.ErrConfiguration, "clean", "select", fmt.Sprintf("no strategy registered for %q", decision.Method), nil)
	}
	c.logger.Info("cleaning strategy selected",
		logging.String("method", string(decision.Method)),
		logging.String("rule", decision.Rule),
		logging.String("reason", decision.Reason),
		logging.Int("chars", facts.Chars),
		logging.Int("budget", facts.Budget),
		logging.Int("speakers", facts.Speakers),
	)

	run := &Run{cleaner: c, stats: stats}
	started := time.Now()
	result, err := strategy(ctx, run, in)
	if err != nil {
		return Result{}, err
	}
	result.Rule = decision.Rule
	if result.Method == "" {
		result.Method = decision.Method
	}
	if result.Reason == "" {
		result.Reason = decision.Reason
	} else {
		result.Reason = decision.Reason + "; " + result.Reason
	}
	result.ProcessingTime = time.Since(started)
	result.ProcessingMS = result.ProcessingTime.Milliseconds()
	result.InputChars = len(in.Text)
	result.OutputChars = len(result.Script)
	result.EstimatedCostUSD = run.cost
	result.Calls = run.calls
	return result, nil
}

func inputText(in Input) string {
	if strings.TrimSpace(in.Text) != "" {
		return in.Text
	}
	return transcript.Text(in.Segments)
}

// Run carries per-call accounting through a strategy.
type Run struct {
	cleaner *Cleaner
	stats   *usage.Collector
	cost    float64
	calls   int
}

// Options returns the thresholds of the owning cleaner.
func (r *Run) Options() Options {
	return r.cleaner.opts
}

// Complete issues a plain-text call and records its usage.
func (r *Run) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	out, err := r.cleaner.llm.Complete(ctx, systemPrompt, userPrompt)
	r.record(len(systemPrompt)+len(userPrompt), len(out), err)
	return out, err
}

// CompleteJSON issues a JSON-mode call and records its usage.
func (r *Run) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	out, err := r.cleaner.llm.CompleteJSON(ctx, systemPrompt, userPrompt)
	r.record(len(systemPrompt)+len(userPrompt), len(out), err)
	return out, err
}

// Strategy returns a registered strategy, used by composite strategies.
func (r *Run) Strategy(method Method) Strategy {
	return r.cleaner.strategies[method]
}

func (r *Run) record(inputChars, outputChars int, err error) {
	r.calls++
	r.cost += r.cleaner.opts.Prices.Cost(inputChars, outputChars)
	r.stats.RecordLLM(inputChars, outputChars, err)
}

func (r *Run) logWindowFailure(method Method, index, total int, err error) {
	logging.WarnWithContext(r.cleaner.logger, "cleaning window failed; keeping raw text", "cleaning_window_failed",
		logging.String("method", string(method)),
		logging.Int("window", index+1),
		logging.Int("windows", total),
		logging.Error(err),
		logging.String(logging.FieldImpact, "window text left uncleaned"),
	)
}

// abortsWindows reports whether err makes every remaining window pointless.
// A per-call timeout only costs its own window; the run stops once the
// parent context is done.
func abortsWindows(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, services.ErrConfiguration)
}
