package cleaning

import (
	"context"
	"errors"
	"fmt"

	"podscribe/internal/services"
	"podscribe/internal/services/llm"
)

// ratioQuality scores output length against input length. Output that
// shrinks below minRatio suggests dropped content; large growth suggests
// added content.
func ratioQuality(inputChars, outputChars int, minRatio float64) (float64, string) {
	if inputChars <= 0 {
		return 1, ""
	}
	ratio := float64(outputChars) / float64(inputChars)
	switch {
	case minRatio > 0 && ratio < minRatio:
		return ratio / minRatio, fmt.Sprintf("output is %.0f%% of input; content may have been dropped", ratio*100)
	case ratio > 1.5:
		return 1.5 / ratio, fmt.Sprintf("output is %.0f%% of input; model may have added content", ratio*100)
	default:
		return 1, ""
	}
}

func cleanWhole(ctx context.Context, r *Run, in Input) (Result, error) {
	out, err := r.Complete(ctx, cleanSystemPrompt, in.Text)
	if err != nil {
		return Result{}, wrapClean(MethodWhole, err)
	}
	script := llm.StripCodeFence(out)
	if script == "" {
		return Result{}, services.Wrap(services.ErrUpstream, "clean", string(MethodWhole), "model returned an empty script", nil)
	}
	score, issue := ratioQuality(len(in.Text), len(script), r.Options().MinOutputRatio)
	result := Result{
		Script:  script,
		Method:  MethodWhole,
		Windows: 1,
		Quality: Quality{Score: score},
	}
	if issue != "" {
		result.Quality.Issues = append(result.Quality.Issues, issue)
	}
	return result, nil
}

// windowOutcome is the cleaned text of one window plus its failure, if any.
type windowOutcome struct {
	raw     string
	cleaned string
	err     error
}

// cleanWindows cleans each window independently. A failed window keeps its
// raw text. It returns an error only when the failure makes the remaining
// windows pointless or when every window failed.
func cleanWindows(ctx context.Context, r *Run, method Method, systemPrompt string, windows []string) ([]windowOutcome, error) {
	outcomes := make([]windowOutcome, len(windows))
	failed := 0
	for i, window := range windows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		outcomes[i].raw = window
		out, err := r.Complete(ctx, systemPrompt, windowPrompt(i, len(windows), window))
		cleaned := llm.StripCodeFence(out)
		if err == nil && cleaned == "" {
			err = errors.New("model returned an empty window")
		}
		if err != nil {
			if abortsWindows(ctx, err) {
				return nil, wrapClean(method, err)
			}
			failed++
			outcomes[i].err = err
			outcomes[i].cleaned = window
			r.logWindowFailure(method, i, len(windows), err)
			continue
		}
		outcomes[i].cleaned = cleaned
	}
	if failed == len(windows) {
		return nil, wrapClean(method, fmt.Errorf("all %d windows failed: %w", failed, outcomes[0].err))
	}
	return outcomes, nil
}

// windowedResult stitches outcomes and scores them. Failed windows score zero.
func windowedResult(r *Run, method Method, outcomes []windowOutcome) Result {
	parts := make([]string, len(outcomes))
	var issues []string
	total := 0.0
	for i, outcome := range outcomes {
		parts[i] = outcome.cleaned
		if outcome.err != nil {
			issues = append(issues, fmt.Sprintf("window %d/%d left uncleaned: %v", i+1, len(outcomes), outcome.err))
			continue
		}
		score, issue := ratioQuality(len(outcome.raw), len(outcome.cleaned), r.Options().MinOutputRatio)
		total += score
		if issue != "" {
			issues = append(issues, fmt.Sprintf("window %d/%d: %s", i+1, len(outcomes), issue))
		}
	}
	return Result{
		Script:  stitch(parts, r.Options().OverlapChars),
		Method:  method,
		Windows: len(outcomes),
		Quality: Quality{Score: total / float64(len(outcomes)), Issues: issues},
	}
}

func cleanChunked(ctx context.Context, r *Run, in Input) (Result, error) {
	opts := r.Options()
	windows := charWindows(in.Text, opts.ChunkChars, opts.OverlapChars)
	outcomes, err := cleanWindows(ctx, r, MethodChunked, cleanSystemPrompt, windows)
	if err != nil {
		return Result{}, err
	}
	result := windowedResult(r, MethodChunked, outcomes)
	result.Reason = fmt.Sprintf("%d windows of up to %d chars with %d chars overlap", len(windows), opts.ChunkChars, opts.OverlapChars)
	return result, nil
}

func cleanSmart(ctx context.Context, r *Run, in Input) (Result, error) {
	opts := r.Options()
	budget := opts.Budget()
	degrade := func(why string, prior []string) (Result, error) {
		result, err := r.Strategy(MethodChunked)(ctx, r, in)
		if err != nil {
			return Result{}, err
		}
		result.Method = MethodSmart
		result.Reason = why + "; degraded to chunked (" + result.Reason + ")"
		result.Quality.Issues = append(prior, result.Quality.Issues...)
		return result, nil
	}

	if len(in.Text) > budget {
		return degrade(fmt.Sprintf("precheck failed: %d chars exceeds whole budget of %d", len(in.Text), budget), nil)
	}
	result, err := r.Strategy(MethodWhole)(ctx, r, in)
	if err != nil {
		if abortsWindows(ctx, err) {
			return Result{}, err
		}
		return degrade("whole attempt failed", []string{fmt.Sprintf("whole attempt failed: %v", err)})
	}
	if ratio := float64(len(result.Script)) / float64(len(in.Text)); opts.MinOutputRatio > 0 && ratio < opts.MinOutputRatio {
		return degrade(
			fmt.Sprintf("whole output ratio %.2f below %.2f", ratio, opts.MinOutputRatio),
			[]string{fmt.Sprintf("discarded whole output at ratio %.2f", ratio)},
		)
	}
	result.Method = MethodSmart
	result.Reason = "precheck passed; whole output accepted"
	return result, nil
}

func wrapClean(method Method, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if services.Kind(err) != services.ErrorKindUnknown {
		return fmt.Errorf("clean %s: %w", method, err)
	}
	return services.Wrap(services.ErrUpstream, "clean", string(method), "cleaning call failed", err)
}
