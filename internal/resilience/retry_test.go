package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"podscribe/internal/config"
	"podscribe/internal/services"
)

var errUpstream = services.Wrap(services.ErrUpstream, "asr", "transcribe", "502", nil)

func TestRetryDefaultPolicyRunsOnce(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), NoRetry(), func(context.Context) error {
		calls++
		return errUpstream
	})
	if !errors.Is(err, services.ErrUpstream) || calls != 1 {
		t.Fatalf("expected one failing attempt, got %d calls (%v)", calls, err)
	}
	if NoRetry().Attempts() != 1 {
		t.Fatalf("expected 1 attempt, got %d", NoRetry().Attempts())
	}
}

func TestRetryRetriesTransientErrors(t *testing.T) {
	calls := 0
	var observed []int
	policy := Policy{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
		OnRetry:    func(attempt int, _ time.Duration, _ error) { observed = append(observed, attempt) },
	}
	err := Retry(context.Background(), policy, func(context.Context) error {
		calls++
		if calls < 3 {
			return errUpstream
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success on third call, got %d calls (%v)", calls, err)
	}
	if len(observed) != 2 || observed[0] != 1 || observed[1] != 2 {
		t.Fatalf("unexpected retry observations %v", observed)
	}
}

func TestRetryStopsOnPermanentErrors(t *testing.T) {
	calls := 0
	permanent := services.Wrap(services.ErrValidation, "llm", "complete", "bad request", nil)
	err := Retry(context.Background(), Policy{MaxRetries: 5, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, services.ErrValidation) || calls != 1 {
		t.Fatalf("expected single attempt, got %d (%v)", calls, err)
	}
}

func TestRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, Policy{MaxRetries: 5, BaseDelay: time.Hour}, func(context.Context) error {
		calls++
		cancel()
		return errUpstream
	})
	if !errors.Is(err, context.Canceled) || calls != 1 {
		t.Fatalf("expected cancellation after first call, got %d (%v)", calls, err)
	}
}

func TestPolicyFromConfig(t *testing.T) {
	cfg := config.Default()
	policy := PolicyFromConfig(cfg.Workflow)
	if policy.Attempts() != 1 {
		t.Fatalf("expected defaults to disable retries, got %d attempts", policy.Attempts())
	}
	cfg.Workflow.UpstreamRetries = 2
	cfg.Workflow.RetryBaseDelayMS = 250
	policy = PolicyFromConfig(cfg.Workflow)
	if policy.Attempts() != 3 || policy.BaseDelay != 250*time.Millisecond {
		t.Fatalf("unexpected policy %+v", policy)
	}
}

func TestRetryAfterHintOverridesBackoff(t *testing.T) {
	var delays []time.Duration
	calls := 0
	policy := Policy{
		MaxRetries: 1,
		BaseDelay:  time.Hour,
		MaxDelay:   time.Hour,
		RetryAfter: func(error) (time.Duration, bool) { return time.Millisecond, true },
		OnRetry:    func(_ int, d time.Duration, _ error) { delays = append(delays, d) },
	}
	err := Retry(context.Background(), policy, func(context.Context) error {
		calls++
		if calls == 1 {
			return errUpstream
		}
		return nil
	})
	if err != nil || len(delays) != 1 || delays[0] != time.Millisecond {
		t.Fatalf("expected retry-after delay, got %v (%v)", delays, err)
	}
}
