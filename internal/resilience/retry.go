// Package resilience holds the explicit retry policy for upstream calls.
//
// Retries are off by default: upstream calls are metered, so a failed call
// surfaces as a failed stage unless workflow.upstream_retries opts in.
package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"podscribe/internal/config"
	"podscribe/internal/services"
)

const (
	DefaultBaseDelay    = time.Second
	DefaultMaxDelay     = 30 * time.Second
	DefaultJitterFactor = 0.2
)

// Policy configures Retry. MaxRetries is the number of attempts after the
// first; zero means a single attempt.
type Policy struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
	IsRetryable  func(error) bool
	// RetryAfter, when set, lets an error dictate the next delay (for
	// example an HTTP Retry-After header). The hint is capped by MaxDelay.
	RetryAfter func(error) (time.Duration, bool)
	// OnRetry, when set, observes each scheduled retry.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// NoRetry runs each call exactly once.
func NoRetry() Policy {
	return Policy{}
}

// PolicyFromConfig builds the upstream policy from workflow settings.
func PolicyFromConfig(cfg config.Workflow) Policy {
	return Policy{
		MaxRetries: cfg.UpstreamRetries,
		BaseDelay:  time.Duration(cfg.RetryBaseDelayMS) * time.Millisecond,
	}
}

// Attempts returns the total number of calls the policy allows.
func (p Policy) Attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// Retry executes fn with exponential backoff. It returns the last error when
// every attempt fails or the error is not retryable.
func Retry(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p = p.withDefaults()
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
		if !p.IsRetryable(lastErr) || attempt == p.MaxRetries {
			return lastErr
		}

		delay := p.backoff(attempt)
		if p.RetryAfter != nil {
			if hint, ok := p.RetryAfter(lastErr); ok && hint > 0 {
				delay = min(hint, p.MaxDelay)
			}
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, lastErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

func (p Policy) backoff(attempt int) time.Duration {
	delay := p.BaseDelay << min(attempt, 6)
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	jitter := float64(delay) * p.JitterFactor * (rand.Float64() - 0.5)
	return time.Duration(float64(delay) + jitter)
}

func (p Policy) withDefaults() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.JitterFactor < 0 {
		p.JitterFactor = 0
	}
	if p.IsRetryable == nil {
		p.IsRetryable = services.IsRetryable
	}
	return p
}
