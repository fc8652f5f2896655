// Package stage describes readiness checks for the collaborators behind the
// pipeline stages: queue database, duration probe, speech recognition, text
// generation, and the vector index.
package stage

import (
	"context"
	"sort"
	"sync"
)

// Checker reports the readiness of one collaborator.
type Checker interface {
	Name() string
	HealthCheck(context.Context) Health
}

// CheckFunc adapts a function into a Checker.
type CheckFunc struct {
	Label string
	Check func(context.Context) error
}

// Name returns the checker label.
func (c CheckFunc) Name() string { return c.Label }

// HealthCheck runs the check function.
func (c CheckFunc) HealthCheck(ctx context.Context) Health {
	if c.Check == nil {
		return Healthy(c.Label)
	}
	return FromError(c.Label, c.Check(ctx))
}

// CheckAll runs every checker concurrently and returns results keyed by name.
func CheckAll(ctx context.Context, checkers ...Checker) map[string]Health {
	results := make(map[string]Health, len(checkers))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, checker := range checkers {
		if checker == nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			health := checker.HealthCheck(ctx)
			if health.Name == "" {
				health.Name = checker.Name()
			}
			mu.Lock()
			results[checker.Name()] = health
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

// Ready reports whether every result is ready, and lists the names that are
// not in sorted order.
func Ready(results map[string]Health) (bool, []string) {
	var failing []string
	for name, health := range results {
		if !health.Ready {
			failing = append(failing, name)
		}
	}
	sort.Strings(failing)
	return len(failing) == 0, failing
}
