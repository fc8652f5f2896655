// Package deps reports the availability of external binaries podscribe
// shells out to.
package deps

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"podscribe/internal/config"
	"podscribe/internal/stage"
)

// Requirement defines an external dependency podscribe relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Available = false
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Available = false
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

// Requirements lists the binaries the configuration refers to. ffprobe is
// optional because the pipeline falls back to the configured duration.
func Requirements(cfg *config.Config) []Requirement {
	return []Requirement{
		{
			Name:        "ffprobe",
			Command:     cfg.ASR.FFprobeBinary,
			Description: "Measures episode duration before segmentation",
			Optional:    cfg.ASR.FallbackDurationSeconds > 0,
		},
	}
}

// Checker turns a requirement into a readiness check for status reports.
// Optional requirements always report ready, with the lookup failure as detail.
func Checker(req Requirement) stage.Checker {
	return requirementChecker{req: req}
}

type requirementChecker struct {
	req Requirement
}

func (c requirementChecker) Name() string { return c.req.Name }

func (c requirementChecker) HealthCheck(context.Context) stage.Health {
	status := CheckBinaries([]Requirement{c.req})[0]
	if status.Available {
		return stage.Healthy(status.Name)
	}
	if status.Optional {
		return stage.Health{Name: status.Name, Ready: true, Detail: status.Detail + " (optional; fallback in use)"}
	}
	return stage.FromError(status.Name, errors.New(status.Detail))
}
