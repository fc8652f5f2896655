package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrValidation marks malformed input rejected before any work is queued.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration marks missing credentials or unusable settings.
	ErrConfiguration = errors.New("configuration error")
	// ErrUpstream marks failed or timed-out ASR, LLM, or embedding calls.
	ErrUpstream = errors.New("upstream error")
	// ErrCapacity marks input that exceeds what any strategy can absorb.
	ErrCapacity = errors.New("capacity error")
	// ErrConsistency marks an operation missing a required companion value.
	ErrConsistency = errors.New("consistency error")
	ErrNotFound    = errors.New("not found")
	ErrTimeout     = errors.New("timeout")
)

// ErrorKind names a failure class for structured logs and API payloads.
type ErrorKind string

const (
	ErrorKindValidation    ErrorKind = "validation"
	ErrorKindConfiguration ErrorKind = "configuration"
	ErrorKindUpstream      ErrorKind = "upstream"
	ErrorKindCapacity      ErrorKind = "capacity"
	ErrorKindConsistency   ErrorKind = "consistency"
	ErrorKindNotFound      ErrorKind = "not_found"
	ErrorKindTimeout       ErrorKind = "timeout"
	ErrorKindCanceled      ErrorKind = "canceled"
	ErrorKindUnknown       ErrorKind = "unknown"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrUpstream
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind classifies err against the sentinel markers.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return ErrorKindCanceled
	case errors.Is(err, ErrValidation):
		return ErrorKindValidation
	case errors.Is(err, ErrConfiguration):
		return ErrorKindConfiguration
	case errors.Is(err, ErrCapacity):
		return ErrorKindCapacity
	case errors.Is(err, ErrConsistency):
		return ErrorKindConsistency
	case errors.Is(err, ErrNotFound):
		return ErrorKindNotFound
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorKindTimeout
	case errors.Is(err, ErrUpstream):
		return ErrorKindUpstream
	default:
		return ErrorKindUnknown
	}
}

// HTTPStatus maps an error to the status code the API should return.
func HTTPStatus(err error) int {
	switch Kind(err) {
	case ErrorKindValidation:
		return http.StatusBadRequest
	case ErrorKindNotFound:
		return http.StatusNotFound
	case ErrorKindCapacity:
		return http.StatusRequestEntityTooLarge
	case ErrorKindConsistency:
		return http.StatusConflict
	case ErrorKindConfiguration:
		return http.StatusServiceUnavailable
	case ErrorKindUpstream, ErrorKindTimeout:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrorDetails is the structured view of a wrapped failure used for logging.
type ErrorDetails struct {
	Kind    ErrorKind
	Message string
	Hint    string
	Cause   error
}

// Details extracts a loggable summary from err.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	kind := Kind(err)
	details := ErrorDetails{
		Kind:    kind,
		Message: strings.TrimSpace(err.Error()),
		Hint:    hintFor(kind),
		Cause:   rootCause(err),
	}
	return details
}

func hintFor(kind ErrorKind) string {
	switch kind {
	case ErrorKindValidation:
		return "check the submitted source URL"
	case ErrorKindConfiguration:
		return "check provider credentials in the config file"
	case ErrorKindUpstream:
		return "provider call failed; resubmit once the provider recovers"
	case ErrorKindTimeout:
		return "provider call timed out; consider raising the timeout"
	case ErrorKindCapacity:
		return "input exceeds the configured size limits"
	case ErrorKindConsistency:
		return "a required companion value is missing"
	case ErrorKindCanceled:
		return "task was canceled"
	default:
		return "check logs for details"
	}
}

// rootCause follows the last wrapped error, which Wrap reserves for the cause.
func rootCause(err error) error {
	for {
		switch e := err.(type) {
		case interface{ Unwrap() []error }:
			errs := e.Unwrap()
			if len(errs) == 0 {
				return err
			}
			err = errs[len(errs)-1]
		case interface{ Unwrap() error }:
			next := e.Unwrap()
			if next == nil {
				return err
			}
			err = next
		default:
			return err
		}
	}
}

// IsRetryable reports whether err is a transient upstream failure.
func IsRetryable(err error) bool {
	switch Kind(err) {
	case ErrorKindUpstream, ErrorKindTimeout:
		return true
	default:
		return false
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
