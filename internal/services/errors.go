package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoContent indicates no unprocessed article was available to start a workflow.
	ErrNoContent = errors.New("no content available")
	// ErrContentTooShort indicates the claimed article body is below the minimum length.
	ErrContentTooShort = errors.New("content too short")
	// ErrSubmission indicates a provider rejected a job submission.
	ErrSubmission = errors.New("submission error")
	// ErrUnreachable indicates a provider could not be reached or returned a server error.
	ErrUnreachable = errors.New("provider unreachable")
	// ErrTimeout indicates an operation exceeded its poll or request budget.
	ErrTimeout = errors.New("timeout")
	// ErrRelay indicates downloading or storing provider media failed.
	ErrRelay = errors.New("media relay error")
	// ErrMaxRetries indicates a record exhausted its retry budget.
	ErrMaxRetries = errors.New("max retries exceeded")
	// ErrRateLimited indicates the caller exceeded the provider call budget for the current window.
	ErrRateLimited = errors.New("rate limited")
	// ErrConfiguration indicates required credentials or settings are missing.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound indicates a record or external reference does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate indicates a workflow with the requested id is already in
	// flight or settled, so starting it again would double-spend provider calls.
	ErrDuplicate = errors.New("duplicate workflow")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrUnreachable
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Terminal reports whether an error should fail the record outright rather
// than leave it for another attempt.
func Terminal(err error) bool {
	return errors.Is(err, ErrSubmission) ||
		errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrContentTooShort) ||
		errors.Is(err, ErrMaxRetries)
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
