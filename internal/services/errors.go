package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransient marks timeouts and connection failures that merit a bounded retry.
	ErrTransient = errors.New("transient failure")
	// ErrRateLimited marks a registrar reply that means "throttled, try later".
	ErrRateLimited = errors.New("rate limited")
	// ErrSessionInvalid marks a remote session that no longer answers as logged in.
	ErrSessionInvalid = errors.New("session invalid")
	// ErrValidation marks malformed or empty key values.
	ErrValidation = errors.New("validation error")
	// ErrDomainTerminal marks explicit upstream verdicts (expired, invalid key) that are never retried.
	ErrDomainTerminal = errors.New("terminal upstream response")
	// ErrStaleCredentials marks credentials that need a manual re-login.
	ErrStaleCredentials = errors.New("stale credentials")
	// ErrRecoveryExhausted marks a run whose session recovery budget ran out.
	ErrRecoveryExhausted = errors.New("session recovery exhausted")
	ErrConfiguration     = errors.New("configuration error")
	ErrExternalTool      = errors.New("external service error")
)

// Process exit statuses decided at the top-level boundary.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitReauth      = 2
	ExitInterrupted = 130
)

// Wrap builds an error message that includes component context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// ExitCode maps a run error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.Is(err, ErrStaleCredentials), errors.Is(err, ErrRecoveryExhausted):
		return ExitReauth
	default:
		return ExitFailure
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
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
