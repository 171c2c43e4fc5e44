// Package completer abstracts the external LLM completion capability.
// The kernel only ever sees Complete(prompt) -> text; provider SDKs,
// credential rotation and error classification live behind it.
package completer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Options tune a single completion call.
type Options struct {
	Temperature float64
	MaxTokens   int
	// Deterministic forces temperature 0 for structured extraction.
	Deterministic bool
	Timeout       time.Duration
}

// Completer sends a prompt to an LLM and returns its text response.
type Completer interface {
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
}

// Reason classifies provider failures for retry decisions.
type Reason string

const (
	ReasonRateLimited    Reason = "rate_limited"
	ReasonTimeout        Reason = "timeout"
	ReasonInvalidRequest Reason = "invalid_request"
	ReasonUnavailable    Reason = "unavailable"
)

// ProviderError is the classified failure of a completion call.
type ProviderError struct {
	Reason Reason
	Status int
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("completer: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("completer: %s", e.Reason)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt (possibly on a different
// credential) may succeed.
func (e *ProviderError) Retryable() bool {
	return e.Reason != ReasonInvalidRequest
}

// classify maps an SDK error plus HTTP status into the taxonomy. Status
// 0 means the failure never reached the provider (transport, deadline).
func classify(err error, status int) *ProviderError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &ProviderError{Reason: ReasonTimeout, Err: err}
	case status == 429:
		return &ProviderError{Reason: ReasonRateLimited, Status: status, Err: err}
	case status == 408:
		return &ProviderError{Reason: ReasonTimeout, Status: status, Err: err}
	case status >= 500:
		return &ProviderError{Reason: ReasonUnavailable, Status: status, Err: err}
	case status >= 400:
		return &ProviderError{Reason: ReasonInvalidRequest, Status: status, Err: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return &ProviderError{Reason: ReasonRateLimited, Err: err}
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return &ProviderError{Reason: ReasonTimeout, Err: err}
	case strings.Contains(msg, "overloaded"), strings.Contains(msg, "unavailable"), strings.Contains(msg, "connection"):
		return &ProviderError{Reason: ReasonUnavailable, Err: err}
	default:
		return &ProviderError{Reason: ReasonUnavailable, Err: err}
	}
}

// defaultTimeout bounds a completion call when neither the options nor
// the client configuration set one. Every provider call must carry a
// deadline; a hung provider must not hang the caller.
const defaultTimeout = 45 * time.Second

// withTimeoutIfMissing applies the option timeout only when the caller
// did not already set a deadline.
func withTimeoutIfMissing(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hasDeadline := parent.Deadline(); hasDeadline || timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}

// resolveTimeout picks the per-call deadline: explicit option first,
// then the client's configured timeout, then the package default.
func resolveTimeout(optTimeout, clientTimeout time.Duration) time.Duration {
	if optTimeout > 0 {
		return optTimeout
	}
	if clientTimeout > 0 {
		return clientTimeout
	}
	return defaultTimeout
}

func effectiveTemperature(opts Options) float64 {
	if opts.Deterministic {
		return 0
	}
	return opts.Temperature
}
