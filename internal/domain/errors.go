package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrAtCapacity        = errors.New("at capacity")
	ErrNotFound          = errors.New("not found")
	ErrCapabilityTimeout = errors.New("capability timeout")
	ErrCancelledByClient = errors.New("cancelled by client")
)

// ProviderError is a failure of a single provider attempt.
type ProviderError struct {
	Provider string
	Kind     DataKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider %s: %v", e.Kind, e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// AttemptFailure records why one fetch chain attempt was rejected.
type AttemptFailure struct {
	Provider string `json:"provider"`
	Priority int    `json:"priority"`
	Reason   string `json:"reason"`
	Err      error  `json:"-"`
}

// ExhaustedError is returned when every attempt of a chain failed.
// Failures are in attempt priority order.
type ExhaustedError struct {
	Kind     DataKind
	Failures []AttemptFailure
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Provider+": "+f.Reason)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%s chain exhausted: no providers configured", e.Kind)
	}
	return fmt.Sprintf("%s chain exhausted: %s", e.Kind, strings.Join(parts, "; "))
}

// Unwrap exposes the per-attempt errors so errors.Is can see timeouts.
func (e *ExhaustedError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		if f.Err != nil {
			out = append(out, f.Err)
		}
	}
	return out
}

// InvalidIdentifier wraps ErrInvalidIdentifier with the offending input.
func InvalidIdentifier(raw string) error {
	return fmt.Errorf("%w: %q", ErrInvalidIdentifier, raw)
}
