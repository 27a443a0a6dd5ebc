// Package errors defines the observable error kinds of the memory engine and
// the retry/circuit-breaking helpers shared by components that call models or
// stores.
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates an absent bank, document, or operation.
	ErrNotFound = errors.New("not found")

	// ErrInvalid indicates malformed input: empty query, unknown fact type,
	// zero token budget, and the like.
	ErrInvalid = errors.New("invalid request")

	// ErrEmbedUnavailable indicates the embedding model failed after retry.
	ErrEmbedUnavailable = errors.New("embedding model unavailable")

	// ErrLLMUnavailable indicates the language model failed after retry.
	ErrLLMUnavailable = errors.New("language model unavailable")

	// ErrCoreUnavailable indicates the fact or graph store is unavailable.
	ErrCoreUnavailable = errors.New("memory store unavailable")

	// ErrDeadlineExceeded indicates the recall budget was consumed before any
	// usable result was produced.
	ErrDeadlineExceeded = errors.New("deadline exceeded")
)

// Invalidf wraps ErrInvalid with a formatted detail message.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// NotFoundf wraps ErrNotFound with a formatted detail message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// IsRetryable reports whether an upstream-model error is worth one retry.
// Validation errors and absent resources never are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalid) || errors.Is(err, ErrNotFound) {
		return false
	}
	return true
}
