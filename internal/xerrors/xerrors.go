// Package xerrors classifies errors by recoverability so retry policies
// (the shard queue, the rest binding's stream reconnect) know whether
// another attempt can help.
package xerrors

import (
	"errors"
	"fmt"
)

// Category determines how an error should be handled by retry logic.
type Category int

const (
	// Recoverable errors may be retried with backoff: 5xx responses,
	// network timeouts, connection failures.
	Recoverable Category = iota

	// Irrecoverable errors fail immediately: 4xx responses other than
	// 408/429, malformed requests.
	Irrecoverable
)

// String returns a human-readable category name.
func (c Category) String() string {
	switch c {
	case Recoverable:
		return "recoverable"
	case Irrecoverable:
		return "irrecoverable"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// ClassifiedError wraps an error with retry metadata.
type ClassifiedError struct {
	Category   Category
	StatusCode int // HTTP status, 0 for non-HTTP errors
	Underlying error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] HTTP %d: %v", e.Category, e.StatusCode, e.Underlying)
	}
	return fmt.Sprintf("[%s] %v", e.Category, e.Underlying)
}

// Unwrap returns the underlying error.
func (e *ClassifiedError) Unwrap() error { return e.Underlying }

// IsIrrecoverable reports whether err should not be retried.
func IsIrrecoverable(err error) bool {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Category == Irrecoverable
	}
	return false
}

// FromHTTPStatus classifies an HTTP failure for the given operation.
func FromHTTPStatus(statusCode int, operation string) *ClassifiedError {
	return &ClassifiedError{
		Category:   categoryFor(statusCode),
		StatusCode: statusCode,
		Underlying: fmt.Errorf("%s: HTTP %d", operation, statusCode),
	}
}

// Network classifies a transport-level failure; those are always worth a
// retry.
func Network(operation string, err error) *ClassifiedError {
	return &ClassifiedError{
		Category:   Recoverable,
		Underlying: fmt.Errorf("%s: %w", operation, err),
	}
}

func categoryFor(statusCode int) Category {
	switch {
	case statusCode >= 400 && statusCode < 500:
		switch statusCode {
		case 408, 429: // timeout and throttling are worth a retry
			return Recoverable
		default:
			return Irrecoverable
		}
	default:
		return Recoverable
	}
}
