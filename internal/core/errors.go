package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass is the closed set of failure classes produced by the external
// service wrappers. The rate limiter and the orchestrator switch on this
// class instead of matching provider error strings.
type ErrorClass int

const (
	// ClassFatal covers errors that must not be retried.
	ClassFatal ErrorClass = iota
	// ClassRateLimit covers provider quota violations (HTTP 429 and
	// equivalents). Retried with the full exponential backoff ceiling.
	ClassRateLimit
	// ClassTransient covers 5xx-style failures expected to resolve
	// quickly. Retried with a shorter backoff ceiling.
	ClassTransient
	// ClassTimeout covers calls that exceeded their deadline. Retried on
	// the same backoff path as rate-limit errors.
	ClassTimeout
)

// String returns the wire name of the class.
func (c ErrorClass) String() string {
	switch c {
	case ClassRateLimit:
		return "rate_limit"
	case ClassTransient:
		return "transient"
	case ClassTimeout:
		return "timeout"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ErrRateLimitExceeded is returned when every backoff retry for a
// rate-limit-classified failure has been exhausted.
var ErrRateLimitExceeded = errors.New("rate limit exceeded: maximum retries reached")

// ServiceError tags an external-call failure with its retry class.
type ServiceError struct {
	Class ErrorClass
	Err   error
}

// NewServiceError wraps err with the given class.
func NewServiceError(class ErrorClass, err error) *ServiceError {
	return &ServiceError{Class: class, Err: err}
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s error: %v", e.Class, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// ClassOf extracts the retry class from an error chain. Untagged errors are
// fatal, except context deadline expiry which maps to ClassTimeout.
func ClassOf(err error) ErrorClass {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Class
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}

	return ClassFatal
}
