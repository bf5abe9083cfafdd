// Package errors provides error handling for Conductor.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - User-facing hints and details
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrNotFound) {
//	    // handle not found
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is         = crdb.Is
	IsAny      = crdb.IsAny
	As         = crdb.As
	Unwrap     = crdb.Unwrap
	UnwrapAll  = crdb.UnwrapAll
	UnwrapOnce = crdb.UnwrapOnce
)

// Sentinel errors for the job orchestration error taxonomy.
// Use these with errors.Is() for type-safe error checking and wrap them
// with errors.Wrap() to add context while preserving the type.
var (
	// ErrUnknownTool indicates a submission referenced a tool that is not
	// registered. Rejected before any job is created.
	ErrUnknownTool = New("unknown tool")

	// ErrInvalidParameters indicates a submission payload failed the
	// tool's parameter contract. Rejected before any job is created.
	ErrInvalidParameters = New("invalid parameters")

	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrNotReady indicates results were requested for a job that has not
	// reached the completed state yet. Transient; callers should retry.
	ErrNotReady = New("job not ready")

	// ErrJobFailed indicates the job reached a failed terminal state.
	// The job record carries the stored tool error.
	ErrJobFailed = New("job failed")

	// ErrStaleTransition is the internal concurrency-control signal: a
	// compare-and-set transition found the job in an unexpected state.
	// Never surfaced to API callers.
	ErrStaleTransition = New("stale transition")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = New("operation timed out")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
// Also provides backward compatibility with string-based "not found" errors.
func IsNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, ErrNotFound) {
		return true
	}
	// Backward compatibility: check error message
	errMsg := err.Error()
	return len(errMsg) >= 9 && (errMsg == "not found" ||
		errMsg[len(errMsg)-9:] == "not found" ||
		len(errMsg) > 10 && errMsg[:10] == "not found:")
}

// IsStaleTransition checks if an error is or wraps ErrStaleTransition
func IsStaleTransition(err error) bool {
	return err != nil && Is(err, ErrStaleTransition)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewInvalidParametersError creates an invalid-parameters error with a
// formatted message
func NewInvalidParametersError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidParameters, Newf(format, args...).Error())
}
