package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across stores and use cases.
var (
	// ErrNotFound is returned when a source or record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned by the dedup store when an insert races
	// an existing record. Callers treat it as success.
	ErrAlreadyExists = errors.New("already exists")

	// ErrCycleInProgress is returned when a cycle is triggered while
	// another one is still running.
	ErrCycleInProgress = errors.New("cycle already in progress")
)

// Summarizer provider errors, classified by the stage wrapper.
var (
	// ErrRateLimited signals provider throttling; retry with backoff.
	ErrRateLimited = errors.New("rate limited")

	// ErrInvalidInput signals the request itself is bad; never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnavailable signals the provider cannot serve the request at all.
	ErrUnavailable = errors.New("provider unavailable")
)

// TransientError wraps a failure that is expected to clear on its own
// (network hiccups, provider throttling). Transient failures defer a
// candidate to a later cycle instead of resolving it.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is (or wraps) a transient failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te) || errors.Is(err, ErrRateLimited)
}

// PermanentError wraps a failure that retrying will not fix, such as a bad
// channel reference or malformed input.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a PermanentError.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is (or wraps) a permanent failure.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
