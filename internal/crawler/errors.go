package crawler

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the registry and mapped to HTTP codes by the API.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("extraction not found")
	ErrNotReady       = errors.New("extraction not completed")
	ErrFinished       = errors.New("extraction already finished")

	// ErrQueueClosed is returned by queues after shutdown.
	ErrQueueClosed = errors.New("queue closed")
	// ErrQueueFull is returned when no more jobs can be accepted right now.
	ErrQueueFull = errors.New("job queue full")

	// ErrFetch matches every *FetchError.
	ErrFetch = errors.New("fetch failed")
	// ErrSinkUnavailable reports a graph sink that refused or could not take a batch.
	ErrSinkUnavailable = errors.New("graph sink unavailable")
)

// InvalidRequestError reports a rejected submission along with the reason.
func InvalidRequestError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// FetchError describes a failed page fetch.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is reports ErrFetch as a match so callers need not know the concrete type.
func (e *FetchError) Is(target error) bool {
	return target == ErrFetch
}

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

// Permanent wraps err so retry policies give up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}
