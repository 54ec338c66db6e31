// Package fault defines the error kinds shared by the state store, the
// message bus, the scheduler and the agent loops.
package fault

import "errors"

var (
	// ErrBusy means a lock could not be acquired in time. Retryable.
	ErrBusy = errors.New("busy")

	// ErrConflict means the operation would violate a state invariant,
	// such as mutating a completed task.
	ErrConflict = errors.New("conflict")

	// ErrNotFound means a referenced id does not exist.
	ErrNotFound = errors.New("not found")

	// ErrCorruption means a durable log or store could not be read back.
	// It requires operator intervention and is never repaired automatically.
	ErrCorruption = errors.New("corruption")

	// ErrUpstreamUnavailable means an external collaborator (reasoning,
	// calendar, notification) failed. Retryable with backoff.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// Kind returns the sentinel that err wraps, or nil if err carries none.
func Kind(err error) error {
	for _, k := range []error{ErrBusy, ErrConflict, ErrNotFound, ErrCorruption, ErrUpstreamUnavailable} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Retryable reports whether err is worth retrying with backoff.
func Retryable(err error) bool {
	return errors.Is(err, ErrBusy) || errors.Is(err, ErrUpstreamUnavailable)
}

// UserMessage renders err for an interactive caller.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case Retryable(err):
		return "temporarily unavailable, retry: " + err.Error()
	case errors.Is(err, ErrCorruption):
		return "operational failure, manual recovery of the affected store required: " + err.Error()
	default:
		return err.Error()
	}
}
