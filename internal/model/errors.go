package model

import "errors"

// Sentinel errors shared by every backend and the layers above them.
// Callers classify failures with errors.Is.
var (
	// ErrNotFound covers unknown ids, sessions and conversations.
	ErrNotFound = errors.New("not found")

	// ErrValidation marks malformed input; never retried.
	ErrValidation = errors.New("validation error")

	// ErrConflict marks duplicate ids or concurrent-write collisions.
	ErrConflict = errors.New("conflict")

	// ErrUnavailable marks a transient backend or timeout failure.
	// Retry with backoff is the caller's decision, never done silently here.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrCapabilityUnavailable marks an unreachable embedding or
	// summarization capability. Reads degrade, writes fail.
	ErrCapabilityUnavailable = errors.New("capability unavailable")
)
