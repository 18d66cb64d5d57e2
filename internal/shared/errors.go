package shared

import "errors"

var (
	// ErrNotFound indicates resource not found for the tenant.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRequest marks malformed identifiers or quantities. Never retried.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInsufficientStock is returned when a movement would drive a balance below zero.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidState indicates a lifecycle transition from the wrong state.
	ErrInvalidState = errors.New("invalid state")
	// ErrContention reports that a row lock could not be acquired in time.
	// No partial write happened, so the caller may retry.
	ErrContention = errors.New("contention")
)

// Retryable reports whether err is safe to retry without caller intervention.
func Retryable(err error) bool {
	return errors.Is(err, ErrContention)
}
