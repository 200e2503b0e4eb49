package checker

import "errors"

// Sentinel errors returned by Session implementations. Callers match them
// with errors.Is.
var (
	// ErrFetchTimeout marks a navigation that exceeded its timeout.
	ErrFetchTimeout = errors.New("fetch timed out")
	// ErrSessionDead marks a navigation that failed because the underlying
	// browser or connection context is gone.
	ErrSessionDead = errors.New("session is no longer usable")
	// ErrFetchFailed marks any other transport or parse failure.
	ErrFetchFailed = errors.New("fetch failed")
)
