package session

import "errors"

var (
	// ErrInvalidTransition is a lifecycle misuse: the requested operation is
	// not legal from the current state.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrBusy is the single-flight rejection: a completion or cancellation
	// for this route is already in flight. The second call is rejected, not
	// queued, because the route service does not guarantee exactly-once
	// semantics under request races.
	ErrBusy = errors.New("operation already in progress")

	// ErrRetryLimit means the bounded completion retries are exhausted.
	ErrRetryLimit = errors.New("completion retry limit reached")

	// ErrClaimNotRetryable means the stored claim outcome is not failed or
	// error, so there is nothing to retry.
	ErrClaimNotRetryable = errors.New("territory claim is not retryable")

	// ErrLocationUnavailable wraps location-source failures (permission
	// denied, no provider, fix timeout). Tracking continues in degraded mode.
	ErrLocationUnavailable = errors.New("location unavailable")
)
