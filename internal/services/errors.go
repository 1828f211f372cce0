// Package services defines the business logic for duty sessions and identity
// verification. This file centralizes common service-level error values so
// that they can be consistently returned by service methods and checked by
// callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler layer.
package services

import "errors"

// Duty-session errors.
var (
	// ErrNoActiveSession is returned by pause/resume/end when the subject has
	// no on_duty or paused session in the scope. Recoverable: the caller is
	// informed and may start a new session.
	ErrNoActiveSession = errors.New("no active duty session")
)

// Verification errors.
var (
	// ErrAlreadyVerified is returned when a verification request is made for
	// a subject whose identity is already verified. The caller must reset
	// the binding first.
	ErrAlreadyVerified = errors.New("identity already verified")

	// ErrNotVerified is returned by reset when the subject has no verified
	// binding to clear.
	ErrNotVerified = errors.New("identity not verified")

	// ErrExternalIdentityNotFound indicates the claimed external name could
	// not be resolved after the configured retry budget.
	ErrExternalIdentityNotFound = errors.New("external identity not found")

	// ErrNoPendingAttempt is returned by check when the subject has never
	// issued a verification attempt.
	ErrNoPendingAttempt = errors.New("no pending verification attempt")

	// ErrCodeNotFound indicates the profile text was fetched successfully
	// but did not contain the challenge code. The pending attempt remains
	// valid; the caller may retry the check without restarting.
	ErrCodeNotFound = errors.New("verification code not found in profile")

	// ErrLookupUnavailable is returned when the external profile service
	// stayed unreachable or rate limited across the whole retry budget.
	ErrLookupUnavailable = errors.New("profile lookup service unavailable")
)

// Infrastructure errors.
var (
	// ErrStorageUnavailable wraps failures of the persistent store. Fatal
	// for the current operation; surfaced to the caller as "try again later".
	ErrStorageUnavailable = errors.New("storage unavailable")
)
