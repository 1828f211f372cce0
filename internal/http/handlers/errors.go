// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP
// responses (via the `fail()` helper in this package). These codes provide
// clients with a stable, machine-readable error taxonomy that supplements
// human-readable messages.
//
// Conventions:
//   - Codes are lowercase, snake_case.
//   - Generic codes (bad_request, not_found, conflict) mirror common HTTP
//     status semantics.
//   - Domain-specific codes carry business outcomes that status alone cannot
//     convey; clients branch on them to drive the user dialog (e.g.
//     code_not_found tells the user to edit their profile and retry, while
//     lookup_unavailable tells them to wait).
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Duty sessions:
	ErrCodeNoActiveSession = "no_active_session"

	// Verification:
	ErrCodeAlreadyVerified    = "already_verified"
	ErrCodeNotVerified        = "not_verified"
	ErrCodeIdentityNotFound   = "external_identity_not_found"
	ErrCodeNoPendingAttempt   = "no_pending_attempt"
	ErrCodeChallengeNotFound  = "code_not_found"
	ErrCodeLookupUnavailable  = "lookup_unavailable"
	ErrCodeStorageUnavailable = "storage_unavailable"
)
