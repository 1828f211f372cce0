// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the standard response utilities used across all endpoints:
// structured error envelopes, consistent JSON serialization, and helpers for
// common HTTP patterns, so success and failure responses have a uniform,
// machine-friendly shape.
//
// Example error response:
//
//	HTTP/1.1 409 Conflict
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "no_active_session",
//	  "message": "no active duty session"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/crowvale/dutywatch/internal/http/middleware"
	"github.com/crowvale/dutywatch/internal/services"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
// RequestID correlates server logs with client-side errors; Code is a stable
// machine-readable string (see errors.go); Message is safe to display.
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// fail aborts the request with a structured error. Server errors (>=500) are
// logged with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	reqID := c.Writer.Header().Get("X-Request-ID")
	resp := ErrorResponse{
		RequestID: reqID,
		Code:      code,
		Message:   msg,
	}

	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail(), used by router fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failFromService translates a service-layer sentinel into the matching HTTP
// status and error code. Unknown errors become a 500 with a generic message
// so internals never leak to clients.
func failFromService(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrNoActiveSession):
		fail(c, http.StatusConflict, ErrCodeNoActiveSession, "no active duty session")
	case errors.Is(err, services.ErrAlreadyVerified):
		fail(c, http.StatusConflict, ErrCodeAlreadyVerified, "identity already verified; reset it first")
	case errors.Is(err, services.ErrNotVerified):
		fail(c, http.StatusConflict, ErrCodeNotVerified, "identity is not verified")
	case errors.Is(err, services.ErrExternalIdentityNotFound):
		fail(c, http.StatusNotFound, ErrCodeIdentityNotFound, "no account with that name was found")
	case errors.Is(err, services.ErrNoPendingAttempt):
		fail(c, http.StatusNotFound, ErrCodeNoPendingAttempt, "no pending verification attempt; request a new code")
	case errors.Is(err, services.ErrCodeNotFound):
		fail(c, http.StatusUnprocessableEntity, ErrCodeChallengeNotFound,
			"verification code not found in profile; add it and check again")
	case errors.Is(err, services.ErrLookupUnavailable):
		fail(c, http.StatusBadGateway, ErrCodeLookupUnavailable, "profile lookup service unavailable, try again later")
	case errors.Is(err, services.ErrStorageUnavailable):
		fail(c, http.StatusServiceUnavailable, ErrCodeStorageUnavailable, "storage temporarily unavailable")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}

// ok writes a success JSON response with the given status.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// noContent writes an HTTP 204 No Content response.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
