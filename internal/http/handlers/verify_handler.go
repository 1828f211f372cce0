// Verification HTTP handlers.
//
// This file exposes REST endpoints for the challenge-response identity flow:
//   - POST /verification/request  (issue a challenge code)
//   - POST /verification/check    (inspect the profile for the code)
//   - POST /verification/cancel   (withdraw the pending code)
//   - POST /verification/reset    (clear a verified binding)
//   - GET  /verification/{subjectId}  (current binding state)
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/crowvale/dutywatch/internal/domain"
	"github.com/crowvale/dutywatch/internal/http/middleware"
	"github.com/crowvale/dutywatch/internal/services"
)

// VerificationService defines the identity-verification operations consumed
// by HTTP handlers.
//
// Implementations must be safe for concurrent use and honor the provided
// context for cancellation and timeouts.
type VerificationService interface {
	Request(ctx context.Context, subjectID, displayName, scopeID, externalName string) (*services.RequestResult, error)
	Check(ctx context.Context, subjectID string) (*services.CheckResult, error)
	Cancel(ctx context.Context, subjectID string) error
	Reset(ctx context.Context, subjectID string) error
	Identity(ctx context.Context, subjectID string) (*domain.IdentityRecord, error)
}

// VerifyRequestBody is the JSON payload for starting verification.
type VerifyRequestBody struct {
	SubjectID    string `json:"subject_id"    binding:"required,min=1,max=64"`
	DisplayName  string `json:"display_name"  binding:"required,min=1,max=128"`
	ScopeID      string `json:"scope_id"      binding:"required,min=1,max=64"`
	ExternalName string `json:"external_name" binding:"required,min=1,max=128"`
}

// SubjectBody is the JSON payload for check/cancel/reset.
type SubjectBody struct {
	SubjectID string `json:"subject_id" binding:"required,min=1,max=64"`
}

// RequestVerification resolves the claimed account and issues a challenge
// code the caller must place in their profile.
func (h *Handlers) RequestVerification(c *gin.Context) {
	var req VerifyRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest,
			"subject_id, display_name, scope_id and external_name are required")
		return
	}
	middleware.SetSubject(c, req.SubjectID)

	res, err := h.verifySvc.Request(c.Request.Context(), req.SubjectID, req.DisplayName, req.ScopeID, req.ExternalName)
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusCreated, res)
}

// CheckVerification inspects the claimed account's profile for the pending
// code and completes the binding on a match.
func (h *Handlers) CheckVerification(c *gin.Context) {
	var req SubjectBody
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "subject_id is required")
		return
	}
	middleware.SetSubject(c, req.SubjectID)

	res, err := h.verifySvc.Check(c.Request.Context(), req.SubjectID)
	if err != nil {
		middleware.CountVerificationCheck(checkOutcome(err))
		failFromService(c, err)
		return
	}
	if res.Fallback {
		middleware.CountVerificationCheck("fallback")
	} else {
		middleware.CountVerificationCheck("verified")
	}
	ok(c, http.StatusOK, res)
}

// CancelVerification withdraws the pending challenge. Idempotent.
func (h *Handlers) CancelVerification(c *gin.Context) {
	var req SubjectBody
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "subject_id is required")
		return
	}
	middleware.SetSubject(c, req.SubjectID)

	if err := h.verifySvc.Cancel(c.Request.Context(), req.SubjectID); err != nil {
		failFromService(c, err)
		return
	}
	noContent(c)
}

// ResetVerification clears a verified binding so a different account can be
// verified.
func (h *Handlers) ResetVerification(c *gin.Context) {
	var req SubjectBody
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "subject_id is required")
		return
	}
	middleware.SetSubject(c, req.SubjectID)

	if err := h.verifySvc.Reset(c.Request.Context(), req.SubjectID); err != nil {
		failFromService(c, err)
		return
	}
	noContent(c)
}

// GetIdentity returns the binding state for the subject in the path.
func (h *Handlers) GetIdentity(c *gin.Context) {
	subjectID := c.Param("subjectId")
	middleware.SetSubject(c, subjectID)

	rec, err := h.verifySvc.Identity(c.Request.Context(), subjectID)
	if err != nil {
		if errors.Is(err, services.ErrNotVerified) {
			// No record at all reads as 404 on the resource endpoint.
			fail(c, http.StatusNotFound, ErrCodeNotFound, "no identity record for subject")
			return
		}
		failFromService(c, err)
		return
	}
	ok(c, http.StatusOK, rec)
}

// checkOutcome maps a check failure to its metrics label.
func checkOutcome(err error) string {
	if errors.Is(err, services.ErrCodeNotFound) {
		return "code_missing"
	}
	return "failed"
}
