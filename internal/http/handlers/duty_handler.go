// Duty-session HTTP handlers.
//
// This file exposes REST endpoints for the duty state machine:
//   - POST /duty/start    (begin or resume a shift)
//   - POST /duty/pause    (suspend time accrual)
//   - POST /duty/resume   (reactivate a paused shift)
//   - POST /duty/end      (finish and freeze the total)
//   - GET  /duty/status   (live view of the caller's shift)
//   - GET  /duty/active   (dashboard: every active shift in a scope)
//   - GET  /duty/history/{subjectId}  (completed shifts, newest first)
//
// Handlers are transport-thin: they validate input, call the duty engine, and
// translate results into HTTP responses.
package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/crowvale/dutywatch/internal/domain"
	"github.com/crowvale/dutywatch/internal/http/middleware"
	"github.com/crowvale/dutywatch/internal/services"
	"github.com/crowvale/dutywatch/internal/utils"
)

// DutyService defines the duty-session operations consumed by HTTP handlers.
//
// Implementations must be safe for concurrent use and honor the provided
// context for cancellation and timeouts.
type DutyService interface {
	Start(ctx context.Context, subjectID, scopeID string) (*domain.DutySession, error)
	Pause(ctx context.Context, subjectID, scopeID string) (*domain.DutySession, error)
	Resume(ctx context.Context, subjectID, scopeID string) (*domain.DutySession, error)
	End(ctx context.Context, subjectID, scopeID string) (*domain.DutySession, error)
	Status(ctx context.Context, subjectID, scopeID string) (*services.StatusView, error)
	ActiveSessions(ctx context.Context, scopeID string) ([]services.StatusView, error)
	History(ctx context.Context, subjectID, scopeID string, limit int) ([]domain.DutySession, error)
}

// Handlers groups the HTTP endpoints for duty sessions and verification.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	dutySvc   DutyService
	verifySvc VerificationService
}

// New constructs a Handlers instance bound to the given services.
func New(dutySvc DutyService, verifySvc VerificationService) *Handlers {
	return &Handlers{dutySvc: dutySvc, verifySvc: verifySvc}
}

// DutyRequest is the JSON payload shared by the duty transition endpoints.
type DutyRequest struct {
	SubjectID string `json:"subject_id" binding:"required,min=1,max=64"`
	ScopeID   string `json:"scope_id"   binding:"required,min=1,max=64"`
}

// Start begins a duty session, or resumes a paused one. Starting while
// already on duty is a no-op returning the current session.
func (h *Handlers) Start(c *gin.Context) {
	h.transition(c, "start", h.dutySvc.Start)
}

// Pause suspends time accrual on the caller's session.
func (h *Handlers) Pause(c *gin.Context) {
	h.transition(c, "pause", h.dutySvc.Pause)
}

// Resume reactivates the caller's paused session.
func (h *Handlers) Resume(c *gin.Context) {
	h.transition(c, "resume", h.dutySvc.Resume)
}

// End finishes the caller's session and freezes the total duration.
func (h *Handlers) End(c *gin.Context) {
	h.transition(c, "end", h.dutySvc.End)
}

// transition runs one state-machine operation with shared validation,
// logging, and metrics.
func (h *Handlers) transition(c *gin.Context, kind string, op func(context.Context, string, string) (*domain.DutySession, error)) {
	var req DutyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "subject_id and scope_id are required")
		return
	}
	middleware.SetSubject(c, req.SubjectID)

	sess, err := op(c.Request.Context(), req.SubjectID, req.ScopeID)
	if err != nil {
		failFromService(c, err)
		return
	}
	middleware.CountDutyTransition(kind)
	ok(c, http.StatusOK, sess)
}

// DutyStatus returns the caller's active session with its live elapsed
// duration. Query params: subject_id, scope_id.
func (h *Handlers) DutyStatus(c *gin.Context) {
	subjectID := strings.TrimSpace(c.Query("subject_id"))
	scopeID := strings.TrimSpace(c.Query("scope_id"))
	if subjectID == "" || scopeID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "subject_id and scope_id query params are required")
		return
	}
	middleware.SetSubject(c, subjectID)

	view, err := h.dutySvc.Status(c.Request.Context(), subjectID, scopeID)
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusOK, view)
}

// ActiveSessionsResponse wraps the dashboard listing.
type ActiveSessionsResponse struct {
	Sessions []services.StatusView `json:"sessions"`
	Count    int                   `json:"count"`
}

// ActiveSessions lists every active session in a scope, newest first.
// Query params: scope_id.
func (h *Handlers) ActiveSessions(c *gin.Context) {
	scopeID := strings.TrimSpace(c.Query("scope_id"))
	if scopeID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "scope_id query param is required")
		return
	}

	views, err := h.dutySvc.ActiveSessions(c.Request.Context(), scopeID)
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusOK, ActiveSessionsResponse{Sessions: views, Count: len(views)})
}

// HistoryResponse wraps a subject's completed sessions.
type HistoryResponse struct {
	Sessions []domain.DutySession `json:"sessions"`
	Count    int                  `json:"count"`
}

// History returns up to `limit` completed sessions for the subject in the
// path, newest first. Query params: scope_id, limit (default 10, max 50).
func (h *Handlers) History(c *gin.Context) {
	subjectID := c.Param("subjectId")
	scopeID := strings.TrimSpace(c.Query("scope_id"))
	if scopeID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "scope_id query param is required")
		return
	}
	middleware.SetSubject(c, subjectID)

	limit := utils.ClampInt(utils.AtoiDefault(c.Query("limit"), 10), 1, 50)

	sessions, err := h.dutySvc.History(c.Request.Context(), subjectID, scopeID, limit)
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusOK, HistoryResponse{Sessions: sessions, Count: len(sessions)})
}
