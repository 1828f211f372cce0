// Package services – DutyService
//
// This file implements the duty-session state machine: start, pause, resume
// and end transitions with wall-clock precise active-duration accounting.
// Pausing freezes the accumulator; time apparent between pause and resume is
// never counted. Ending a session freezes the total exactly once. Per-subject
// transitions are serialized so a pause and a concurrent status read cannot
// observe the accumulator mid-update.
//
// Service-level errors (ErrNoActiveSession, ErrStorageUnavailable) are
// returned for predictable cases so handlers can map them to HTTP results
// consistently. One broadcast event is emitted per real state transition;
// idempotent no-ops emit nothing.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/crowvale/dutywatch/internal/clock"
	"github.com/crowvale/dutywatch/internal/domain"
	"github.com/crowvale/dutywatch/internal/repo"
)

// DutyService implements the duty-session engine over the Store contract.
type DutyService struct {
	// Store is the single source of truth for sessions.
	Store Store
	// Broadcast receives one event per state transition. May be nil.
	Broadcast Publisher
	// Now supplies the wall clock; defaults to time.Now. Injectable for tests.
	Now func() time.Time

	// mu guards locks; locks serializes transitions per (subject, scope).
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// StatusView is a read model of a session for display: the raw row plus the
// live elapsed computation and its human-readable rendering. Displayed
// duration for an on_duty session keeps growing between transitions because
// it is recomputed from the clock on every query, never from a snapshot.
type StatusView struct {
	Session        domain.DutySession `json:"session"`
	ElapsedSeconds int64              `json:"elapsed_seconds"`
	Elapsed        string             `json:"elapsed"`
}

// NewDutyService constructs a DutyService with the real clock.
func NewDutyService(store Store, broadcast Publisher) *DutyService {
	if broadcast == nil {
		broadcast = NopPublisher{}
	}
	return &DutyService{
		Store:     store,
		Broadcast: broadcast,
		Now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
	}
}

// Start begins a duty session for the subject in the scope.
//
// Semantics:
//   - no active session: a new on_duty session is created (start event).
//   - paused session: the call collapses onto Resume (resume event).
//   - on_duty session: idempotent no-op returning the existing session, no
//     duplicate event.
func (s *DutyService) Start(ctx context.Context, subjectID, scopeID string) (*domain.DutySession, error) {
	ctx, span := s.span(ctx, "Start", subjectID, scopeID)
	defer span.End()

	unlock := s.lock(subjectID, scopeID)
	defer unlock()

	existing, err := s.Store.GetActiveSession(ctx, subjectID, scopeID)
	switch {
	case err == nil && existing.Status == domain.StatusOnDuty:
		return existing, nil
	case err == nil && existing.Status == domain.StatusPaused:
		return s.resumeLocked(ctx, existing)
	case err != nil && !errors.Is(err, repo.ErrNotFound):
		return nil, storageErr(err)
	}

	sess := &domain.DutySession{
		SubjectID: subjectID,
		ScopeID:   scopeID,
		Status:    domain.StatusOnDuty,
		StartTime: s.Now().UTC(),
	}
	if err := s.Store.CreateSession(ctx, sess); err != nil {
		return nil, storageErr(err)
	}

	s.Broadcast.Publish(domain.Event{
		Kind: domain.EventStart, SubjectID: subjectID, ScopeID: scopeID, Payload: sess,
	})
	return sess, nil
}

// Pause suspends time accrual on the subject's on_duty session. The seconds
// accrued since the last resume (or the start) are folded into the
// accumulator. Pausing an already-paused session is a no-op returning the
// current state; no time is double-accrued and no event is emitted.
func (s *DutyService) Pause(ctx context.Context, subjectID, scopeID string) (*domain.DutySession, error) {
	ctx, span := s.span(ctx, "Pause", subjectID, scopeID)
	defer span.End()

	unlock := s.lock(subjectID, scopeID)
	defer unlock()

	sess, err := s.activeSession(ctx, subjectID, scopeID)
	if err != nil {
		return nil, err
	}
	if sess.Status == domain.StatusPaused {
		return sess, nil
	}

	now := s.Now().UTC()
	accrued := sess.ActiveDurationSeconds + sinceReference(sess, now)

	paused := domain.StatusPaused
	lastPaused := &now
	updated, err := s.Store.UpdateSession(ctx, sess.ID, domain.SessionUpdate{
		Status:                &paused,
		ActiveDurationSeconds: &accrued,
		LastPausedAt:          &lastPaused,
	})
	if err != nil {
		return nil, storageErr(err)
	}

	s.Broadcast.Publish(domain.Event{
		Kind: domain.EventPause, SubjectID: subjectID, ScopeID: scopeID, Payload: updated,
	})
	return updated, nil
}

// Resume reactivates the subject's paused session. The accumulator is left
// untouched; the paused interval is excluded from duty time.
func (s *DutyService) Resume(ctx context.Context, subjectID, scopeID string) (*domain.DutySession, error) {
	ctx, span := s.span(ctx, "Resume", subjectID, scopeID)
	defer span.End()

	unlock := s.lock(subjectID, scopeID)
	defer unlock()

	sess, err := s.activeSession(ctx, subjectID, scopeID)
	if err != nil {
		return nil, err
	}
	if sess.Status == domain.StatusOnDuty {
		return sess, nil
	}
	return s.resumeLocked(ctx, sess)
}

// End finishes the subject's active session, freezing the total duration.
// Works from both on_duty and paused; fails with ErrNoActiveSession when
// there is nothing to end.
func (s *DutyService) End(ctx context.Context, subjectID, scopeID string) (*domain.DutySession, error) {
	ctx, span := s.span(ctx, "End", subjectID, scopeID)
	defer span.End()

	unlock := s.lock(subjectID, scopeID)
	defer unlock()

	sess, err := s.activeSession(ctx, subjectID, scopeID)
	if err != nil {
		return nil, err
	}

	now := s.Now().UTC()
	total := clock.ElapsedActive(sess, now)

	off := domain.StatusOffDuty
	updated, err := s.Store.UpdateSession(ctx, sess.ID, domain.SessionUpdate{
		Status:               &off,
		EndTime:              &now,
		TotalDurationSeconds: &total,
	})
	if err != nil {
		return nil, storageErr(err)
	}

	s.Broadcast.Publish(domain.Event{
		Kind: domain.EventEnd, SubjectID: subjectID, ScopeID: scopeID, Payload: updated,
	})
	return updated, nil
}

// Status returns the subject's active session with its live elapsed duration,
// or ErrNoActiveSession.
func (s *DutyService) Status(ctx context.Context, subjectID, scopeID string) (*StatusView, error) {
	unlock := s.lock(subjectID, scopeID)
	defer unlock()

	sess, err := s.activeSession(ctx, subjectID, scopeID)
	if err != nil {
		return nil, err
	}
	return s.view(sess), nil
}

// ActiveSessions returns every active session in the scope with live elapsed
// durations, for the dashboard.
func (s *DutyService) ActiveSessions(ctx context.Context, scopeID string) ([]StatusView, error) {
	sessions, err := s.Store.GetAllActiveSessions(ctx, scopeID)
	if err != nil {
		return nil, storageErr(err)
	}
	out := make([]StatusView, 0, len(sessions))
	for i := range sessions {
		out = append(out, *s.view(&sessions[i]))
	}
	return out, nil
}

// History returns up to limit completed sessions for the subject.
func (s *DutyService) History(ctx context.Context, subjectID, scopeID string, limit int) ([]domain.DutySession, error) {
	if limit <= 0 {
		limit = 10
	}
	out, err := s.Store.GetSessionHistory(ctx, subjectID, scopeID, limit)
	if err != nil {
		return nil, storageErr(err)
	}
	return out, nil
}

// resumeLocked flips a paused session back to on_duty. The resume timestamp
// becomes the new accrual reference, so the paused interval and the seconds
// already folded into the accumulator are never counted again. Caller holds
// the per-subject lock.
func (s *DutyService) resumeLocked(ctx context.Context, sess *domain.DutySession) (*domain.DutySession, error) {
	now := s.Now().UTC()
	onDuty := domain.StatusOnDuty
	ref := &now
	updated, err := s.Store.UpdateSession(ctx, sess.ID, domain.SessionUpdate{
		Status:       &onDuty,
		LastPausedAt: &ref,
	})
	if err != nil {
		return nil, storageErr(err)
	}

	s.Broadcast.Publish(domain.Event{
		Kind: domain.EventResume, SubjectID: sess.SubjectID, ScopeID: sess.ScopeID, Payload: updated,
	})
	return updated, nil
}

// activeSession loads the active session or translates absence into
// ErrNoActiveSession.
func (s *DutyService) activeSession(ctx context.Context, subjectID, scopeID string) (*domain.DutySession, error) {
	sess, err := s.Store.GetActiveSession(ctx, subjectID, scopeID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNoActiveSession
		}
		return nil, storageErr(err)
	}
	return sess, nil
}

// view computes the live read model for a session.
func (s *DutyService) view(sess *domain.DutySession) *StatusView {
	elapsed := clock.ElapsedActive(sess, s.now())
	return &StatusView{
		Session:        *sess,
		ElapsedSeconds: elapsed,
		Elapsed:        clock.FormatDuration(elapsed),
	}
}

// sinceReference returns whole seconds since the session's reference point:
// LastPausedAt when present, StartTime otherwise.
func sinceReference(sess *domain.DutySession, now time.Time) int64 {
	ref := sess.StartTime
	if sess.LastPausedAt != nil {
		ref = *sess.LastPausedAt
	}
	return int64(now.Sub(ref) / time.Second)
}

// lock acquires the per-key mutex, creating it on first use, and returns the
// unlock function.
func (s *DutyService) lock(subjectID, scopeID string) func() {
	key := subjectID + "|" + scopeID
	s.mu.Lock()
	if s.locks == nil {
		s.locks = make(map[string]*sync.Mutex)
	}
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// now returns the injected clock, defaulting to time.Now.
func (s *DutyService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// span starts a tracing span for a duty operation.
func (s *DutyService) span(ctx context.Context, op, subjectID, scopeID string) (context.Context, trace.Span) {
	tr := otel.Tracer("services/DutyService")
	return tr.Start(ctx, op,
		trace.WithAttributes(
			attribute.String("subject.id", subjectID),
			attribute.String("scope.id", scopeID),
		),
	)
}

// storageErr wraps a store failure into the ErrStorageUnavailable taxonomy
// while preserving the cause for logs.
func storageErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}
