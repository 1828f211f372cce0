// Package repo – MemoryStore.
//
// MemoryStore is the fallback SessionStore used when no database path is
// configured (and in tests). It mirrors the behavior and error semantics of
// GormStore exactly: missing records yield ErrNotFound, active-session
// lookups consider on_duty and paused rows, attempts are append-only.
package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/crowvale/dutywatch/internal/domain"
)

// MemoryStore keeps all records in process memory behind a single mutex.
// It is safe for concurrent use and loses everything on restart.
type MemoryStore struct {
	mu        sync.Mutex
	nextID    uint
	sessions  []domain.DutySession
	identity  map[string]domain.IdentityRecord
	attempts  []domain.VerificationAttempt
	attemptID uint
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{identity: make(map[string]domain.IdentityRecord)}
}

// CreateSession assigns an ID and stores a copy of the session.
func (m *MemoryStore) CreateSession(_ context.Context, s *domain.DutySession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	s.ID = m.nextID
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	m.sessions = append(m.sessions, *s)
	return nil
}

// GetActiveSession returns the on_duty or paused session for the key, or
// ErrNotFound.
func (m *MemoryStore) GetActiveSession(_ context.Context, subjectID, scopeID string) (*domain.DutySession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.sessions {
		s := m.sessions[i]
		if s.SubjectID == subjectID && s.ScopeID == scopeID && s.Active() {
			out := s
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

// GetAllActiveSessions returns active sessions in the scope, newest first.
// An empty scopeID matches all scopes.
func (m *MemoryStore) GetAllActiveSessions(_ context.Context, scopeID string) ([]domain.DutySession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.DutySession, 0)
	for i := range m.sessions {
		if s := m.sessions[i]; (scopeID == "" || s.ScopeID == scopeID) && s.Active() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

// GetSessionByID returns a copy of the session with the given ID.
func (m *MemoryStore) GetSessionByID(_ context.Context, id uint) (*domain.DutySession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.indexOf(id); i >= 0 {
		out := m.sessions[i]
		return &out, nil
	}
	return nil, ErrNotFound
}

// UpdateSession applies the partial update and returns the fresh row.
func (m *MemoryStore) UpdateSession(_ context.Context, id uint, u domain.SessionUpdate) (*domain.DutySession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(id)
	if i < 0 {
		return nil, ErrNotFound
	}
	s := &m.sessions[i]
	if u.Status != nil {
		s.Status = *u.Status
	}
	if u.EndTime != nil {
		t := *u.EndTime
		s.EndTime = &t
	}
	if u.TotalDurationSeconds != nil {
		v := *u.TotalDurationSeconds
		s.TotalDurationSeconds = &v
	}
	if u.ActiveDurationSeconds != nil {
		s.ActiveDurationSeconds = *u.ActiveDurationSeconds
	}
	if u.LastPausedAt != nil {
		if *u.LastPausedAt == nil {
			s.LastPausedAt = nil
		} else {
			t := **u.LastPausedAt
			s.LastPausedAt = &t
		}
	}
	s.UpdatedAt = time.Now().UTC()
	out := *s
	return &out, nil
}

// GetSessionHistory returns up to limit off_duty sessions, most recently
// ended first.
func (m *MemoryStore) GetSessionHistory(_ context.Context, subjectID, scopeID string, limit int) ([]domain.DutySession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.DutySession, 0)
	for i := range m.sessions {
		s := m.sessions[i]
		if s.SubjectID == subjectID && s.ScopeID == scopeID && s.Status == domain.StatusOffDuty {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EndTime == nil || out[j].EndTime == nil {
			return false
		}
		return out[i].EndTime.After(*out[j].EndTime)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetIdentity returns the identity record for a subject, or ErrNotFound.
func (m *MemoryStore) GetIdentity(_ context.Context, subjectID string) (*domain.IdentityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.identity[subjectID]
	if !ok {
		return nil, ErrNotFound
	}
	out := rec
	return &out, nil
}

// UpsertIdentity creates or overwrites the record for rec.SubjectID.
func (m *MemoryStore) UpsertIdentity(_ context.Context, rec *domain.IdentityRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := m.identity[rec.SubjectID]; ok {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
	} else {
		m.nextID++
		rec.ID = m.nextID
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	m.identity[rec.SubjectID] = *rec
	return nil
}

// CreateAttempt appends a new attempt row.
func (m *MemoryStore) CreateAttempt(_ context.Context, a *domain.VerificationAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attemptID++
	a.ID = m.attemptID
	m.attempts = append(m.attempts, *a)
	return nil
}

// UpdateAttempt flips the verified pair on the attempt with the given ID.
func (m *MemoryStore) UpdateAttempt(_ context.Context, id uint, u domain.AttemptUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.attempts {
		if m.attempts[i].ID == id {
			m.attempts[i].IsVerified = u.IsVerified
			t := u.VerifiedAt
			m.attempts[i].VerifiedAt = &t
			return nil
		}
	}
	return ErrNotFound
}

// GetLatestAttempt returns the newest attempt for a subject, or ErrNotFound.
func (m *MemoryStore) GetLatestAttempt(_ context.Context, subjectID string) (*domain.VerificationAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.VerificationAttempt
	for i := range m.attempts {
		a := &m.attempts[i]
		if a.SubjectID != subjectID {
			continue
		}
		if latest == nil || a.CreatedAt.After(latest.CreatedAt) ||
			(a.CreatedAt.Equal(latest.CreatedAt) && a.ID > latest.ID) {
			latest = a
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	out := *latest
	return &out, nil
}

// indexOf returns the slice index of the session with the given ID, or -1.
// Callers must hold the mutex.
func (m *MemoryStore) indexOf(id uint) int {
	for i := range m.sessions {
		if m.sessions[i].ID == id {
			return i
		}
	}
	return -1
}
