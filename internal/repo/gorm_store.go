// Package repo – GormStore.
//
// GormStore adapts the repository free functions to the services.Store
// interface expected by the engines. This keeps services decoupled from the
// concrete persistence package while reusing the thin repository functions.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/crowvale/dutywatch/internal/domain"
)

// GormStore is the durable SessionStore implementation, backed by SQLite
// through GORM. It is the single source of truth for sessions, identity
// records and attempts; no state is cached across calls.
type GormStore struct {
	DB *gorm.DB
}

// NewGormStore wraps a GORM handle in a store.
func NewGormStore(db *gorm.DB) *GormStore { return &GormStore{DB: db} }

// CreateSession proxies CreateSession.
func (s *GormStore) CreateSession(ctx context.Context, sess *domain.DutySession) error {
	return CreateSession(ctx, s.DB, sess)
}

// GetActiveSession proxies GetActiveSession.
func (s *GormStore) GetActiveSession(ctx context.Context, subjectID, scopeID string) (*domain.DutySession, error) {
	return GetActiveSession(ctx, s.DB, subjectID, scopeID)
}

// GetAllActiveSessions proxies GetAllActiveSessions.
func (s *GormStore) GetAllActiveSessions(ctx context.Context, scopeID string) ([]domain.DutySession, error) {
	return GetAllActiveSessions(ctx, s.DB, scopeID)
}

// GetSessionByID proxies GetSessionByID.
func (s *GormStore) GetSessionByID(ctx context.Context, id uint) (*domain.DutySession, error) {
	return GetSessionByID(ctx, s.DB, id)
}

// UpdateSession proxies UpdateSession.
func (s *GormStore) UpdateSession(ctx context.Context, id uint, u domain.SessionUpdate) (*domain.DutySession, error) {
	return UpdateSession(ctx, s.DB, id, u)
}

// GetSessionHistory proxies GetSessionHistory.
func (s *GormStore) GetSessionHistory(ctx context.Context, subjectID, scopeID string, limit int) ([]domain.DutySession, error) {
	return GetSessionHistory(ctx, s.DB, subjectID, scopeID, limit)
}

// GetIdentity proxies GetIdentity.
func (s *GormStore) GetIdentity(ctx context.Context, subjectID string) (*domain.IdentityRecord, error) {
	return GetIdentity(ctx, s.DB, subjectID)
}

// UpsertIdentity proxies UpsertIdentity.
func (s *GormStore) UpsertIdentity(ctx context.Context, rec *domain.IdentityRecord) error {
	return UpsertIdentity(ctx, s.DB, rec)
}

// CreateAttempt proxies CreateAttempt.
func (s *GormStore) CreateAttempt(ctx context.Context, a *domain.VerificationAttempt) error {
	return CreateAttempt(ctx, s.DB, a)
}

// UpdateAttempt proxies UpdateAttempt.
func (s *GormStore) UpdateAttempt(ctx context.Context, id uint, u domain.AttemptUpdate) error {
	return UpdateAttempt(ctx, s.DB, id, u)
}

// GetLatestAttempt proxies GetLatestAttempt.
func (s *GormStore) GetLatestAttempt(ctx context.Context, subjectID string) (*domain.VerificationAttempt, error) {
	return GetLatestAttempt(ctx, s.DB, subjectID)
}
