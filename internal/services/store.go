// Package services – collaborator contracts.
//
// The engines are coded only against the interfaces in this file. Concrete
// implementations live elsewhere: repo.GormStore / repo.MemoryStore for the
// store (selected at process startup), ws.Hub for the broadcaster.
package services

import (
	"context"

	"github.com/crowvale/dutywatch/internal/domain"
)

// Store is the keyed persistence contract for duty sessions, identity
// records and verification attempts. Missing records are reported as
// repo.ErrNotFound (gorm.ErrRecordNotFound); any other error means the store
// is unavailable and is wrapped into ErrStorageUnavailable by the engines.
type Store interface {
	// Sessions.
	CreateSession(ctx context.Context, s *domain.DutySession) error
	GetActiveSession(ctx context.Context, subjectID, scopeID string) (*domain.DutySession, error)
	GetAllActiveSessions(ctx context.Context, scopeID string) ([]domain.DutySession, error)
	GetSessionByID(ctx context.Context, id uint) (*domain.DutySession, error)
	UpdateSession(ctx context.Context, id uint, u domain.SessionUpdate) (*domain.DutySession, error)
	GetSessionHistory(ctx context.Context, subjectID, scopeID string, limit int) ([]domain.DutySession, error)

	// Identities.
	GetIdentity(ctx context.Context, subjectID string) (*domain.IdentityRecord, error)
	UpsertIdentity(ctx context.Context, rec *domain.IdentityRecord) error

	// Verification attempts.
	CreateAttempt(ctx context.Context, a *domain.VerificationAttempt) error
	UpdateAttempt(ctx context.Context, id uint, u domain.AttemptUpdate) error
	GetLatestAttempt(ctx context.Context, subjectID string) (*domain.VerificationAttempt, error)
}

// Publisher is the fan-out notification sink. Publish is fire-and-forget:
// best-effort delivery, no acknowledgment, no retry. The engines emit one
// event per state transition and never block on delivery.
type Publisher interface {
	Publish(ev domain.Event)
}

// NopPublisher discards all events. Used when no broadcaster is wired.
type NopPublisher struct{}

// Publish drops the event.
func (NopPublisher) Publish(domain.Event) {}
