// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the DutySession
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a session is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/crowvale/dutywatch/internal/domain"
)

// CreateSession inserts a new duty session row. The caller is responsible for
// populating SubjectID, ScopeID, Status and StartTime; the generated ID is
// written back into s.
func CreateSession(ctx context.Context, db *gorm.DB, s *domain.DutySession) error {
	return db.WithContext(ctx).Create(s).Error
}

// GetActiveSession fetches the single on_duty or paused session for the given
// subject within a scope. Returns ErrNotFound when the subject has no active
// session.
func GetActiveSession(ctx context.Context, db *gorm.DB, subjectID, scopeID string) (*domain.DutySession, error) {
	var s domain.DutySession
	err := db.WithContext(ctx).
		Where("subject_id = ? AND scope_id = ? AND status IN ?",
			subjectID, scopeID, []string{domain.StatusOnDuty, domain.StatusPaused}).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetAllActiveSessions returns every on_duty or paused session within a scope,
// most recently started first. An empty scopeID matches all scopes (used by
// the cross-scope dashboard snapshot). An empty slice is not an error.
func GetAllActiveSessions(ctx context.Context, db *gorm.DB, scopeID string) ([]domain.DutySession, error) {
	var out []domain.DutySession
	q := db.WithContext(ctx).
		Where("status IN ?", []string{domain.StatusOnDuty, domain.StatusPaused})
	if scopeID != "" {
		q = q.Where("scope_id = ?", scopeID)
	}
	err := q.Order("start_time desc").Find(&out).Error
	return out, err
}

// GetSessionByID fetches a single session by primary key, or ErrNotFound.
func GetSessionByID(ctx context.Context, db *gorm.DB, id uint) (*domain.DutySession, error) {
	var s domain.DutySession
	if err := db.WithContext(ctx).First(&s, id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateSession applies a partial update to the session identified by id and
// returns the fresh row. Nil fields in u are left untouched; a non-nil
// LastPausedAt pointing at nil clears the column. Returns ErrNotFound if the
// session does not exist.
func UpdateSession(ctx context.Context, db *gorm.DB, id uint, u domain.SessionUpdate) (*domain.DutySession, error) {
	fields := map[string]any{}
	if u.Status != nil {
		fields["status"] = *u.Status
	}
	if u.EndTime != nil {
		fields["end_time"] = *u.EndTime
	}
	if u.TotalDurationSeconds != nil {
		fields["total_duration_seconds"] = *u.TotalDurationSeconds
	}
	if u.ActiveDurationSeconds != nil {
		fields["active_duration_seconds"] = *u.ActiveDurationSeconds
	}
	if u.LastPausedAt != nil {
		if *u.LastPausedAt == nil {
			fields["last_paused_at"] = nil
		} else {
			fields["last_paused_at"] = **u.LastPausedAt
		}
	}

	if len(fields) > 0 {
		res := db.WithContext(ctx).
			Model(&domain.DutySession{}).
			Where("id = ?", id).
			Updates(fields)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, gorm.ErrRecordNotFound
		}
	}
	return GetSessionByID(ctx, db, id)
}

// GetSessionHistory returns up to limit completed (off_duty) sessions for the
// subject within a scope, most recently ended first.
func GetSessionHistory(ctx context.Context, db *gorm.DB, subjectID, scopeID string, limit int) ([]domain.DutySession, error) {
	var out []domain.DutySession
	err := db.WithContext(ctx).
		Where("subject_id = ? AND scope_id = ? AND status = ?",
			subjectID, scopeID, domain.StatusOffDuty).
		Order("end_time desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}
