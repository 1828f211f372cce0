// Package repo – identity and verification-attempt repositories.
//
// Identity records are keyed by subject ID (one row per subject); attempts
// are append-only history, superseded rather than replaced by later rows.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/crowvale/dutywatch/internal/domain"
)

// GetIdentity fetches the identity record for a subject, or ErrNotFound.
func GetIdentity(ctx context.Context, db *gorm.DB, subjectID string) (*domain.IdentityRecord, error) {
	var rec domain.IdentityRecord
	err := db.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpsertIdentity inserts the record when the subject has none yet, otherwise
// overwrites the existing row with the given state. The existing primary key
// and CreatedAt are preserved on update.
func UpsertIdentity(ctx context.Context, db *gorm.DB, rec *domain.IdentityRecord) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.IdentityRecord
		err := tx.Where("subject_id = ?", rec.SubjectID).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(rec).Error
		case err != nil:
			return err
		default:
			rec.ID = existing.ID
			rec.CreatedAt = existing.CreatedAt
			return tx.Save(rec).Error
		}
	})
}

// CreateAttempt inserts a new verification attempt row. A fresh attempt is
// created on every verification command; prior rows are never reused.
func CreateAttempt(ctx context.Context, db *gorm.DB, a *domain.VerificationAttempt) error {
	return db.WithContext(ctx).Create(a).Error
}

// UpdateAttempt flips the verified pair on the attempt identified by id.
// Returns ErrNotFound if the attempt does not exist.
func UpdateAttempt(ctx context.Context, db *gorm.DB, id uint, u domain.AttemptUpdate) error {
	res := db.WithContext(ctx).
		Model(&domain.VerificationAttempt{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"is_verified": u.IsVerified,
			"verified_at": u.VerifiedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// GetLatestAttempt returns the most recently created attempt for a subject,
// or ErrNotFound when the subject has never started verification.
func GetLatestAttempt(ctx context.Context, db *gorm.DB, subjectID string) (*domain.VerificationAttempt, error) {
	var a domain.VerificationAttempt
	err := db.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Order("created_at desc, id desc").
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}
