// Package domain defines the persistence models for duty sessions, identity
// records, and verification attempts. These types are mapped with GORM and
// form the core data layer of the duty-tracking application.
package domain

import "time"

// Duty session status values. A session is "active" while it is on_duty or
// paused; off_duty is terminal for the session instance.
const (
	StatusOnDuty  = "on_duty"
	StatusPaused  = "paused"
	StatusOffDuty = "off_duty"
)

// DutySession represents one duty shift of a subject within a scope.
//
// Fields:
//   - ID: auto-incrementing primary key.
//   - SubjectID / ScopeID: the tracked identity and its partition (e.g. a
//     community server); indexed together for active-session lookups.
//   - Status: "on_duty", "paused" or "off_duty" (enforced by DB constraint).
//   - StartTime: set once at creation.
//   - EndTime / TotalDurationSeconds: set exactly once, on the transition to
//     off_duty, and never touched again.
//   - ActiveDurationSeconds: cumulative on-duty seconds accrued before the
//     most recent pause; monotonically non-decreasing.
//   - LastPausedAt: the accrual reference of the current segment. Set to the
//     pause time on pause and to the resume time on resume; nil only before
//     the first pause, in which case StartTime is the reference.
//
// Invariant: at most one session with status in {on_duty, paused} exists per
// (SubjectID, ScopeID) at any time. Off-duty sessions are kept as history and
// never deleted.
type DutySession struct {
	ID                    uint       `json:"id"                      gorm:"primaryKey;autoIncrement"`
	SubjectID             string     `json:"subject_id"              gorm:"type:varchar(64);not null;index:idx_subject_scope,priority:1"`
	ScopeID               string     `json:"scope_id"                gorm:"type:varchar(64);not null;index:idx_subject_scope,priority:2"`
	Status                string     `json:"status"                  gorm:"type:varchar(16);not null;check:status IN ('on_duty','paused','off_duty')"`
	StartTime             time.Time  `json:"start_time"              gorm:"not null"`
	EndTime               *time.Time `json:"end_time,omitempty"`
	TotalDurationSeconds  *int64     `json:"total_duration_seconds,omitempty"`
	ActiveDurationSeconds int64      `json:"active_duration_seconds" gorm:"not null;default:0"`
	LastPausedAt          *time.Time `json:"last_paused_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// TableName returns the database table name for DutySession.
func (DutySession) TableName() string { return "duty_sessions" }

// Active reports whether the session still accrues or may accrue duty time.
func (s *DutySession) Active() bool {
	return s.Status == StatusOnDuty || s.Status == StatusPaused
}

// IdentityRecord binds a subject to an external game-platform account.
//
// Fields:
//   - SubjectID: unique internal identity of the chat-platform user.
//   - DisplayName / ScopeID: presentation name and partition.
//   - IsVerified: true only when ExternalID, ExternalName and VerifiedAt are
//     all set.
//   - PendingChallengeCode: the latest issued challenge; setting a new code
//     implicitly invalidates any prior one.
//
// The binding fields are overwritten only on a successful verification check;
// starting a re-verification clears IsVerified and the pending code first.
type IdentityRecord struct {
	ID                   uint       `json:"id"            gorm:"primaryKey;autoIncrement"`
	SubjectID            string     `json:"subject_id"    gorm:"type:varchar(64);not null;uniqueIndex"`
	DisplayName          string     `json:"display_name"  gorm:"type:varchar(128);not null"`
	ScopeID              string     `json:"scope_id"      gorm:"type:varchar(64);not null"`
	IsVerified           bool       `json:"is_verified"   gorm:"not null;default:false"`
	ExternalID           *string    `json:"external_id,omitempty"   gorm:"type:varchar(64)"`
	ExternalName         *string    `json:"external_name,omitempty" gorm:"type:varchar(128)"`
	PendingChallengeCode *string    `json:"-"             gorm:"type:varchar(32)"`
	VerifiedAt           *time.Time `json:"verified_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// TableName returns the database table name for IdentityRecord.
func (IdentityRecord) TableName() string { return "identity_records" }

// VerificationAttempt is one issued challenge for a claimed external name.
// Attempts are append-only history: a new verification command inserts a new
// row and supersedes (never replaces) earlier ones. The only mutation allowed
// is the false→true flip of IsVerified together with VerifiedAt, exactly once.
// The latest attempt for a subject is the one with the greatest CreatedAt.
type VerificationAttempt struct {
	ID            uint       `json:"id"             gorm:"primaryKey;autoIncrement"`
	SubjectID     string     `json:"subject_id"     gorm:"type:varchar(64);not null;index"`
	ScopeID       string     `json:"scope_id"       gorm:"type:varchar(64);not null"`
	ExternalName  string     `json:"external_name"  gorm:"type:varchar(128);not null"`
	ChallengeCode string     `json:"challenge_code" gorm:"type:varchar(32);not null"`
	CreatedAt     time.Time  `json:"created_at"     gorm:"not null;index"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty"`
	IsVerified    bool       `json:"is_verified"    gorm:"not null;default:false"`
}

// TableName returns the database table name for VerificationAttempt.
func (VerificationAttempt) TableName() string { return "verification_attempts" }

// SessionUpdate is a partial update applied to a DutySession. Nil fields are
// left untouched. LastPausedAt uses a double pointer so callers can
// distinguish "leave as is" (nil) from "clear to NULL" (pointer to nil).
type SessionUpdate struct {
	Status                *string
	EndTime               *time.Time
	TotalDurationSeconds  *int64
	ActiveDurationSeconds *int64
	LastPausedAt          **time.Time
}

// AttemptUpdate is the only mutation permitted on a VerificationAttempt.
type AttemptUpdate struct {
	IsVerified bool
	VerifiedAt time.Time
}
