// Package services – VerificationService
//
// This file implements challenge-response verification of an external
// game-platform identity. The flow has two halves: Request resolves the
// claimed account name, issues a fresh challenge code and records a pending
// attempt; Check re-reads the account's public profile text and accepts the
// binding when the code appears in it.
//
// The external lookup is unreliable by design: transient failures and rate
// limits are retried on a small fixed budget with linear backoff, and a
// profile that stays unreachable across the whole budget degrades to an
// alternative acceptance path rather than blocking the user (the attempt is
// accepted and flagged as a fallback so operators can audit it later).
package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crowvale/dutywatch/internal/domain"
	"github.com/crowvale/dutywatch/internal/repo"
	"github.com/crowvale/dutywatch/internal/roblox"
)

const (
	// defaultLookupAttempts bounds each external call: one initial try plus
	// retries. Kept small; the profile API rate limits aggressively.
	defaultLookupAttempts = 3

	// defaultBackoffBase is multiplied by the retry ordinal, so waits grow
	// 3s, 6s, 9s rather than doubling without bound.
	defaultBackoffBase = 3 * time.Second
)

// VerificationService implements the identity-verification engine.
type VerificationService struct {
	Store     Store
	Lookup    roblox.Lookup
	Broadcast Publisher

	// Now supplies the wall clock; defaults to time.Now.
	Now func() time.Time
	// Attempts and BackoffBase override the retry budget; zero selects the
	// defaults above. Tests shrink BackoffBase to keep runs fast.
	Attempts    int
	BackoffBase time.Duration
	// OnProgress, when set, is invoked before each retry wait so callers can
	// surface "still trying" feedback. Never called on the first attempt.
	OnProgress func(stage string, retry int)
}

// RequestResult is the outcome of a verification request: the code the user
// must place in their profile, the resolved identity, and a best-effort
// avatar URL (empty when the thumbnail fetch failed).
type RequestResult struct {
	Code      string          `json:"code"`
	Identity  roblox.Identity `json:"identity"`
	AvatarURL string          `json:"avatar_url,omitempty"`
}

// CheckResult is the outcome of a successful verification check.
type CheckResult struct {
	Identity roblox.Identity `json:"identity"`
	// Fallback is true when the profile stayed unreachable and the attempt
	// was accepted through the alternative path instead of a code match.
	Fallback   bool      `json:"fallback"`
	VerifiedAt time.Time `json:"verified_at"`
}

// NewVerificationService constructs the engine with production defaults.
func NewVerificationService(store Store, lookup roblox.Lookup, broadcast Publisher) *VerificationService {
	if broadcast == nil {
		broadcast = NopPublisher{}
	}
	return &VerificationService{
		Store:     store,
		Lookup:    lookup,
		Broadcast: broadcast,
		Now:       time.Now,
	}
}

// Request starts (or restarts) verification of subjectID against the claimed
// externalName. An already-verified identity is rejected with
// ErrAlreadyVerified until it is reset. Issuing a new request supersedes any
// earlier pending attempt: only the newest code is accepted by Check.
func (v *VerificationService) Request(ctx context.Context, subjectID, displayName, scopeID, externalName string) (*RequestResult, error) {
	existing, err := v.Store.GetIdentity(ctx, subjectID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, storageErr(err)
	}
	if err == nil && existing.IsVerified {
		return nil, ErrAlreadyVerified
	}

	ident, err := v.resolveName(ctx, externalName)
	if err != nil {
		return nil, err
	}

	code, err := GenerateCode()
	if err != nil {
		return nil, fmt.Errorf("generate challenge code: %w", err)
	}

	rec := &domain.IdentityRecord{
		SubjectID:            subjectID,
		DisplayName:          displayName,
		ScopeID:              scopeID,
		IsVerified:           false,
		PendingChallengeCode: &code,
	}
	if existing != nil {
		// Re-verification keeps the old binding visible until the new one
		// lands; only the verified flag and the pending code change.
		rec.ExternalID = existing.ExternalID
		rec.ExternalName = existing.ExternalName
	}
	if err := v.Store.UpsertIdentity(ctx, rec); err != nil {
		return nil, storageErr(err)
	}

	attempt := &domain.VerificationAttempt{
		SubjectID:     subjectID,
		ScopeID:       scopeID,
		ExternalName:  ident.Name,
		ChallengeCode: code,
		CreatedAt:     v.now(),
	}
	if err := v.Store.CreateAttempt(ctx, attempt); err != nil {
		return nil, storageErr(err)
	}

	out := &RequestResult{Code: code, Identity: *ident}
	if avatar, err := v.Lookup.FetchAvatar(ctx, ident.ID); err == nil {
		out.AvatarURL = avatar
	} else {
		log.Debug().Err(err).Int64("external_id", ident.ID).Msg("avatar fetch failed, continuing without")
	}
	return out, nil
}

// Check inspects the claimed account's profile for the pending challenge
// code and, on a match, flips the binding to verified.
//
// Outcomes:
//   - code present in profile text: verified, binding stored, one event.
//   - profile fetched but code absent: ErrCodeNotFound; the attempt stays
//     pending and Check may be retried after the user edits their profile.
//   - profile unreachable across the retry budget: verified through the
//     alternative path, flagged Fallback in the result and event payload.
func (v *VerificationService) Check(ctx context.Context, subjectID string) (*CheckResult, error) {
	attempt, err := v.Store.GetLatestAttempt(ctx, subjectID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNoPendingAttempt
		}
		return nil, storageErr(err)
	}
	if attempt.IsVerified {
		return nil, ErrAlreadyVerified
	}

	rec, err := v.Store.GetIdentity(ctx, subjectID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNoPendingAttempt
		}
		return nil, storageErr(err)
	}
	// A cancelled or superseded code is no longer checkable even though the
	// attempt row remains as history.
	if rec.PendingChallengeCode == nil || *rec.PendingChallengeCode != attempt.ChallengeCode {
		return nil, ErrNoPendingAttempt
	}

	ident, err := v.resolveName(ctx, attempt.ExternalName)
	if err != nil {
		return nil, err
	}

	fallback := false
	text, err := v.fetchProfileText(ctx, ident.ID)
	switch {
	case err == nil:
		if !codeMatches(text, attempt.ChallengeCode) {
			return nil, ErrCodeNotFound
		}
	case errors.Is(err, ErrLookupUnavailable):
		// Alternative verification: the profile service stayed down, the
		// account name itself resolved, accept rather than strand the user.
		log.Warn().
			Str("subject_id", subjectID).
			Str("external_name", ident.Name).
			Msg("profile unreachable, accepting via alternative verification")
		fallback = true
	default:
		return nil, err
	}

	now := v.now()
	extID := strconv.FormatInt(ident.ID, 10)
	extName := ident.Name
	rec.IsVerified = true
	rec.ExternalID = &extID
	rec.ExternalName = &extName
	rec.VerifiedAt = &now
	rec.PendingChallengeCode = nil
	if err := v.Store.UpsertIdentity(ctx, rec); err != nil {
		return nil, storageErr(err)
	}
	if err := v.Store.UpdateAttempt(ctx, attempt.ID, domain.AttemptUpdate{
		IsVerified: true,
		VerifiedAt: now,
	}); err != nil {
		return nil, storageErr(err)
	}

	v.Broadcast.Publish(domain.Event{
		Kind:      domain.EventVerify,
		SubjectID: subjectID,
		ScopeID:   rec.ScopeID,
		Payload: domain.VerifyPayload{
			ExternalID:   extID,
			ExternalName: extName,
			Fallback:     fallback,
		},
	})

	return &CheckResult{Identity: *ident, Fallback: fallback, VerifiedAt: now}, nil
}

// Cancel withdraws the pending challenge. Attempt rows are append-only
// history and are left in place; only the checkable pending code on the
// identity record is cleared. Cancelling with nothing pending is a no-op.
func (v *VerificationService) Cancel(ctx context.Context, subjectID string) error {
	rec, err := v.Store.GetIdentity(ctx, subjectID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return storageErr(err)
	}
	if rec.PendingChallengeCode == nil {
		return nil
	}
	rec.PendingChallengeCode = nil
	if err := v.Store.UpsertIdentity(ctx, rec); err != nil {
		return storageErr(err)
	}
	return nil
}

// Reset clears a verified binding so the subject can verify a different
// account. Requires an existing verified identity; otherwise ErrNotVerified.
func (v *VerificationService) Reset(ctx context.Context, subjectID string) error {
	rec, err := v.Store.GetIdentity(ctx, subjectID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrNotVerified
		}
		return storageErr(err)
	}
	if !rec.IsVerified {
		return ErrNotVerified
	}

	rec.IsVerified = false
	rec.ExternalID = nil
	rec.ExternalName = nil
	rec.VerifiedAt = nil
	rec.PendingChallengeCode = nil
	if err := v.Store.UpsertIdentity(ctx, rec); err != nil {
		return storageErr(err)
	}
	return nil
}

// Identity returns the subject's identity record, verified or not.
// ErrNotVerified when the subject has never interacted with verification.
func (v *VerificationService) Identity(ctx context.Context, subjectID string) (*domain.IdentityRecord, error) {
	rec, err := v.Store.GetIdentity(ctx, subjectID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNotVerified
		}
		return nil, storageErr(err)
	}
	return rec, nil
}

// resolveName maps the claimed account name to an external identity, retrying
// transient and rate-limit failures on the configured budget. A definitive
// "no such account" answer is not retried.
func (v *VerificationService) resolveName(ctx context.Context, name string) (*roblox.Identity, error) {
	var ident *roblox.Identity
	err := v.withRetry(ctx, "resolve", func(ctx context.Context) error {
		got, err := v.Lookup.FindByName(ctx, name)
		if err != nil {
			return err
		}
		ident = got
		return nil
	})
	switch {
	case err == nil:
		return ident, nil
	case errors.Is(err, roblox.ErrNotFound):
		return nil, ErrExternalIdentityNotFound
	default:
		return nil, ErrLookupUnavailable
	}
}

// fetchProfileText reads the account's profile description on the same retry
// budget. Exhaustion maps to ErrLookupUnavailable, which Check translates
// into the alternative acceptance path.
func (v *VerificationService) fetchProfileText(ctx context.Context, id int64) (string, error) {
	var text string
	err := v.withRetry(ctx, "profile", func(ctx context.Context) error {
		got, err := v.Lookup.FetchProfileText(ctx, id)
		if err != nil {
			return err
		}
		text = got
		return nil
	})
	switch {
	case err == nil:
		return text, nil
	case errors.Is(err, roblox.ErrNotFound):
		return "", ErrExternalIdentityNotFound
	default:
		return "", ErrLookupUnavailable
	}
}

// withRetry runs op up to the attempt budget, sleeping backoffBase×n between
// tries. Only transient and rate-limit failures are retried; anything else
// is definitive and returned as is. The sleep honors context cancellation.
func (v *VerificationService) withRetry(ctx context.Context, stage string, op func(ctx context.Context) error) error {
	attempts := v.Attempts
	if attempts <= 0 {
		attempts = defaultLookupAttempts
	}
	base := v.BackoffBase
	if base <= 0 {
		base = defaultBackoffBase
	}

	var last error
	for i := 1; i <= attempts; i++ {
		if i > 1 {
			if v.OnProgress != nil {
				v.OnProgress(stage, i-1)
			}
			wait := time.Duration(i-1) * base
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, roblox.ErrTransient) && !errors.Is(err, roblox.ErrRateLimited) {
			return err
		}
		last = err
		if i < attempts {
			log.Debug().Err(err).Str("stage", stage).Int("attempt", i).Msg("profile lookup failed, will retry")
		}
	}
	return last
}

// now returns the injected clock, defaulting to time.Now.
func (v *VerificationService) now() time.Time {
	if v.Now != nil {
		return v.Now().UTC()
	}
	return time.Now().UTC()
}
