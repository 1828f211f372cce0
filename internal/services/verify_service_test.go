package services

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/crowvale/dutywatch/internal/domain"
	"github.com/crowvale/dutywatch/internal/repo"
	"github.com/crowvale/dutywatch/internal/roblox"
)

// fakeLookup scripts the external profile service per method and counts
// invocations so retry budgets can be asserted exactly.
type fakeLookup struct {
	mu sync.Mutex

	findFn   func(call int, name string) (*roblox.Identity, error)
	textFn   func(call int, id int64) (string, error)
	avatarFn func(call int, id int64) (string, error)

	findCalls   int
	textCalls   int
	avatarCalls int
}

func (f *fakeLookup) FindByName(_ context.Context, name string) (*roblox.Identity, error) {
	f.mu.Lock()
	f.findCalls++
	n := f.findCalls
	f.mu.Unlock()
	if f.findFn == nil {
		return &roblox.Identity{ID: 777, Name: name}, nil
	}
	return f.findFn(n, name)
}

func (f *fakeLookup) FetchProfileText(_ context.Context, id int64) (string, error) {
	f.mu.Lock()
	f.textCalls++
	n := f.textCalls
	f.mu.Unlock()
	if f.textFn == nil {
		return "", nil
	}
	return f.textFn(n, id)
}

func (f *fakeLookup) FetchAvatar(_ context.Context, id int64) (string, error) {
	f.mu.Lock()
	f.avatarCalls++
	n := f.avatarCalls
	f.mu.Unlock()
	if f.avatarFn == nil {
		return "https://img.example/headshot.png", nil
	}
	return f.avatarFn(n, id)
}

func newVerifyFixture(t *testing.T, lookup *fakeLookup) (*VerificationService, Store, *capturePublisher) {
	t.Helper()
	store := repo.NewMemoryStore()
	pub := &capturePublisher{}
	svc := NewVerificationService(store, lookup, pub)
	svc.BackoffBase = time.Millisecond
	return svc, store, pub
}

func TestVerificationService_RequestIssuesCodeAndAttempt(t *testing.T) {
	lookup := &fakeLookup{}
	svc, store, _ := newVerifyFixture(t, lookup)
	ctx := context.Background()

	res, err := svc.Request(ctx, "u1", "Alice", "g1", "CoolPlayer")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if !strings.HasPrefix(res.Code, "VERIFY") {
		t.Fatalf("code %q missing prefix", res.Code)
	}
	if res.Identity.ID != 777 || res.Identity.Name != "CoolPlayer" {
		t.Fatalf("identity = %+v", res.Identity)
	}
	if res.AvatarURL == "" {
		t.Fatal("avatar URL not propagated")
	}

	rec, err := store.GetIdentity(ctx, "u1")
	if err != nil {
		t.Fatalf("GetIdentity: %v", err)
	}
	if rec.IsVerified {
		t.Fatal("identity marked verified before check")
	}
	if rec.PendingChallengeCode == nil || *rec.PendingChallengeCode != res.Code {
		t.Fatalf("pending code = %v, want %q", rec.PendingChallengeCode, res.Code)
	}

	attempt, err := store.GetLatestAttempt(ctx, "u1")
	if err != nil {
		t.Fatalf("GetLatestAttempt: %v", err)
	}
	if attempt.ChallengeCode != res.Code || attempt.ExternalName != "CoolPlayer" || attempt.IsVerified {
		t.Fatalf("attempt = %+v", attempt)
	}
}

func TestVerificationService_RequestAvatarFailureIsNonFatal(t *testing.T) {
	lookup := &fakeLookup{
		avatarFn: func(int, int64) (string, error) { return "", roblox.ErrTransient },
	}
	svc, _, _ := newVerifyFixture(t, lookup)

	res, err := svc.Request(context.Background(), "u1", "Alice", "g1", "CoolPlayer")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if res.AvatarURL != "" {
		t.Fatalf("avatar URL = %q, want empty on fetch failure", res.AvatarURL)
	}
}

func TestVerificationService_RequestRejectsVerifiedIdentity(t *testing.T) {
	lookup := &fakeLookup{}
	svc, store, _ := newVerifyFixture(t, lookup)
	ctx := context.Background()

	extID, extName := "777", "CoolPlayer"
	now := time.Now().UTC()
	if err := store.UpsertIdentity(ctx, &domain.IdentityRecord{
		SubjectID: "u1", DisplayName: "Alice", ScopeID: "g1",
		IsVerified: true, ExternalID: &extID, ExternalName: &extName, VerifiedAt: &now,
	}); err != nil {
		t.Fatalf("seed identity: %v", err)
	}

	if _, err := svc.Request(ctx, "u1", "Alice", "g1", "OtherPlayer"); !errors.Is(err, ErrAlreadyVerified) {
		t.Fatalf("err = %v, want ErrAlreadyVerified", err)
	}
	if lookup.findCalls != 0 {
		t.Fatalf("lookup called %d times for a rejected request", lookup.findCalls)
	}
}

func TestVerificationService_ResolveRetriesTransientThenSucceeds(t *testing.T) {
	lookup := &fakeLookup{
		findFn: func(call int, name string) (*roblox.Identity, error) {
			if call < 3 {
				return nil, roblox.ErrTransient
			}
			return &roblox.Identity{ID: 42, Name: name}, nil
		},
	}
	svc, _, _ := newVerifyFixture(t, lookup)

	var retries []int
	svc.OnProgress = func(stage string, retry int) {
		if stage == "resolve" {
			retries = append(retries, retry)
		}
	}

	res, err := svc.Request(context.Background(), "u1", "Alice", "g1", "CoolPlayer")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if res.Identity.ID != 42 {
		t.Fatalf("identity = %+v", res.Identity)
	}
	if lookup.findCalls != 3 {
		t.Fatalf("find calls = %d, want 3", lookup.findCalls)
	}
	if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
		t.Fatalf("progress retries = %v, want [1 2]", retries)
	}
}

func TestVerificationService_ResolveBudgetIsExactlyThree(t *testing.T) {
	lookup := &fakeLookup{
		findFn: func(int, string) (*roblox.Identity, error) { return nil, roblox.ErrRateLimited },
	}
	svc, _, _ := newVerifyFixture(t, lookup)

	_, err := svc.Request(context.Background(), "u1", "Alice", "g1", "CoolPlayer")
	if !errors.Is(err, ErrLookupUnavailable) {
		t.Fatalf("err = %v, want ErrLookupUnavailable", err)
	}
	if lookup.findCalls != 3 {
		t.Fatalf("find calls = %d, want exactly 3", lookup.findCalls)
	}
}

func TestVerificationService_RetryLogOnlyWhenRetryFollows(t *testing.T) {
	var buf bytes.Buffer
	orig := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = orig })

	lookup := &fakeLookup{
		findFn: func(int, string) (*roblox.Identity, error) { return nil, roblox.ErrTransient },
	}
	svc, _, _ := newVerifyFixture(t, lookup)

	if _, err := svc.Request(context.Background(), "u1", "Alice", "g1", "CoolPlayer"); !errors.Is(err, ErrLookupUnavailable) {
		t.Fatalf("err = %v, want ErrLookupUnavailable", err)
	}

	// Three attempts mean two retries; the final failure must not announce one.
	if got := strings.Count(buf.String(), "will retry"); got != 2 {
		t.Fatalf("retry log emitted %d times, want 2:\n%s", got, buf.String())
	}
}

func TestVerificationService_UnknownNameIsNotRetried(t *testing.T) {
	lookup := &fakeLookup{
		findFn: func(int, string) (*roblox.Identity, error) { return nil, roblox.ErrNotFound },
	}
	svc, _, _ := newVerifyFixture(t, lookup)

	_, err := svc.Request(context.Background(), "u1", "Alice", "g1", "NoSuchPlayer")
	if !errors.Is(err, ErrExternalIdentityNotFound) {
		t.Fatalf("err = %v, want ErrExternalIdentityNotFound", err)
	}
	if lookup.findCalls != 1 {
		t.Fatalf("find calls = %d, want 1 (definitive answer)", lookup.findCalls)
	}
}

func TestVerificationService_CheckVerifiesOnCodeMatch(t *testing.T) {
	var issued string
	lookup := &fakeLookup{
		textFn: func(_ int, _ int64) (string, error) {
			return "About me: " + issued + " - thanks!", nil
		},
	}
	svc, store, pub := newVerifyFixture(t, lookup)
	ctx := context.Background()

	req, err := svc.Request(ctx, "u1", "Alice", "g1", "CoolPlayer")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	issued = req.Code

	res, err := svc.Check(ctx, "u1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Fallback {
		t.Fatal("fallback flagged on a genuine code match")
	}
	if res.Identity.ID != 777 {
		t.Fatalf("identity = %+v", res.Identity)
	}

	rec, err := store.GetIdentity(ctx, "u1")
	if err != nil {
		t.Fatalf("GetIdentity: %v", err)
	}
	if !rec.IsVerified || rec.ExternalID == nil || *rec.ExternalID != "777" {
		t.Fatalf("binding not stored: %+v", rec)
	}
	if rec.PendingChallengeCode != nil {
		t.Fatal("pending code not cleared after success")
	}
	if rec.VerifiedAt == nil {
		t.Fatal("verified_at not set")
	}

	attempt, err := store.GetLatestAttempt(ctx, "u1")
	if err != nil {
		t.Fatalf("GetLatestAttempt: %v", err)
	}
	if !attempt.IsVerified || attempt.VerifiedAt == nil {
		t.Fatalf("attempt not flipped: %+v", attempt)
	}

	var verifyEvents int
	for _, ev := range pub.events {
		if ev.Kind == domain.EventVerify {
			verifyEvents++
			payload, ok := ev.Payload.(domain.VerifyPayload)
			if !ok {
				t.Fatalf("payload type %T", ev.Payload)
			}
			if payload.ExternalID != "777" || payload.Fallback {
				t.Fatalf("payload = %+v", payload)
			}
		}
	}
	if verifyEvents != 1 {
		t.Fatalf("verify events = %d, want 1", verifyEvents)
	}
}

func TestVerificationService_CheckCodeAbsentLeavesStateIntact(t *testing.T) {
	lookup := &fakeLookup{
		textFn: func(int, int64) (string, error) { return "no code here", nil },
	}
	svc, store, _ := newVerifyFixture(t, lookup)
	ctx := context.Background()

	req, err := svc.Request(ctx, "u1", "Alice", "g1", "CoolPlayer")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	if _, err := svc.Check(ctx, "u1"); !errors.Is(err, ErrCodeNotFound) {
		t.Fatalf("err = %v, want ErrCodeNotFound", err)
	}

	rec, err := store.GetIdentity(ctx, "u1")
	if err != nil {
		t.Fatalf("GetIdentity: %v", err)
	}
	if rec.IsVerified {
		t.Fatal("identity verified despite missing code")
	}
	if rec.PendingChallengeCode == nil || *rec.PendingChallengeCode != req.Code {
		t.Fatal("pending code lost; retrying the check must remain possible")
	}
}

func TestVerificationService_CheckFallsBackWhenProfileUnreachable(t *testing.T) {
	lookup := &fakeLookup{
		textFn: func(int, int64) (string, error) { return "", roblox.ErrTransient },
	}
	svc, store, _ := newVerifyFixture(t, lookup)
	ctx := context.Background()

	if _, err := svc.Request(ctx, "u1", "Alice", "g1", "CoolPlayer"); err != nil {
		t.Fatalf("Request: %v", err)
	}

	res, err := svc.Check(ctx, "u1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !res.Fallback {
		t.Fatal("fallback not flagged")
	}
	if lookup.textCalls != 3 {
		t.Fatalf("text calls = %d, want full budget before fallback", lookup.textCalls)
	}

	rec, err := store.GetIdentity(ctx, "u1")
	if err != nil {
		t.Fatalf("GetIdentity: %v", err)
	}
	if !rec.IsVerified {
		t.Fatal("fallback acceptance did not store the binding")
	}
}

func TestVerificationService_CheckWithoutRequest(t *testing.T) {
	svc, _, _ := newVerifyFixture(t, &fakeLookup{})
	if _, err := svc.Check(context.Background(), "u1"); !errors.Is(err, ErrNoPendingAttempt) {
		t.Fatalf("err = %v, want ErrNoPendingAttempt", err)
	}
}

func TestVerificationService_CancelWithdrawsPendingCode(t *testing.T) {
	lookup := &fakeLookup{}
	svc, store, _ := newVerifyFixture(t, lookup)
	ctx := context.Background()

	if _, err := svc.Request(ctx, "u1", "Alice", "g1", "CoolPlayer"); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if err := svc.Cancel(ctx, "u1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	// Cancelling again is a no-op.
	if err := svc.Cancel(ctx, "u1"); err != nil {
		t.Fatalf("second Cancel: %v", err)
	}

	if _, err := svc.Check(ctx, "u1"); !errors.Is(err, ErrNoPendingAttempt) {
		t.Fatalf("Check after cancel: err = %v, want ErrNoPendingAttempt", err)
	}

	rec, err := store.GetIdentity(ctx, "u1")
	if err != nil {
		t.Fatalf("GetIdentity: %v", err)
	}
	if rec.PendingChallengeCode != nil {
		t.Fatal("pending code survived cancel")
	}
}

func TestVerificationService_NewRequestSupersedesOldCode(t *testing.T) {
	var current string
	lookup := &fakeLookup{
		textFn: func(_ int, _ int64) (string, error) { return current, nil },
	}
	svc, _, _ := newVerifyFixture(t, lookup)
	clk := newTestClock()
	svc.Now = clk.now
	ctx := context.Background()

	first, err := svc.Request(ctx, "u1", "Alice", "g1", "CoolPlayer")
	if err != nil {
		t.Fatalf("first Request: %v", err)
	}
	clk.advance(time.Second)
	if _, err := svc.Request(ctx, "u1", "Alice", "g1", "CoolPlayer"); err != nil {
		t.Fatalf("second Request: %v", err)
	}

	// The profile contains only the first (superseded) code.
	current = "my code: " + first.Code
	if _, err := svc.Check(ctx, "u1"); !errors.Is(err, ErrCodeNotFound) {
		t.Fatalf("err = %v, want ErrCodeNotFound for a superseded code", err)
	}
}

func TestVerificationService_ResetClearsBinding(t *testing.T) {
	var issued string
	lookup := &fakeLookup{
		textFn: func(_ int, _ int64) (string, error) { return issued, nil },
	}
	svc, store, _ := newVerifyFixture(t, lookup)
	ctx := context.Background()

	if err := svc.Reset(ctx, "u1"); !errors.Is(err, ErrNotVerified) {
		t.Fatalf("Reset before verify: err = %v, want ErrNotVerified", err)
	}

	req, err := svc.Request(ctx, "u1", "Alice", "g1", "CoolPlayer")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	issued = req.Code
	if _, err := svc.Check(ctx, "u1"); err != nil {
		t.Fatalf("Check: %v", err)
	}

	if err := svc.Reset(ctx, "u1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	rec, err := store.GetIdentity(ctx, "u1")
	if err != nil {
		t.Fatalf("GetIdentity: %v", err)
	}
	if rec.IsVerified || rec.ExternalID != nil || rec.ExternalName != nil || rec.VerifiedAt != nil {
		t.Fatalf("binding not cleared: %+v", rec)
	}

	// A fresh request is allowed again after reset.
	if _, err := svc.Request(ctx, "u1", "Alice", "g1", "OtherPlayer"); err != nil {
		t.Fatalf("Request after reset: %v", err)
	}
}
