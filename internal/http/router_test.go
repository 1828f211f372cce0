package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/crowvale/dutywatch/internal/config"
	"github.com/crowvale/dutywatch/internal/domain"
	"github.com/crowvale/dutywatch/internal/services"
)

// stubDuty returns a fixed session for every transition.
type stubDuty struct {
	sess domain.DutySession
}

func (s *stubDuty) Start(context.Context, string, string) (*domain.DutySession, error) {
	out := s.sess
	return &out, nil
}
func (s *stubDuty) Pause(context.Context, string, string) (*domain.DutySession, error) {
	out := s.sess
	return &out, nil
}
func (s *stubDuty) Resume(context.Context, string, string) (*domain.DutySession, error) {
	out := s.sess
	return &out, nil
}
func (s *stubDuty) End(context.Context, string, string) (*domain.DutySession, error) {
	out := s.sess
	return &out, nil
}
func (s *stubDuty) Status(context.Context, string, string) (*services.StatusView, error) {
	return &services.StatusView{Session: s.sess}, nil
}
func (s *stubDuty) ActiveSessions(context.Context, string) ([]services.StatusView, error) {
	return []services.StatusView{{Session: s.sess}}, nil
}
func (s *stubDuty) History(context.Context, string, string, int) ([]domain.DutySession, error) {
	return []domain.DutySession{s.sess}, nil
}

// stubVerify rejects everything with "not verified"; enough to prove wiring.
type stubVerify struct{}

func (stubVerify) Request(context.Context, string, string, string, string) (*services.RequestResult, error) {
	return nil, services.ErrLookupUnavailable
}
func (stubVerify) Check(context.Context, string) (*services.CheckResult, error) {
	return nil, services.ErrNoPendingAttempt
}
func (stubVerify) Cancel(context.Context, string) error { return nil }
func (stubVerify) Reset(context.Context, string) error  { return services.ErrNotVerified }
func (stubVerify) Identity(context.Context, string) (*domain.IdentityRecord, error) {
	return nil, services.ErrNotVerified
}

func newTestEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     1000,
		RateBurst:   1000,
	}
	cfg.OTEL.ServiceName = "dutywatch-test"

	r := gin.New()
	RegisterRoutes(r, Deps{
		Duty: &stubDuty{sess: domain.DutySession{
			ID: 1, SubjectID: "u1", ScopeID: "g1",
			Status:    domain.StatusOnDuty,
			StartTime: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		}},
		Verify: stubVerify{},
	}, cfg)
	return r
}

func do(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_Health(t *testing.T) {
	r := newTestEngine(t)

	w := do(t, r, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	r := newTestEngine(t)

	// Generate at least one observed request first.
	do(t, r, http.MethodGet, "/health", "")

	w := do(t, r, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "http_requests_total") {
		t.Fatal("metrics output missing http_requests_total")
	}
}

func TestRouter_NotFoundEnvelope(t *testing.T) {
	r := newTestEngine(t)

	w := do(t, r, http.MethodGet, "/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	var resp struct {
		RequestID string `json:"request_id"`
		Code      string `json:"code"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != "not_found" {
		t.Fatalf("code = %q", resp.Code)
	}
	if resp.RequestID == "" {
		t.Fatal("request_id missing from error envelope")
	}
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	r := newTestEngine(t)

	w := do(t, r, http.MethodDelete, "/health", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", w.Code)
	}
	if !strings.Contains(w.Body.String(), "method_not_allowed") {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestRouter_DutyRoutesWired(t *testing.T) {
	r := newTestEngine(t)

	for _, path := range []string{
		"/api/v1/duty/start",
		"/api/v1/duty/pause",
		"/api/v1/duty/resume",
		"/api/v1/duty/end",
	} {
		w := do(t, r, http.MethodPost, path, `{"subject_id":"u1","scope_id":"g1"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, body = %s", path, w.Code, w.Body.String())
		}
	}

	if w := do(t, r, http.MethodGet, "/api/v1/duty/status?subject_id=u1&scope_id=g1", ""); w.Code != http.StatusOK {
		t.Fatalf("status endpoint: %d", w.Code)
	}
	if w := do(t, r, http.MethodGet, "/api/v1/duty/active?scope_id=g1", ""); w.Code != http.StatusOK {
		t.Fatalf("active endpoint: %d", w.Code)
	}
	if w := do(t, r, http.MethodGet, "/api/v1/duty/history/u1?scope_id=g1", ""); w.Code != http.StatusOK {
		t.Fatalf("history endpoint: %d", w.Code)
	}
}

func TestRouter_VerificationRoutesWired(t *testing.T) {
	r := newTestEngine(t)

	if w := do(t, r, http.MethodPost, "/api/v1/verification/request",
		`{"subject_id":"u1","display_name":"Alice","scope_id":"g1","external_name":"CoolPlayer"}`); w.Code != http.StatusBadGateway {
		t.Fatalf("request: status = %d, want 502", w.Code)
	}
	if w := do(t, r, http.MethodPost, "/api/v1/verification/check", `{"subject_id":"u1"}`); w.Code != http.StatusNotFound {
		t.Fatalf("check: status = %d, want 404", w.Code)
	}
	if w := do(t, r, http.MethodPost, "/api/v1/verification/cancel", `{"subject_id":"u1"}`); w.Code != http.StatusNoContent {
		t.Fatalf("cancel: status = %d, want 204", w.Code)
	}
	if w := do(t, r, http.MethodPost, "/api/v1/verification/reset", `{"subject_id":"u1"}`); w.Code != http.StatusConflict {
		t.Fatalf("reset: status = %d, want 409", w.Code)
	}
	if w := do(t, r, http.MethodGet, "/api/v1/verification/u1", ""); w.Code != http.StatusNotFound {
		t.Fatalf("identity: status = %d, want 404", w.Code)
	}
}

func TestRouter_CORSHeaderDefault(t *testing.T) {
	r := newTestEngine(t)

	w := do(t, r, http.MethodGet, "/health", "")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q, want *", got)
	}
}
