package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRateLimiter_AllowsWithinBurstThenRejects(t *testing.T) {
	r := newTestRouter()
	// Effectively no replenishment within the test window; burst of 2.
	rl := NewRateLimiter(0.0001, 2, KeyBySubjectOrIP())
	r.Use(RequestID(), rl.Handler())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "203.0.113.7:1234"
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("first two codes = %v, want 200s within burst", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("third code = %d, want 429", codes[2])
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	r := newTestRouter()
	rl := NewRateLimiter(0.0001, 1, KeyBySubjectOrIP())
	r.Use(rl.Handler())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	send := func(addr string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = addr
		r.ServeHTTP(w, req)
		return w.Code
	}

	if code := send("203.0.113.7:1"); code != http.StatusOK {
		t.Fatalf("first ip first call = %d", code)
	}
	if code := send("203.0.113.7:1"); code != http.StatusTooManyRequests {
		t.Fatalf("first ip second call = %d, want 429", code)
	}
	// A different client keeps its own bucket.
	if code := send("198.51.100.9:1"); code != http.StatusOK {
		t.Fatalf("second ip call = %d, want 200", code)
	}
}

func TestRateLimiter_BurstCoercedToOne(t *testing.T) {
	rl := NewRateLimiter(1, 0, KeyBySubjectOrIP())
	if rl.burst != 1 {
		t.Fatalf("burst = %d, want 1", rl.burst)
	}
}
