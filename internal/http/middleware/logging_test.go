package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func TestRequestID_GeneratesWhenAbsent(t *testing.T) {
	r := newTestRouter()
	r.Use(RequestID())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatal("no X-Request-ID generated")
	}
}

func TestRequestID_PropagatesIncoming(t *testing.T) {
	r := newTestRouter()
	r.Use(RequestID())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "fixed-id-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if rid := w.Header().Get("X-Request-ID"); rid != "fixed-id-1" {
		t.Fatalf("request id = %q, want fixed-id-1", rid)
	}
}

func TestRecovery_ConvertsPanicToJSON500(t *testing.T) {
	r := newTestRouter()
	r.Use(RequestID(), Logger(), Recovery())
	r.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" && ct != "application/json; charset=utf-8" {
		t.Fatalf("content type = %q", ct)
	}
}

func TestLoggerFrom_FallbackWithoutMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if lg := LoggerFrom(c); lg == nil {
		t.Fatal("LoggerFrom returned nil")
	}
}
