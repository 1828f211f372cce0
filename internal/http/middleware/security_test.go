package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestSecurityHeaders_Baseline(t *testing.T) {
	r := newTestRouter()
	r.Use(SecurityHeaders(SecurityOptions{}))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	for hdr, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
	} {
		if got := w.Header().Get(hdr); got != want {
			t.Fatalf("%s = %q, want %q", hdr, got, want)
		}
	}
	if got := w.Header().Get("Strict-Transport-Security"); got != "" {
		t.Fatalf("HSTS emitted without opt-in: %q", got)
	}
}

func TestSecurityHeaders_HSTSOnlyOverHTTPS(t *testing.T) {
	r := newTestRouter()
	r.Use(SecurityHeaders(SecurityOptions{EnableHSTS: true, HSTSMaxAge: time.Hour}))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	// Plain HTTP: no HSTS.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if got := w.Header().Get("Strict-Transport-Security"); got != "" {
		t.Fatalf("HSTS on plain HTTP: %q", got)
	}

	// Proxied HTTPS: HSTS present.
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Strict-Transport-Security"); got != "max-age=3600; includeSubDomains; preload" {
		t.Fatalf("HSTS = %q", got)
	}
}

func TestSecurityHeaders_NoStore(t *testing.T) {
	r := newTestRouter()
	r.Use(SecurityHeaders(SecurityOptions{NoStore: true}))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("Cache-Control = %q", got)
	}
}

func TestSecurityHeaders_ExposesRequestID(t *testing.T) {
	r := newTestRouter()
	r.Use(RequestID(), SecurityHeaders(SecurityOptions{}))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if got := w.Header().Get("Access-Control-Expose-Headers"); got != "X-Request-ID" {
		t.Fatalf("expose headers = %q", got)
	}
}
