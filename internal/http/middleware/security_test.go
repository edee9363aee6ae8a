package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestSecurityHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name      string
		opt       SecurityOptions
		https     bool
		forwarded bool
		wantHSTS  string
		wantStore string
	}{
		{name: "baseline"},
		{name: "hsts ignored on http", opt: SecurityOptions{EnableHSTS: true}},
		{name: "hsts default max age", opt: SecurityOptions{EnableHSTS: true}, https: true,
			wantHSTS: "max-age=15552000; includeSubDomains; preload"},
		{name: "hsts behind proxy", opt: SecurityOptions{EnableHSTS: true, HSTSMaxAge: time.Hour}, forwarded: true,
			wantHSTS: "max-age=3600; includeSubDomains; preload"},
		{name: "no store", opt: SecurityOptions{NoStore: true}, wantStore: "no-store"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.Use(RequestID(), SecurityHeaders(tc.opt))
			r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.https {
				req.TLS = &tls.ConnectionState{}
			}
			if tc.forwarded {
				req.Header.Set("X-Forwarded-Proto", "HTTPS")
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			h := w.Header()
			if h.Get("X-Content-Type-Options") != "nosniff" || h.Get("X-Frame-Options") != "DENY" {
				t.Fatalf("baseline headers missing: %v", h)
			}
			if got := h.Get("Strict-Transport-Security"); got != tc.wantHSTS {
				t.Fatalf("HSTS = %q, want %q", got, tc.wantHSTS)
			}
			if got := h.Get("Cache-Control"); got != tc.wantStore {
				t.Fatalf("Cache-Control = %q, want %q", got, tc.wantStore)
			}
			if got := h.Get("Access-Control-Expose-Headers"); got != "X-Request-ID, Idempotency-Replayed" {
				t.Fatalf("expose headers = %q", got)
			}
		})
	}
}

func TestExposeHeader_NoDuplicates(t *testing.T) {
	h := http.Header{}
	exposeHeader(h, "X-Request-ID")
	exposeHeader(h, "X-Request-ID")
	exposeHeader(h, "ETag")
	if got := h.Get("Access-Control-Expose-Headers"); got != "X-Request-ID, ETag" {
		t.Fatalf("got %q", got)
	}
}
