package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-bounty-bot/internal/repo"
	"github.com/tbourn/go-bounty-bot/internal/services"
)

func Test_fail_500_LogsAndBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// capture logs from LoggerFrom(c)
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-500")
		c.Set("logger", &logger)
		c.Next()
	})

	r.GET("/boom", func(c *gin.Context) {
		fail(c, http.StatusInternalServerError, "internal_error", "kaboom")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.RequestID != "rid-500" || resp.Code != "internal_error" || resp.Message != "kaboom" {
		t.Fatalf("unexpected body: %+v", resp)
	}
	if !strings.Contains(buf.String(), `"level":"error"`) {
		t.Fatalf("expected error log, got: %s", buf.String())
	}
}

func Test_Fail_404_And_ok(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-404")
		c.Next()
	})
	r.GET("/missing", func(c *gin.Context) {
		Fail(c, http.StatusNotFound, "not_found", "nope")
	})
	r.GET("/ok", func(c *gin.Context) {
		ok(c, http.StatusCreated, gin.H{"ok": true, "n": 1})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
	var er ErrorResponse
	_ = json.Unmarshal(w.Body.Bytes(), &er)
	if er.RequestID != "rid-404" || er.Code != "not_found" || er.Message != "nope" {
		t.Fatalf("unexpected body: %+v", er)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if w.Code != http.StatusCreated || !strings.Contains(w.Body.String(), `"ok":true`) {
		t.Fatalf("ok helper: status=%d body=%s", w.Code, w.Body.String())
	}
}

func Test_failErr_Mapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		err    error
		status int
		code   string
		msg    string
	}{
		{&services.ValidationError{Message: "Reward must be positive."}, http.StatusUnprocessableEntity, ErrCodeValidationFailed, "Reward must be positive."},
		{fmt.Errorf("publish: %w", &services.AuthorizationError{Message: "Only the creator can publish."}), http.StatusForbidden, ErrCodeForbidden, "Only the creator can publish."},
		{services.ErrBountyNotFound, http.StatusNotFound, ErrCodeNotFound, "Sorry, that bounty could not be found."},
		{repo.ErrNotFound, http.StatusNotFound, ErrCodeNotFound, "Sorry, that bounty could not be found."},
		{repo.ErrConflict, http.StatusConflict, ErrCodeConflict, services.ErrConflict.Error()},
		{services.ErrConflict, http.StatusConflict, ErrCodeConflict, services.ErrConflict.Error()},
		{&services.TimeoutError{}, http.StatusRequestTimeout, ErrCodeTimeout, "You took too long to respond. Please try again."},
		{services.ErrCancelled, http.StatusConflict, ErrCodeCancelled, "Cancelled. Nothing was changed."},
		{services.ErrUnknownActivity, http.StatusBadRequest, ErrCodeUnknownActivity, "Sorry, I don't know that activity."},
		{&services.NotificationPermissionError{UserID: "U1", Err: errors.New("dm closed")}, http.StatusFailedDependency, ErrCodeNotificationFailed, "The change was saved but the user could not be notified."},
		{errors.New("driver: bad connection"), http.StatusInternalServerError, ErrCodeInternal, "Sorry, something went wrong. Please try again later."},
	}
	for _, tc := range cases {
		t.Run(tc.code+"/"+tc.err.Error(), func(t *testing.T) {
			r := gin.New()
			r.GET("/x", func(c *gin.Context) { failErr(c, tc.err) })
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d", w.Code, tc.status)
			}
			var er ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
				t.Fatalf("json: %v", err)
			}
			if er.Code != tc.code || er.Message != tc.msg {
				t.Fatalf("got %+v, want code=%s msg=%q", er, tc.code, tc.msg)
			}
		})
	}
}
