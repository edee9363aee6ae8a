// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the response helpers shared by all endpoints: the error
// envelope, fail/Fail for explicit errors, failErr for errors coming back
// from the bounty services, and ok for success bodies.
//
// Example error response:
//
//	HTTP/1.1 409 Conflict
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "conflict",
//	  "message": "bounty was modified concurrently, please try again"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-bounty-bot/internal/http/middleware"
	"github.com/tbourn/go-bounty-bot/internal/repo"
	"github.com/tbourn/go-bounty-bot/internal/services"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"Sorry, that bounty could not be found."`
}

// fail aborts the request with a structured error. Server errors (>=500)
// are logged with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	}
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail for the router's fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failErr maps an error from the bounty services or the store to a status
// and code. The message is what a chat user would have been told; internal
// detail only reaches the log.
func failErr(c *gin.Context, err error) {
	var (
		ve *services.ValidationError
		ae *services.AuthorizationError
		te *services.TimeoutError
		ne *services.NotificationPermissionError
	)
	msg := services.UserMessage(err)
	switch {
	case errors.As(err, &ve):
		fail(c, http.StatusUnprocessableEntity, ErrCodeValidationFailed, msg)
	case errors.As(err, &ae):
		fail(c, http.StatusForbidden, ErrCodeForbidden, msg)
	case errors.Is(err, services.ErrBountyNotFound), errors.Is(err, repo.ErrNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, services.UserMessage(services.ErrBountyNotFound))
	case errors.Is(err, services.ErrConflict), errors.Is(err, repo.ErrConflict):
		fail(c, http.StatusConflict, ErrCodeConflict, services.ErrConflict.Error())
	case errors.As(err, &te):
		fail(c, http.StatusRequestTimeout, ErrCodeTimeout, msg)
	case errors.Is(err, services.ErrCancelled):
		fail(c, http.StatusConflict, ErrCodeCancelled, msg)
	case errors.Is(err, services.ErrUnknownActivity):
		fail(c, http.StatusBadRequest, ErrCodeUnknownActivity, msg)
	case errors.As(err, &ne):
		// The transition committed; only the notification was lost.
		fail(c, http.StatusFailedDependency, ErrCodeNotificationFailed, "The change was saved but the user could not be notified.")
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, msg)
	}
}

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
