// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements Idempotency-Key support for POST /activities. Activity
// requests are retried by web clients and by the gateway in front of the bot;
// a retried create must not open a second bounty. The middleware validates
// the key, stashes it for the handler and, when a stored outcome exists for
// (actor, workspace, key), marks the request as a replay so the rate limiter
// lets it through. Handlers serve the replayed bounty themselves.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header carrying the client's
// idempotency key. A client reuses the same value when it retries one
// logical activity (for example the same /bounty create submission).
const HeaderIdempotencyKey = "Idempotency-Key"

// Context keys used to stash idempotency state. They are read through
// GetIdempotencyKey, IsReplay and IsRateBypass.
const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay" // bool: a stored outcome exists
	ctxKeyRateBypass = "rate.bypass" // bool: skip the rate limiter
)

var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the key validated by IdempotencyValidator. The
// second return value is false when the request carried no key.
//
// Handlers read the key here rather than from the header so they only ever
// see validated values.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	s := ctxString(c, ctxKeyIdemKey)
	return s, s != ""
}

// IsReplay reports whether a stored outcome exists for this request's
// (actor, workspace, key). The activity handler then answers from the stored
// idempotency record instead of dispatching the activity again.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions configures key validation for IdempotencyValidator.
// Record expiry is not handled here; the lookup decides what "stored" means.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts the allowed characters. When nil the RFC 7230 token
	// style pattern ^[A-Za-z0-9._~\-:]+$ is used.
	Pattern *regexp.Regexp
}

// IdempotencyLookup reports whether an unexpired outcome is stored for
// (actorID, workspaceID, key) at time now. Errors are treated as "not
// stored", so a failing store degrades to normal processing.
type IdempotencyLookup func(ctx context.Context, actorID, workspaceID, key string, now time.Time) (bool, error)

// IdempotencyValidator validates the Idempotency-Key header.
//
// Behavior:
//   - No header: the request passes through untouched.
//   - Key longer than MaxLen or not matching Pattern: aborts with 400 and a
//     "bad_idempotency_key" error envelope carrying the request id.
//   - Valid key: stored for GetIdempotencyKey. When lookup is set and the
//     Identity middleware resolved both actor and workspace, a stored outcome
//     marks the request as a replay and lets it bypass the rate limiter.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultKeyPattern
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			actor, ws := ActorID(c), WorkspaceID(c)
			if actor != "" && ws != "" {
				if exists, err := lookup(c.Request.Context(), actor, ws, key, time.Now().UTC()); err == nil && exists {
					c.Set(ctxKeyIdemReplay, true)
					c.Set(ctxKeyRateBypass, true)
				}
			}
		}
		c.Next()
	}
}
