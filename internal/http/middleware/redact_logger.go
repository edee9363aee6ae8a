// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// RedactingLogger is the access logger. It never logs bodies, and it scrubs
// the query string and header values before they reach the log: chat
// platform tokens, wallet addresses, e-mail addresses and phone numbers are
// replaced by markers. It also attaches a request-scoped zerolog.Logger
// carrying request_id, actor_id and workspace_id for handlers to enrich.
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RedactOptions lists extra headers whose values are fully masked, on top of
// Authorization, Cookie and Set-Cookie.
type RedactOptions struct {
	MaskHeaders []string
}

var (
	// Slack bot, user and app-level tokens.
	tokenRE = regexp.MustCompile(`\bx(?:ox[abpors]|app)-[A-Za-z0-9-]{8,}\b`)
	// EVM wallet addresses, as registered by users.
	walletRE = regexp.MustCompile(`\b0x[a-fA-F0-9]{40}\b`)
	emailRE  = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Bounty ids are UUIDs and stay readable, so they are cut out before the
	// phone pattern can match their digit groups.
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// redact scrubs s. UUIDs are preserved.
func redact(s string) string {
	if s == "" {
		return s
	}
	s = tokenRE.ReplaceAllString(s, "[REDACTED:token]")
	s = walletRE.ReplaceAllString(s, "[REDACTED:wallet]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")

	ids := uuidRE.FindAllStringIndex(s, -1)
	if len(ids) == 0 {
		return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
	}
	var b strings.Builder
	prev := 0
	for _, loc := range ids {
		b.WriteString(phoneRE.ReplaceAllString(s[prev:loc[0]], "[REDACTED:phone]"))
		b.WriteString(s[loc[0]:loc[1]])
		prev = loc[1]
	}
	b.WriteString(phoneRE.ReplaceAllString(s[prev:], "[REDACTED:phone]"))
	return b.String()
}

// RedactingLogger returns the access-log middleware. Level is info, warn for
// 4xx and error for 5xx or when handlers recorded errors on the context.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	mask := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			mask[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		lg := log.With().
			Str("request_id", RequestIDFrom(c)).
			Str("actor_id", ActorID(c)).
			Str("workspace_id", WorkspaceID(c)).
			Str("method", c.Request.Method).
			Str("path", path).
			Logger()
		c.Set(loggerKey, &lg)

		headers := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := mask[strings.ToLower(k)]; ok {
				headers[k] = "[REDACTED]"
				continue
			}
			headers[k] = redact(strings.Join(vv, ", "))
		}
		query := redact(c.Request.URL.RawQuery)

		c.Next()

		status := c.Writer.Status()
		ev := lg.Info()
		switch {
		case status >= 500 || len(c.Errors) > 0:
			ev = lg.Error()
			if len(c.Errors) > 0 {
				ev = ev.Str("errors", c.Errors.String())
			}
		case status >= 400:
			ev = lg.Warn()
		}
		ev.Str("query", query).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", headers).
			Msg("http_request")
	}
}
