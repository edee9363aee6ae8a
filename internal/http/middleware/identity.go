package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// Identity headers. The bot is fronted by a gateway that authenticates
// callers and forwards the platform user id and workspace id.
const (
	HeaderUserID      = "X-User-ID"
	HeaderWorkspaceID = "X-Workspace-ID"

	ctxKeyUserID      = "userID"
	ctxKeyWorkspaceID = "workspaceID"
)

// Identity copies the caller's user and workspace ids from the request
// headers into the Gin context. Missing headers leave the keys unset;
// handlers decide whether an anonymous call is acceptable.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if uid := strings.TrimSpace(c.GetHeader(HeaderUserID)); uid != "" {
			c.Set(ctxKeyUserID, uid)
		}
		if ws := strings.TrimSpace(c.GetHeader(HeaderWorkspaceID)); ws != "" {
			c.Set(ctxKeyWorkspaceID, ws)
		}
		c.Next()
	}
}

// ActorID returns the caller's user id, or "" when the request is anonymous.
func ActorID(c *gin.Context) string {
	return ctxString(c, ctxKeyUserID)
}

// WorkspaceID returns the workspace named by the X-Workspace-ID header.
func WorkspaceID(c *gin.Context) string {
	return ctxString(c, ctxKeyWorkspaceID)
}

func ctxString(c *gin.Context, key string) string {
	if v, ok := c.Get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
