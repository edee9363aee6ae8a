// Bounty HTTP handlers.
//
// Endpoints:
//   - POST   /activities                    (run an activity, idempotent)
//   - GET    /bounties/{id}                 (read one bounty)
//   - GET    /workspaces/{id}/bounties      (list, paginated, ETag support)
//   - GET    /workspaces/{id}               (workspace configuration)
//   - PUT    /workspaces/{id}               (upsert workspace configuration)
//   - POST   /web/bounties/{id}/activities  (web board write path)
//
// Handlers are transport-thin: they validate input, call the activity router
// or the store, and translate results into HTTP responses.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-bounty-bot/internal/http/middleware"
	"github.com/tbourn/go-bounty-bot/internal/services"
	"github.com/tbourn/go-bounty-bot/internal/utils"
)

// Dispatcher runs an activity for an origin. *services.ActivityRouter
// implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, o services.Origin) (*services.Result, error)
}

// Options configure Handlers.
type Options struct {
	// WebWriterTag is stamped on entries written through the web path.
	WebWriterTag   string
	IdempotencyTTL time.Duration
	Now            func() time.Time
}

// Handlers groups the HTTP endpoints of the bot.
type Handlers struct {
	router Dispatcher
	db     *gorm.DB

	webWriterTag string
	idemTTL      time.Duration
	now          func() time.Time
}

// New binds the handlers to the activity router and the record store.
func New(router Dispatcher, db *gorm.DB, opts Options) *Handlers {
	if opts.WebWriterTag == "" {
		opts.WebWriterTag = "bountyboardweb"
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handlers{
		router:       router,
		db:           db,
		webWriterTag: opts.WebWriterTag,
		idemTTL:      opts.IdempotencyTTL,
		now:          opts.Now,
	}
}

// requireActor returns the caller's user id or aborts with 401.
func requireActor(c *gin.Context) (string, bool) {
	uid := middleware.ActorID(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "X-User-ID header required")
		return "", false
	}
	return uid, true
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(p utils.Page, total int64) Pagination {
	totalPages := utils.TotalPages(total, p.Size)
	return Pagination{
		Page:       p.Number,
		PageSize:   p.Size,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    p.Number < totalPages,
	}
}

// pageFromQuery parses page and page_size (default 20, at most 100).
func pageFromQuery(c *gin.Context) utils.Page {
	return utils.ParsePage(c.Query("page"), c.Query("page_size"), 20, 100)
}
