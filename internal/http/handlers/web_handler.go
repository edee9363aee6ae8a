package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-bounty-bot/internal/domain"
	"github.com/tbourn/go-bounty-bot/internal/http/middleware"
	"github.com/tbourn/go-bounty-bot/internal/repo"
)

// webActivities are the intents the board may record on an existing bounty.
var webActivities = map[domain.Activity]bool{
	domain.ActivityPublish:  true,
	domain.ActivityApply:    true,
	domain.ActivityAssign:   true,
	domain.ActivityClaim:    true,
	domain.ActivitySubmit:   true,
	domain.ActivityComplete: true,
	domain.ActivityPaid:     true,
	domain.ActivityDelete:   true,
	domain.ActivityTag:      true,
	domain.ActivityHelp:     true,
	domain.ActivityRefresh:  true,
}

// WebActivityRequest is the JSON payload of POST /web/bounties/{id}/activities.
type WebActivityRequest struct {
	Activity string `json:"activity" binding:"required" example:"claim"`
	// Revision, when set, must equal the stored revision.
	Revision *int64            `json:"revision,omitempty" example:"3"`
	Params   map[string]string `json:"params"`
}

// WebActivityResponse acknowledges a recorded intent.
type WebActivityResponse struct {
	BountyID string `json:"bounty_id"`
	Revision int64  `json:"revision"`
}

// PostWebActivity godoc
// @ID          postWebActivity
// @Summary     Record a board intent on a bounty
// @Description Appends an activity entry written by the web board. The bot picks it up from the change feed, applies it and re-renders the card, so the response only acknowledges the write.
// @Tags        Web
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Platform user id of the actor"  example(U0123)
// @Param       id         path    string  true  "Bounty ID (UUID)"  format(uuid)
// @Param       body       body    handlers.WebActivityRequest  true  "Intent"
//
// @Success     202  {object}  handlers.WebActivityResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing actor"
// @Failure     404  {object}  handlers.ErrorResponse  "Bounty not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Stale revision"
// @Router      /web/bounties/{id}/activities [post]
func (h *Handlers) PostWebActivity(c *gin.Context) {
	ctx := c.Request.Context()
	actor, okActor := requireActor(c)
	if !okActor {
		return
	}
	var req WebActivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body: activity is required")
		return
	}
	activity := domain.Activity(strings.ToLower(strings.TrimSpace(req.Activity)))
	if !webActivities[activity] {
		fail(c, http.StatusBadRequest, ErrCodeUnknownActivity, "activity not accepted from the board")
		return
	}

	b, err := repo.GetBounty(ctx, h.db, c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	if ws := middleware.WorkspaceID(c); ws != "" && ws != b.CustomerID {
		failErr(c, repo.ErrNotFound)
		return
	}
	if req.Revision != nil && *req.Revision != b.Revision {
		failErr(c, repo.ErrConflict)
		return
	}

	b.AppendActivity(activity, h.webWriterTag, actor, req.Params, h.now())
	if err := repo.UpdateBounty(ctx, h.db, b); err != nil {
		failErr(c, err)
		return
	}
	middleware.LoggerFrom(c).Info().
		Str("bounty_id", b.ID).
		Str("activity", string(activity)).
		Int64("revision", b.Revision).
		Msg("board intent recorded")
	ok(c, http.StatusAccepted, WebActivityResponse{BountyID: b.ID, Revision: b.Revision})
}
