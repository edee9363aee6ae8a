package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-bounty-bot/internal/domain"
	"github.com/tbourn/go-bounty-bot/internal/http/middleware"
	"github.com/tbourn/go-bounty-bot/internal/repo"
	"github.com/tbourn/go-bounty-bot/internal/services"
)

// ActivityRequest is the JSON payload of POST /activities.
type ActivityRequest struct {
	// Activity to run, e.g. create, publish, claim, submit, complete, paid, delete, list.
	Activity string `json:"activity" binding:"required" example:"claim"`
	// WorkspaceID defaults to the X-Workspace-ID header.
	WorkspaceID string `json:"workspace_id" example:"T0123"`
	// BountyID is required by every activity except create, list and register-wallet.
	BountyID string `json:"bounty_id" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	// ChannelID is where list output should be posted.
	ChannelID string `json:"channel_id" example:"C0456"`
	// Handle is the caller's display handle, used on cards.
	Handle string `json:"handle" example:"bob"`
	// Params carries activity parameters (title, reward, claimLimit, ...).
	Params map[string]string `json:"params"`
}

// PostActivity godoc
// @ID          postActivity
// @Summary     Run a bounty activity
// @Description Runs an activity as the calling user, exactly as if it had been issued as a chat command.
// @Description Supports idempotency via the Idempotency-Key header (same key → same bounty).
// @Tags        Activities
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  true  "Platform user id of the actor"  example(U0123)
// @Param       X-Workspace-ID   header  string  false "Workspace id (or workspace_id in the body)"  example(T0123)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.ActivityRequest  true  "Activity payload"
//
// @Success     200  {object}  services.Result         "Activity applied"
// @Success     201  {object}  services.Result         "Bounty created"
// @Header      200  {string}  Idempotency-Replayed    "true when served from a previous request"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing actor"
// @Failure     403  {object}  handlers.ErrorResponse  "Actor not allowed"
// @Failure     404  {object}  handlers.ErrorResponse  "Bounty not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Concurrent modification"
// @Failure     422  {object}  handlers.ErrorResponse  "Guard or input violation"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /activities [post]
func (h *Handlers) PostActivity(c *gin.Context) {
	ctx := c.Request.Context()
	actor, okActor := requireActor(c)
	if !okActor {
		return
	}

	var req ActivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body: activity is required")
		return
	}
	ws := strings.TrimSpace(req.WorkspaceID)
	if ws == "" {
		ws = middleware.WorkspaceID(c)
	}
	if ws == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "workspace_id required")
		return
	}
	activity := domain.Activity(strings.ToLower(strings.TrimSpace(req.Activity)))

	// Replay path.
	idemKey, hasKey := middleware.GetIdempotencyKey(c)
	if hasKey {
		if rec, err := repo.GetIdempotency(ctx, h.db, actor, ws, idemKey, h.now().UTC()); err == nil {
			res := &services.Result{}
			if rec.BountyID != "" {
				if b, err := repo.GetBounty(ctx, h.db, rec.BountyID); err == nil {
					res.Bounty = b
				}
			}
			c.Header("Idempotency-Replayed", "true")
			ok(c, rec.Status, res)
			return
		}
	}

	res, err := h.router.Dispatch(ctx, services.CommandOrigin{
		Activity:    activity,
		Actor:       domain.Identity{ID: actor, Handle: strings.TrimSpace(req.Handle)},
		WorkspaceID: ws,
		ChannelID:   strings.TrimSpace(req.ChannelID),
		BountyID:    strings.TrimSpace(req.BountyID),
		Params:      req.Params,
		API:         true,
	})
	if err != nil {
		middleware.LoggerFrom(c).Info().Err(err).
			Str("activity", string(activity)).
			Str("bounty_id", req.BountyID).
			Msg("activity rejected")
		failErr(c, err)
		return
	}

	status := http.StatusOK
	if activity == domain.ActivityCreate && res.Bounty != nil {
		status = http.StatusCreated
	}

	// Store path, best effort.
	if hasKey {
		bountyID := req.BountyID
		if res.Bounty != nil {
			bountyID = res.Bounty.ID
		}
		if _, err := repo.CreateIdempotency(ctx, h.db, actor, ws, idemKey, bountyID, status, h.idemTTL); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency record not stored")
		}
	}

	ok(c, status, res)
}
