package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-bounty-bot/internal/domain"
	"github.com/tbourn/go-bounty-bot/internal/repo"
)

// WorkspaceRequest is the JSON payload of PUT /workspaces/{id}.
type WorkspaceRequest struct {
	Name string `json:"name" binding:"max=255" example:"Bankless DAO"`
	// BountyChannel receives published cards and the active list.
	BountyChannel string `json:"bounty_channel" binding:"required,max=64" example:"C0456"`
	// FallbackChannel receives cards and notices when delivery elsewhere fails.
	FallbackChannel string `json:"fallback_channel" binding:"max=64" example:"C0789"`
}

// GetWorkspace godoc
// @ID          getWorkspace
// @Summary     Get workspace configuration
// @Tags        Workspaces
// @Produce     json
// @Param       id   path  string  true  "Workspace id"  example(T0123)
// @Success     200  {object}  domain.Customer
// @Failure     404  {object}  handlers.ErrorResponse  "Workspace not found"
// @Router      /workspaces/{id} [get]
func (h *Handlers) GetWorkspace(c *gin.Context) {
	cust, err := repo.GetCustomer(c.Request.Context(), h.db, c.Param("id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "workspace not found")
			return
		}
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, cust)
}

// PutWorkspace godoc
// @ID          putWorkspace
// @Summary     Create or update workspace configuration
// @Description Sets the workspace name and its bounty and fallback channels.
// @Tags        Workspaces
// @Accept      json
// @Produce     json
// @Param       id    path  string                     true  "Workspace id"  example(T0123)
// @Param       body  body  handlers.WorkspaceRequest  true  "Workspace configuration"
// @Success     200  {object}  domain.Customer
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /workspaces/{id} [put]
func (h *Handlers) PutWorkspace(c *gin.Context) {
	ctx := c.Request.Context()
	var req WorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.BountyChannel) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "bounty_channel required")
		return
	}
	id := c.Param("id")
	if err := repo.UpsertCustomer(ctx, h.db, &domain.Customer{
		CustomerID:      id,
		Name:            strings.TrimSpace(req.Name),
		BountyChannel:   strings.TrimSpace(req.BountyChannel),
		FallbackChannel: strings.TrimSpace(req.FallbackChannel),
	}); err != nil {
		failErr(c, err)
		return
	}
	cust, err := repo.GetCustomer(ctx, h.db, id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, cust)
}
