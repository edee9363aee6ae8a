package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-bounty-bot/internal/domain"
	"github.com/tbourn/go-bounty-bot/internal/http/middleware"
	"github.com/tbourn/go-bounty-bot/internal/repo"
)

// ListBountiesResponse wraps a page of bounties and pagination information.
type ListBountiesResponse struct {
	Bounties   []domain.Bounty `json:"bounties"`
	Pagination Pagination      `json:"pagination"`
}

var knownStatuses = map[domain.Status]bool{
	domain.StatusDraft:      true,
	domain.StatusOpen:       true,
	domain.StatusInProgress: true,
	domain.StatusInReview:   true,
	domain.StatusComplete:   true,
	domain.StatusDeleted:    true,
}

// GetBounty godoc
// @ID          getBounty
// @Summary     Get a bounty
// @Description Returns the stored bounty document. When X-Workspace-ID is sent, bounties of other workspaces are reported as missing.
// @Tags        Bounties
// @Produce     json
//
// @Param       X-Workspace-ID  header  string  false "Workspace id"  example(T0123)
// @Param       id              path    string  true  "Bounty ID (UUID)"  format(uuid)
//
// @Success     200  {object}  domain.Bounty
// @Failure     404  {object}  handlers.ErrorResponse  "Bounty not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /bounties/{id} [get]
func (h *Handlers) GetBounty(c *gin.Context) {
	b, err := repo.GetBounty(c.Request.Context(), h.db, c.Param("id"))
	if err == nil {
		if ws := middleware.WorkspaceID(c); ws != "" && ws != b.CustomerID {
			err = repo.ErrNotFound
		}
	}
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, b)
}

// ListWorkspaceBounties godoc
// @ID          listWorkspaceBounties
// @Summary     List a workspace's bounties (paginated)
// @Description Returns bounties newest first. Deleted bounties are excluded unless requested by status. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Bounties
// @Produce     json
//
// @Param       id                 path    string  true  "Workspace id"  example(T0123)
// @Param       If-None-Match      header  string  false "Return 304 if ETag matches"
// @Param       status             query   string  false "Comma-separated statuses"  example(open,in_progress)
// @Param       created_by         query   string  false "Creator user id"
// @Param       claimed_by         query   string  false "Claimant or applicant user id"
// @Param       tag                query   string  false "Keyword substring"
// @Param       category           query   string  false "Channel category substring"
// @Param       include_iou        query   bool    false "Include IOU records"  default(false)
// @Param       include_templates  query   bool    false "Include repeat templates"  default(false)
// @Param       page               query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size          query   int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListBountiesResponse
// @Header      200  {string}  ETag  "Weak ETag for the workspace's current state"
// @Success     304  {string}  string "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /workspaces/{id}/bounties [get]
func (h *Handlers) ListWorkspaceBounties(c *gin.Context) {
	ctx := c.Request.Context()
	ws := c.Param("id")

	f, err := listFilterFromQuery(c)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	f.CustomerID = ws

	// ETag pre-check (best effort).
	if count, maxTS, err := repo.BountyStats(ctx, h.db, ws); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixNano()
		}
		etag := fmt.Sprintf(`W/"bounties:%s:%d:%d"`, ws, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	page := pageFromQuery(c)
	total, err := repo.CountBounties(ctx, h.db, f)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	f.Offset = page.Offset()
	f.Limit = page.Size
	items, err := repo.ListBounties(ctx, h.db, f)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	if items == nil {
		items = []domain.Bounty{}
	}
	ok(c, http.StatusOK, ListBountiesResponse{
		Bounties:   items,
		Pagination: newPagination(page, total),
	})
}

func listFilterFromQuery(c *gin.Context) (repo.ListFilter, error) {
	f := repo.ListFilter{
		CreatedBy:          strings.TrimSpace(c.Query("created_by")),
		ClaimedOrAppliedBy: strings.TrimSpace(c.Query("claimed_by")),
		Tag:                strings.TrimSpace(c.Query("tag")),
		ChannelCategory:    strings.TrimSpace(c.Query("category")),
		ExcludeIOU:         true,
		ExcludeTemplates:   true,
	}
	for _, s := range strings.Split(c.Query("status"), ",") {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		st := domain.Status(s)
		if !knownStatuses[st] {
			return f, fmt.Errorf("unknown status %q", s)
		}
		f.Statuses = append(f.Statuses, st)
	}
	for key, exclude := range map[string]*bool{"include_iou": &f.ExcludeIOU, "include_templates": &f.ExcludeTemplates} {
		v := c.Query(key)
		if v == "" {
			continue
		}
		include, err := strconv.ParseBool(v)
		if err != nil {
			return f, errors.New(key + " must be a boolean")
		}
		*exclude = !include
	}
	return f, nil
}
