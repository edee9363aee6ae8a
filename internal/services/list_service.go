// Package services – ListService
//
// ListService renders bounty lists: the workspace's active list, posted in a
// channel and remembered as the "last list" when posted in the bounty
// channel, and personal lists (created by me, claimed or applied for by me)
// delivered by DM.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-bounty-bot/internal/domain"
	"github.com/tbourn/go-bounty-bot/internal/repo"
	"github.com/tbourn/go-bounty-bot/internal/transport"
)

// List types.
const (
	ListCreatedByMe = "CREATED_BY_ME"
	ListClaimedByMe = "CLAIMED_BY_ME"
)

// List message actions.
const (
	SymbolListClaimed = "👷"
	SymbolListCreated = "📝"
	SymbolListRefresh = "🔄"
)

const (
	listLimit        = 15
	listSegmentLimit = 5
)

var (
	activeStatuses   = []domain.Status{domain.StatusOpen, domain.StatusInProgress, domain.StatusInReview}
	personalStatuses = []domain.Status{domain.StatusOpen, domain.StatusInProgress, domain.StatusInReview, domain.StatusComplete}
)

// ListService builds and posts bounty lists.
type ListService struct {
	DB       *gorm.DB
	T        transport.Transport
	BoardURL string
	Now      func() time.Time
}

type listQuery struct {
	workspaceID string
	listType    string
	userID      string
	tag         string
	category    string
}

func (q listQuery) personal() bool { return q.listType != "" }

func (q listQuery) isDefault() bool { return q.listType == "" && q.tag == "" && q.category == "" }

// List renders the requested list. The default list is posted in the
// request's channel; personal and filtered lists go to the actor's DM.
func (s *ListService) List(ctx context.Context, req Request) (*Result, error) {
	tr := otel.Tracer("services/ListService")
	ctx, span := tr.Start(ctx, "List",
		trace.WithAttributes(
			attribute.String("workspace.id", req.WorkspaceID),
			attribute.String("list.type", req.Param("listType")),
		),
	)
	defer span.End()

	q := listQuery{
		workspaceID: req.WorkspaceID,
		listType:    strings.ToUpper(req.Param("listType")),
		userID:      req.Actor.ID,
		tag:         req.Param("tag"),
		category:    req.Param("channelCategory"),
	}
	switch q.listType {
	case "", ListCreatedByMe, ListClaimedByMe:
	default:
		return nil, validationf("Please select a valid list-type: %s or %s.", ListCreatedByMe, ListClaimedByMe)
	}

	cust, err := s.customer(ctx, req.WorkspaceID)
	if err != nil {
		return nil, err
	}
	msg, err := s.build(ctx, q, cust)
	if err != nil {
		return nil, err
	}

	if !q.isDefault() {
		if _, err := s.T.SendDirect(ctx, req.Actor.ID, msg); err != nil {
			return nil, &DMPermissionError{UserID: req.Actor.ID, Err: err}
		}
		return &Result{Message: "Please check your DM for the bounty list."}, nil
	}

	channel := req.ChannelID
	if channel == "" && cust != nil {
		channel = cust.BountyChannel
	}
	ref, err := s.T.SendMessage(ctx, channel, msg)
	if err != nil {
		return nil, runtimeErr("post list", err)
	}
	if cust != nil && channel == cust.BountyChannel {
		link, lerr := s.T.Permalink(ctx, ref)
		if lerr != nil {
			log.Warn().Err(lerr).Str("workspace_id", req.WorkspaceID).Msg("list permalink")
		}
		if err := repo.SetLastListMessage(ctx, s.DB, cust.CustomerID, ref.Pointer(), link); err != nil {
			log.Error().Err(err).Str("workspace_id", req.WorkspaceID).Msg("store last list message")
		}
	}
	return &Result{Card: &ref, Message: "Bounty list posted."}, nil
}

// RefreshListing re-renders the workspace's last posted list in place. It is
// a no-op when no list has been posted.
func (s *ListService) RefreshListing(ctx context.Context, workspaceID string) error {
	tr := otel.Tracer("services/ListService")
	ctx, span := tr.Start(ctx, "RefreshListing",
		trace.WithAttributes(attribute.String("workspace.id", workspaceID)),
	)
	defer span.End()

	cust, err := s.customer(ctx, workspaceID)
	if err != nil || cust == nil || cust.LastListMessage == nil {
		return err
	}
	msg, err := s.build(ctx, listQuery{workspaceID: workspaceID}, cust)
	if err != nil {
		return err
	}
	if err := s.T.EditMessage(ctx, transport.PointerFrom(cust.LastListMessage), msg); err != nil {
		return runtimeErr("refresh list", err)
	}
	return nil
}

func (s *ListService) customer(ctx context.Context, workspaceID string) (*domain.Customer, error) {
	c, err := repo.GetCustomer(ctx, s.DB, workspaceID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, runtimeErr("load customer", err)
	}
	return c, nil
}

func (s *ListService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// fetch returns up to listLimit bounties in status order, newest first
// within a status, and whether more exist.
func (s *ListService) fetch(ctx context.Context, q listQuery) ([]domain.Bounty, bool, error) {
	statuses := activeStatuses
	if q.personal() {
		statuses = personalStatuses
	}
	var out []domain.Bounty
	for _, st := range statuses {
		f := repo.ListFilter{
			CustomerID:       q.workspaceID,
			Tag:              q.tag,
			ChannelCategory:  q.category,
			Statuses:         []domain.Status{st},
			ExcludeTemplates: true,
			Limit:            listLimit + 1 - len(out),
		}
		switch q.listType {
		case ListCreatedByMe:
			f.CreatedBy = q.userID
		case ListClaimedByMe:
			f.ClaimedOrAppliedBy = q.userID
		default:
			f.ExcludeIOU = q.isDefault()
		}
		rows, err := repo.ListBounties(ctx, s.DB, f)
		if err != nil {
			return nil, false, runtimeErr("list bounties", err)
		}
		out = append(out, rows...)
		if len(out) > listLimit {
			return out[:listLimit], true, nil
		}
	}
	return out, false, nil
}

func (s *ListService) build(ctx context.Context, q listQuery, cust *domain.Customer) (transport.Message, error) {
	rows, more, err := s.fetch(ctx, q)
	if err != nil {
		return transport.Message{}, err
	}
	msg := transport.Message{
		Title: listTitle(q),
		URL:   s.BoardURL,
		Color: colorDefault,
	}
	if more {
		msg.Description = "Partial list. For a full list, click on the above title."
	}
	if len(rows) == 0 {
		msg.Fields = []transport.Field{{Name: ".", Value: "No bounties found!"}}
	} else {
		msg.Fields = s.sections(ctx, rows, q)
	}

	now := s.now()
	msg.Footer = "As of " + now.Format("Mon, Jan 2, 2006, 3:04 PM MST") + ".\n" +
		"Click on the bounty name for more detail or to take action.\n"
	if q.isDefault() {
		msg.Footer += SymbolListClaimed + " DM my claimed or applied for bounties | " +
			SymbolListCreated + " DM my created bounties | " + SymbolListRefresh + " Refresh list"
		msg.Actions = []string{SymbolListClaimed, SymbolListCreated, SymbolListRefresh}
	} else if cust != nil && cust.LastListURL != "" {
		msg.Links = []transport.Link{{Label: "Back to List", URL: cust.LastListURL}}
	}
	return msg, nil
}

func listTitle(q listQuery) string {
	switch {
	case q.listType == ListCreatedByMe:
		return "📝 Bounties Created by Me"
	case q.listType == ListClaimedByMe:
		return "👷 Bounties Claimed or Applied For by Me"
	case q.category != "" && q.tag != "":
		return q.category + " Bounties & Bounties tagged with " + q.tag
	case q.tag != "":
		return "Bounties tagged with " + q.tag
	case q.category != "":
		return q.category + " Bounties"
	default:
		return "💰 Active Bounties"
	}
}

// sections groups rows by status, at most listSegmentLimit entries per field.
func (s *ListService) sections(ctx context.Context, rows []domain.Bounty, q listQuery) []transport.Field {
	var fields []transport.Field
	for _, st := range personalStatuses {
		var group []string
		for i := range rows {
			if rows[i].Status == st {
				group = append(group, s.entry(ctx, &rows[i], q))
			}
		}
		for i := 0; i < len(group); i += listSegmentLimit {
			end := i + listSegmentLimit
			if end > len(group) {
				end = len(group)
			}
			name := "-"
			if i == 0 {
				name = sectionTitle(st, q)
			}
			fields = append(fields, transport.Field{Name: name, Value: strings.Join(group[i:end], "")})
		}
	}
	return fields
}

func sectionTitle(st domain.Status, q listQuery) string {
	if st == domain.StatusOpen && q.listType == ListClaimedByMe {
		return "Applied For"
	}
	return StatusLabel(st)
}

// entry renders one list line: "> [title](url) <who> **<reward>**".
func (s *ListService) entry(ctx context.Context, b *domain.Bounty, q listQuery) string {
	url := s.BoardURL + b.ID
	if b.CanonicalCard != nil {
		if link, err := s.T.Permalink(ctx, transport.PointerFrom(b.CanonicalCard)); err == nil {
			url = link
		}
	}

	var who string
	switch {
	case b.ClaimedBy != nil:
		who = claimedMetadata(b, q)
		if who == "" {
			who = "claimed by @" + displayName(*b.ClaimedBy)
		}
	case len(b.GateTo) > 0:
		who = "claimable by role " + displayName(b.GateTo[0])
	case b.AssignTo != nil:
		who = "claimable by user " + displayName(*b.AssignTo)
	default:
		who = "claimable by anyone"
	}
	return "> [" + b.Title + "](" + url + ") " + who + " **" + b.Reward.Amount.StringFixed(b.Reward.Scale) + " " + strings.ToUpper(b.Reward.Currency) + "**\n"
}

func claimedMetadata(b *domain.Bounty, q listQuery) string {
	if q.listType != ListClaimedByMe {
		return ""
	}
	switch b.Status {
	case domain.StatusComplete:
		paid := b.PaidStatus
		if paid == "" {
			paid = domain.PaidStatusUnpaid
		}
		return "payment is " + strings.ToUpper(paid)
	case domain.StatusInProgress, domain.StatusInReview:
		return "is due on " + b.DueAt.Format(displayDate)
	}
	return ""
}
