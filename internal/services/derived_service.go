// Package services – DerivedService
//
// DerivedService owns records cloned from another bounty: children of
// multi-claimant (evergreen) parents, created one per claim, and occurrences
// of repeat templates, spawned by the reconciler.
package services

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-bounty-bot/internal/domain"
	"github.com/tbourn/go-bounty-bot/internal/repo"
)

// Resolution notes for automatic deletions.
const (
	noteClaimLimit      = "Claim limit reached"
	noteUnclaimedRepeat = "Unclaimed repeat bounty"
	noteRepeatsFinished = "Repeats finished"
)

// DerivedService clones bounties.
type DerivedService struct {
	DB *gorm.DB

	writer *recordWriter
}

// EvergreenClaim is the outcome of claiming a multi-claimant parent.
type EvergreenClaim struct {
	Parent *domain.Bounty
	Child  *domain.Bounty
	// LimitReached is set when this claim closed the parent.
	LimitReached bool
}

// ClaimEvergreen clones parentID into a child claimed by claimant. The child
// insert, the child claim and the parent update commit together; a concurrent
// change to the parent rolls everything back and the claim is retried from a
// fresh read. guard runs against every fresh read of the parent.
func (s *DerivedService) ClaimEvergreen(ctx context.Context, parentID string, claimant domain.Identity, params map[string]string, guard func(*domain.Bounty, time.Time) error) (*EvergreenClaim, error) {
	tr := otel.Tracer("services/DerivedService")
	ctx, span := tr.Start(ctx, "ClaimEvergreen",
		trace.WithAttributes(
			attribute.String("bounty.id", parentID),
			attribute.String("user.id", claimant.ID),
		),
	)
	defer span.End()

	var out *EvergreenClaim
	err := s.writer.retry(ctx, func() error {
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			parent, err := repo.GetBounty(ctx, tx, parentID)
			if errors.Is(err, repo.ErrNotFound) {
				return ErrBountyNotFound
			}
			if err != nil {
				return runtimeErr("read bounty", err)
			}
			parent.MigrateLegacy()
			now := s.writer.now()
			if guard != nil {
				if err := guard(parent, now); err != nil {
					return err
				}
			}
			if !parent.Evergreen || !parent.IsParent {
				return validationf("Sorry, bounty %s is not a multi-claimant bounty.", parent.ID)
			}

			child := cloneChild(parent, now)
			child.AppendActivity(domain.ActivityCreate, s.writer.WriterTag, claimant.ID, map[string]string{"parent": parent.ID}, now)
			if err := repo.CreateBounty(ctx, tx, child); err != nil {
				return runtimeErr("insert child", err)
			}
			claimBounty(child, claimant, now)
			child.AppendActivity(domain.ActivityClaim, s.writer.WriterTag, claimant.ID, params, now)
			if err := repo.UpdateBounty(ctx, tx, child); err != nil {
				return err
			}

			parent.ChildrenIDs = append(parent.ChildrenIDs, child.ID)
			limit := parent.ClaimLimit > 0 && len(parent.ChildrenIDs) >= parent.ClaimLimit
			if limit {
				parent.SetStatus(domain.StatusDeleted, now)
				parent.DeletedAt = &now
				parent.ResolutionNote = noteClaimLimit
			}
			parent.AppendActivity(domain.ActivityClaim, s.writer.WriterTag, claimant.ID, map[string]string{"child": child.ID}, now)
			if err := repo.UpdateBounty(ctx, tx, parent); err != nil {
				return err
			}
			out = &EvergreenClaim{Parent: parent, Child: child, LimitReached: limit}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// cloneChild copies parent into a new open record, leaving out the fields
// that only make sense on the parent.
func cloneChild(parent *domain.Bounty, now time.Time) *domain.Bounty {
	pid := parent.ID
	child := &domain.Bounty{
		CustomerID:         parent.CustomerID,
		Title:              parent.Title,
		Description:        parent.Description,
		Criteria:           parent.Criteria,
		Reward:             parent.Reward,
		CreatedBy:          parent.CreatedBy,
		AssignTo:           copyIdentity(parent.AssignTo),
		GateTo:             append([]domain.Identity(nil), parent.GateTo...),
		RequireApplication: parent.RequireApplication,
		Applicants:         append([]domain.Applicant(nil), parent.Applicants...),
		ParentID:           &pid,
		RepeatTemplateID:   parent.RepeatTemplateID,
		Tags:               copyTags(parent.Tags),
		CreatedAt:          now,
		DueAt:              parent.DueAt,
		PaidStatus:         domain.PaidStatusUnpaid,
	}
	child.SetStatus(domain.StatusOpen, now)
	return child
}

// claimBounty applies the claim mutation to b.
func claimBounty(b *domain.Bounty, claimant domain.Identity, now time.Time) {
	c := claimant
	b.ClaimedBy = &c
	b.SetStatus(domain.StatusInProgress, now)
}

// SpawnOccurrence inserts a new open occurrence of tpl. The occurrence keeps
// the template's offset between creation and due date.
func (s *DerivedService) SpawnOccurrence(ctx context.Context, tpl *domain.Bounty) (*domain.Bounty, error) {
	tr := otel.Tracer("services/DerivedService")
	ctx, span := tr.Start(ctx, "SpawnOccurrence",
		trace.WithAttributes(attribute.String("template.id", tpl.ID)),
	)
	defer span.End()

	now := s.writer.now()
	occ := newOccurrence(tpl, now)
	occ.AppendActivity(domain.ActivityCreate, s.writer.WriterTag, tpl.CreatedBy.ID, map[string]string{"template": tpl.ID}, now)
	if err := repo.CreateBounty(ctx, s.DB, occ); err != nil {
		return nil, runtimeErr("insert occurrence", err)
	}
	return occ, nil
}

func newOccurrence(tpl *domain.Bounty, now time.Time) *domain.Bounty {
	tid := tpl.ID
	offset := tpl.DueAt.Sub(tpl.CreatedAt)
	if offset <= 0 {
		offset = now.AddDate(0, defaultDueAfter, 0).Sub(now)
	}
	occ := &domain.Bounty{
		CustomerID:         tpl.CustomerID,
		Title:              tpl.Title,
		Description:        tpl.Description,
		Criteria:           tpl.Criteria,
		Reward:             tpl.Reward,
		CreatedBy:          tpl.CreatedBy,
		AssignTo:           copyIdentity(tpl.AssignTo),
		GateTo:             append([]domain.Identity(nil), tpl.GateTo...),
		RequireApplication: tpl.RequireApplication,
		Evergreen:          tpl.Evergreen,
		IsParent:           tpl.Evergreen,
		ClaimLimit:         tpl.ClaimLimit,
		RepeatTemplateID:   &tid,
		Tags:               copyTags(tpl.Tags),
		CreatedAt:          now,
		DueAt:              now.Add(offset),
		PaidStatus:         domain.PaidStatusUnpaid,
	}
	occ.SetStatus(domain.StatusOpen, now)
	return occ
}

func copyIdentity(id *domain.Identity) *domain.Identity {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}

func copyTags(t domain.Tags) domain.Tags {
	return domain.Tags{
		Keywords:        append([]string(nil), t.Keywords...),
		ChannelCategory: t.ChannelCategory,
	}
}
