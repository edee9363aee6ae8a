// Package services – LifecycleService
//
// LifecycleService is the bounty state machine. Every mutating operation
// re-reads the record, runs its guard, mutates it in memory and writes it back
// conditionally (see recordWriter). Card projection, derived-record
// follow-ups and notifications run after the write has committed; their
// failures are logged and never undo the transition.
//
// Observability: public methods start a span carrying the bounty, activity
// and actor, and count outcomes in bounty_transitions_total.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-bounty-bot/internal/domain"
	"github.com/tbourn/go-bounty-bot/internal/repo"
	"github.com/tbourn/go-bounty-bot/internal/transport"
)

// LifecycleService implements the bounty activities.
type LifecycleService struct {
	DB           *gorm.DB
	T            transport.Transport
	Cards        *CardService
	Derived      *DerivedService
	Wallets      *WalletService
	ModalTimeout time.Duration

	writer *recordWriter
	notify *notifier
}

func (s *LifecycleService) start(ctx context.Context, op string, req Request) (context.Context, trace.Span) {
	tr := otel.Tracer("services/LifecycleService")
	return tr.Start(ctx, op,
		trace.WithAttributes(
			attribute.String("bounty.id", req.BountyID),
			attribute.String("activity", string(req.Activity)),
			attribute.String("user.id", req.Actor.ID),
			attribute.String("workspace.id", req.WorkspaceID),
			attribute.String("origin", string(req.Origin)),
		),
	)
}

// finish records the outcome of an activity and logs failures at a level
// matching their class.
func (s *LifecycleService) finish(req Request, activity domain.Activity, err error) error {
	transitionsTotal.WithLabelValues(string(activity), resultLabel(err)).Inc()
	if err == nil {
		return nil
	}
	ev := log.Info()
	if !IsUserError(err) {
		ev = log.Error()
	}
	ev.Err(err).
		Str("bounty_id", req.BountyID).
		Str("activity", string(activity)).
		Str("actor_id", req.Actor.ID).
		Str("workspace_id", req.WorkspaceID).
		Str("origin", string(req.Origin)).
		Msg("activity failed")
	return err
}

// afterCommit logs a post-write failure with enough context to reconcile it by hand.
func afterCommit(err error, b *domain.Bounty, activity domain.Activity, step string) {
	if err == nil {
		return
	}
	lvl := zerolog.ErrorLevel
	var np *NotificationPermissionError
	if errors.As(err, &np) {
		lvl = zerolog.WarnLevel
	}
	log.WithLevel(lvl).Err(err).
		Str("bounty_id", b.ID).
		Str("activity", string(activity)).
		Str("step", step).
		Msg("post-commit step failed")
}

func (s *LifecycleService) read(ctx context.Context, id string) (*domain.Bounty, error) {
	if id == "" {
		return nil, validationf("Please provide a bounty id.")
	}
	b, err := repo.GetBounty(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrBountyNotFound
	}
	if err != nil {
		return nil, runtimeErr("read bounty", err)
	}
	b.MigrateLegacy()
	return b, nil
}

func (s *LifecycleService) project(ctx context.Context, b *domain.Bounty, activity domain.Activity, opts ProjectOptions) *transport.MessageRef {
	ref, err := s.Cards.Project(ctx, b, opts)
	afterCommit(err, b, activity, "project card")
	return ref
}

func (s *LifecycleService) fallbackChannel(ctx context.Context, workspaceID string) string {
	c, err := repo.GetCustomer(ctx, s.DB, workspaceID)
	if err != nil {
		return ""
	}
	return c.FallbackChannel
}

func (s *LifecycleService) dm(ctx context.Context, b *domain.Bounty, activity domain.Activity, userID, content string) {
	err := s.notify.dm(ctx, userID, s.fallbackChannel(ctx, b.CustomerID), content)
	afterCommit(err, b, activity, "notify "+userID)
}

func (s *LifecycleService) cardURL(ctx context.Context, ref *transport.MessageRef, b *domain.Bounty) string {
	if ref != nil {
		if link, err := s.T.Permalink(ctx, *ref); err == nil {
			return link
		}
	}
	return s.Cards.BoardURL + b.ID
}

// actor returns the request's actor snapshot, resolving the display name
// when the origin did not provide one.
func (s *LifecycleService) actor(ctx context.Context, req Request) domain.Identity {
	if req.Actor.Handle != "" {
		return req.Actor
	}
	return lookupIdentity(ctx, s.T, req.WorkspaceID, req.Actor.ID)
}

// Create inserts a new bounty. Plain bounties start as drafts in the
// creator's DM unless publish is set; IOUs are recorded as complete; repeat
// bounties insert their template and immediately post the first occurrence.
func (s *LifecycleService) Create(ctx context.Context, req Request) (res *Result, err error) {
	ctx, span := s.start(ctx, "Create", req)
	defer span.End()
	defer func() { err = s.finish(req, domain.ActivityCreate, err) }()

	b, err := s.buildNew(ctx, req)
	if err != nil {
		return nil, err
	}
	now := s.writer.now()

	if b.IsRepeatTemplate {
		b.SetStatus(domain.StatusOpen, now)
		b.AppendActivity(domain.ActivityCreate, s.writer.WriterTag, req.Actor.ID, req.Params, now)
		if err := repo.CreateBounty(ctx, s.DB, b); err != nil {
			return nil, runtimeErr("insert template", err)
		}
		occ, err := s.Derived.SpawnOccurrence(ctx, b)
		if err != nil {
			return nil, err
		}
		ref := s.project(ctx, occ, domain.ActivityCreate, ProjectOptions{Publish: true, Initiator: req.Actor.ID})
		return &Result{
			Bounty:  occ,
			Card:    ref,
			Message: "Repeating bounty created. The first occurrence is live: " + s.cardURL(ctx, ref, occ),
		}, nil
	}

	switch {
	case b.IsIOU:
		b.SetStatus(domain.StatusComplete, now)
		b.ReviewedAt = &now
	case paramBool(req.Param("publish")):
		b.SetStatus(domain.StatusOpen, now)
	default:
		b.SetStatus(domain.StatusDraft, now)
	}
	b.AppendActivity(domain.ActivityCreate, s.writer.WriterTag, req.Actor.ID, req.Params, now)
	if err := repo.CreateBounty(ctx, s.DB, b); err != nil {
		return nil, runtimeErr("insert bounty", err)
	}
	log.Info().Str("bounty_id", b.ID).Str("workspace_id", b.CustomerID).Str("status", string(b.Status)).Msg("bounty created")

	ref := s.project(ctx, b, domain.ActivityCreate, ProjectOptions{Publish: b.Status != domain.StatusDraft, Initiator: req.Actor.ID})
	res = &Result{Bounty: b, Card: ref}
	switch b.Status {
	case domain.StatusDraft:
		res.Message = "Thank you! Your draft bounty is in your DMs. Hit " + SymbolPublish + " there or use /bounty publish to publish it."
	case domain.StatusComplete:
		s.dm(ctx, b, domain.ActivityCreate, b.OwedTo.ID,
			"<@"+b.CreatedBy.ID+"> recorded an IOU for you: "+b.Reward.String()+"\n"+s.cardURL(ctx, ref, b))
		res.Message = "IOU recorded: " + s.cardURL(ctx, ref, b)
	default:
		res.Message = "Bounty published: " + s.cardURL(ctx, ref, b)
	}
	return res, nil
}

// buildNew validates the create parameters and assembles the record.
func (s *LifecycleService) buildNew(ctx context.Context, req Request) (*domain.Bounty, error) {
	in := createInput{
		Title:       req.Param("title"),
		Description: req.Param("description"),
		Criteria:    req.Param("criteria"),
		Reward:      req.Param("reward"),
	}
	var err error
	if in.ClaimLimit, err = paramInt("Claim limit", req.Param("claimLimit")); err != nil {
		return nil, err
	}
	if in.RepeatDays, err = paramInt("Repeat days", req.Param("repeatDays")); err != nil {
		return nil, err
	}
	if in.NumRepeats, err = paramInt("Number of repeats", req.Param("numRepeats")); err != nil {
		return nil, err
	}
	if err := checkStruct(in); err != nil {
		return nil, err
	}
	reward, err := ParseReward(in.Reward)
	if err != nil {
		return nil, err
	}

	now := s.writer.now()
	b := &domain.Bounty{
		CustomerID:         req.WorkspaceID,
		Title:              in.Title,
		Description:        in.Description,
		Criteria:           in.Criteria,
		Reward:             reward,
		CreatedBy:          s.actor(ctx, req),
		CreatedAt:          now,
		RequireApplication: paramBool(req.Param("requireApplication")),
		Evergreen:          paramBool(req.Param("evergreen")),
		IsIOU:              paramBool(req.Param("isIOU")),
		PaidStatus:         domain.PaidStatusUnpaid,
		Tags: domain.Tags{
			Keywords:        normalizeTags(nil, req.Param("tags")),
			ChannelCategory: req.Param("channelCategory"),
		},
	}
	if b.CustomerID == "" {
		return nil, validationf("Bounties must be created inside a workspace.")
	}

	forUser, forRole := req.Param("forUser"), req.Param("forRole")
	if forUser != "" && forRole != "" {
		return nil, validationf("Thank you for giving bounties a try!\nPlease select either for-user or for-role, but not both.")
	}
	if forUser != "" {
		if forUser == req.Actor.ID {
			return nil, validationf("Sorry, you cannot create a bounty for yourself.")
		}
		id := lookupIdentity(ctx, s.T, req.WorkspaceID, forUser)
		b.AssignTo = &id
	}
	if forRole != "" {
		role, err := s.T.LookupRole(ctx, req.WorkspaceID, forRole)
		if errors.Is(err, transport.ErrNotFound) {
			return nil, validationf("Sorry, role %s could not be found.", forRole)
		}
		if err != nil {
			return nil, runtimeErr("lookup role", err)
		}
		b.GateTo = []domain.Identity{role}
	}

	if b.Evergreen {
		if b.AssignTo != nil {
			return nil, validationf("Multi-claimant bounties cannot be assigned to a single user.")
		}
		if b.RequireApplication {
			return nil, validationf("Multi-claimant bounties cannot require applications.")
		}
		// A single-claim parent is an ordinary bounty.
		if in.ClaimLimit == 1 {
			b.Evergreen = false
		} else {
			b.IsParent = true
			b.ClaimLimit = in.ClaimLimit
		}
	}
	if b.RequireApplication && b.AssignTo != nil {
		return nil, validationf("A bounty for a specific user cannot also require applications.")
	}

	due, err := parseDate("Due date", req.Param("dueAt"))
	if err != nil {
		return nil, err
	}
	if due == nil {
		d := now.AddDate(0, defaultDueAfter, 0)
		due = &d
	}
	if !due.After(now) {
		return nil, validationf("The due date must be in the future.")
	}
	b.DueAt = *due

	if b.IsIOU {
		owed := req.Param("owedTo")
		if owed == "" {
			return nil, validationf("Please specify who the IOU is owed to.")
		}
		if b.Evergreen || in.RepeatDays > 0 || b.RequireApplication {
			return nil, validationf("An IOU cannot be multi-claimant, repeating or require applications.")
		}
		id := lookupIdentity(ctx, s.T, req.WorkspaceID, owed)
		creator := b.CreatedBy
		b.OwedTo = &id
		b.ClaimedBy = &id
		b.ReviewedBy = &creator
		b.AssignTo = nil
		b.GateTo = nil
	}

	if in.RepeatDays > 0 {
		end, err := parseDate("End repeats date", req.Param("endRepeatsDate"))
		if err != nil {
			return nil, err
		}
		if in.NumRepeats == 0 && end == nil {
			return nil, validationf("Please specify either the number of repeats or an end date for a repeating bounty.")
		}
		if end != nil && !end.After(now) {
			return nil, validationf("The end repeats date must be in the future.")
		}
		b.IsRepeatTemplate = true
		b.RepeatDays = in.RepeatDays
		b.NumRepeats = in.NumRepeats
		b.EndRepeatsDate = end
	}
	return b, nil
}

// Publish moves a draft to open and posts its card in the bounty channel.
func (s *LifecycleService) Publish(ctx context.Context, req Request) (res *Result, err error) {
	ctx, span := s.start(ctx, "Publish", req)
	defer span.End()
	defer func() { err = s.finish(req, domain.ActivityPublish, err) }()

	b, err := s.writer.apply(ctx, req.BountyID, domain.ActivityPublish, req.Actor.ID, req.Params, func(b *domain.Bounty, now time.Time) error {
		if err := checkStatus(b, domain.ActivityPublish, now); err != nil {
			return err
		}
		if err := requireCreator(b, req.Actor.ID, "publish"); err != nil {
			return err
		}
		b.SetStatus(domain.StatusOpen, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	ref := s.project(ctx, b, domain.ActivityPublish, ProjectOptions{Publish: true, Initiator: req.Actor.ID})
	return &Result{Bounty: b, Card: ref, Message: "Bounty published: " + s.cardURL(ctx, ref, b)}, nil
}

// Apply records the actor as an applicant. Interactive requests without a
// pitch are asked for one before anything is written.
func (s *LifecycleService) Apply(ctx context.Context, req Request) (res *Result, err error) {
	ctx, span := s.start(ctx, "Apply", req)
	defer span.End()
	defer func() { err = s.finish(req, domain.ActivityApply, err) }()

	guard := func(b *domain.Bounty, now time.Time) error {
		if err := checkStatus(b, domain.ActivityApply, now); err != nil {
			return err
		}
		if !b.RequireApplication || b.IsIOU {
			return validationf("Bounty %s does not require applications. You can claim it directly.", b.ID)
		}
		if b.CreatedBy.ID == req.Actor.ID {
			return validationf("Sorry, you cannot apply for your own bounty %s.", b.ID)
		}
		if b.HasApplicant(req.Actor.ID) {
			return validationf("You have already applied for bounty %s.", b.ID)
		}
		return nil
	}

	pitch := req.Param("pitch")
	if pitch == "" && req.interactive() {
		cur, err := s.read(ctx, req.BountyID)
		if err != nil {
			return nil, err
		}
		if err := guard(cur, s.writer.now()); err != nil {
			return nil, err
		}
		vals, err := promptModal(ctx, s.T, s.ModalTimeout, req.Interaction, transport.Modal{
			Title: "Apply for Bounty",
			Inputs: []transport.Input{{
				ID:        "pitch",
				Label:     "Why should you be assigned this bounty?",
				Multiline: true,
				MaxLength: 4000,
			}},
		})
		if err != nil {
			return nil, err
		}
		pitch = trimmed(vals["pitch"])
	}
	if err := checkStruct(applyInput{Pitch: pitch}); err != nil {
		return nil, err
	}

	applicant := s.actor(ctx, req)
	b, err := s.writer.apply(ctx, req.BountyID, domain.ActivityApply, req.Actor.ID, req.Params, func(b *domain.Bounty, now time.Time) error {
		if err := guard(b, now); err != nil {
			return err
		}
		b.Applicants = append(b.Applicants, domain.Applicant{Identity: applicant, Pitch: pitch, AppliedAt: now})
		return nil
	})
	if err != nil {
		return nil, err
	}
	ref := s.project(ctx, b, domain.ActivityApply, ProjectOptions{Initiator: req.Actor.ID})
	s.dm(ctx, b, domain.ActivityApply, b.CreatedBy.ID,
		"<@"+req.Actor.ID+"> has applied for your bounty: "+s.cardURL(ctx, ref, b)+"\n"+
			"Pitch: "+pitch+"\n"+
			"Use /bounty assign bounty-id="+b.ID+" assignee="+req.Actor.ID+" to assign it.")
	return &Result{Bounty: b, Card: ref, Message: "Thank you for applying! The bounty creator has been notified."}, nil
}

// Assign picks one applicant as the only user who may claim the bounty.
func (s *LifecycleService) Assign(ctx context.Context, req Request) (res *Result, err error) {
	ctx, span := s.start(ctx, "Assign", req)
	defer span.End()
	defer func() { err = s.finish(req, domain.ActivityAssign, err) }()

	assignee := req.Param("assignee")
	if assignee == "" {
		return nil, validationf("Please specify the user to assign this bounty to.")
	}
	b, err := s.writer.apply(ctx, req.BountyID, domain.ActivityAssign, req.Actor.ID, req.Params, func(b *domain.Bounty, now time.Time) error {
		if err := checkStatus(b, domain.ActivityAssign, now); err != nil {
			return err
		}
		if err := requireCreator(b, req.Actor.ID, "assign"); err != nil {
			return err
		}
		if !b.RequireApplication {
			return validationf("This bounty did not require applications, so it is not assignable.\n" +
				"To reserve a bounty for someone, create it with the for-user option.")
		}
		if len(b.Applicants) == 0 {
			return validationf("No users have applied for this bounty yet.\n"+
				"If you would like to assign it to <@%s>, please ask them to apply with %s or /bounty apply.", assignee, SymbolApply)
		}
		for _, a := range b.Applicants {
			if a.ID == assignee {
				id := a.Identity
				b.AssignTo = &id
				return nil
			}
		}
		return validationf("<@%s> has not applied for this bounty. Please choose one of the applicants.", assignee)
	})
	if err != nil {
		return nil, err
	}
	ref := s.project(ctx, b, domain.ActivityAssign, ProjectOptions{Initiator: req.Actor.ID})
	s.dm(ctx, b, domain.ActivityAssign, assignee,
		"You have been assigned this bounty! Go to "+s.cardURL(ctx, ref, b)+" to claim it.\n"+
			"Reach out to <@"+b.CreatedBy.ID+"> with any questions.")
	return &Result{Bounty: b, Card: ref, Message: "<@" + assignee + "> has been assigned to this bounty."}, nil
}

// Claim moves an open bounty to in_progress for the actor. Claiming a
// multi-claimant parent claims a fresh child instead. A registered wallet is
// required, except for claims replayed from the change feed.
func (s *LifecycleService) Claim(ctx context.Context, req Request) (res *Result, err error) {
	ctx, span := s.start(ctx, "Claim", req)
	defer span.End()
	defer func() { err = s.finish(req, domain.ActivityClaim, err) }()

	cur, err := s.read(ctx, req.BountyID)
	if err != nil {
		return nil, err
	}
	var roles []string
	if len(cur.GateTo) > 0 {
		if roles, err = s.T.MemberRoles(ctx, cur.CustomerID, req.Actor.ID); err != nil {
			return nil, runtimeErr("member roles", err)
		}
	}
	guard := func(b *domain.Bounty, now time.Time) error {
		if err := checkStatus(b, domain.ActivityClaim, now); err != nil {
			return err
		}
		if err := checkClaimant(b, req.Actor.ID); err != nil {
			return err
		}
		return checkGate(b, roles)
	}
	if err := guard(cur, s.writer.now()); err != nil {
		return nil, err
	}
	if req.Origin != OriginChange {
		if err := s.Wallets.ensure(ctx, req); err != nil {
			return nil, err
		}
	}

	claimant := s.actor(ctx, req)
	if cur.Evergreen && cur.IsParent {
		return s.claimEvergreen(ctx, req, claimant, guard)
	}

	b, err := s.writer.apply(ctx, req.BountyID, domain.ActivityClaim, req.Actor.ID, req.Params, func(b *domain.Bounty, now time.Time) error {
		if err := guard(b, now); err != nil {
			return err
		}
		claimBounty(b, claimant, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	ref := s.project(ctx, b, domain.ActivityClaim, ProjectOptions{Initiator: req.Actor.ID})
	s.dm(ctx, b, domain.ActivityClaim, b.CreatedBy.ID, claimNotice(req.Actor.ID)+"\n"+s.cardURL(ctx, ref, b))
	return &Result{Bounty: b, Card: ref, Message: claimReply(req.Actor.ID, b.CreatedBy.ID)}, nil
}

func (s *LifecycleService) claimEvergreen(ctx context.Context, req Request, claimant domain.Identity, guard func(*domain.Bounty, time.Time) error) (*Result, error) {
	ec, err := s.Derived.ClaimEvergreen(ctx, req.BountyID, claimant, req.Params, guard)
	if err != nil {
		return nil, err
	}
	ref := s.project(ctx, ec.Child, domain.ActivityClaim, ProjectOptions{Initiator: req.Actor.ID})
	parentRef := s.project(ctx, ec.Parent, domain.ActivityClaim, ProjectOptions{})

	notice := claimNotice(req.Actor.ID) + "\n" + s.cardURL(ctx, ref, ec.Child)
	if ec.LimitReached {
		notice += "\nYour multi-claimant bounty has reached its claim limit and has been marked deleted. <" + s.Cards.BoardURL + ec.Parent.ID + ">"
	} else {
		notice += "\nSince you marked your original bounty as multi-claimant, it will stay on the board as Open. <" + s.cardURL(ctx, parentRef, ec.Parent) + ">"
	}
	s.dm(ctx, ec.Child, domain.ActivityClaim, ec.Parent.CreatedBy.ID, notice)
	return &Result{Bounty: ec.Child, Card: ref, Message: claimReply(req.Actor.ID, ec.Parent.CreatedBy.ID)}, nil
}

func claimNotice(claimant string) string {
	return "Your bounty has been claimed by <@" + claimant + ">\n" +
		"You are free to mark this bounty as complete and/or paid at any time.\n" +
		"Marking a bounty as complete and/or paid may help you with accounting or project status tasks later on."
}

func claimReply(claimant, creator string) string {
	return "<@" + claimant + ">, you have claimed this bounty! Reach out to <@" + creator + "> with any questions."
}

// Submit hands the work in for review.
func (s *LifecycleService) Submit(ctx context.Context, req Request) (res *Result, err error) {
	ctx, span := s.start(ctx, "Submit", req)
	defer span.End()
	defer func() { err = s.finish(req, domain.ActivitySubmit, err) }()

	in := submitInput{Notes: req.Param("notes"), URL: req.Param("url")}
	if err := checkStruct(in); err != nil {
		return nil, err
	}
	submitter := s.actor(ctx, req)
	b, err := s.writer.apply(ctx, req.BountyID, domain.ActivitySubmit, req.Actor.ID, req.Params, func(b *domain.Bounty, now time.Time) error {
		if err := checkStatus(b, domain.ActivitySubmit, now); err != nil {
			return err
		}
		if b.ClaimedBy == nil || b.ClaimedBy.ID != req.Actor.ID {
			return unauthorizedf("Sorry, only the claimant of bounty %s may submit it.", b.ID)
		}
		b.SubmittedBy = &submitter
		b.SubmittedAt = &now
		b.SubmissionNotes = in.Notes
		b.SubmissionURL = in.URL
		b.SetStatus(domain.StatusInReview, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	ref := s.project(ctx, b, domain.ActivitySubmit, ProjectOptions{Initiator: req.Actor.ID})

	var sb strings.Builder
	sb.WriteString("Please reach out to your bounty claimer <@" + req.Actor.ID + "> and review their work.\n")
	sb.WriteString("The bounty has been submitted for review: " + s.cardURL(ctx, ref, b))
	if in.URL != "" {
		sb.WriteString("\nSubmission link: " + in.URL)
	}
	if in.Notes != "" {
		sb.WriteString("\nNotes: " + in.Notes)
	}
	s.dm(ctx, b, domain.ActivitySubmit, b.CreatedBy.ID, sb.String())
	return &Result{Bounty: b, Card: ref, Message: "Bounty submitted for review. <@" + b.CreatedBy.ID + "> has been notified."}, nil
}

// Complete marks the work accepted by the creator.
func (s *LifecycleService) Complete(ctx context.Context, req Request) (res *Result, err error) {
	ctx, span := s.start(ctx, "Complete", req)
	defer span.End()
	defer func() { err = s.finish(req, domain.ActivityComplete, err) }()

	reviewer := s.actor(ctx, req)
	b, err := s.writer.apply(ctx, req.BountyID, domain.ActivityComplete, req.Actor.ID, req.Params, func(b *domain.Bounty, now time.Time) error {
		if err := checkStatus(b, domain.ActivityComplete, now); err != nil {
			return err
		}
		if err := requireCreator(b, req.Actor.ID, "complete"); err != nil {
			return err
		}
		b.ReviewedBy = &reviewer
		b.ReviewedAt = &now
		b.SetStatus(domain.StatusComplete, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	ref := s.project(ctx, b, domain.ActivityComplete, ProjectOptions{Initiator: req.Actor.ID})
	if b.ClaimedBy != nil {
		s.dm(ctx, b, domain.ActivityComplete, b.ClaimedBy.ID,
			"Your bounty has been reviewed and marked complete by <@"+req.Actor.ID+">. "+s.cardURL(ctx, ref, b))
	}
	return &Result{Bounty: b, Card: ref, Message: "Bounty marked complete."}, nil
}

// MarkPaid records that the reward was paid out.
func (s *LifecycleService) MarkPaid(ctx context.Context, req Request) (res *Result, err error) {
	ctx, span := s.start(ctx, "MarkPaid", req)
	defer span.End()
	defer func() { err = s.finish(req, domain.ActivityPaid, err) }()

	payer := s.actor(ctx, req)
	b, err := s.writer.apply(ctx, req.BountyID, domain.ActivityPaid, req.Actor.ID, req.Params, func(b *domain.Bounty, now time.Time) error {
		if err := checkStatus(b, domain.ActivityPaid, now); err != nil {
			return err
		}
		if err := requireCreator(b, req.Actor.ID, "mark paid"); err != nil {
			return err
		}
		if b.IsPaid() {
			return validationf("Bounty %s has already been marked paid.", b.ID)
		}
		b.PaidStatus = domain.PaidStatusPaid
		b.PaidBy = &payer
		return nil
	})
	if err != nil {
		return nil, err
	}
	ref := s.project(ctx, b, domain.ActivityPaid, ProjectOptions{Initiator: req.Actor.ID})
	if b.ClaimedBy != nil {
		s.dm(ctx, b, domain.ActivityPaid, b.ClaimedBy.ID,
			"Your bounty has been marked paid by <@"+req.Actor.ID+">. "+s.cardURL(ctx, ref, b))
	}
	return &Result{Bounty: b, Card: ref, Message: "Bounty marked paid."}, nil
}

// Delete moves a bounty to deleted. Scheduler requests are silent automated
// deletions: no creator check and the creator is told afterwards. Deleting
// an occurrence of an active repeat template interactively asks whether to
// stop future repeats as well.
func (s *LifecycleService) Delete(ctx context.Context, req Request) (res *Result, err error) {
	ctx, span := s.start(ctx, "Delete", req)
	defer span.End()
	defer func() { err = s.finish(req, domain.ActivityDelete, err) }()

	silent := req.Origin == OriginScheduler
	guard := func(b *domain.Bounty, now time.Time) error {
		if err := checkStatus(b, domain.ActivityDelete, now); err != nil {
			return err
		}
		if silent {
			return nil
		}
		return requireCreator(b, req.Actor.ID, "delete")
	}

	stopRepeats := paramBool(req.Param("stopRepeats"))
	var tpl *domain.Bounty
	cur, err := s.read(ctx, req.BountyID)
	if err != nil {
		return nil, err
	}
	if err := guard(cur, s.writer.now()); err != nil {
		return nil, err
	}
	if cur.RepeatTemplateID != nil && !silent {
		t, terr := repo.GetBounty(ctx, s.DB, *cur.RepeatTemplateID)
		if terr == nil && t.Status != domain.StatusDeleted {
			tpl = t
		}
	}
	if tpl != nil && !stopRepeats && req.interactive() {
		vals, err := promptModal(ctx, s.T, s.ModalTimeout, req.Interaction, transport.Modal{
			Title: "Delete Repeating Bounty",
			Inputs: []transport.Input{{
				ID:          "confirm",
				Label:       "Stop future repeats? Type YES to also delete the repeat template.",
				Placeholder: "YES",
				Optional:    true,
				MaxLength:   3,
			}},
		})
		if err != nil {
			return nil, err
		}
		stopRepeats = strings.EqualFold(trimmed(vals["confirm"]), "YES")
	}

	var deleter *domain.Identity
	if !silent {
		id := s.actor(ctx, req)
		deleter = &id
	}
	note := req.Param("note")
	b, err := s.writer.apply(ctx, req.BountyID, domain.ActivityDelete, req.Actor.ID, req.Params, func(b *domain.Bounty, now time.Time) error {
		if err := guard(b, now); err != nil {
			return err
		}
		markDeleted(b, deleter, note, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.project(ctx, b, domain.ActivityDelete, ProjectOptions{Initiator: req.Actor.ID})
	log.Info().Str("bounty_id", b.ID).Bool("silent", silent).Str("note", note).Msg("bounty deleted")

	res = &Result{Bounty: b, Message: "Bounty " + b.ID + " has been deleted."}
	if tpl != nil && stopRepeats {
		if err := s.deleteTemplate(ctx, tpl.ID, req.Actor.ID, deleter, ""); err != nil {
			afterCommit(err, b, domain.ActivityDelete, "delete template")
		} else {
			res.Message += " Future repeats have been stopped."
		}
	}
	if silent {
		s.dm(ctx, b, domain.ActivityDelete, b.CreatedBy.ID,
			"Your repeating bounty \""+b.Title+"\" was not claimed and has been removed. "+
				"A new occurrence is posted when the next repeat is due.")
	}
	return res, nil
}

// deleteTemplate ends a repeat template.
func (s *LifecycleService) deleteTemplate(ctx context.Context, id, actorID string, deleter *domain.Identity, note string) error {
	_, err := s.writer.apply(ctx, id, domain.ActivityDelete, actorID, map[string]string{"template": id}, func(b *domain.Bounty, now time.Time) error {
		if b.Status == domain.StatusDeleted {
			return errNoChange
		}
		markDeleted(b, deleter, note, now)
		return nil
	})
	return err
}

func markDeleted(b *domain.Bounty, by *domain.Identity, note string, now time.Time) {
	b.SetStatus(domain.StatusDeleted, now)
	b.DeletedBy = by
	b.DeletedAt = &now
	if note != "" {
		b.ResolutionNote = note
	}
}

// Tag adds keywords and optionally sets the channel category.
func (s *LifecycleService) Tag(ctx context.Context, req Request) (res *Result, err error) {
	ctx, span := s.start(ctx, "Tag", req)
	defer span.End()
	defer func() { err = s.finish(req, domain.ActivityTag, err) }()

	raw, category := req.Param("tags"), req.Param("channelCategory")
	if raw == "" && category == "" {
		return nil, validationf("Please provide at least one tag.")
	}
	b, err := s.writer.apply(ctx, req.BountyID, domain.ActivityTag, req.Actor.ID, req.Params, func(b *domain.Bounty, now time.Time) error {
		if err := checkStatus(b, domain.ActivityTag, now); err != nil {
			return err
		}
		if err := requireCreator(b, req.Actor.ID, "tag"); err != nil {
			return err
		}
		before := len(b.Tags.Keywords)
		b.Tags.Keywords = normalizeTags(b.Tags.Keywords, raw)
		if category != "" && category != b.Tags.ChannelCategory {
			b.Tags.ChannelCategory = category
			return nil
		}
		if len(b.Tags.Keywords) == before {
			return errNoChange
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	ref := s.project(ctx, b, domain.ActivityTag, ProjectOptions{Initiator: req.Actor.ID})
	return &Result{Bounty: b, Card: ref, Message: "Bounty tags updated."}, nil
}

// Help asks the creator to help the claimant. Nothing is written.
func (s *LifecycleService) Help(ctx context.Context, req Request) (res *Result, err error) {
	ctx, span := s.start(ctx, "Help", req)
	defer span.End()
	defer func() { err = s.finish(req, domain.ActivityHelp, err) }()

	b, err := s.read(ctx, req.BountyID)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(b, domain.ActivityHelp, s.writer.now()); err != nil {
		return nil, err
	}
	ref := transport.PointerFrom(b.CanonicalCard)
	var card *transport.MessageRef
	if !ref.IsZero() {
		card = &ref
	}
	msg := "<@" + req.Actor.ID + "> needs some help with your bounty: " + s.cardURL(ctx, card, b)
	if note := req.Param("message"); note != "" {
		msg += "\n" + note
	}
	if err := s.notify.dm(ctx, b.CreatedBy.ID, s.fallbackChannel(ctx, b.CustomerID), msg); err != nil {
		return nil, err
	}
	return &Result{Bounty: b, Card: card, Message: "<@" + b.CreatedBy.ID + "> has been notified that you need help."}, nil
}

// Refresh re-renders the card of a bounty, persisting any pending legacy
// field migration first.
func (s *LifecycleService) Refresh(ctx context.Context, req Request) (res *Result, err error) {
	ctx, span := s.start(ctx, "Refresh", req)
	defer span.End()
	defer func() { err = s.finish(req, domain.ActivityRefresh, err) }()

	raw, err := repo.GetBounty(ctx, s.DB, req.BountyID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrBountyNotFound
	}
	if err != nil {
		return nil, runtimeErr("read bounty", err)
	}
	b := raw
	if raw.MigrateLegacy() {
		if b, err = s.writer.apply(ctx, req.BountyID, domain.ActivityRefresh, req.Actor.ID, nil, func(*domain.Bounty, time.Time) error {
			return nil
		}); err != nil {
			return nil, err
		}
	}
	ref := s.project(ctx, b, domain.ActivityRefresh, ProjectOptions{
		Publish:   paramBool(req.Param("publish")),
		Initiator: req.Actor.ID,
	})
	return &Result{Bounty: b, Card: ref}, nil
}
