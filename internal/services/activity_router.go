// Package services – ActivityRouter
//
// ActivityRouter turns every trigger into one normalized Request and hands it
// to the service that owns the activity. Triggers come from four origins:
// slash commands, reactions or buttons on a rendered card, change
// notifications from the record store, and the scheduler.
//
// Change notifications pass the sync guard first. A notification whose last
// activity entry was written by the bot itself is an echo of our own write and
// is dropped without touching the store. Otherwise the last entry describes
// an intent written by another writer (the web board); when the document
// already reflects that activity's result only the card is refreshed,
// otherwise the full transition runs through the state machine.
package services

import (
	"context"
	"errors"
	"strconv"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-bounty-bot/internal/domain"
	"github.com/tbourn/go-bounty-bot/internal/transport"
)

// Sync guard outcomes, used as changefeed_events_total labels.
const (
	SyncEcho     = "echo"
	SyncInvalid  = "invalid"
	SyncRefresh  = "refresh"
	SyncApply    = "apply"
	SyncRejected = "rejected"
	SyncError    = "error"
)

// Origin is one trigger of an activity. The concrete types are
// CommandOrigin, ReactionOrigin, ChangeOrigin and SchedulerOrigin.
type Origin interface {
	kind() OriginKind
}

// CommandOrigin is a slash command or an API call.
type CommandOrigin struct {
	Activity    domain.Activity
	Actor       domain.Identity
	WorkspaceID string
	ChannelID   string
	BountyID    string
	Params      map[string]string
	Interaction *transport.Interaction
	// API marks requests that arrived over HTTP rather than chat.
	API bool
}

// ReactionOrigin is a reaction or button press on a rendered message.
type ReactionOrigin struct {
	Symbol      string
	Actor       domain.Identity
	WorkspaceID string
	Message     transport.MessageRef
	Interaction *transport.Interaction
}

// ChangeEvent is one change notification from the record store.
type ChangeEvent struct {
	OperationType string
	FullDocument  *domain.Bounty
}

// ChangeOrigin wraps a change notification.
type ChangeOrigin struct {
	Event ChangeEvent
}

// SchedulerOrigin is an automated activity requested by the reconciler.
type SchedulerOrigin struct {
	Activity    domain.Activity
	WorkspaceID string
	BountyID    string
	Params      map[string]string
}

func (o CommandOrigin) kind() OriginKind {
	if o.API {
		return OriginAPI
	}
	return OriginCommand
}
func (ReactionOrigin) kind() OriginKind  { return OriginReaction }
func (ChangeOrigin) kind() OriginKind    { return OriginChange }
func (SchedulerOrigin) kind() OriginKind { return OriginScheduler }

// ActivityRouter normalizes origins and dispatches requests.
type ActivityRouter struct {
	T            transport.Transport
	Lifecycle    *LifecycleService
	Wallets      *WalletService
	Lists        *ListService
	BotWriterTag string
}

// Normalize converts o into a Request. A nil Request with a nil error means
// the trigger maps to no activity and is skipped.
func (r *ActivityRouter) Normalize(ctx context.Context, o Origin) (*Request, error) {
	switch o := o.(type) {
	case CommandOrigin:
		return &Request{
			Activity:    o.Activity,
			Actor:       o.Actor,
			WorkspaceID: o.WorkspaceID,
			BountyID:    o.BountyID,
			Params:      o.Params,
			Origin:      o.kind(),
			Interaction: o.Interaction,
			ChannelID:   o.ChannelID,
		}, nil
	case ReactionOrigin:
		return r.normalizeReaction(ctx, o)
	case ChangeOrigin:
		req, _ := r.SyncGuard(o.Event)
		return req, nil
	case SchedulerOrigin:
		return &Request{
			Activity:    o.Activity,
			Actor:       domain.Identity{ID: schedulerActor},
			WorkspaceID: o.WorkspaceID,
			BountyID:    o.BountyID,
			Params:      o.Params,
			Origin:      OriginScheduler,
		}, nil
	}
	return nil, validationf("Unsupported trigger.")
}

// reactionActivity maps a card symbol to an activity given the status shown
// on the card. An empty status means the card does not show one and the
// state machine guard decides.
func reactionActivity(symbol string, status domain.Status) (domain.Activity, bool) {
	switch symbol {
	case SymbolPublish:
		return domain.ActivityPublish, status == "" || status == domain.StatusDraft
	case SymbolClaim:
		return domain.ActivityClaim, status == "" || status == domain.StatusOpen
	case SymbolDelete:
		return domain.ActivityDelete, true
	case SymbolApply:
		return domain.ActivityApply, true
	case SymbolSubmit:
		return domain.ActivitySubmit, true
	case SymbolComplete:
		return domain.ActivityComplete, true
	case SymbolPaid:
		return domain.ActivityPaid, true
	case SymbolHelp:
		return domain.ActivityHelp, true
	}
	return "", false
}

// statusFromLabel reverses StatusLabel.
func statusFromLabel(label string) domain.Status {
	for _, s := range []domain.Status{
		domain.StatusDraft, domain.StatusOpen, domain.StatusInProgress,
		domain.StatusInReview, domain.StatusComplete, domain.StatusDeleted,
	} {
		if StatusLabel(s) == label {
			return s
		}
	}
	return ""
}

func (r *ActivityRouter) normalizeReaction(ctx context.Context, o ReactionOrigin) (*Request, error) {
	msg, err := r.T.FetchMessage(ctx, o.Message)
	if errors.Is(err, transport.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, runtimeErr("fetch reacted message", err)
	}
	req := &Request{
		Actor:       o.Actor,
		WorkspaceID: o.WorkspaceID,
		Origin:      OriginReaction,
		Interaction: o.Interaction,
		ChannelID:   o.Message.ChannelID,
	}

	id, isCard := msg.FieldValue(CardFieldBountyID)
	if !isCard {
		// List message.
		switch o.Symbol {
		case SymbolListClaimed:
			req.Activity = domain.ActivityList
			req.Params = map[string]string{"listType": ListClaimedByMe}
		case SymbolListCreated:
			req.Activity = domain.ActivityList
			req.Params = map[string]string{"listType": ListCreatedByMe}
		case SymbolListRefresh:
			req.Activity = domain.ActivityList
			req.Params = map[string]string{"refresh": "true"}
		default:
			return nil, nil
		}
		return req, nil
	}

	label, _ := msg.FieldValue("Status")
	activity, ok := reactionActivity(o.Symbol, statusFromLabel(label))
	if !ok {
		return nil, nil
	}
	req.Activity = activity
	req.BountyID = id
	return req, nil
}

// SyncGuard decides what a change notification means. It returns the request
// to run (nil when the event is dropped) and the outcome label.
func (r *ActivityRouter) SyncGuard(ev ChangeEvent) (*Request, string) {
	doc := ev.FullDocument
	if doc == nil {
		return nil, SyncInvalid
	}
	last := doc.LastActivity()
	if last == nil {
		return nil, SyncInvalid
	}
	if last.OriginWriter == r.BotWriterTag {
		return nil, SyncEcho
	}

	req := &Request{
		Activity:    last.Activity,
		Actor:       domain.Identity{ID: last.ActorID},
		WorkspaceID: doc.CustomerID,
		BountyID:    doc.ID,
		Params:      last.Params,
		Origin:      OriginChange,
	}
	if alreadyApplied(doc, last) {
		req.Activity = domain.ActivityRefresh
		req.Params = nil
		return req, SyncRefresh
	}
	return req, SyncApply
}

// alreadyApplied reports whether doc already shows the result of last.
func alreadyApplied(doc *domain.Bounty, last *domain.ActivityEntry) bool {
	switch last.Activity {
	case domain.ActivityClaim:
		if doc.Evergreen && doc.IsParent {
			return false
		}
		return hasStatus([]domain.Status{domain.StatusInProgress, domain.StatusInReview, domain.StatusComplete}, doc.Status)
	case domain.ActivityPublish:
		return doc.Status != domain.StatusDraft
	case domain.ActivitySubmit:
		return doc.Status == domain.StatusInReview
	case domain.ActivityComplete:
		return doc.Status == domain.StatusComplete
	case domain.ActivityPaid:
		return doc.IsPaid()
	case domain.ActivityDelete:
		return doc.Status == domain.StatusDeleted
	case domain.ActivityApply:
		return doc.HasApplicant(last.ActorID)
	case domain.ActivityAssign:
		return doc.AssignTo != nil && doc.AssignTo.ID == last.Params["assignee"]
	case domain.ActivityTag, domain.ActivityHelp:
		return false
	}
	// create, refresh and anything unknown only need a fresh card.
	return true
}

// HandleActivity runs req through the service that owns its activity.
func (r *ActivityRouter) HandleActivity(ctx context.Context, req Request) (*Result, error) {
	tr := otel.Tracer("services/ActivityRouter")
	ctx, span := tr.Start(ctx, "HandleActivity",
		trace.WithAttributes(
			attribute.String("activity", string(req.Activity)),
			attribute.String("origin", string(req.Origin)),
		),
	)
	defer span.End()

	lc := r.Lifecycle
	switch req.Activity {
	case domain.ActivityCreate:
		return lc.Create(ctx, req)
	case domain.ActivityPublish:
		return lc.Publish(ctx, req)
	case domain.ActivityApply:
		return lc.Apply(ctx, req)
	case domain.ActivityAssign:
		return lc.Assign(ctx, req)
	case domain.ActivityClaim:
		return lc.Claim(ctx, req)
	case domain.ActivitySubmit:
		return lc.Submit(ctx, req)
	case domain.ActivityComplete:
		return lc.Complete(ctx, req)
	case domain.ActivityPaid:
		return lc.MarkPaid(ctx, req)
	case domain.ActivityDelete:
		return lc.Delete(ctx, req)
	case domain.ActivityTag:
		return lc.Tag(ctx, req)
	case domain.ActivityHelp:
		return lc.Help(ctx, req)
	case domain.ActivityRefresh:
		return lc.Refresh(ctx, req)
	case domain.ActivityWallet:
		return r.Wallets.Register(ctx, req)
	case domain.ActivityList:
		if ok, _ := strconv.ParseBool(req.Param("refresh")); ok {
			if err := r.Lists.RefreshListing(ctx, req.WorkspaceID); err != nil {
				return nil, err
			}
			return &Result{Message: "Bounty list refreshed."}, nil
		}
		return r.Lists.List(ctx, req)
	}
	return nil, ErrUnknownActivity
}

// Dispatch normalizes o and handles the resulting request. Skipped triggers
// return a Result with Skipped set. User errors caused by change
// notifications are logged and dropped; for every other origin they are
// returned so the actor can be told.
func (r *ActivityRouter) Dispatch(ctx context.Context, o Origin) (*Result, error) {
	if co, ok := o.(ChangeOrigin); ok {
		return r.dispatchChange(ctx, co.Event)
	}
	req, err := r.Normalize(ctx, o)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return &Result{Skipped: true}, nil
	}
	return r.HandleActivity(ctx, *req)
}

func (r *ActivityRouter) dispatchChange(ctx context.Context, ev ChangeEvent) (*Result, error) {
	req, outcome := r.SyncGuard(ev)
	if req == nil {
		changeFeedEvents.WithLabelValues(outcome).Inc()
		if outcome != SyncEcho {
			log.Warn().Str("operation", ev.OperationType).Str("outcome", outcome).Msg("change event ignored")
		}
		return &Result{Skipped: true}, nil
	}

	res, err := r.HandleActivity(ctx, *req)
	switch {
	case err == nil:
	case IsUserError(err):
		outcome = SyncRejected
		log.Info().Err(err).
			Str("bounty_id", req.BountyID).
			Str("activity", string(req.Activity)).
			Str("actor_id", req.Actor.ID).
			Msg("change event rejected by guard")
		res, err = &Result{Skipped: true}, nil
	default:
		outcome = SyncError
	}
	changeFeedEvents.WithLabelValues(outcome).Inc()
	return res, err
}

// HandleChange is the change-feed entry point.
func (r *ActivityRouter) HandleChange(ctx context.Context, ev ChangeEvent) error {
	_, err := r.dispatchChange(ctx, ev)
	return err
}
