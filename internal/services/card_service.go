// Package services – CardService
//
// CardService keeps exactly one live rendering per bounty. It renders the
// record with BuildCard, decides between editing the existing card, posting a
// new one or removing it, cleans up renderings referenced by deprecated
// pointer fields, and persists the resulting canonical pointer with its own
// conditional write.
package services

import (
	"context"
	"errors"
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

// Placement decisions, also used as metric labels.
const (
	placementEdit     = "edit"
	placementCreate   = "create"
	placementFallback = "fallback"
	placementDraft    = "draft"
	placementRemove   = "remove"
)

// ProjectOptions tunes one projection.
type ProjectOptions struct {
	// Publish discards any prior rendering and posts a fresh card in the
	// bounty channel.
	Publish bool
	// Initiator is told about delivery failures and mentioned in draft prompts.
	Initiator string
}

// CardService renders bounty cards through a Transport.
type CardService struct {
	DB       *gorm.DB
	T        transport.Transport
	BoardURL string
	// FallbackChannel is used when the workspace has none configured.
	FallbackChannel string

	writer *recordWriter
}

// NewCardService wires a CardService that writes pointers through w.
func NewCardService(db *gorm.DB, t transport.Transport, w *recordWriter, boardURL, fallback string) *CardService {
	return &CardService{DB: db, T: t, BoardURL: boardURL, FallbackChannel: fallback, writer: w}
}

// Project renders b and stores where its card lives. It returns the card
// location, or nil when the bounty has no card (deleted, repeat template).
func (s *CardService) Project(ctx context.Context, b *domain.Bounty, opts ProjectOptions) (*transport.MessageRef, error) {
	tr := otel.Tracer("services/CardService")
	ctx, span := tr.Start(ctx, "Project",
		trace.WithAttributes(
			attribute.String("bounty.id", b.ID),
			attribute.String("bounty.status", string(b.Status)),
			attribute.Bool("publish", opts.Publish),
		),
	)
	defer span.End()

	cc, err := s.loadContext(ctx, b, opts.Initiator)
	if err != nil {
		return nil, err
	}

	current := transport.PointerFrom(b.CanonicalCard)
	if b.Status == domain.StatusDeleted || b.IsRepeatTemplate {
		if !current.IsZero() {
			s.remove(ctx, current)
		}
		s.removeLegacy(ctx, b, cc.Customer, "")
		cardProjections.WithLabelValues(placementRemove).Inc()
		return nil, s.storePointer(ctx, b, transport.MessageRef{})
	}

	msg := BuildCard(b, cc)
	ref, placement, err := s.place(ctx, b, cc, current, msg, opts)
	cardProjections.WithLabelValues(placement).Inc()
	if err != nil {
		return nil, err
	}

	if b.HasLegacyPointers() {
		link, lerr := s.T.Permalink(ctx, ref)
		if lerr != nil {
			link = cc.BoardURL + b.ID
		}
		s.removeLegacy(ctx, b, cc.Customer, link)
	}
	if err := s.storePointer(ctx, b, ref); err != nil {
		return &ref, err
	}
	return &ref, nil
}

func (s *CardService) loadContext(ctx context.Context, b *domain.Bounty, initiator string) (CardContext, error) {
	cc := CardContext{BoardURL: s.BoardURL, Initiator: initiator}
	cust, err := repo.GetCustomer(ctx, s.DB, b.CustomerID)
	switch {
	case err == nil:
		cc.Customer = cust
	case errors.Is(err, repo.ErrNotFound):
	default:
		return cc, runtimeErr("load customer", err)
	}
	if b.RepeatTemplateID != nil {
		tpl, err := repo.GetBounty(ctx, s.DB, *b.RepeatTemplateID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return cc, runtimeErr("load template", err)
		}
		if tpl != nil {
			cc.Template = tpl
			if cc.Repeats, err = repo.CountOccurrences(ctx, s.DB, tpl.ID); err != nil {
				return cc, runtimeErr("count occurrences", err)
			}
		}
	}
	return cc, nil
}

func (s *CardService) place(ctx context.Context, b *domain.Bounty, cc CardContext, current transport.MessageRef, msg transport.Message, opts ProjectOptions) (transport.MessageRef, string, error) {
	if opts.Publish && !current.IsZero() {
		s.remove(ctx, current)
		current = transport.MessageRef{}
	}
	if !current.IsZero() {
		err := s.T.EditMessage(ctx, current, msg)
		if err == nil {
			return current, placementEdit, nil
		}
		// Only a vanished message may be re-created; anything else would
		// leave two live cards.
		if !errors.Is(err, transport.ErrNotFound) {
			return current, placementEdit, runtimeErr("edit card", err)
		}
		log.Warn().Err(err).Str("bounty_id", b.ID).Msg("card message missing, re-creating")
	}

	if b.Status == domain.StatusDraft {
		ref, err := s.T.SendDirect(ctx, b.CreatedBy.ID, msg)
		if err != nil {
			return ref, placementDraft, &DMPermissionError{UserID: b.CreatedBy.ID, Err: err}
		}
		return ref, placementDraft, nil
	}

	channel, fallback := s.channels(cc.Customer)
	ref, err := s.T.SendMessage(ctx, channel, msg)
	if err == nil {
		return ref, placementCreate, nil
	}
	log.Warn().Err(err).Str("bounty_id", b.ID).Str("channel_id", channel).Msg("card delivery failed, trying fallback channel")
	if opts.Initiator != "" {
		notice := transport.Message{Content: "> Failed to publish bounty in <#" + channel + ">.\n" +
			"> Reason: " + err.Error() + "\n" +
			"> Please add the bot to <#" + channel + "> to publish successfully. If the issue persists, please contact support.\n" +
			"Trying to publish on <#" + fallback + "> instead..."}
		if _, derr := s.T.SendDirect(ctx, opts.Initiator, notice); derr != nil {
			log.Warn().Err(derr).Str("user_id", opts.Initiator).Msg("delivery failure notice not sent")
		}
	}
	ref, ferr := s.T.SendMessage(ctx, fallback, msg)
	if ferr != nil {
		return ref, placementFallback, runtimeErr("post card", errors.Join(err, ferr))
	}
	return ref, placementFallback, nil
}

// channels returns the bounty channel and the channel used when posting there fails.
func (s *CardService) channels(cust *domain.Customer) (string, string) {
	fallback := s.FallbackChannel
	if cust == nil {
		return fallback, fallback
	}
	if cust.FallbackChannel != "" {
		fallback = cust.FallbackChannel
	}
	channel := cust.BountyChannel
	if channel == "" {
		channel = fallback
	}
	return channel, fallback
}

func (s *CardService) remove(ctx context.Context, ref transport.MessageRef) {
	if err := s.T.DeleteMessage(ctx, ref); err != nil && !errors.Is(err, transport.ErrNotFound) {
		log.Warn().Err(err).Str("channel_id", ref.ChannelID).Str("message_id", ref.MessageID).Msg("card delete failed")
	}
}

// removeLegacy deletes renderings referenced by deprecated pointers and, when
// link is set, leaves a notice where each one was.
func (s *CardService) removeLegacy(ctx context.Context, b *domain.Bounty, cust *domain.Customer, link string) {
	var refs []transport.MessageRef
	if b.LegacyMessageID != "" {
		ch := ""
		if cust != nil {
			ch = cust.BountyChannel
		}
		refs = append(refs, transport.MessageRef{ChannelID: ch, MessageID: b.LegacyMessageID})
	}
	for _, p := range []*domain.MessagePointer{b.CreatorMessage, b.ClaimantMessage} {
		if p != nil {
			refs = append(refs, transport.PointerFrom(p))
		}
	}
	for _, ref := range refs {
		if ref.ChannelID == "" {
			continue
		}
		s.remove(ctx, ref)
		if link == "" {
			continue
		}
		if _, err := s.T.SendMessage(ctx, ref.ChannelID, transport.Message{Content: "Bounty card has been moved: " + link}); err != nil {
			log.Warn().Err(err).Str("bounty_id", b.ID).Str("channel_id", ref.ChannelID).Msg("moved notice failed")
		}
	}
}

// storePointer persists ref as the canonical card and clears legacy pointers.
// Nothing is written when the record already matches.
func (s *CardService) storePointer(ctx context.Context, b *domain.Bounty, ref transport.MessageRef) error {
	if transport.PointerFrom(b.CanonicalCard) == ref && !b.HasLegacyPointers() {
		return nil
	}
	out, err := s.writer.apply(ctx, b.ID, domain.ActivityRefresh, "", nil, func(fresh *domain.Bounty, _ time.Time) error {
		if transport.PointerFrom(fresh.CanonicalCard) == ref && !fresh.HasLegacyPointers() {
			return errNoChange
		}
		fresh.CanonicalCard = ref.Pointer()
		fresh.ClearLegacyPointers()
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("bounty_id", b.ID).Msg("store card pointer")
		return err
	}
	*b = *out
	return nil
}
