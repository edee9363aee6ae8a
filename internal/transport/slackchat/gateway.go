package slackchat

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/tbourn/go-bounty-bot/internal/domain"
	"github.com/tbourn/go-bounty-bot/internal/services"
	"github.com/tbourn/go-bounty-bot/internal/transport"
)

// Dispatcher routes an origin to its activity. *services.ActivityRouter
// implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, o services.Origin) (*services.Result, error)
}

// NewClient builds the Web API client for a bot token and a Socket Mode app
// token.
func NewClient(botToken, appToken string, debug bool) (*slack.Client, error) {
	if botToken == "" {
		return nil, errors.New("slackchat: bot token is required")
	}
	if !strings.HasPrefix(appToken, "xapp-") {
		return nil, errors.New("slackchat: app token must start with xapp-")
	}
	return slack.New(botToken, slack.OptionDebug(debug), slack.OptionAppLevelToken(appToken)), nil
}

// Gateway receives Socket Mode events and dispatches them. Each dispatch runs
// in its own goroutine so a handler waiting on a modal does not stall the
// event loop that will deliver the modal's submission.
type Gateway struct {
	api       SlackAPI
	socket    *socketmode.Client
	transport *Transport
	router    Dispatcher
	botUserID string

	wg sync.WaitGroup
}

// NewGateway wires a gateway over client. tr must be the Transport the
// services use, so modal submissions reach their prompts.
func NewGateway(client *slack.Client, tr *Transport, router Dispatcher, debug bool) *Gateway {
	return &Gateway{
		api:       client,
		socket:    socketmode.New(client, socketmode.OptionDebug(debug)),
		transport: tr,
		router:    router,
	}
}

// Run connects and handles events until ctx is cancelled. In-flight
// dispatches are awaited before it returns.
func (g *Gateway) Run(ctx context.Context) error {
	if auth, err := g.api.AuthTestContext(ctx); err != nil {
		log.Warn().Err(err).Msg("slack auth test failed")
	} else {
		g.botUserID = auth.UserID
		log.Info().Str("bot_user_id", auth.UserID).Str("team", auth.Team).Msg("slack bot authenticated")
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-g.socket.Events:
				if !ok {
					return
				}
				g.handleEvent(ctx, evt)
			}
		}
	}()

	err := g.socket.RunContext(ctx)
	g.wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (g *Gateway) handleEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		log.Info().Msg("slack socket mode connecting")
	case socketmode.EventTypeConnected:
		log.Info().Msg("slack socket mode connected")
	case socketmode.EventTypeConnectionError:
		log.Warn().Interface("data", evt.Data).Msg("slack socket mode connection error")

	case socketmode.EventTypeEventsAPI:
		ev, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		g.socket.Ack(*evt.Request)
		g.handleEventsAPI(ctx, ev)

	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slack.SlashCommand)
		if !ok {
			return
		}
		g.socket.Ack(*evt.Request)
		g.handleSlashCommand(ctx, cmd)

	case socketmode.EventTypeInteractive:
		cb, ok := evt.Data.(slack.InteractionCallback)
		if !ok {
			return
		}
		g.socket.Ack(*evt.Request)
		g.handleInteraction(ctx, cb)
	}
}

func (g *Gateway) handleEventsAPI(ctx context.Context, ev slackevents.EventsAPIEvent) {
	if ev.Type != slackevents.CallbackEvent {
		return
	}
	if r, ok := ev.InnerEvent.Data.(*slackevents.ReactionAddedEvent); ok {
		g.handleReaction(ctx, ev.TeamID, r)
	}
}

func (g *Gateway) handleReaction(ctx context.Context, teamID string, ev *slackevents.ReactionAddedEvent) {
	if ev.User == "" || ev.User == g.botUserID || ev.Item.Type != "message" {
		return
	}
	sym, ok := SymbolForReaction(ev.Reaction)
	if !ok {
		return
	}
	g.dispatch(ctx, services.ReactionOrigin{
		Symbol:      sym,
		Actor:       domain.Identity{ID: ev.User},
		WorkspaceID: teamID,
		Message:     transport.MessageRef{ChannelID: ev.Item.Channel, MessageID: ev.Item.Timestamp},
	}, ev.Item.Channel, ev.User)
}

func (g *Gateway) handleSlashCommand(ctx context.Context, cmd slack.SlashCommand) {
	activity, params, err := ParseCommand(cmd.Text)
	if err != nil {
		g.reply(ctx, cmd.ChannelID, cmd.UserID, err.Error())
		return
	}
	bountyID := params["bountyId"]
	delete(params, "bountyId")
	g.dispatch(ctx, services.CommandOrigin{
		Activity:    activity,
		Actor:       domain.Identity{ID: cmd.UserID, Handle: cmd.UserName},
		WorkspaceID: cmd.TeamID,
		ChannelID:   cmd.ChannelID,
		BountyID:    bountyID,
		Params:      params,
		Interaction: &transport.Interaction{UserID: cmd.UserID, ChannelID: cmd.ChannelID, Token: cmd.TriggerID},
	}, cmd.ChannelID, cmd.UserID)
}

func (g *Gateway) handleInteraction(ctx context.Context, cb slack.InteractionCallback) {
	switch cb.Type {
	case slack.InteractionTypeViewSubmission:
		if !g.transport.resolveModal(cb.View.CallbackID, modalReply{values: viewValues(cb.View.State)}) {
			log.Debug().Str("callback_id", cb.View.CallbackID).Msg("modal submission with no waiting prompt")
		}
	case slack.InteractionTypeViewClosed:
		g.transport.resolveModal(cb.View.CallbackID, modalReply{err: transport.ErrCancelled})
	case slack.InteractionTypeBlockActions:
		for _, a := range cb.ActionCallback.BlockActions {
			if a == nil || a.BlockID != actionBlockID {
				continue
			}
			g.dispatch(ctx, services.ReactionOrigin{
				Symbol:      a.Value,
				Actor:       domain.Identity{ID: cb.User.ID, Handle: cb.User.Name},
				WorkspaceID: cb.Team.ID,
				Message:     transport.MessageRef{ChannelID: cb.Channel.ID, MessageID: cb.Message.Timestamp},
				Interaction: &transport.Interaction{UserID: cb.User.ID, ChannelID: cb.Channel.ID, Token: cb.TriggerID},
			}, cb.Channel.ID, cb.User.ID)
		}
	}
}

func (g *Gateway) dispatch(ctx context.Context, o services.Origin, channelID, userID string) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		res, err := g.router.Dispatch(ctx, o)
		switch {
		case err != nil:
			if !services.IsUserError(err) {
				log.Error().Err(err).Str("channel_id", channelID).Str("actor_id", userID).Msg("slack dispatch failed")
			}
			g.reply(ctx, channelID, userID, services.UserMessage(err))
		case res != nil && !res.Skipped && res.Message != "":
			g.reply(ctx, channelID, userID, res.Message)
		}
	}()
}

func (g *Gateway) reply(ctx context.Context, channelID, userID, text string) {
	if text == "" || channelID == "" {
		return
	}
	if _, err := g.api.PostEphemeralContext(ctx, channelID, userID, slack.MsgOptionText(text, false)); err != nil {
		log.Warn().Err(err).Str("channel_id", channelID).Str("actor_id", userID).Msg("ephemeral reply failed")
	}
}
