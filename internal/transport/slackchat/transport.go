// Package slackchat adapts Slack to the transport port. Transport renders
// bounty messages with slack-go, and Gateway turns Socket Mode events (slash
// commands, reactions, button presses) into router origins.
//
// A Slack app token is bound to one workspace, so workspace ids passed by the
// services are accepted but not needed for lookups.
package slackchat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/slack-go/slack"

	"github.com/tbourn/go-bounty-bot/internal/domain"
	"github.com/tbourn/go-bounty-bot/internal/transport"
)

// Transport implements transport.Transport over the Slack Web API.
type Transport struct {
	api SlackAPI

	mu      sync.Mutex
	pending map[string]chan modalReply // view callback id -> waiting prompt
}

type modalReply struct {
	values map[string]string
	err    error
}

var _ transport.Transport = (*Transport)(nil)

// NewTransport wraps api.
func NewTransport(api SlackAPI) *Transport {
	return &Transport{api: api, pending: make(map[string]chan modalReply)}
}

// SendMessage posts msg to channelID.
func (t *Transport) SendMessage(ctx context.Context, channelID string, msg transport.Message) (transport.MessageRef, error) {
	ch, ts, err := t.api.PostMessageContext(ctx, channelID, messageOptions(msg)...)
	if err != nil {
		return transport.MessageRef{}, translate(err)
	}
	return transport.MessageRef{ChannelID: ch, MessageID: ts}, nil
}

// SendDirect opens (or reuses) the DM with userID and posts msg there.
func (t *Transport) SendDirect(ctx context.Context, userID string, msg transport.Message) (transport.MessageRef, error) {
	ch, _, _, err := t.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{Users: []string{userID}})
	if err != nil {
		return transport.MessageRef{}, translate(err)
	}
	return t.SendMessage(ctx, ch.ID, msg)
}

// EditMessage replaces the message at ref.
func (t *Transport) EditMessage(ctx context.Context, ref transport.MessageRef, msg transport.Message) error {
	_, _, _, err := t.api.UpdateMessageContext(ctx, ref.ChannelID, ref.MessageID, messageOptions(msg)...)
	return translate(err)
}

// DeleteMessage removes the message at ref.
func (t *Transport) DeleteMessage(ctx context.Context, ref transport.MessageRef) error {
	_, _, err := t.api.DeleteMessageContext(ctx, ref.ChannelID, ref.MessageID)
	return translate(err)
}

// FetchMessage reads the message at ref back from channel history.
func (t *Transport) FetchMessage(ctx context.Context, ref transport.MessageRef) (*transport.Message, error) {
	resp, err := t.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: ref.ChannelID,
		Latest:    ref.MessageID,
		Inclusive: true,
		Limit:     1,
	})
	if err != nil {
		return nil, translate(err)
	}
	for _, m := range resp.Messages {
		if m.Timestamp == ref.MessageID {
			msg := parseMessage(m)
			return &msg, nil
		}
	}
	return nil, transport.ErrNotFound
}

// Permalink returns the shareable URL of the message at ref.
func (t *Transport) Permalink(ctx context.Context, ref transport.MessageRef) (string, error) {
	link, err := t.api.GetPermalinkContext(ctx, &slack.PermalinkParameters{Channel: ref.ChannelID, Ts: ref.MessageID})
	if err != nil {
		return "", translate(err)
	}
	return link, nil
}

// PromptModal opens m against the interaction's trigger and waits for the
// Gateway to deliver the submission or close event.
func (t *Transport) PromptModal(ctx context.Context, in transport.Interaction, m transport.Modal) (map[string]string, error) {
	if in.Token == "" {
		return nil, fmt.Errorf("slackchat: modal needs a trigger id: %w", transport.ErrPermission)
	}
	id := uuid.NewString()
	ch := make(chan modalReply, 1)
	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	if _, err := t.api.OpenViewContext(ctx, in.Token, modalView(id, m)); err != nil {
		return nil, translate(err)
	}
	select {
	case r := <-ch:
		return r.values, r.err
	case <-ctx.Done():
		return nil, transport.ErrTimeout
	}
}

// resolveModal hands a submitted or closed view to its waiting prompt. It
// reports false when nobody waits for callbackID (e.g. the prompt timed out).
func (t *Transport) resolveModal(callbackID string, r modalReply) bool {
	t.mu.Lock()
	ch, ok := t.pending[callbackID]
	t.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- r:
		return true
	default:
		return false
	}
}

// LookupUser resolves userID to an identity snapshot.
func (t *Transport) LookupUser(ctx context.Context, _ string, userID string) (domain.Identity, error) {
	u, err := t.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		return domain.Identity{}, translate(err)
	}
	handle := u.Profile.DisplayName
	if handle == "" {
		handle = u.Name
	}
	return domain.Identity{ID: u.ID, Handle: handle, Avatar: u.Profile.Image72}, nil
}

// LookupRole resolves a user-group id.
func (t *Transport) LookupRole(ctx context.Context, _ string, roleID string) (domain.Identity, error) {
	groups, err := t.api.GetUserGroupsContext(ctx)
	if err != nil {
		return domain.Identity{}, translate(err)
	}
	for _, g := range groups {
		if g.ID == roleID {
			return domain.Identity{ID: g.ID, Handle: g.Handle}, nil
		}
	}
	return domain.Identity{}, transport.ErrNotFound
}

// MemberRoles lists the user groups userID belongs to.
func (t *Transport) MemberRoles(ctx context.Context, _ string, userID string) ([]string, error) {
	groups, err := t.api.GetUserGroupsContext(ctx, slack.GetUserGroupsOptionIncludeUsers(true))
	if err != nil {
		return nil, translate(err)
	}
	var out []string
	for _, g := range groups {
		for _, u := range g.Users {
			if u == userID {
				out = append(out, g.ID)
				break
			}
		}
	}
	return out, nil
}

func modalView(callbackID string, m transport.Modal) slack.ModalViewRequest {
	blocks := make([]slack.Block, 0, len(m.Inputs))
	for _, in := range m.Inputs {
		var placeholder *slack.TextBlockObject
		if in.Placeholder != "" {
			placeholder = slack.NewTextBlockObject(slack.PlainTextType, in.Placeholder, false, false)
		}
		el := slack.NewPlainTextInputBlockElement(placeholder, in.ID)
		el.Multiline = in.Multiline
		el.InitialValue = in.Value
		el.MaxLength = in.MaxLength
		ib := slack.NewInputBlock(in.ID, slack.NewTextBlockObject(slack.PlainTextType, in.Label, false, false), nil, el)
		ib.Optional = in.Optional
		blocks = append(blocks, ib)
	}
	return slack.ModalViewRequest{
		Type:          slack.VTModal,
		CallbackID:    callbackID,
		Title:         slack.NewTextBlockObject(slack.PlainTextType, truncate(m.Title, 24), false, false),
		Submit:        slack.NewTextBlockObject(slack.PlainTextType, "Submit", false, false),
		Close:         slack.NewTextBlockObject(slack.PlainTextType, "Cancel", false, false),
		Blocks:        slack.Blocks{BlockSet: blocks},
		NotifyOnClose: true,
	}
}

// viewValues flattens a submitted view's state, keyed by input id.
func viewValues(state *slack.ViewState) map[string]string {
	out := map[string]string{}
	if state == nil {
		return out
	}
	for blockID, actions := range state.Values {
		if a, ok := actions[blockID]; ok {
			out[blockID] = a.Value
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// translate maps Slack API errors to the transport's typed errors.
func translate(err error) error {
	if err == nil {
		return nil
	}
	code := err.Error()
	var se slack.SlackErrorResponse
	if errors.As(err, &se) {
		code = se.Err
	}
	switch {
	case strings.HasSuffix(code, "_not_found"):
		return fmt.Errorf("%w: %s", transport.ErrNotFound, code)
	case code == "not_in_channel", code == "cannot_dm_bot", code == "restricted_action",
		code == "is_archived", code == "missing_scope", code == "channel_is_archived",
		code == "cant_update_message", code == "cant_delete_message", code == "not_authed":
		return fmt.Errorf("%w: %s", transport.ErrPermission, code)
	}
	return err
}
