// Package memory provides an in-process transport.Transport. It keeps every
// posted message in memory, records calls in order and lets tests inject
// platform failures. The serve command uses it when no chat platform is
// configured (TRANSPORT=memory).
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/tbourn/go-bounty-bot/internal/domain"
	"github.com/tbourn/go-bounty-bot/internal/transport"
)

// Call is one recorded transport invocation.
type Call struct {
	Method string
	Target string
	Msg    transport.Message
}

// ModalReply is a scripted answer to PromptModal.
type ModalReply struct {
	Values map[string]string
	Err    error
}

// Transport is a recording, failure-injecting transport.Transport.
type Transport struct {
	mu       sync.Mutex
	seq      int
	messages map[transport.MessageRef]transport.Message
	calls    []Call
	modals   []ModalReply
	prompts  []transport.Modal

	users map[string]domain.Identity
	roles map[string]domain.Identity
	// member roles keyed by user id
	members map[string][]string

	// FailChannels makes SendMessage to the channel fail with the given error.
	FailChannels map[string]error
	// FailDirect makes SendDirect to the user fail with the given error.
	FailDirect map[string]error
	// FailEdit makes every EditMessage fail with this error when set.
	FailEdit error
}

// New returns an empty Transport.
func New() *Transport {
	return &Transport{
		messages:     make(map[transport.MessageRef]transport.Message),
		users:        make(map[string]domain.Identity),
		roles:        make(map[string]domain.Identity),
		members:      make(map[string][]string),
		FailChannels: make(map[string]error),
		FailDirect:   make(map[string]error),
	}
}

var _ transport.Transport = (*Transport)(nil)

// AddUser registers a user identity, optionally holding roles.
func (t *Transport) AddUser(id domain.Identity, roleIDs ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.users[id.ID] = id
	t.members[id.ID] = append(t.members[id.ID], roleIDs...)
}

// AddRole registers a role identity.
func (t *Transport) AddRole(id domain.Identity) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.roles[id.ID] = id
}

// QueueModal scripts the next PromptModal answer. Without a queued reply,
// PromptModal waits for ctx and returns ErrTimeout.
func (t *Transport) QueueModal(r ModalReply) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.modals = append(t.modals, r)
}

// Calls returns a copy of the recorded calls.
func (t *Transport) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Call(nil), t.calls...)
}

// CallsTo returns recorded calls of one method.
func (t *Transport) CallsTo(method string) []Call {
	var out []Call
	for _, c := range t.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Prompts returns the modals shown so far.
func (t *Transport) Prompts() []transport.Modal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]transport.Modal(nil), t.prompts...)
}

// Message returns the current content at ref.
func (t *Transport) Message(ref transport.MessageRef) (transport.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.messages[ref]
	return m, ok
}

// Live returns the number of messages currently posted in channelID.
func (t *Transport) Live(channelID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for ref := range t.messages {
		if ref.ChannelID == channelID {
			n++
		}
	}
	return n
}

// Put seeds a message at an explicit ref.
func (t *Transport) Put(ref transport.MessageRef, msg transport.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages[ref] = msg
}

// Reset clears recorded calls but keeps messages and directory data.
func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = nil
	t.prompts = nil
}

func (t *Transport) record(method, target string, msg transport.Message) {
	t.calls = append(t.calls, Call{Method: method, Target: target, Msg: msg})
}

func (t *Transport) post(channelID string, msg transport.Message) transport.MessageRef {
	t.seq++
	ref := transport.MessageRef{ChannelID: channelID, MessageID: "m" + strconv.Itoa(t.seq)}
	t.messages[ref] = msg
	return ref
}

// SendMessage posts msg in channelID.
func (t *Transport) SendMessage(_ context.Context, channelID string, msg transport.Message) (transport.MessageRef, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record("SendMessage", channelID, msg)
	if channelID == "" {
		return transport.MessageRef{}, transport.ErrNotFound
	}
	if err := t.FailChannels[channelID]; err != nil {
		return transport.MessageRef{}, err
	}
	return t.post(channelID, msg), nil
}

// SendDirect posts msg in the DM channel "dm:<userID>".
func (t *Transport) SendDirect(_ context.Context, userID string, msg transport.Message) (transport.MessageRef, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record("SendDirect", userID, msg)
	if err := t.FailDirect[userID]; err != nil {
		return transport.MessageRef{}, err
	}
	return t.post(DirectChannel(userID), msg), nil
}

// DirectChannel is the channel id used for DMs to userID.
func DirectChannel(userID string) string { return "dm:" + userID }

// EditMessage replaces the message at ref.
func (t *Transport) EditMessage(_ context.Context, ref transport.MessageRef, msg transport.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record("EditMessage", ref.ChannelID+"/"+ref.MessageID, msg)
	if t.FailEdit != nil {
		return t.FailEdit
	}
	if _, ok := t.messages[ref]; !ok {
		return transport.ErrNotFound
	}
	t.messages[ref] = msg
	return nil
}

// DeleteMessage removes the message at ref.
func (t *Transport) DeleteMessage(_ context.Context, ref transport.MessageRef) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record("DeleteMessage", ref.ChannelID+"/"+ref.MessageID, transport.Message{})
	if _, ok := t.messages[ref]; !ok {
		return transport.ErrNotFound
	}
	delete(t.messages, ref)
	return nil
}

// FetchMessage returns the message at ref.
func (t *Transport) FetchMessage(_ context.Context, ref transport.MessageRef) (*transport.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.messages[ref]
	if !ok {
		return nil, transport.ErrNotFound
	}
	return &m, nil
}

// Permalink returns a stable pseudo URL.
func (t *Transport) Permalink(_ context.Context, ref transport.MessageRef) (string, error) {
	return fmt.Sprintf("memory://%s/%s", ref.ChannelID, ref.MessageID), nil
}

// PromptModal pops the next scripted reply, or waits for ctx.
func (t *Transport) PromptModal(ctx context.Context, in transport.Interaction, m transport.Modal) (map[string]string, error) {
	t.mu.Lock()
	t.record("PromptModal", in.UserID, transport.Message{Title: m.Title})
	t.prompts = append(t.prompts, m)
	if len(t.modals) > 0 {
		r := t.modals[0]
		t.modals = t.modals[1:]
		t.mu.Unlock()
		return r.Values, r.Err
	}
	t.mu.Unlock()

	<-ctx.Done()
	return nil, transport.ErrTimeout
}

// LookupUser resolves a registered user; unknown ids resolve to a bare identity.
func (t *Transport) LookupUser(_ context.Context, _ string, userID string) (domain.Identity, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.users[userID]; ok {
		return id, nil
	}
	return domain.Identity{ID: userID, Handle: userID}, nil
}

// LookupRole resolves a registered role or returns ErrNotFound.
func (t *Transport) LookupRole(_ context.Context, _ string, roleID string) (domain.Identity, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.roles[roleID]; ok {
		return id, nil
	}
	return domain.Identity{}, transport.ErrNotFound
}

// MemberRoles lists the roles registered for userID.
func (t *Transport) MemberRoles(_ context.Context, _ string, userID string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.members[userID]...), nil
}
