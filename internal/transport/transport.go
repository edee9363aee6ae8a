// Package transport defines the port between the bounty services and a chat
// platform. Implementations send and edit rendered messages, open modals and
// resolve users and roles. Services depend only on the Transport interface;
// concrete adapters live in subpackages (memory, slackchat).
package transport

import (
	"context"
	"errors"

	"github.com/tbourn/go-bounty-bot/internal/domain"
)

// Typed transport failures. Adapters translate platform errors into these so
// services can branch on them with errors.Is.
var (
	// ErrNotFound means the target message, channel or user does not exist.
	ErrNotFound = errors.New("transport: not found")
	// ErrPermission means the bot may not post there (DMs disabled, missing scope).
	ErrPermission = errors.New("transport: permission denied")
	// ErrTimeout means an interactive prompt was not answered in time.
	ErrTimeout = errors.New("transport: interaction timed out")
	// ErrCancelled means the user dismissed an interactive prompt.
	ErrCancelled = errors.New("transport: interaction cancelled")
	// ErrConflictingMessage means an unrelated reply arrived while waiting on a prompt.
	ErrConflictingMessage = errors.New("transport: conflicting message")
)

// MessageRef locates a posted message.
type MessageRef struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

// IsZero reports whether r points nowhere.
func (r MessageRef) IsZero() bool { return r.ChannelID == "" && r.MessageID == "" }

// PointerFrom converts a stored pointer into a ref.
func PointerFrom(p *domain.MessagePointer) MessageRef {
	if p == nil {
		return MessageRef{}
	}
	return MessageRef{ChannelID: p.ChannelID, MessageID: p.MessageID}
}

// Pointer converts r into the stored form, nil for a zero ref.
func (r MessageRef) Pointer() *domain.MessagePointer {
	if r.IsZero() {
		return nil
	}
	return &domain.MessagePointer{ChannelID: r.ChannelID, MessageID: r.MessageID}
}

// Field is one labelled value of a rich message.
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Link is a labelled URL rendered under a message (e.g. "Back to List").
type Link struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Message is a platform-neutral rich message. Plain notifications only set
// Content; bounty cards and lists use the embed-style fields.
type Message struct {
	Content     string   `json:"content,omitempty"`
	Title       string   `json:"title,omitempty"`
	URL         string   `json:"url,omitempty"`
	Description string   `json:"description,omitempty"`
	Color       int      `json:"color,omitempty"`
	Author      string   `json:"author,omitempty"`
	Fields      []Field  `json:"fields,omitempty"`
	Footer      string   `json:"footer,omitempty"`
	Actions     []string `json:"actions,omitempty"`
	Links       []Link   `json:"links,omitempty"`
}

// FieldValue returns the value of the first field named name.
func (m Message) FieldValue(name string) (string, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Input is one text input of a modal.
type Input struct {
	ID          string
	Label       string
	Placeholder string
	Value       string
	Multiline   bool
	Optional    bool
	MaxLength   int
}

// Modal is an interactive form presented to one user.
type Modal struct {
	Title  string
	Inputs []Input
}

// Interaction identifies the user gesture a modal is attached to. Platforms
// need it (e.g. a trigger id) to open a form for that user.
type Interaction struct {
	UserID    string
	ChannelID string
	Token     string
}

// Transport is the chat-platform surface consumed by the services.
//
// Implementations must be safe for concurrent use.
type Transport interface {
	SendMessage(ctx context.Context, channelID string, msg Message) (MessageRef, error)
	SendDirect(ctx context.Context, userID string, msg Message) (MessageRef, error)
	EditMessage(ctx context.Context, ref MessageRef, msg Message) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
	FetchMessage(ctx context.Context, ref MessageRef) (*Message, error)
	// Permalink returns a shareable link to a posted message.
	Permalink(ctx context.Context, ref MessageRef) (string, error)

	// PromptModal shows m and blocks until the user submits (values keyed by
	// Input.ID), dismisses it (ErrCancelled) or ctx expires (ErrTimeout).
	PromptModal(ctx context.Context, in Interaction, m Modal) (map[string]string, error)

	LookupUser(ctx context.Context, workspaceID, userID string) (domain.Identity, error)
	LookupRole(ctx context.Context, workspaceID, roleID string) (domain.Identity, error)
	// MemberRoles lists the role ids userID holds in the workspace.
	MemberRoles(ctx context.Context, workspaceID, userID string) ([]string, error)
}
