package services

import (
	"github.com/tbourn/go-bounty-bot/internal/domain"
	"github.com/tbourn/go-bounty-bot/internal/transport"
)

// OriginKind names where a request came from.
type OriginKind string

const (
	OriginCommand   OriginKind = "command"
	OriginReaction  OriginKind = "reaction"
	OriginChange    OriginKind = "change"
	OriginScheduler OriginKind = "scheduler"
	OriginAPI       OriginKind = "api"
)

// Request is the normalized activity descriptor consumed by the lifecycle
// service, whatever origin produced it.
type Request struct {
	Activity    domain.Activity
	Actor       domain.Identity
	WorkspaceID string
	BountyID    string
	Params      map[string]string
	Origin      OriginKind

	// Interaction is set for origins that can show modals to the actor.
	Interaction *transport.Interaction
	// ChannelID is where a command was issued; used by listing.
	ChannelID string
}

// Param returns a trimmed parameter value.
func (r Request) Param(key string) string {
	if r.Params == nil {
		return ""
	}
	return trimmed(r.Params[key])
}

func (r Request) interactive() bool {
	return r.Interaction != nil && (r.Origin == OriginCommand || r.Origin == OriginReaction)
}

// Result is returned by successful activities.
type Result struct {
	Bounty *domain.Bounty `json:"bounty,omitempty"`
	// Card is where the bounty is rendered after the activity, if anywhere.
	Card *transport.MessageRef `json:"card,omitempty"`
	// Message is the confirmation shown to the actor.
	Message string `json:"message,omitempty"`
	// Skipped is set when the router dropped the request (echo, unmapped symbol).
	Skipped bool `json:"skipped,omitempty"`
}
