package services

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-bounty-bot/internal/transport"
)

// notifier delivers best-effort direct messages. A failed DM is logged and
// reported in the operator channel; it never undoes the write that caused it.
type notifier struct {
	T               transport.Transport
	OperatorChannel string
}

// dm sends content to userID. operatorChannel overrides the default
// operator channel when non-empty.
func (n *notifier) dm(ctx context.Context, userID, operatorChannel, content string) error {
	if userID == "" {
		return nil
	}
	_, err := n.T.SendDirect(ctx, userID, transport.Message{Content: content})
	if err == nil {
		return nil
	}
	log.Warn().Err(err).Str("user_id", userID).Msg("direct message failed")

	ch := operatorChannel
	if ch == "" {
		ch = n.OperatorChannel
	}
	if ch != "" {
		msg := transport.Message{Content: "Could not send a direct message to <@" + userID + ">:\n" + content}
		if _, ferr := n.T.SendMessage(ctx, ch, msg); ferr != nil {
			log.Error().Err(ferr).Str("channel_id", ch).Str("user_id", userID).Msg("operator channel notice failed")
		}
	}
	return &NotificationPermissionError{UserID: userID, Err: err}
}
