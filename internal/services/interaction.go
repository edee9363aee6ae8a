package services

import (
	"context"
	"errors"
	"time"

	"github.com/tbourn/go-bounty-bot/internal/transport"
)

const defaultModalTimeout = 60 * time.Second

// promptModal shows m to the interaction's user and waits at most timeout.
// Timeouts, cancellation and conflicting replies map to their own errors so
// callers can word the reply; nothing has been written when any of them occur.
func promptModal(ctx context.Context, t transport.Transport, timeout time.Duration, in *transport.Interaction, m transport.Modal) (map[string]string, error) {
	if in == nil {
		return nil, validationf("This action needs an interactive session. Please use the slash command instead.")
	}
	if timeout <= 0 {
		timeout = defaultModalTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	vals, err := t.PromptModal(ctx, *in, m)
	switch {
	case err == nil:
		return vals, nil
	case errors.Is(err, transport.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return nil, &TimeoutError{Modal: true}
	case errors.Is(err, transport.ErrCancelled), errors.Is(err, context.Canceled):
		return nil, ErrCancelled
	case errors.Is(err, transport.ErrConflictingMessage):
		return nil, &ConflictingMessageError{Err: err}
	default:
		return nil, runtimeErr("prompt modal", err)
	}
}
