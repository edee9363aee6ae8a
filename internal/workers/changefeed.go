// Package workers runs the background loops of the bot: the change-feed
// watcher that turns store writes into ChangeEvents, and the scheduler that
// drives the repeat-template reconciler.
package workers

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-bounty-bot/internal/domain"
	"github.com/tbourn/go-bounty-bot/internal/repo"
	"github.com/tbourn/go-bounty-bot/internal/services"
)

// ChangeHandler consumes change notifications. *services.ActivityRouter
// implements it.
type ChangeHandler interface {
	HandleChange(ctx context.Context, ev services.ChangeEvent) error
}

// ChangeFeed tails the bounty change log and hands every changed document to
// Handler. Only changes written after Start are delivered.
type ChangeFeed struct {
	DB       *gorm.DB
	Handler  ChangeHandler
	Interval time.Duration
	Batch    int

	cursor  uint64
	started bool
}

// Start positions the cursor at the newest change so history is not replayed.
func (f *ChangeFeed) Start(ctx context.Context) error {
	id, err := repo.LatestChangeID(ctx, f.DB)
	if err != nil {
		return err
	}
	f.cursor = id
	f.started = true
	return nil
}

// Cursor returns the id of the last change handed to Handler.
func (f *ChangeFeed) Cursor() uint64 { return f.cursor }

// Run polls until ctx is cancelled. It returns nil on cancellation.
func (f *ChangeFeed) Run(ctx context.Context) error {
	if !f.started {
		if err := f.Start(ctx); err != nil {
			return err
		}
	}
	interval := f.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	log.Info().Uint64("cursor", f.cursor).Dur("interval", interval).Msg("change feed started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Uint64("cursor", f.cursor).Msg("change feed stopped")
			return nil
		case <-ticker.C:
		}
		// Drain full batches before waiting again.
		for {
			n, err := f.Poll(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Error().Err(err).Uint64("cursor", f.cursor).Msg("change feed poll failed")
				break
			}
			if n < f.batch() {
				break
			}
		}
	}
}

func (f *ChangeFeed) batch() int {
	if f.Batch <= 0 {
		return 100
	}
	return f.Batch
}

// Poll reads one batch of changes after the cursor and delivers them. Several
// rows for the same bounty in one batch are delivered once, since the
// document is read at delivery time anyway. Handler errors are logged and the
// cursor moves on; a store read error stops the batch so it is retried.
func (f *ChangeFeed) Poll(ctx context.Context) (int, error) {
	rows, err := repo.ChangesAfter(ctx, f.DB, f.cursor, f.batch())
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	last := make(map[string]int, len(rows))
	for i, r := range rows {
		last[r.BountyID] = i
	}

	for i, r := range rows {
		if last[r.BountyID] != i {
			f.cursor = r.ID
			continue
		}
		doc, err := repo.GetBounty(ctx, f.DB, r.BountyID)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			log.Warn().Str("bounty_id", r.BountyID).Uint64("change_id", r.ID).Msg("changed bounty no longer exists")
			f.cursor = r.ID
			continue
		case err != nil:
			return i, err
		}

		ev := services.ChangeEvent{OperationType: opFor(r), FullDocument: doc}
		if err := f.Handler.HandleChange(ctx, ev); err != nil {
			log.Error().Err(err).
				Str("bounty_id", r.BountyID).
				Str("workspace_id", doc.CustomerID).
				Uint64("change_id", r.ID).
				Msg("change event failed")
		}
		f.cursor = r.ID
	}
	return len(rows), nil
}

func opFor(r domain.BountyChange) string {
	if r.OperationType == "" {
		return domain.OpUpdate
	}
	return r.OperationType
}
