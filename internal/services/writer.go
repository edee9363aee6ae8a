package services

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gorm.io/gorm"

	"github.com/tbourn/go-bounty-bot/internal/domain"
	"github.com/tbourn/go-bounty-bot/internal/repo"
)

// recordWriter performs guarded read-modify-write cycles on one bounty.
//
// Each attempt re-reads the document, migrates legacy fields, runs the
// mutation (which holds the guard) and appends exactly one activity entry
// tagged with the bot's writer tag before the conditional update. Lost races
// (repo.ErrConflict) are retried with exponential backoff; anything the
// mutation returns is permanent.
type recordWriter struct {
	DB         *gorm.DB
	WriterTag  string
	MaxRetries int
	Now        func() time.Time
}

type mutation func(b *domain.Bounty, now time.Time) error

// errNoChange lets a mutation skip the write without failing.
var errNoChange = errors.New("no change")

func (w *recordWriter) now() time.Time {
	if w.Now != nil {
		return w.Now().UTC()
	}
	return time.Now().UTC()
}

func (w *recordWriter) policy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 10 * time.Millisecond
	eb.MaxInterval = 250 * time.Millisecond
	retries := w.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)
}

// apply runs fn against a fresh copy of bounty id and writes the result.
// It returns the written bounty; with errNoChange it returns the unmodified
// fresh read and nil.
func (w *recordWriter) apply(ctx context.Context, id string, activity domain.Activity, actorID string, params map[string]string, fn mutation) (*domain.Bounty, error) {
	var out *domain.Bounty
	op := func() error {
		b, err := repo.GetBounty(ctx, w.DB, id)
		if errors.Is(err, repo.ErrNotFound) {
			return backoff.Permanent(ErrBountyNotFound)
		}
		if err != nil {
			return backoff.Permanent(runtimeErr("read bounty", err))
		}
		b.MigrateLegacy()
		now := w.now()
		if err := fn(b, now); err != nil {
			if errors.Is(err, errNoChange) {
				out = b
				return nil
			}
			return backoff.Permanent(err)
		}
		b.AppendActivity(activity, w.WriterTag, actorID, params, now)
		if err := repo.UpdateBounty(ctx, w.DB, b); err != nil {
			if errors.Is(err, repo.ErrConflict) {
				return err
			}
			return backoff.Permanent(runtimeErr("write bounty", err))
		}
		out = b
		return nil
	}
	if err := backoff.Retry(op, w.policy(ctx)); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return out, nil
}

// retry runs op under the same conflict policy; op returns repo.ErrConflict
// to ask for another attempt.
func (w *recordWriter) retry(ctx context.Context, op func() error) error {
	err := backoff.Retry(func() error {
		err := op()
		if err == nil || errors.Is(err, repo.ErrConflict) {
			return err
		}
		return backoff.Permanent(err)
	}, w.policy(ctx))
	if errors.Is(err, repo.ErrConflict) {
		return ErrConflict
	}
	return err
}
