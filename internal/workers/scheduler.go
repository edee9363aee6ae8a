package workers

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-bounty-bot/internal/services"
)

// Reconcilable runs one reconciliation pass. *services.Reconciler implements it.
type Reconcilable interface {
	Reconcile(ctx context.Context) (*services.ReconcileReport, error)
}

// Scheduler runs the reconciler every Interval. Runs never overlap: a pass
// that is still busy when the next tick fires pushes that tick back.
type Scheduler struct {
	Reconciler Reconcilable
	Interval   time.Duration
	// Immediate runs the first pass at start instead of after one Interval.
	Immediate bool
}

// Run starts the job and blocks until ctx is cancelled, then shuts the
// scheduler down and waits for a running pass to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}

	opts := []gocron.JobOption{
		gocron.WithName("reconcile-repeats"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}
	if s.Immediate {
		opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}
	if _, err := sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { s.RunOnce(ctx) }),
		opts...,
	); err != nil {
		_ = sched.Shutdown()
		return err
	}

	sched.Start()
	log.Info().Dur("interval", interval).Msg("reconcile scheduler started")
	<-ctx.Done()

	if err := sched.Shutdown(); err != nil {
		return err
	}
	log.Info().Msg("reconcile scheduler stopped")
	return nil
}

// RunOnce performs one pass and logs its report. A pass that finds another
// one in progress is skipped quietly.
func (s *Scheduler) RunOnce(ctx context.Context) *services.ReconcileReport {
	if ctx.Err() != nil {
		return nil
	}
	start := time.Now()
	rep, err := s.Reconciler.Reconcile(ctx)
	switch {
	case errors.Is(err, services.ErrReconcileInProgress):
		log.Debug().Msg("reconcile pass skipped, previous pass still running")
		return nil
	case err != nil:
		log.Error().Err(err).Msg("reconcile pass failed")
		return nil
	}

	ev := log.Info()
	if len(rep.Errors) > 0 {
		ev = log.Warn().Errs("errors", rep.Errors)
	}
	ev.Int("templates", rep.Templates).
		Int("spawned", len(rep.Spawned)).
		Int("deleted", len(rep.Deleted)).
		Int("exhausted", len(rep.Exhausted)).
		Dur("took", time.Since(start)).
		Msg("reconcile pass done")
	return rep
}
