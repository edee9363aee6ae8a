// Package services – Reconciler
//
// Reconciler is the periodic sweep over active repeat templates. For each
// template it either ends the template (its repeats are exhausted) or, when
// the latest occurrence is at least repeatDays old, silently deletes that
// occurrence if nobody claimed it and spawns the next one. Templates are
// processed independently: one failing template never stops the sweep.
package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/go-bounty-bot/internal/domain"
	"github.com/tbourn/go-bounty-bot/internal/repo"
)

// schedulerActor is recorded as the actor of automated activities.
const schedulerActor = "scheduler"

// ReconcileReport summarizes one pass.
type ReconcileReport struct {
	Templates int
	Spawned   []string
	Deleted   []string
	Exhausted []string
	Errors    []error
}

// Reconciler spawns and retires repeat occurrences.
type Reconciler struct {
	DB        *gorm.DB
	Lifecycle *LifecycleService
	Derived   *DerivedService
	Lists     *ListService
	Now       func() time.Time

	mu sync.Mutex
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

// Reconcile runs one pass. A call made while another pass is running
// returns ErrReconcileInProgress immediately.
func (r *Reconciler) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	if !r.mu.TryLock() {
		reconcilerRuns.WithLabelValues("skipped").Inc()
		return nil, ErrReconcileInProgress
	}
	defer r.mu.Unlock()

	tr := otel.Tracer("services/Reconciler")
	ctx, span := tr.Start(ctx, "Reconcile")
	defer span.End()

	templates, err := repo.ActiveRepeatTemplates(ctx, r.DB)
	if err != nil {
		reconcilerRuns.WithLabelValues("error").Inc()
		return nil, runtimeErr("list templates", err)
	}
	rep := &ReconcileReport{Templates: len(templates)}
	span.SetAttributes(attribute.Int("templates", len(templates)))

	touched := map[string]struct{}{}
	for i := range templates {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		tpl := &templates[i]
		spawned, err := r.reconcileTemplate(ctx, tpl, rep)
		if err != nil {
			log.Error().Err(err).Str("template_id", tpl.ID).Str("workspace_id", tpl.CustomerID).Msg("reconcile template")
			rep.Errors = append(rep.Errors, err)
		}
		if spawned {
			touched[tpl.CustomerID] = struct{}{}
		}
	}

	r.refreshListings(ctx, touched)

	outcome := "ok"
	if len(rep.Errors) > 0 {
		outcome = "partial"
	}
	reconcilerRuns.WithLabelValues(outcome).Inc()
	log.Info().
		Int("templates", rep.Templates).
		Int("spawned", len(rep.Spawned)).
		Int("deleted", len(rep.Deleted)).
		Int("exhausted", len(rep.Exhausted)).
		Int("errors", len(rep.Errors)).
		Msg("reconcile pass finished")
	return rep, nil
}

// reconcileTemplate handles one template and reports whether it spawned.
func (r *Reconciler) reconcileTemplate(ctx context.Context, tpl *domain.Bounty, rep *ReconcileReport) (bool, error) {
	tr := otel.Tracer("services/Reconciler")
	ctx, span := tr.Start(ctx, "reconcileTemplate",
		trace.WithAttributes(attribute.String("template.id", tpl.ID)),
	)
	defer span.End()

	now := r.now()
	count, err := repo.CountOccurrences(ctx, r.DB, tpl.ID)
	if err != nil {
		return false, runtimeErr("count occurrences", err)
	}
	if exhausted(tpl, count, now) {
		if err := r.Lifecycle.deleteTemplate(ctx, tpl.ID, schedulerActor, nil, noteRepeatsFinished); err != nil {
			return false, err
		}
		rep.Exhausted = append(rep.Exhausted, tpl.ID)
		return false, nil
	}

	latest, err := repo.LatestOccurrence(ctx, r.DB, tpl.ID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return false, runtimeErr("latest occurrence", err)
	}
	if latest != nil && !due(tpl, latest, now) {
		return false, nil
	}

	var errs []error
	if latest != nil && latest.Status == domain.StatusOpen {
		_, err := r.Lifecycle.Delete(ctx, Request{
			Activity:    domain.ActivityDelete,
			Actor:       domain.Identity{ID: schedulerActor},
			WorkspaceID: latest.CustomerID,
			BountyID:    latest.ID,
			Params:      map[string]string{"note": noteUnclaimedRepeat},
			Origin:      OriginScheduler,
		})
		if err != nil {
			errs = append(errs, err)
		} else {
			rep.Deleted = append(rep.Deleted, latest.ID)
		}
	}

	occ, err := r.Derived.SpawnOccurrence(ctx, tpl)
	if err != nil {
		return false, errors.Join(append(errs, err)...)
	}
	rep.Spawned = append(rep.Spawned, occ.ID)
	r.Lifecycle.project(ctx, occ, domain.ActivityCreate, ProjectOptions{Publish: true})
	return true, errors.Join(errs...)
}

// exhausted reports whether tpl has produced its last occurrence.
func exhausted(tpl *domain.Bounty, occurrences int64, now time.Time) bool {
	if tpl.NumRepeats > 0 && occurrences >= int64(tpl.NumRepeats) {
		return true
	}
	return tpl.EndRepeatsDate != nil && !now.Before(*tpl.EndRepeatsDate)
}

// due reports whether repeatDays have elapsed since latest was created.
func due(tpl *domain.Bounty, latest *domain.Bounty, now time.Time) bool {
	if tpl.RepeatDays <= 0 {
		return false
	}
	return now.Sub(latest.CreatedAt) >= time.Duration(tpl.RepeatDays)*24*time.Hour
}

// refreshListings re-renders the last list of each workspace. Failures are logged.
func (r *Reconciler) refreshListings(ctx context.Context, workspaces map[string]struct{}) {
	if r.Lists == nil || len(workspaces) == 0 {
		return
	}
	var g errgroup.Group
	g.SetLimit(4)
	for ws := range workspaces {
		g.Go(func() error {
			if err := r.Lists.RefreshListing(ctx, ws); err != nil {
				log.Warn().Err(err).Str("workspace_id", ws).Msg("refresh listing")
			}
			return nil
		})
	}
	_ = g.Wait()
}
