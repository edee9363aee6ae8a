package services

import (
	"strings"
	"time"

	"github.com/tbourn/go-bounty-bot/internal/domain"
)

// deleteClaimWindow is how long after a claim an in_progress bounty may
// still be deleted by its creator.
const deleteClaimWindow = 24 * time.Hour

// transition describes one row of the lifecycle table. An empty to means the
// activity leaves the status unchanged.
type transition struct {
	from []domain.Status
	to   domain.Status
	verb string
	// allowed overrides the status list shown in guard messages.
	allowed string
}

var transitions = map[domain.Activity]transition{
	domain.ActivityPublish: {
		from: []domain.Status{domain.StatusDraft},
		to:   domain.StatusOpen,
		verb: "published",
	},
	domain.ActivityApply: {
		from: []domain.Status{domain.StatusOpen},
		verb: "applied for",
	},
	domain.ActivityAssign: {
		from: []domain.Status{domain.StatusOpen},
		verb: "assigned",
	},
	domain.ActivityClaim: {
		from: []domain.Status{domain.StatusOpen},
		to:   domain.StatusInProgress,
		verb: "claimed",
	},
	domain.ActivitySubmit: {
		from: []domain.Status{domain.StatusInProgress},
		to:   domain.StatusInReview,
		verb: "submitted",
	},
	domain.ActivityComplete: {
		from: []domain.Status{domain.StatusInProgress, domain.StatusInReview},
		to:   domain.StatusComplete,
		verb: "completed",
	},
	domain.ActivityPaid: {
		from: []domain.Status{domain.StatusInProgress, domain.StatusInReview, domain.StatusComplete},
		verb: "marked paid",
	},
	domain.ActivityDelete: {
		from:    []domain.Status{domain.StatusDraft, domain.StatusOpen, domain.StatusInProgress},
		to:      domain.StatusDeleted,
		verb:    "deleted",
		allowed: "draft, open",
	},
	domain.ActivityTag: {
		from: []domain.Status{domain.StatusDraft, domain.StatusOpen, domain.StatusInProgress, domain.StatusInReview, domain.StatusComplete},
		verb: "tagged",
	},
	domain.ActivityHelp: {
		from: []domain.Status{domain.StatusInProgress, domain.StatusInReview},
		verb: "escalated for help",
	},
}

// ResultStatus returns the status an activity leaves a bounty in, and false
// when the activity does not change status.
func ResultStatus(a domain.Activity) (domain.Status, bool) {
	t, ok := transitions[a]
	if !ok || t.to == "" {
		return "", false
	}
	return t.to, true
}

// checkStatus verifies the bounty's current status admits activity a.
func checkStatus(b *domain.Bounty, a domain.Activity, now time.Time) error {
	t, ok := transitions[a]
	if !ok {
		return ErrUnknownActivity
	}
	if b.Status == domain.StatusDeleted || !hasStatus(t.from, b.Status) {
		return guardError(b, t)
	}
	if a == domain.ActivityDelete && b.Status == domain.StatusInProgress {
		claimed, ok := b.ClaimedAt()
		if !ok || now.Sub(claimed) >= deleteClaimWindow {
			return guardError(b, t)
		}
	}
	return nil
}

func guardError(b *domain.Bounty, t transition) error {
	allowed := t.allowed
	if allowed == "" {
		names := make([]string, len(t.from))
		for i, s := range t.from {
			names[i] = string(s)
		}
		allowed = strings.Join(names, ", ")
	}
	return validationf("Sorry, bounty %s is %s. Only %s bounties may be %s.", b.ID, b.Status, allowed, t.verb)
}

func hasStatus(set []domain.Status, s domain.Status) bool {
	for _, x := range set {
		if x == s {
			return true
		}
	}
	return false
}

func requireCreator(b *domain.Bounty, actorID string, verb string) error {
	if b.CreatedBy.ID != actorID {
		return unauthorizedf("Sorry, only the bounty creator may %s bounty %s.", verb, b.ID)
	}
	return nil
}

// checkClaimant enforces the claim-side rules that do not need the platform:
// templates, for-user assignment and application requirements.
func checkClaimant(b *domain.Bounty, actorID string) error {
	if b.IsRepeatTemplate {
		return validationf("Sorry, bounty %s is a repeat template and cannot be claimed.", b.ID)
	}
	if b.CreatedBy.ID == actorID {
		return validationf("Sorry, you cannot claim your own bounty %s.", b.ID)
	}
	if b.AssignTo != nil && b.AssignTo.ID != actorID {
		if b.RequireApplication {
			return unauthorizedf("Sorry, bounty %s was assigned to another applicant.", b.ID)
		}
		return unauthorizedf("Sorry, bounty %s is reserved for %s.", b.ID, displayName(*b.AssignTo))
	}
	if b.RequireApplication && b.AssignTo == nil {
		return validationf("Sorry, bounty %s requires an application. Apply first and wait to be assigned.", b.ID)
	}
	return nil
}

// checkGate verifies the claimant holds one of the gating roles.
func checkGate(b *domain.Bounty, roles []string) error {
	if len(b.GateTo) == 0 {
		return nil
	}
	held := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		held[r] = struct{}{}
	}
	for _, g := range b.GateTo {
		if _, ok := held[g.ID]; ok {
			return nil
		}
	}
	return unauthorizedf("Sorry, bounty %s may only be claimed by members of %s.", b.ID, displayName(b.GateTo[0]))
}

func displayName(id domain.Identity) string {
	if id.Handle != "" {
		return id.Handle
	}
	return id.ID
}
