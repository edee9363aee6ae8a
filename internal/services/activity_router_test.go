package services

import (
	"errors"
	"testing"

	"github.com/tbourn/go-bounty-bot/internal/domain"
	"github.com/tbourn/go-bounty-bot/internal/repo"
	"github.com/tbourn/go-bounty-bot/internal/transport"
)

// webIntent appends an activity entry the way the web board does: tagged
// with its own writer tag and nothing else changed.
func webIntent(t *testing.T, e *testEnv, id string, activity domain.Activity, actor string, params map[string]string) *domain.Bounty {
	t.Helper()
	b := e.reload(t, id)
	b.AppendActivity(activity, "bountyboardweb", actor, params, e.clock.Now())
	if err := repo.UpdateBounty(e.ctx, e.db, b); err != nil {
		t.Fatalf("UpdateBounty: %v", err)
	}
	return e.reload(t, id)
}

func TestSyncGuard_EchoIsDropped(t *testing.T) {
	e := newTestEnv(t)
	b := e.reload(t, e.publish(t, "u1", nil).ID)
	before, err := repo.LatestChangeID(e.ctx, e.db)
	if err != nil {
		t.Fatalf("LatestChangeID: %v", err)
	}
	e.tr.Reset()

	res, err := e.svc.Router.Dispatch(e.ctx, ChangeOrigin{Event: ChangeEvent{OperationType: domain.OpUpdate, FullDocument: b}})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !res.Skipped {
		t.Fatalf("echo should be skipped")
	}
	after, _ := repo.LatestChangeID(e.ctx, e.db)
	if after != before {
		t.Fatalf("echo produced writes: change id %d -> %d", before, after)
	}
	if calls := e.tr.Calls(); len(calls) != 0 {
		t.Fatalf("echo produced transport calls: %+v", calls)
	}
}

func TestSyncGuard_Outcomes(t *testing.T) {
	r := &ActivityRouter{BotWriterTag: "bot"}
	open := func(entries ...domain.ActivityEntry) *domain.Bounty {
		b := &domain.Bounty{ID: "b1", CustomerID: "w1", Status: domain.StatusOpen, ActivityHistory: entries}
		return b
	}
	cases := []struct {
		name     string
		doc      *domain.Bounty
		outcome  string
		activity domain.Activity
	}{
		{"nil document", nil, SyncInvalid, ""},
		{"no history", open(), SyncInvalid, ""},
		{"bot write", open(domain.ActivityEntry{Activity: domain.ActivityClaim, OriginWriter: "bot"}), SyncEcho, ""},
		{"web claim on open", open(domain.ActivityEntry{Activity: domain.ActivityClaim, OriginWriter: "web", ActorID: "u2"}), SyncApply, domain.ActivityClaim},
		{"web publish on open", open(domain.ActivityEntry{Activity: domain.ActivityPublish, OriginWriter: "web"}), SyncRefresh, domain.ActivityRefresh},
		{"web create", open(domain.ActivityEntry{Activity: domain.ActivityCreate, OriginWriter: "web"}), SyncRefresh, domain.ActivityRefresh},
		{"web tag", open(domain.ActivityEntry{Activity: domain.ActivityTag, OriginWriter: "web"}), SyncApply, domain.ActivityTag},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, outcome := r.SyncGuard(ChangeEvent{OperationType: domain.OpUpdate, FullDocument: tc.doc})
			if outcome != tc.outcome {
				t.Fatalf("outcome = %q, want %q", outcome, tc.outcome)
			}
			if tc.activity == "" {
				if req != nil {
					t.Fatalf("expected no request, got %+v", req)
				}
				return
			}
			if req == nil || req.Activity != tc.activity || req.Origin != OriginChange {
				t.Fatalf("unexpected request %+v", req)
			}
		})
	}
}

func TestHandleChange_WebClaimRunsTransition(t *testing.T) {
	e := newTestEnv(t)
	b := e.publish(t, "u1", nil)
	doc := webIntent(t, e, b.ID, domain.ActivityClaim, "u2", nil)

	// Claims replayed from the change feed do not need a wallet.
	if err := e.svc.Router.HandleChange(e.ctx, ChangeEvent{OperationType: domain.OpUpdate, FullDocument: doc}); err != nil {
		t.Fatalf("HandleChange: %v", err)
	}
	got := e.reload(t, b.ID)
	if got.Status != domain.StatusInProgress || got.ClaimedBy == nil || got.ClaimedBy.ID != "u2" {
		t.Fatalf("unexpected state: status=%q claimedBy=%+v", got.Status, got.ClaimedBy)
	}
	if last := got.LastActivity(); last.OriginWriter != "bountybot" {
		t.Fatalf("bot write must be tagged, last=%+v", last)
	}
	assertHistoryConsistent(t, got)

	// The resulting notification is our own echo.
	req, outcome := e.svc.Router.SyncGuard(ChangeEvent{OperationType: domain.OpUpdate, FullDocument: got})
	if req != nil || outcome != SyncEcho {
		t.Fatalf("expected echo, got %q %+v", outcome, req)
	}
}

func TestHandleChange_GuardFailureIsDropped(t *testing.T) {
	e := newTestEnv(t)
	b := e.publish(t, "u1", nil)
	doc := webIntent(t, e, b.ID, domain.ActivitySubmit, "u2", nil)

	if err := e.svc.Router.HandleChange(e.ctx, ChangeEvent{OperationType: domain.OpUpdate, FullDocument: doc}); err != nil {
		t.Fatalf("guard failures from the change feed should be dropped, got %v", err)
	}
	if got := e.reload(t, b.ID).Status; got != domain.StatusOpen {
		t.Fatalf("status = %q, want open", got)
	}
}

func TestReaction_ClaimFromCard(t *testing.T) {
	e := newTestEnv(t)
	b := e.reload(t, e.publish(t, "u1", nil).ID)
	e.registerWallet(t, "u2")
	card := transport.PointerFrom(b.CanonicalCard)

	res, err := e.svc.Router.Dispatch(e.ctx, ReactionOrigin{
		Symbol:      SymbolClaim,
		Actor:       domain.Identity{ID: "u2"},
		WorkspaceID: testWorkspace,
		Message:     card,
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Skipped {
		t.Fatalf("claim reaction should not be skipped")
	}
	if got := e.reload(t, b.ID).Status; got != domain.StatusInProgress {
		t.Fatalf("status = %q, want in_progress", got)
	}

	// The card now shows In-Progress, so another claim reaction maps to nothing.
	res, err = e.svc.Router.Dispatch(e.ctx, ReactionOrigin{
		Symbol:      SymbolClaim,
		Actor:       domain.Identity{ID: "u3"},
		WorkspaceID: testWorkspace,
		Message:     card,
	})
	if err != nil || !res.Skipped {
		t.Fatalf("claim on an in-progress card should be skipped, res=%+v err=%v", res, err)
	}
}

func TestReaction_UnmappedSymbolSkipped(t *testing.T) {
	e := newTestEnv(t)
	b := e.reload(t, e.publish(t, "u1", nil).ID)
	res, err := e.svc.Router.Dispatch(e.ctx, ReactionOrigin{
		Symbol:      "🎉",
		Actor:       domain.Identity{ID: "u2"},
		WorkspaceID: testWorkspace,
		Message:     transport.PointerFrom(b.CanonicalCard),
	})
	if err != nil || !res.Skipped {
		t.Fatalf("unmapped symbol should be skipped, res=%+v err=%v", res, err)
	}
}

func TestHandleActivity_Unknown(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.svc.Router.HandleActivity(e.ctx, e.command("dance", "u1", "", nil))
	if !errors.Is(err, ErrUnknownActivity) {
		t.Fatalf("expected ErrUnknownActivity, got %v", err)
	}
}

func TestReactionActivity(t *testing.T) {
	cases := []struct {
		symbol string
		status domain.Status
		want   domain.Activity
		ok     bool
	}{
		{SymbolPublish, domain.StatusDraft, domain.ActivityPublish, true},
		{SymbolPublish, domain.StatusOpen, domain.ActivityPublish, false},
		{SymbolClaim, domain.StatusOpen, domain.ActivityClaim, true},
		{SymbolClaim, domain.StatusInProgress, domain.ActivityClaim, false},
		{SymbolDelete, domain.StatusInProgress, domain.ActivityDelete, true},
		{SymbolHelp, domain.StatusInReview, domain.ActivityHelp, true},
		{"🎉", domain.StatusOpen, "", false},
	}
	for _, tc := range cases {
		got, ok := reactionActivity(tc.symbol, tc.status)
		if ok != tc.ok || (tc.want != "" && got != tc.want) {
			t.Fatalf("reactionActivity(%s, %s) = %q, %v; want %q, %v", tc.symbol, tc.status, got, ok, tc.want, tc.ok)
		}
	}
}
