package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-bounty-bot/internal/domain"
	"github.com/tbourn/go-bounty-bot/internal/repo"
	"github.com/tbourn/go-bounty-bot/internal/transport/memory"
)

const (
	testWorkspace = "w1"
	testChannel   = "bounties"
	testOps       = "ops"
	testWallet    = "0x1111111111111111111111111111111111111111"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	ctx   context.Context
	db    *gorm.DB
	tr    *memory.Transport
	clock *testClock
	svc   *Services
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// One connection: shared-cache memory databases lock tables across connections.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	ctx := context.Background()
	if err := repo.UpsertCustomer(ctx, db, &domain.Customer{
		CustomerID:      testWorkspace,
		Name:            "Test DAO",
		BountyChannel:   testChannel,
		FallbackChannel: testOps,
	}); err != nil {
		t.Fatalf("upsert customer: %v", err)
	}

	clock := &testClock{now: time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)}
	tr := memory.New()
	svc := New(db, tr, Options{
		BotWriterTag:    "bountybot",
		BoardURL:        "https://board.test/",
		FallbackChannel: testOps,
		ModalTimeout:    50 * time.Millisecond,
		ConflictRetries: 3,
		Now:             clock.Now,
	})
	return &testEnv{ctx: ctx, db: db, tr: tr, clock: clock, svc: svc}
}

func (e *testEnv) command(activity domain.Activity, actor, bountyID string, params map[string]string) Request {
	return Request{
		Activity:    activity,
		Actor:       domain.Identity{ID: actor},
		WorkspaceID: testWorkspace,
		BountyID:    bountyID,
		Params:      params,
		Origin:      OriginCommand,
		ChannelID:   testChannel,
	}
}

func (e *testEnv) createParams(extra map[string]string) map[string]string {
	p := map[string]string{
		"title":       "Write docs",
		"description": "Document the API",
		"criteria":    "Merged PR",
		"reward":      "100 BANK",
		"publish":     "true",
	}
	for k, v := range extra {
		p[k] = v
	}
	return p
}

// publish creates an open bounty owned by creator.
func (e *testEnv) publish(t *testing.T, creator string, extra map[string]string) *domain.Bounty {
	t.Helper()
	res, err := e.svc.Lifecycle.Create(e.ctx, e.command(domain.ActivityCreate, creator, "", e.createParams(extra)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return res.Bounty
}

func (e *testEnv) registerWallet(t *testing.T, userID string) {
	t.Helper()
	addr := testWallet
	if err := repo.UpsertWallet(e.ctx, e.db, userID, &addr); err != nil {
		t.Fatalf("UpsertWallet: %v", err)
	}
}

func (e *testEnv) claim(t *testing.T, id, claimant string) *Result {
	t.Helper()
	res, err := e.svc.Lifecycle.Claim(e.ctx, e.command(domain.ActivityClaim, claimant, id, nil))
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	return res
}

func (e *testEnv) reload(t *testing.T, id string) *domain.Bounty {
	t.Helper()
	b, err := repo.GetBounty(e.ctx, e.db, id)
	if err != nil {
		t.Fatalf("GetBounty(%s): %v", id, err)
	}
	return b
}

func assertHistoryConsistent(t *testing.T, b *domain.Bounty) {
	t.Helper()
	if len(b.StatusHistory) == 0 {
		t.Fatalf("bounty %s has empty status history", b.ID)
	}
	if last := b.StatusHistory[len(b.StatusHistory)-1].Status; last != b.Status {
		t.Fatalf("bounty %s: last history status %q != status %q", b.ID, last, b.Status)
	}
}
