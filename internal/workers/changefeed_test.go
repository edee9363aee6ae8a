package workers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-bounty-bot/internal/domain"
	"github.com/tbourn/go-bounty-bot/internal/repo"
	"github.com/tbourn/go-bounty-bot/internal/services"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newBounty(t *testing.T, db *gorm.DB, title string) *domain.Bounty {
	t.Helper()
	now := time.Now().UTC()
	b := &domain.Bounty{
		CustomerID: "w1",
		Title:      title,
		Reward:     domain.Reward{Currency: "BANK", Amount: decimal.NewFromInt(10)},
		CreatedBy:  domain.Identity{ID: "u1", Handle: "alice"},
		DueAt:      now.Add(48 * time.Hour),
	}
	b.SetStatus(domain.StatusOpen, now)
	b.AppendActivity(domain.ActivityCreate, "bountybot", "u1", nil, now)
	if err := repo.CreateBounty(context.Background(), db, b); err != nil {
		t.Fatalf("CreateBounty: %v", err)
	}
	return b
}

type recordingHandler struct {
	mu     sync.Mutex
	events []services.ChangeEvent
	err    error
}

func (h *recordingHandler) HandleChange(_ context.Context, ev services.ChangeEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	return h.err
}

func (h *recordingHandler) seen() []services.ChangeEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]services.ChangeEvent(nil), h.events...)
}

func TestChangeFeed_SkipsHistory(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	newBounty(t, db, "before start")

	h := &recordingHandler{}
	f := &ChangeFeed{DB: db, Handler: h, Batch: 10}
	if err := f.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	n, err := f.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if n != 0 || len(h.seen()) != 0 {
		t.Fatalf("changes before start must not be delivered, got %d", n)
	}
}

func TestChangeFeed_DeliversLatestDocumentOncePerBatch(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	h := &recordingHandler{}
	f := &ChangeFeed{DB: db, Handler: h, Batch: 10}
	if err := f.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	a := newBounty(t, db, "a")
	a.AppendActivity(domain.ActivityClaim, "bountyboardweb", "u2", nil, time.Now())
	if err := repo.UpdateBounty(ctx, db, a); err != nil {
		t.Fatalf("UpdateBounty: %v", err)
	}
	b := newBounty(t, db, "b")

	n, err := f.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if n != 3 {
		t.Fatalf("rows read = %d, want 3", n)
	}
	evs := h.seen()
	if len(evs) != 2 {
		t.Fatalf("events = %d, want 2 (one per bounty)", len(evs))
	}
	if evs[0].FullDocument.ID != a.ID || evs[0].OperationType != domain.OpUpdate {
		t.Fatalf("first event = %s %s", evs[0].OperationType, evs[0].FullDocument.ID)
	}
	if last := evs[0].FullDocument.LastActivity(); last == nil || last.OriginWriter != "bountyboardweb" {
		t.Fatalf("first event should carry the latest document, last=%+v", last)
	}
	if evs[1].FullDocument.ID != b.ID || evs[1].OperationType != domain.OpInsert {
		t.Fatalf("second event = %s %s", evs[1].OperationType, evs[1].FullDocument.ID)
	}

	latest, _ := repo.LatestChangeID(ctx, db)
	if f.Cursor() != latest {
		t.Fatalf("cursor = %d, want %d", f.Cursor(), latest)
	}
	if n, _ := f.Poll(ctx); n != 0 {
		t.Fatalf("second poll should be empty, got %d", n)
	}
}

func TestChangeFeed_HandlerErrorAdvancesCursor(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	h := &recordingHandler{err: errors.New("boom")}
	f := &ChangeFeed{DB: db, Handler: h}
	if err := f.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	newBounty(t, db, "x")

	if _, err := f.Poll(ctx); err != nil {
		t.Fatalf("handler errors should not fail the poll: %v", err)
	}
	if n, _ := f.Poll(ctx); n != 0 {
		t.Fatalf("failed change should not be redelivered")
	}
}

func TestChangeFeed_MissingBountyIsSkipped(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	h := &recordingHandler{}
	f := &ChangeFeed{DB: db, Handler: h}
	if err := f.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	b := newBounty(t, db, "gone")
	if err := db.Delete(&domain.Bounty{}, "id = ?", b.ID).Error; err != nil {
		t.Fatalf("delete row: %v", err)
	}

	n, err := f.Poll(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Poll = %d, %v", n, err)
	}
	if len(h.seen()) != 0 {
		t.Fatalf("missing bounty should not be delivered")
	}
}

func TestChangeFeed_RunStopsOnCancel(t *testing.T) {
	db := newTestDB(t)
	h := &recordingHandler{}
	f := &ChangeFeed{DB: db, Handler: h, Interval: 5 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	if err := f.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
}
