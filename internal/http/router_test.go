package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-bounty-bot/internal/config"
	"github.com/tbourn/go-bounty-bot/internal/domain"
	"github.com/tbourn/go-bounty-bot/internal/http/handlers"
	"github.com/tbourn/go-bounty-bot/internal/http/middleware"
	"github.com/tbourn/go-bounty-bot/internal/repo"
	"github.com/tbourn/go-bounty-bot/internal/services"
	"github.com/tbourn/go-bounty-bot/internal/transport/memory"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
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

func testConfig() config.Config {
	return config.Config{
		APIBasePath:    "/api/v1",
		RateRPS:        100,
		RateBurst:      50,
		CORS:           config.CORSConfig{AllowedOrigins: nil}, // allow-all branch
		Security:       config.SecurityConfig{EnableHSTS: false},
		OTEL:           config.OTELConfig{ServiceName: "test-svc"},
		IdempotencyTTL: time.Hour,
		WebWriterTag:   "bountyboardweb",
		BotWriterTag:   "bountybot",
	}
}

type server struct {
	t  *testing.T
	r  *gin.Engine
	db *gorm.DB
	tr *memory.Transport
}

func newServer(t *testing.T, cfg config.Config) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	tr := memory.New()
	svc := services.New(db, tr, services.Options{
		BotWriterTag:    cfg.BotWriterTag,
		BoardURL:        "https://board.test/",
		FallbackChannel: "ops",
		ModalTimeout:    50 * time.Millisecond,
		ConflictRetries: 3,
	})
	r := gin.New()
	RegisterRoutes(r, db, svc.Router, cfg)
	return &server{t: t, r: r, db: db, tr: tr}
}

func (s *server) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	s.t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			s.t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.r.ServeHTTP(w, req)
	return w
}

func as(user string) map[string]string {
	return map[string]string{middleware.HeaderUserID: user, middleware.HeaderWorkspaceID: "w1"}
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	s := newServer(t, testConfig())

	w := s.do(http.MethodGet, "/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}

	w = s.do(http.MethodGet, "/metrics", nil, nil)
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	w = s.do(http.MethodGet, "/nope", nil, nil)
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), `"code":"not_found"`) {
		t.Fatalf("GET /nope expected 404 envelope, got %d %s", w.Code, w.Body.String())
	}

	w = s.do(http.MethodPost, "/health", nil, nil)
	if w.Code != http.StatusMethodNotAllowed || !strings.Contains(w.Body.String(), `"code":"method_not_allowed"`) {
		t.Fatalf("POST /health expected 405 envelope, got %d %s", w.Code, w.Body.String())
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	cfg := testConfig()
	cfg.APIBasePath = "/api/v2"
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	s := newServer(t, cfg)

	w := s.do(http.MethodGet, "/health", nil, map[string]string{"Origin": "http://example.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}

	w = s.do(http.MethodGet, "/health", nil, map[string]string{"Origin": "http://evil.example"})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected ACAO for foreign origin: %q", got)
	}
}

func TestBountyLifecycleOverHTTP(t *testing.T) {
	s := newServer(t, testConfig())
	ctx := context.Background()

	w := s.do(http.MethodPut, "/api/v1/workspaces/w1", handlers.WorkspaceRequest{Name: "Test DAO", BountyChannel: "bounties", FallbackChannel: "ops"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT workspace = %d %s", w.Code, w.Body.String())
	}

	// Create and publish, retried with the same idempotency key.
	create := handlers.ActivityRequest{
		Activity: "create",
		Handle:   "alice",
		Params: map[string]string{
			"title":       "Write docs",
			"description": "Document the API",
			"criteria":    "Merged PR",
			"reward":      "100 BANK",
			"publish":     "true",
		},
	}
	headers := as("U1")
	headers[middleware.HeaderIdempotencyKey] = "create-write-docs"
	w = s.do(http.MethodPost, "/api/v1/activities", create, headers)
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", w.Code, w.Body.String())
	}
	if cc := w.Header().Get("Cache-Control"); !strings.Contains(cc, "no-store") {
		t.Fatalf("activity responses must not be cached, Cache-Control=%q", cc)
	}
	var created services.Result
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Bounty == nil || created.Bounty.Status != domain.StatusOpen {
		t.Fatalf("expected an open bounty, got %+v", created.Bounty)
	}
	id := created.Bounty.ID

	w = s.do(http.MethodPost, "/api/v1/activities", create, headers)
	if w.Code != http.StatusCreated || w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("replay = %d replayed=%q", w.Code, w.Header().Get("Idempotency-Replayed"))
	}
	if n, err := repo.CountBounties(ctx, s.db, repo.ListFilter{CustomerID: "w1"}); err != nil || n != 1 {
		t.Fatalf("replay must not create a second bounty: n=%d err=%v", n, err)
	}

	// Claiming without a wallet is refused; after registering it succeeds.
	claim := handlers.ActivityRequest{Activity: "claim", BountyID: id, Handle: "bob"}
	w = s.do(http.MethodPost, "/api/v1/activities", claim, as("U2"))
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("claim without wallet = %d %s", w.Code, w.Body.String())
	}
	w = s.do(http.MethodPost, "/api/v1/activities", handlers.ActivityRequest{
		Activity: "register-wallet",
		Params:   map[string]string{"address": "0x2222222222222222222222222222222222222222"},
	}, as("U2"))
	if w.Code != http.StatusOK {
		t.Fatalf("register-wallet = %d %s", w.Code, w.Body.String())
	}
	w = s.do(http.MethodPost, "/api/v1/activities", claim, as("U2"))
	if w.Code != http.StatusOK {
		t.Fatalf("claim = %d %s", w.Code, w.Body.String())
	}

	w = s.do(http.MethodGet, "/api/v1/bounties/"+id, nil, nil)
	var got domain.Bounty
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != domain.StatusInProgress || got.ClaimedBy == nil || got.ClaimedBy.ID != "U2" {
		t.Fatalf("unexpected bounty after claim: status=%s claimed=%+v", got.Status, got.ClaimedBy)
	}
	if last := got.LastActivity(); last == nil || last.OriginWriter != "bountybot" {
		t.Fatalf("bot writes must carry the bot tag, got %+v", last)
	}

	w = s.do(http.MethodGet, "/api/v1/workspaces/w1/bounties?status=in_progress&claimed_by=U2", nil, nil)
	var page handlers.ListBountiesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.Pagination.Total != 1 || len(page.Bounties) != 1 || page.Bounties[0].ID != id {
		t.Fatalf("unexpected list %+v", page)
	}

	// The board records an intent; the bot has not applied it yet.
	w = s.do(http.MethodPost, "/api/v1/web/bounties/"+id+"/activities", handlers.WebActivityRequest{
		Activity: "submit",
		Revision: &got.Revision,
		Params:   map[string]string{"notes": "done"},
	}, as("U2"))
	if w.Code != http.StatusAccepted {
		t.Fatalf("web submit = %d %s", w.Code, w.Body.String())
	}
	stored, err := repo.GetBounty(ctx, s.db, id)
	if err != nil {
		t.Fatalf("GetBounty: %v", err)
	}
	if stored.Status != domain.StatusInProgress || stored.LastActivity().OriginWriter != "bountyboardweb" {
		t.Fatalf("web path must only append the intent: status=%s last=%+v", stored.Status, stored.LastActivity())
	}

	// A second write with the stale revision is rejected.
	w = s.do(http.MethodPost, "/api/v1/web/bounties/"+id+"/activities", handlers.WebActivityRequest{
		Activity: "submit",
		Revision: &got.Revision,
	}, as("U2"))
	if w.Code != http.StatusConflict {
		t.Fatalf("stale web write = %d", w.Code)
	}
}

func TestRegisterRoutes_ActivityRequiresActor(t *testing.T) {
	s := newServer(t, testConfig())
	w := s.do(http.MethodPost, "/api/v1/activities", handlers.ActivityRequest{Activity: "list", WorkspaceID: "w1"}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestRegisterRoutes_BadIdempotencyKey(t *testing.T) {
	s := newServer(t, testConfig())
	headers := as("U1")
	headers[middleware.HeaderIdempotencyKey] = "has spaces!"
	w := s.do(http.MethodPost, "/api/v1/activities", handlers.ActivityRequest{Activity: "list"}, headers)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "bad_idempotency_key") {
		t.Fatalf("expected bad_idempotency_key, got %d %s", w.Code, w.Body.String())
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, rec.Code, rec.Body.String())
		}
	}
}
