package handlers

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-overlay-backend/internal/clock"
	"github.com/tbourn/go-overlay-backend/internal/domain"
	"github.com/tbourn/go-overlay-backend/internal/repo"
	"github.com/tbourn/go-overlay-backend/internal/services"
	"github.com/tbourn/go-overlay-backend/internal/sse"
	"github.com/tbourn/go-overlay-backend/internal/tap"
)

const testWebhookSecret = "test-webhook-secret"

var testSigningKey = []byte("test-signing-key-material")

// testEnv is the full HTTP stack against a throwaway database.
type testEnv struct {
	db    *gorm.DB
	b     *domain.Broadcaster
	hub   *sse.Hub
	tp    *tap.Tap
	exec  *services.Executor
	fixed *clock.Fixed
	h     *Handler
	r     *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("handlers_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	db.Exec("PRAGMA busy_timeout=5000;")

	settings := domain.DefaultSettings()
	encoded, err := settings.Encode()
	if err != nil {
		t.Fatalf("encode settings: %v", err)
	}
	b := &domain.Broadcaster{
		ID:           uuid.NewString(),
		TwitchUserID: "tw-" + uuid.NewString()[:8],
		DisplayName:  "Streamer",
		Timezone:     "UTC",
		SettingsJSON: encoded,
	}
	if err := db.Create(b).Error; err != nil {
		t.Fatalf("seed broadcaster: %v", err)
	}

	// Token validation compares exp against the real clock, so the fixture
	// clock starts at the real now instead of a canned date.
	fixed := clock.NewFixed(time.Now().UTC().Truncate(time.Second))
	hub := sse.NewHub(1000, 2*time.Minute, fixed.Now)
	tp := tap.New(64)
	exec := &services.Executor{
		DB:    db,
		Sink:  hub,
		Tap:   tp,
		Clock: fixed,
		IDs:   clock.NewSequence("id"),
	}
	ing := &services.Ingest{
		DB:       db,
		Executor: exec,
		Tap:      tp,
		Clock:    fixed,
		IDs:      clock.NewSequence("ev"),
	}

	h := New(Handler{
		Ingest:        ing,
		State:         &services.State{DB: db, Clock: fixed},
		Admin:         &services.Admin{Executor: exec, Clock: fixed},
		Debug:         &services.Debug{DB: db, Clock: fixed},
		Hub:           hub,
		Tap:           tp,
		WebhookSecret: testWebhookSecret,
		SigningKey:    testSigningKey,
		Heartbeat:     20 * time.Millisecond,
		TokenTTL:      time.Hour,
		Clock:         fixed,
	})

	r := gin.New()
	r.POST("/eventsub/webhook", h.Webhook)
	r.GET("/api/state", h.GetState)
	r.POST("/api/queue/dequeue", h.RequireAdminToken(), h.Dequeue)
	r.POST("/api/settings/update", h.RequireAdminToken(), h.UpdateSettings)
	r.GET("/overlay/sse", h.OverlaySSE)
	r.GET("/admin/sse", h.AdminSSE)
	r.GET("/_debug/tap", h.TapStream)
	r.GET("/_debug/capture", h.Capture)
	r.POST("/_debug/replay", h.Replay)
	r.POST("/_debug/token", h.MintToken)

	return &testEnv{db: db, b: b, hub: hub, tp: tp, exec: exec, fixed: fixed, h: h, r: r}
}

// enqueue drives the executor directly to put one entry in the queue and
// returns the created entry.
func (env *testEnv) enqueue(t *testing.T, userID, redemptionID string) domain.QueueEntry {
	t.Helper()
	cmd := domain.EnqueueCommand{
		BroadcasterID: env.b.ID,
		IssuedAt:      env.fixed.Now(),
		Source:        domain.SourcePolicy,
		User:          domain.User{ID: userID, Login: userID, DisplayName: userID},
		Reward:        domain.Reward{ID: "r1", Title: "Join", Cost: 100},
		RedemptionID:  redemptionID,
	}
	if _, err := env.exec.Execute(context.Background(), env.b.ID, []domain.Command{cmd}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	entry, err := repo.GetEntryByRedemption(context.Background(), env.db, env.b.ID, redemptionID)
	if err != nil {
		t.Fatalf("fetch entry: %v", err)
	}
	return *entry
}

func (env *testEnv) token(t *testing.T, audience string) string {
	t.Helper()
	tok, err := sse.MintToken(testSigningKey, env.b.ID, audience, time.Hour, env.fixed.Now())
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return tok
}
