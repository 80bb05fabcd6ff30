package services

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/tbourn/go-overlay-backend/internal/domain"
	"github.com/tbourn/go-overlay-backend/internal/repo"
)

func TestCaptureReplay_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	b := seedBroadcaster(t, db, domain.DefaultSettings())
	ing, sink, fixed, _ := newTestIngest(t, db)

	// Drive the live pipeline: two users, one duplicate delivery.
	p1 := redemptionPayload(b.TwitchUserID, "u1", "r1", "red-1", fixed.Now())
	if err := ing.Process(ctx, "msg-1", domain.EventTypeRedemptionAdd, p1); err != nil {
		t.Fatalf("msg-1: %v", err)
	}
	fixed.Advance(2 * time.Minute)
	p2 := redemptionPayload(b.TwitchUserID, "u2", "r1", "red-2", fixed.Now())
	if err := ing.Process(ctx, "msg-2", domain.EventTypeRedemptionAdd, p2); err != nil {
		t.Fatalf("msg-2: %v", err)
	}

	debug := &Debug{DB: db, Clock: fixed}
	capture, err := debug.Capture(ctx, b.ID, time.Time{}, 0)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if lines := bytes.Count(capture, []byte("\n")); lines != 3 {
		t.Fatalf("expected header + 2 deliveries, got %d lines", lines)
	}

	report, err := debug.Replay(ctx, capture)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if report.Events != 2 || report.Duplicates != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}

	// The replayed final state matches the live state.
	live, err := (&State{DB: db, Clock: fixed}).Snapshot(ctx, b.ID)
	if err != nil {
		t.Fatalf("live snapshot: %v", err)
	}
	if report.Final.Version != live.Version {
		t.Fatalf("replay version %d != live %d", report.Final.Version, live.Version)
	}
	if len(report.Final.Queue) != len(live.Queue) {
		t.Fatalf("replay queue %d entries, live %d", len(report.Final.Queue), len(live.Queue))
	}
	for i := range live.Queue {
		if report.Final.Queue[i].UserID != live.Queue[i].UserID {
			t.Fatalf("queue diverged at %d: %+v vs %+v", i, report.Final.Queue[i], live.Queue[i])
		}
	}

	// Replay never touched the durable store.
	if current, _ := repo.CurrentVersion(ctx, db, b.ID); current != live.Version {
		t.Fatalf("durable version moved during replay: %d", current)
	}
	patches := len(sink.all())
	if patches != 2 {
		t.Fatalf("durable pipeline re-broadcast during replay: %d patches", patches)
	}
}

func TestReplay_RejectsGarbage(t *testing.T) {
	debug := &Debug{DB: newTestDB(t)}
	if _, err := debug.Replay(context.Background(), nil); err == nil {
		t.Fatal("empty capture must fail")
	}
	if _, err := debug.Replay(context.Background(), []byte("not json\n")); err == nil {
		t.Fatal("invalid header must fail")
	}
}

func TestCapture_UnknownBroadcaster(t *testing.T) {
	debug := &Debug{DB: newTestDB(t)}
	if _, err := debug.Capture(context.Background(), "missing", time.Time{}, 0); err == nil {
		t.Fatal("unknown broadcaster must fail")
	}
}
