package repo

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSessionLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	open, err := GetOpenSession(ctx, db, "b-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if open != nil {
		t.Fatalf("no session expected: %+v", open)
	}

	s, err := OpenSession(ctx, db, uuid.NewString(), "b-1", start)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	open, err = GetOpenSession(ctx, db, "b-1")
	if err != nil {
		t.Fatalf("get open: %v", err)
	}
	if open == nil || open.ID != s.ID {
		t.Fatalf("expected open session %s, got %+v", s.ID, open)
	}

	end := start.Add(2 * time.Hour)
	if err := CloseSession(ctx, db, "b-1", end); err != nil {
		t.Fatalf("close: %v", err)
	}
	open, err = GetOpenSession(ctx, db, "b-1")
	if err != nil {
		t.Fatalf("get after close: %v", err)
	}
	if open != nil {
		t.Fatalf("session must be closed: %+v", open)
	}
}

func TestOpenSession_ClosesPreviousOpen(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	first, err := OpenSession(ctx, db, uuid.NewString(), "b-1", start)
	if err != nil {
		t.Fatalf("open first: %v", err)
	}

	// The offline event for the first session was lost; opening again must
	// leave at most one open session.
	second, err := OpenSession(ctx, db, uuid.NewString(), "b-1", start.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("open second: %v", err)
	}

	open, err := GetOpenSession(ctx, db, "b-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if open == nil || open.ID != second.ID {
		t.Fatalf("expected only the new session open, got %+v", open)
	}
	if open.ID == first.ID {
		t.Fatal("stale session left open")
	}
}

func TestCloseSession_NoOpenSessionIsNoop(t *testing.T) {
	db := newTestDB(t)
	if err := CloseSession(context.Background(), db, "b-1", time.Now().UTC()); err != nil {
		t.Fatalf("close without open session: %v", err)
	}
}
