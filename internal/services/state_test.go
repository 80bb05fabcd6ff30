package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tbourn/go-overlay-backend/internal/domain"
)

func TestSnapshot_QueueOrderAndCounters(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	b := seedBroadcaster(t, db, domain.DefaultSettings())
	ex, _, fixed := newTestExecutor(t, db)

	// heavy redeems twice, then light once; light sorts first despite the
	// later enqueue because of the lower daily count.
	cmds := []domain.Command{
		enqueueCmd(b, "heavy", "r1", "red-1", fixed.Now()),
		enqueueCmd(b, "heavy", "r1", "red-2", fixed.Advance(time.Minute)),
		enqueueCmd(b, "light", "r1", "red-3", fixed.Advance(time.Minute)),
	}
	if _, err := ex.Execute(ctx, b.ID, cmds); err != nil {
		t.Fatalf("seed queue: %v", err)
	}

	state := &State{DB: db, Clock: fixed}
	snap, err := state.Snapshot(ctx, b.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	if snap.Version != 3 {
		t.Fatalf("version: %d", snap.Version)
	}
	if len(snap.Queue) != 3 || snap.Queue[0].UserID != "light" {
		t.Fatalf("queue order wrong: %+v", snap.Queue)
	}
	if len(snap.CountersToday) != 2 {
		t.Fatalf("counters: %+v", snap.CountersToday)
	}
	for _, c := range snap.CountersToday {
		want := 1
		if c.UserID == "heavy" {
			want = 2
		}
		if c.Count != want {
			t.Fatalf("counter for %s: got %d want %d", c.UserID, c.Count, want)
		}
	}
	if snap.Settings.GroupSize != 1 {
		t.Fatalf("settings missing from snapshot: %+v", snap.Settings)
	}
}

func TestSnapshot_ConsistentWithConcurrentWriter(t *testing.T) {
	db := newTestDB(t)
	if sqlDB, err := db.DB(); err == nil {
		// One connection keeps sqlite cooperative while a writer races the
		// snapshot loop below.
		sqlDB.SetMaxOpenConns(1)
	}
	ctx := context.Background()
	b := seedBroadcaster(t, db, domain.DefaultSettings())
	ex, _, fixed := newTestExecutor(t, db)
	state := &State{DB: db, Clock: fixed}

	const writes = 25
	done := make(chan error, 1)
	go func() {
		for i := 0; i < writes; i++ {
			cmd := enqueueCmd(b, fmt.Sprintf("u%d", i), "r1", fmt.Sprintf("red-%d", i), fixed.Now())
			if _, err := ex.Execute(ctx, b.ID, []domain.Command{cmd}); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	// Every enqueue adds one queue row, one counter unit, and one version;
	// a snapshot taken mid-stream must still agree with itself.
	check := func(snap domain.StateSnapshot) {
		t.Helper()
		total := 0
		for _, c := range snap.CountersToday {
			total += c.Count
		}
		if int64(len(snap.Queue)) != snap.Version || total != len(snap.Queue) {
			t.Fatalf("torn snapshot: version=%d queue=%d counters=%d",
				snap.Version, len(snap.Queue), total)
		}
	}

	for i := 0; i < 10; i++ {
		snap, err := state.Snapshot(ctx, b.ID)
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		check(snap)
	}
	if err := <-done; err != nil {
		t.Fatalf("writer: %v", err)
	}
	snap, err := state.Snapshot(ctx, b.ID)
	if err != nil {
		t.Fatalf("final snapshot: %v", err)
	}
	check(snap)
	if snap.Version != writes {
		t.Fatalf("expected version %d, got %d", writes, snap.Version)
	}
}

func TestSnapshot_UnknownBroadcaster(t *testing.T) {
	db := newTestDB(t)
	state := &State{DB: db}
	if _, err := state.Snapshot(context.Background(), "missing"); !errors.Is(err, ErrBroadcasterNotFound) {
		t.Fatalf("expected ErrBroadcasterNotFound, got %v", err)
	}
}

func TestSnapshot_EmptyTenant(t *testing.T) {
	db := newTestDB(t)
	b := seedBroadcaster(t, db, domain.DefaultSettings())

	state := &State{DB: db}
	snap, err := state.Snapshot(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Version != 0 || len(snap.Queue) != 0 || len(snap.CountersToday) != 0 {
		t.Fatalf("fresh tenant snapshot must be empty at version 0: %+v", snap)
	}
}
