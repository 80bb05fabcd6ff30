package sse

import (
	"testing"
	"time"

	"github.com/tbourn/go-overlay-backend/internal/domain"
)

func patchAt(version int64, kind domain.PatchKind, at time.Time) domain.Patch {
	return domain.Patch{Version: version, Kind: kind, At: at, Data: struct{}{}}
}

func TestBroadcast_DeliversInOrder(t *testing.T) {
	h := NewHub(100, time.Minute, nil)
	sub, replay, replace := h.Subscribe("b-1", AudienceOverlay, -1, nil)
	defer h.Unsubscribe("b-1", AudienceOverlay, sub)
	if len(replay) != 0 || !replace {
		t.Fatalf("fresh client must start from a snapshot: replay=%d replace=%v", len(replay), replace)
	}

	now := time.Now().UTC()
	h.Broadcast("b-1", []domain.Patch{
		patchAt(1, domain.PatchQueueEnqueued, now),
		patchAt(2, domain.PatchCounterUpdated, now),
	})

	for want := int64(1); want <= 2; want++ {
		select {
		case ev := <-sub.C():
			if ev.Version != want {
				t.Fatalf("order broken: want %d, got %d", want, ev.Version)
			}
		case <-time.After(time.Second):
			t.Fatalf("event %d not delivered", want)
		}
	}
}

func TestBroadcast_TenantIsolation(t *testing.T) {
	h := NewHub(100, time.Minute, nil)
	sub, _, _ := h.Subscribe("b-2", AudienceOverlay, -1, nil)
	defer h.Unsubscribe("b-2", AudienceOverlay, sub)

	h.Broadcast("b-1", []domain.Patch{patchAt(1, domain.PatchQueueEnqueued, time.Now().UTC())})

	select {
	case ev := <-sub.C():
		t.Fatalf("cross-tenant delivery: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribe_ReplayFromRing(t *testing.T) {
	h := NewHub(100, time.Minute, nil)
	now := time.Now().UTC()
	h.Broadcast("b-1", []domain.Patch{
		patchAt(1, domain.PatchQueueEnqueued, now),
		patchAt(2, domain.PatchQueueCompleted, now),
		patchAt(3, domain.PatchCounterUpdated, now),
	})

	sub, replay, replace := h.Subscribe("b-1", AudienceOverlay, 1, nil)
	defer h.Unsubscribe("b-1", AudienceOverlay, sub)
	if replace {
		t.Fatal("ring holds the gap, no snapshot needed")
	}
	if len(replay) != 2 || replay[0].Version != 2 || replay[1].Version != 3 {
		t.Fatalf("unexpected replay: %+v", replay)
	}

	// Client already at the head needs nothing.
	head, replay, replace := h.Subscribe("b-1", AudienceOverlay, 3, nil)
	defer h.Unsubscribe("b-1", AudienceOverlay, head)
	if len(replay) != 0 || replace {
		t.Fatalf("head client must continue live: replay=%d replace=%v", len(replay), replace)
	}
}

func TestSubscribe_RingMissForcesReplace(t *testing.T) {
	h := NewHub(2, time.Minute, nil)
	now := time.Now().UTC()
	h.Broadcast("b-1", []domain.Patch{
		patchAt(1, domain.PatchQueueEnqueued, now),
		patchAt(2, domain.PatchQueueEnqueued, now),
		patchAt(3, domain.PatchQueueEnqueued, now),
	})

	// Versions 1 fell out of the 2-entry ring; a client at 0 cannot be
	// served contiguously.
	sub, replay, replace := h.Subscribe("b-1", AudienceOverlay, 0, nil)
	defer h.Unsubscribe("b-1", AudienceOverlay, sub)
	if !replace {
		t.Fatal("ring miss must force state.replace")
	}
	if len(replay) != 0 {
		t.Fatalf("no partial replay on a miss: %+v", replay)
	}
}

func TestSubscribe_TTLExpiryForcesReplace(t *testing.T) {
	current := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return current }
	h := NewHub(100, 30*time.Second, now)

	h.Broadcast("b-1", []domain.Patch{patchAt(1, domain.PatchQueueEnqueued, current)})
	current = current.Add(time.Minute)
	h.Broadcast("b-1", []domain.Patch{patchAt(2, domain.PatchQueueEnqueued, current)})

	sub, replay, replace := h.Subscribe("b-1", AudienceOverlay, 0, nil)
	defer h.Unsubscribe("b-1", AudienceOverlay, sub)
	if !replace {
		t.Fatalf("expired ring entries must force replace: replay=%+v", replay)
	}
}

func TestSubscribe_FamilyFilter(t *testing.T) {
	h := NewHub(100, time.Minute, nil)
	sub, _, _ := h.Subscribe("b-1", AudienceOverlay, -1, []string{"queue"})
	defer h.Unsubscribe("b-1", AudienceOverlay, sub)

	now := time.Now().UTC()
	h.Broadcast("b-1", []domain.Patch{
		patchAt(1, domain.PatchCounterUpdated, now),
		patchAt(2, domain.PatchQueueEnqueued, now),
	})

	select {
	case ev := <-sub.C():
		if ev.Kind != domain.PatchQueueEnqueued {
			t.Fatalf("filter leaked %s", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("filtered event not delivered")
	}
}

func TestBroadcast_SlowSubscriberDisconnected(t *testing.T) {
	h := NewHub(10000, time.Minute, nil)
	sub, _, _ := h.Subscribe("b-1", AudienceOverlay, -1, nil)

	now := time.Now().UTC()
	patches := make([]domain.Patch, subscriberBuffer+10)
	for i := range patches {
		patches[i] = patchAt(int64(i+1), domain.PatchQueueEnqueued, now)
	}

	done := make(chan struct{})
	go func() {
		h.Broadcast("b-1", patches)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on slow subscriber")
	}

	// Drain: the channel must end closed rather than stalled.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-sub.C():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("slow subscriber never disconnected")
		}
	}
}
