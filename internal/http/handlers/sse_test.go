package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tbourn/go-overlay-backend/internal/sse"
)

// streamFor runs an SSE request until the deadline elapses and returns the
// recorder. The handler exits when the request context is canceled.
func (env *testEnv) streamFor(t *testing.T, path string, d time.Duration) *httptest.ResponseRecorder {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, path, nil).WithContext(ctx)
	w := httptest.NewRecorder()
	env.r.ServeHTTP(w, req)
	return w
}

func TestSSE_RequiresToken(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/overlay/sse", nil)
	w := httptest.NewRecorder()
	env.r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized || problemType(t, w) != ProblemUnauthorized {
		t.Fatalf("expected 401 unauthorized, got %d %s", w.Code, w.Body.String())
	}
}

func TestSSE_RejectsWrongAudience(t *testing.T) {
	env := newTestEnv(t)

	// An overlay token must not open the admin stream.
	overlay := env.token(t, sse.AudienceOverlay)
	req := httptest.NewRequest(http.MethodGet, "/admin/sse?token="+overlay, nil)
	w := httptest.NewRecorder()
	env.r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestSSE_FreshClientGetsSnapshot(t *testing.T) {
	env := newTestEnv(t)
	env.enqueue(t, "u1", "red-1")
	env.enqueue(t, "u2", "red-2")

	tok := env.token(t, sse.AudienceOverlay)
	w := env.streamFor(t, "/overlay/sse?token="+tok, 80*time.Millisecond)

	body := w.Body.String()
	if !strings.Contains(body, `"type":"state.replace"`) {
		t.Fatalf("fresh client must get state.replace:\n%s", body)
	}
	if !strings.Contains(body, "id: 2\nevent: patch") {
		t.Fatalf("snapshot frame must carry the head version:\n%s", body)
	}
	if strings.Contains(body, `"type":"queue.enqueued"`) {
		t.Fatalf("fresh client must not get a per-patch replay:\n%s", body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: %q", ct)
	}
}

func TestSSE_ReplaysFromRing(t *testing.T) {
	env := newTestEnv(t)
	env.enqueue(t, "u1", "red-1")
	env.enqueue(t, "u2", "red-2")

	tok := env.token(t, sse.AudienceOverlay)
	w := env.streamFor(t, "/overlay/sse?token="+tok+"&since_version=1", 80*time.Millisecond)

	body := w.Body.String()
	if strings.Contains(body, `"type":"state.replace"`) {
		t.Fatalf("client within the ring must not get a snapshot:\n%s", body)
	}
	if !strings.Contains(body, "id: 2\nevent: patch") || !strings.Contains(body, `"type":"queue.enqueued"`) {
		t.Fatalf("missing replayed patch:\n%s", body)
	}
	if strings.Contains(body, "id: 1\n") {
		t.Fatalf("must not replay already-applied versions:\n%s", body)
	}
}

func TestSSE_ClientAtHeadGetsOnlyKeepalives(t *testing.T) {
	env := newTestEnv(t)
	env.enqueue(t, "u1", "red-1")
	env.enqueue(t, "u2", "red-2")

	tok := env.token(t, sse.AudienceOverlay)
	w := env.streamFor(t, "/overlay/sse?token="+tok+"&since_version=2", 80*time.Millisecond)

	body := w.Body.String()
	if strings.Contains(body, "event: patch") {
		t.Fatalf("client at head must get no frames:\n%s", body)
	}
	if !strings.Contains(body, ": keep-alive") {
		t.Fatalf("expected keepalive comments:\n%s", body)
	}
}

func TestSSE_ExpiredRingForcesSnapshot(t *testing.T) {
	env := newTestEnv(t)
	env.enqueue(t, "u1", "red-1")
	env.enqueue(t, "u2", "red-2")

	// Let the redelivery ring expire; a client at version 1 can no longer
	// be bridged patch-by-patch.
	env.fixed.Advance(3 * time.Minute)

	tok := env.token(t, sse.AudienceOverlay)
	w := env.streamFor(t, "/overlay/sse?token="+tok+"&since_version=1", 80*time.Millisecond)

	body := w.Body.String()
	if !strings.Contains(body, `"type":"state.replace"`) {
		t.Fatalf("ring miss must fall back to a snapshot:\n%s", body)
	}
}

func TestSSE_LiveDelivery(t *testing.T) {
	env := newTestEnv(t)
	env.enqueue(t, "u1", "red-1")

	tok := env.token(t, sse.AudienceOverlay)
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/overlay/sse?token="+tok+"&since_version=1", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		env.r.ServeHTTP(w, req)
	}()

	// Give the subscription time to register, then push a patch.
	time.Sleep(50 * time.Millisecond)
	env.enqueue(t, "u2", "red-2")
	time.Sleep(50 * time.Millisecond)
	cancel()
	wg.Wait()

	body := w.Body.String()
	if !strings.Contains(body, "id: 2\nevent: patch") || !strings.Contains(body, `"type":"queue.enqueued"`) {
		t.Fatalf("live patch not delivered:\n%s", body)
	}
}

func TestSSE_FamilyFilter(t *testing.T) {
	env := newTestEnv(t)
	env.enqueue(t, "u1", "red-1")
	env.enqueue(t, "u2", "red-2")

	tok := env.token(t, sse.AudienceOverlay)
	w := env.streamFor(t, "/overlay/sse?token="+tok+"&since_version=0&types=counter", 80*time.Millisecond)

	body := w.Body.String()
	if strings.Contains(body, `"type":"queue.enqueued"`) {
		t.Fatalf("filtered family leaked:\n%s", body)
	}
}
