package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tbourn/go-overlay-backend/internal/sse"
)

// postJSON sends an authenticated admin mutation.
func (env *testEnv) postJSON(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+env.token(t, sse.AudienceAdmin))
	w := httptest.NewRecorder()
	env.r.ServeHTTP(w, req)
	return w
}

func problemType(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var p Problem
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("not a problem document: %s", w.Body.String())
	}
	return p.Type
}

func TestDequeue_CompleteAndReplay(t *testing.T) {
	env := newTestEnv(t)
	entry := env.enqueue(t, "u1", "red-1")

	body := fmt.Sprintf(`{"broadcaster_id":%q,"entry_id":%q,"mode":"COMPLETE","op_id":"OP1"}`,
		env.b.ID, entry.ID)
	w := env.postJSON(t, "/api/queue/dequeue", body)
	if w.Code != http.StatusOK {
		t.Fatalf("complete: %d %s", w.Code, w.Body.String())
	}
	var res mutationResponse
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Version != 2 || res.Replayed {
		t.Fatalf("unexpected result: %+v", res)
	}

	// Retrying with the same op_id returns the original version.
	w = env.postJSON(t, "/api/queue/dequeue", body)
	if w.Code != http.StatusOK {
		t.Fatalf("replay: %d %s", w.Code, w.Body.String())
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Version != 2 || !res.Replayed {
		t.Fatalf("replay must return original version: %+v", res)
	}
}

func TestDequeue_UndoReportsRefundedCount(t *testing.T) {
	env := newTestEnv(t)
	entry := env.enqueue(t, "u1", "red-1")

	body := fmt.Sprintf(`{"broadcaster_id":%q,"entry_id":%q,"mode":"UNDO","op_id":"OP1"}`,
		env.b.ID, entry.ID)
	w := env.postJSON(t, "/api/queue/dequeue", body)
	if w.Code != http.StatusOK {
		t.Fatalf("undo: %d %s", w.Code, w.Body.String())
	}

	var res struct {
		Version int64 `json:"version"`
		Result  struct {
			EntryID        string `json:"entry_id"`
			Mode           string `json:"mode"`
			UserTodayCount *int   `json:"user_today_count"`
		} `json:"result"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Result.EntryID != entry.ID || res.Result.Mode != "UNDO" {
		t.Fatalf("unexpected result: %s", w.Body.String())
	}
	// UNDO refunds the daily count back to zero.
	if res.Result.UserTodayCount == nil || *res.Result.UserTodayCount != 0 {
		t.Fatalf("expected user_today_count 0: %s", w.Body.String())
	}
}

func TestDequeue_OpIDConflict(t *testing.T) {
	env := newTestEnv(t)
	first := env.enqueue(t, "u1", "red-1")
	second := env.enqueue(t, "u2", "red-2")

	ok := fmt.Sprintf(`{"broadcaster_id":%q,"entry_id":%q,"mode":"COMPLETE","op_id":"OP1"}`, env.b.ID, first.ID)
	if w := env.postJSON(t, "/api/queue/dequeue", ok); w.Code != http.StatusOK {
		t.Fatalf("seed complete: %d", w.Code)
	}

	// Same op_id, different entry: refused, no new command.
	conflict := fmt.Sprintf(`{"broadcaster_id":%q,"entry_id":%q,"mode":"COMPLETE","op_id":"OP1"}`, env.b.ID, second.ID)
	w := env.postJSON(t, "/api/queue/dequeue", conflict)
	if w.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected 412, got %d %s", w.Code, w.Body.String())
	}
	if got := problemType(t, w); got != ProblemOpIDConflict {
		t.Fatalf("expected op_id_conflict, got %q", got)
	}
}

func TestDequeue_TerminalAndMissingEntries(t *testing.T) {
	env := newTestEnv(t)
	entry := env.enqueue(t, "u1", "red-1")

	complete := fmt.Sprintf(`{"broadcaster_id":%q,"entry_id":%q,"mode":"COMPLETE","op_id":"OP1"}`, env.b.ID, entry.ID)
	if w := env.postJSON(t, "/api/queue/dequeue", complete); w.Code != http.StatusOK {
		t.Fatalf("complete: %d", w.Code)
	}

	// UNDO after COMPLETE: the entry is terminal.
	undo := fmt.Sprintf(`{"broadcaster_id":%q,"entry_id":%q,"mode":"UNDO","op_id":"OP2"}`, env.b.ID, entry.ID)
	w := env.postJSON(t, "/api/queue/dequeue", undo)
	if w.Code != http.StatusConflict || problemType(t, w) != ProblemAlreadyTerminal {
		t.Fatalf("expected 409 already_terminal, got %d %s", w.Code, w.Body.String())
	}

	// Unknown entry.
	missing := fmt.Sprintf(`{"broadcaster_id":%q,"entry_id":"nope","mode":"COMPLETE","op_id":"OP3"}`, env.b.ID)
	w = env.postJSON(t, "/api/queue/dequeue", missing)
	if w.Code != http.StatusNotFound || problemType(t, w) != ProblemEntryNotFound {
		t.Fatalf("expected 404 entry_not_found, got %d %s", w.Code, w.Body.String())
	}

	// Unknown broadcaster.
	alien := fmt.Sprintf(`{"broadcaster_id":"ghost","entry_id":%q,"mode":"COMPLETE","op_id":"OP4"}`, entry.ID)
	w = env.postJSON(t, "/api/queue/dequeue", alien)
	if w.Code != http.StatusNotFound || problemType(t, w) != ProblemTenantNotFound {
		t.Fatalf("expected 404 tenant_not_found, got %d %s", w.Code, w.Body.String())
	}
}

func TestDequeue_BadRequests(t *testing.T) {
	env := newTestEnv(t)
	entry := env.enqueue(t, "u1", "red-1")

	// Unsupported mode.
	bad := fmt.Sprintf(`{"broadcaster_id":%q,"entry_id":%q,"mode":"EXPEDITE","op_id":"OP1"}`, env.b.ID, entry.ID)
	if w := env.postJSON(t, "/api/queue/dequeue", bad); w.Code != http.StatusBadRequest {
		t.Fatalf("bad mode: %d", w.Code)
	}
	// Missing op_id.
	noOp := fmt.Sprintf(`{"broadcaster_id":%q,"entry_id":%q,"mode":"COMPLETE"}`, env.b.ID, entry.ID)
	if w := env.postJSON(t, "/api/queue/dequeue", noOp); w.Code != http.StatusBadRequest {
		t.Fatalf("missing op_id: %d", w.Code)
	}
}

func TestUpdateSettings_MergeAndValidation(t *testing.T) {
	env := newTestEnv(t)

	patch := `{"broadcaster_id":%q,"patch":{"policy":{"anti_spam_window_sec":120}},"op_id":"OPS1"}`
	w := env.postJSON(t, "/api/settings/update", fmt.Sprintf(patch, env.b.ID))
	if w.Code != http.StatusOK {
		t.Fatalf("settings update: %d %s", w.Code, w.Body.String())
	}
	var res mutationResponse
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil || res.Version != 1 {
		t.Fatalf("unexpected result: %s", w.Body.String())
	}

	// Invalid value: rejected, version unchanged.
	invalid := fmt.Sprintf(`{"broadcaster_id":%q,"patch":{"group_size":0},"op_id":"OPS2"}`, env.b.ID)
	w = env.postJSON(t, "/api/settings/update", invalid)
	if w.Code != http.StatusBadRequest || problemType(t, w) != ProblemInvalidPayload {
		t.Fatalf("expected 400 invalid_payload, got %d %s", w.Code, w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/state?broadcaster_id="+env.b.ID, nil)
	rec := httptest.NewRecorder()
	env.r.ServeHTTP(rec, req)
	if !strings.Contains(rec.Body.String(), `"anti_spam_window_sec":120`) {
		t.Fatalf("merged settings not visible in state: %s", rec.Body.String())
	}
}
