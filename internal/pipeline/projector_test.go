package pipeline

import (
	"testing"
	"time"

	"github.com/tbourn/go-overlay-backend/internal/domain"
)

func TestProjector_QueueEnqueued(t *testing.T) {
	var p Projector
	at := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	entry := domain.QueueEntry{ID: "e-1", BroadcasterID: "b-1", Status: domain.StatusQueued}

	patch := p.QueueEnqueued(7, at, entry, 3)
	if patch.Version != 7 || patch.Kind != domain.PatchQueueEnqueued {
		t.Fatalf("unexpected patch: %+v", patch)
	}
	data := patch.Data.(domain.QueueEnqueuedData)
	if data.Entry.ID != "e-1" || data.UserTodayCount != 3 {
		t.Fatalf("unexpected data: %+v", data)
	}
}

func TestProjector_QueueRemovedAndCompleted(t *testing.T) {
	var p Projector
	at := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	rm := p.QueueRemoved(8, at, "e-1", domain.ReasonUndo, 2)
	rmData := rm.Data.(domain.QueueRemovedData)
	if rm.Kind != domain.PatchQueueRemoved || rmData.Reason != domain.ReasonUndo || rmData.UserTodayCount != 2 {
		t.Fatalf("unexpected remove patch: %+v", rm)
	}

	done := p.QueueCompleted(9, at, "e-1")
	if done.Kind != domain.PatchQueueCompleted || done.Data.(domain.QueueCompletedData).EntryID != "e-1" {
		t.Fatalf("unexpected complete patch: %+v", done)
	}
}

func TestProjector_RedemptionUpdated(t *testing.T) {
	var p Projector
	at := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	cmd := domain.RedemptionUpdateCommand{
		RedemptionID: "red-1",
		Mode:         domain.UpdateModeRefund,
		Applicable:   true,
		Result:       domain.ResultOK,
	}

	patch := p.RedemptionUpdated(4, at, cmd)
	data := patch.Data.(domain.RedemptionUpdatedData)
	if data.RedemptionID != "red-1" || data.Mode != domain.UpdateModeRefund || data.Result != domain.ResultOK {
		t.Fatalf("unexpected data: %+v", data)
	}
}

func TestProjector_StateReplace_UsesSnapshotVersion(t *testing.T) {
	var p Projector
	at := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	snap := domain.StateSnapshot{Version: 42, Settings: domain.DefaultSettings()}

	patch := p.StateReplace(at, snap)
	if patch.Kind != domain.PatchStateReplace {
		t.Fatalf("unexpected kind: %s", patch.Kind)
	}
	if patch.Version != 42 {
		t.Fatalf("state.replace must carry the snapshot version, got %d", patch.Version)
	}
	if patch.Data.(domain.StateReplaceData).State.Version != 42 {
		t.Fatalf("unexpected data: %+v", patch.Data)
	}
}
