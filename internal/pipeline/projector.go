package pipeline

import (
	"time"

	"github.com/tbourn/go-overlay-backend/internal/domain"
)

// Projector builds typed patches from command results. Each constructor is
// pure; the executor calls them with the version allocated inside its
// transaction and broadcasts the results after commit.
type Projector struct{}

// QueueEnqueued builds a queue.enqueued patch.
func (Projector) QueueEnqueued(version int64, at time.Time, entry domain.QueueEntry, userTodayCount int) domain.Patch {
	return domain.Patch{
		Version: version,
		Kind:    domain.PatchQueueEnqueued,
		At:      at,
		Data:    domain.QueueEnqueuedData{Entry: entry, UserTodayCount: userTodayCount},
	}
}

// QueueRemoved builds a queue.removed patch.
func (Projector) QueueRemoved(version int64, at time.Time, entryID, reason string, userTodayCount int) domain.Patch {
	return domain.Patch{
		Version: version,
		Kind:    domain.PatchQueueRemoved,
		At:      at,
		Data:    domain.QueueRemovedData{EntryID: entryID, Reason: reason, UserTodayCount: userTodayCount},
	}
}

// QueueCompleted builds a queue.completed patch.
func (Projector) QueueCompleted(version int64, at time.Time, entryID string) domain.Patch {
	return domain.Patch{
		Version: version,
		Kind:    domain.PatchQueueCompleted,
		At:      at,
		Data:    domain.QueueCompletedData{EntryID: entryID},
	}
}

// CounterUpdated builds a counter.updated patch.
func (Projector) CounterUpdated(version int64, at time.Time, userID string, count int) domain.Patch {
	return domain.Patch{
		Version: version,
		Kind:    domain.PatchCounterUpdated,
		At:      at,
		Data:    domain.CounterUpdatedData{UserID: userID, Count: count},
	}
}

// SettingsUpdated builds a settings.updated patch carrying the applied
// partial patch.
func (Projector) SettingsUpdated(version int64, at time.Time, patch any) domain.Patch {
	return domain.Patch{
		Version: version,
		Kind:    domain.PatchSettingsUpdated,
		At:      at,
		Data:    domain.SettingsUpdatedData{Patch: patch},
	}
}

// RedemptionUpdated builds a redemption.updated patch from the executed
// capability command.
func (Projector) RedemptionUpdated(version int64, at time.Time, cmd domain.RedemptionUpdateCommand) domain.Patch {
	return domain.Patch{
		Version: version,
		Kind:    domain.PatchRedemptionUpdated,
		At:      at,
		Data: domain.RedemptionUpdatedData{
			RedemptionID: cmd.RedemptionID,
			Mode:         cmd.Mode,
			Applicable:   cmd.Applicable,
			Result:       cmd.Result,
			Managed:      cmd.Managed,
			Error:        cmd.Error,
		},
	}
}

// StreamOnline builds a stream.online patch.
func (Projector) StreamOnline(version int64, at time.Time) domain.Patch {
	return domain.Patch{Version: version, Kind: domain.PatchStreamOnline, At: at, Data: struct{}{}}
}

// StreamOffline builds a stream.offline patch.
func (Projector) StreamOffline(version int64, at time.Time) domain.Patch {
	return domain.Patch{Version: version, Kind: domain.PatchStreamOffline, At: at, Data: struct{}{}}
}

// StateReplace builds the fallback full-snapshot patch issued on a ring
// miss. It carries the snapshot's own version and bypasses the contiguous
// version rule on the client.
func (Projector) StateReplace(at time.Time, snapshot domain.StateSnapshot) domain.Patch {
	return domain.Patch{
		Version: snapshot.Version,
		Kind:    domain.PatchStateReplace,
		At:      at,
		Data:    domain.StateReplaceData{State: snapshot},
	}
}
