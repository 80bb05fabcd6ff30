package domain

import (
	"fmt"
	"strings"
	"time"
)

// PatchKind enumerates the typed differences shipped to SSE subscribers.
type PatchKind string

// Supported patch kinds.
const (
	PatchQueueEnqueued     PatchKind = "queue.enqueued"
	PatchQueueRemoved      PatchKind = "queue.removed"
	PatchQueueCompleted    PatchKind = "queue.completed"
	PatchCounterUpdated    PatchKind = "counter.updated"
	PatchSettingsUpdated   PatchKind = "settings.updated"
	PatchRedemptionUpdated PatchKind = "redemption.updated"
	PatchStreamOnline      PatchKind = "stream.online"
	PatchStreamOffline     PatchKind = "stream.offline"
	PatchStateReplace      PatchKind = "state.replace"
)

// ParsePatchKind validates a wire value against the closed enumeration.
func ParsePatchKind(value string) (PatchKind, error) {
	switch k := PatchKind(value); k {
	case PatchQueueEnqueued, PatchQueueRemoved, PatchQueueCompleted,
		PatchCounterUpdated, PatchSettingsUpdated, PatchRedemptionUpdated,
		PatchStreamOnline, PatchStreamOffline, PatchStateReplace:
		return k, nil
	default:
		return "", fmt.Errorf("unknown patch kind %q", value)
	}
}

// Family returns the coarse filter family for subscription type filters:
// queue, counter, settings, redemption, stream, or state.
func (k PatchKind) Family() string {
	s := string(k)
	if i := strings.IndexByte(s, '.'); i > 0 {
		return s[:i]
	}
	return s
}

// Patch is one versioned difference emitted after a command applies. Within
// a broadcaster, versions are strictly increasing; subscribers apply patches
// in order, or accept a state.replace wholesale.
type Patch struct {
	Version int64     `json:"version"`
	Kind    PatchKind `json:"type"`
	At      time.Time `json:"at"`
	Data    any       `json:"data"`
}

// QueueEnqueuedData is the payload of a queue.enqueued patch.
type QueueEnqueuedData struct {
	Entry          QueueEntry `json:"entry"`
	UserTodayCount int        `json:"user_today_count"`
}

// QueueRemovedData is the payload of a queue.removed patch.
type QueueRemovedData struct {
	EntryID        string `json:"entry_id"`
	Reason         string `json:"reason"`
	UserTodayCount int    `json:"user_today_count"`
}

// QueueCompletedData is the payload of a queue.completed patch.
type QueueCompletedData struct {
	EntryID string `json:"entry_id"`
}

// CounterUpdatedData is the payload of a counter.updated patch.
type CounterUpdatedData struct {
	UserID string `json:"user_id"`
	Count  int    `json:"count"`
}

// SettingsUpdatedData carries the applied partial patch, not the merged
// document; clients merge it the same way the server did.
type SettingsUpdatedData struct {
	Patch any `json:"patch"`
}

// RedemptionUpdatedData is the payload of a redemption.updated patch.
type RedemptionUpdatedData struct {
	RedemptionID string `json:"redemption_id"`
	Mode         string `json:"mode"`
	Applicable   bool   `json:"applicable"`
	Result       string `json:"result"`
	Managed      bool   `json:"managed"`
	Error        string `json:"error,omitempty"`
}

// StateSnapshot is the full projection shipped by state.replace patches and
// the /api/state endpoint.
type StateSnapshot struct {
	Version       int64         `json:"version"`
	Queue         []QueueEntry  `json:"queue"`
	CountersToday []UserCounter `json:"counters_today"`
	Settings      Settings      `json:"settings"`
}

// UserCounter is a user's count for the current day.
type UserCounter struct {
	UserID string `json:"user_id"`
	Count  int    `json:"count"`
}

// StateReplaceData is the payload of a state.replace patch.
type StateReplaceData struct {
	State StateSnapshot `json:"state"`
}
