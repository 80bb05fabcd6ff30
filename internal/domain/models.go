// Package domain defines the persistence models and the typed event,
// command, and patch values that flow through the redemption pipeline.
// The persistence types are mapped with GORM and shared by the repository
// and service layers.
package domain

import "time"

// Queue entry statuses. COMPLETED and REMOVED are terminal: once an entry
// reaches either, no further transition is accepted.
const (
	StatusQueued    = "QUEUED"
	StatusCompleted = "COMPLETED"
	StatusRemoved   = "REMOVED"
)

// Reasons recorded when an entry leaves the queue without completion.
const (
	ReasonUndo             = "UNDO"
	ReasonStreamStartClear = "STREAM_START_CLEAR"
	ReasonExplicitRemove   = "EXPLICIT_REMOVE"
)

// Broadcaster is a tenant: an isolated scope of queue state, counters,
// settings, and versions. Broadcasters are provisioned out-of-band; the
// pipeline reads but never creates them.
//
// Fields:
//   - ID: stable opaque internal id (UUID).
//   - TwitchUserID: the upstream broadcaster id events arrive under.
//   - Timezone: IANA zone name used to compute daily-counter day boundaries.
//   - SettingsJSON: serialized Settings document (see settings.go).
type Broadcaster struct {
	ID           string    `json:"id"              gorm:"type:char(36);primaryKey"`
	TwitchUserID string    `json:"twitch_user_id"  gorm:"type:varchar(64);not null;uniqueIndex"`
	DisplayName  string    `json:"display_name"    gorm:"type:varchar(255);not null"`
	Timezone     string    `json:"timezone"        gorm:"type:varchar(64);not null;default:'UTC'"`
	SettingsJSON string    `json:"-"               gorm:"type:text;not null;default:'{}'"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for Broadcaster.
func (Broadcaster) TableName() string { return "broadcasters" }

// QueueEntry is one redeemed slot in a broadcaster's queue.
//
// RedemptionID, when present, is unique per broadcaster: the same upstream
// redemption can never produce two entries. Status transitions are
// QUEUED→COMPLETED or QUEUED→REMOVED only.
type QueueEntry struct {
	ID              string     `json:"id"                      gorm:"type:char(36);primaryKey"`
	BroadcasterID   string     `json:"broadcaster_id"          gorm:"type:char(36);not null;index:idx_queue_broadcaster"`
	UserID          string     `json:"user_id"                 gorm:"type:varchar(64);not null"`
	UserLogin       string     `json:"user_login"              gorm:"type:varchar(64);not null"`
	UserDisplayName string     `json:"user_display_name"       gorm:"type:varchar(255);not null"`
	UserAvatar      *string    `json:"user_avatar,omitempty"   gorm:"type:varchar(512)"`
	RewardID        string     `json:"reward_id"               gorm:"type:varchar(64);not null"`
	RedemptionID    *string    `json:"redemption_id,omitempty" gorm:"type:varchar(64);uniqueIndex:ux_queue_redemption"`
	EnqueuedAt      time.Time  `json:"enqueued_at"             gorm:"not null;index"`
	Status          string     `json:"status"                  gorm:"type:varchar(16);not null;check:status IN ('QUEUED','COMPLETED','REMOVED')"`
	StatusReason    *string    `json:"status_reason,omitempty" gorm:"type:varchar(32)"`
	Managed         bool       `json:"managed"                 gorm:"not null;default:false"`
	LastUpdatedAt   time.Time  `json:"last_updated_at"         gorm:"not null"`
}

// TableName returns the database table name for QueueEntry.
func (QueueEntry) TableName() string { return "queue_entries" }

// Terminal reports whether the entry status admits no further transitions.
func (e QueueEntry) Terminal() bool {
	return e.Status == StatusCompleted || e.Status == StatusRemoved
}

// DailyCounter tracks how many entries a user accrued on a given day. The
// day string is the enqueue instant projected into the broadcaster's zone,
// formatted as YYYY-MM-DD. Counters are permanent; UNDO removals decrement.
type DailyCounter struct {
	Day           string    `json:"day"            gorm:"type:char(10);primaryKey"`
	BroadcasterID string    `json:"broadcaster_id" gorm:"type:char(36);primaryKey"`
	UserID        string    `json:"user_id"        gorm:"type:varchar(64);primaryKey"`
	Count         int       `json:"count"          gorm:"not null;default:0"`
	UpdatedAt     time.Time `json:"updated_at"     gorm:"not null"`
}

// TableName returns the database table name for DailyCounter.
func (DailyCounter) TableName() string { return "daily_counters" }

// EventRecord is the durable copy of one inbound webhook delivery. MsgID is
// the upstream message id and is globally unique; a duplicate insert is the
// primary idempotency signal for redelivered webhooks. Records are pruned
// after 72 hours by the maintenance worker.
type EventRecord struct {
	ID            string    `json:"id"             gorm:"type:char(36);primaryKey"`
	BroadcasterID string    `json:"broadcaster_id" gorm:"type:char(36);not null;index"`
	MsgID         string    `json:"msg_id"         gorm:"type:varchar(128);not null;uniqueIndex"`
	EventType     string    `json:"event_type"     gorm:"type:varchar(128);not null"`
	PayloadJSON   string    `json:"-"              gorm:"type:text;not null"`
	EventAt       time.Time `json:"event_at"       gorm:"not null"`
	ReceivedAt    time.Time `json:"received_at"    gorm:"not null;index"`
}

// TableName returns the database table name for EventRecord.
func (EventRecord) TableName() string { return "event_records" }

// CommandLog is the per-broadcaster append-only log of applied commands.
// (BroadcasterID, Version) is the primary key; versions are contiguous and
// strictly increasing per broadcaster. OpID is the client idempotency key
// for administrative commands; (BroadcasterID, OpID) is unique when OpID is
// non-null. Rows are pruned after 72 hours without touching the version
// index.
type CommandLog struct {
	BroadcasterID string    `json:"broadcaster_id" gorm:"type:char(36);primaryKey"`
	Version       int64     `json:"version"        gorm:"primaryKey;autoIncrement:false"`
	OpID          *string   `json:"op_id,omitempty" gorm:"type:varchar(128);uniqueIndex:ux_command_op"`
	Type          string    `json:"type"           gorm:"type:varchar(64);not null"`
	PayloadJSON   string    `json:"payload"        gorm:"type:text;not null"`
	CreatedAt     time.Time `json:"created_at"     gorm:"not null;index"`
}

// TableName returns the database table name for CommandLog.
func (CommandLog) TableName() string { return "command_log" }

// StateIndex stores the current command-log version per broadcaster. It is
// mutated only inside the executor's transaction, together with the log
// append, so a rollback can never leave a version gap.
type StateIndex struct {
	BroadcasterID  string    `json:"broadcaster_id"  gorm:"type:char(36);primaryKey"`
	CurrentVersion int64     `json:"current_version" gorm:"not null;default:0"`
	UpdatedAt      time.Time `json:"updated_at"      gorm:"not null"`
}

// TableName returns the database table name for StateIndex.
func (StateIndex) TableName() string { return "state_index" }

// StreamSession records one broadcast boundary. At most one open session
// (EndedAt == nil) exists per broadcaster.
type StreamSession struct {
	ID            string     `json:"id"             gorm:"type:char(36);primaryKey"`
	BroadcasterID string     `json:"broadcaster_id" gorm:"type:char(36);not null;index"`
	StartedAt     time.Time  `json:"started_at"     gorm:"not null"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
}

// TableName returns the database table name for StreamSession.
func (StreamSession) TableName() string { return "stream_sessions" }
