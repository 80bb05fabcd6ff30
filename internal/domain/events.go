package domain

import "time"

// EventSub subscription types the pipeline understands. Anything else is a
// no-op at ingress.
const (
	EventTypeRedemptionAdd    = "channel.channel_points_custom_reward_redemption.add"
	EventTypeRedemptionUpdate = "channel.channel_points_custom_reward_redemption.update"
	EventTypeStreamOnline     = "stream.online"
	EventTypeStreamOffline    = "stream.offline"
)

// Redemption statuses reported by the upstream platform, normalized to a
// small closed set. Values the normalizer does not recognize pass through
// as-is.
const (
	RedemptionStatusPending   = "pending"
	RedemptionStatusFulfilled = "fulfilled"
	RedemptionStatusCanceled  = "canceled"
)

// User identifies the redeeming viewer.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// Masked returns a copy with human-facing identifiers partially masked for
// tap output. The stable id survives; login and display name do not.
func (u User) Masked() User {
	return User{ID: u.ID, Login: maskIdentifier(u.Login), DisplayName: maskIdentifier(u.DisplayName)}
}

func maskIdentifier(s string) string {
	if s == "" {
		return ""
	}
	r := []rune(s)
	if len(r) <= 2 {
		return "***"
	}
	return string(r[0]) + "***" + string(r[len(r)-1])
}

// Reward identifies the channel-point reward that was redeemed.
type Reward struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	Cost  int64  `json:"cost,omitempty"`
}

// NormalizedEvent is the deterministic, typed form of an inbound webhook
// payload. The concrete types are RedemptionAdd, RedemptionUpdate,
// StreamOnline, and StreamOffline.
type NormalizedEvent interface {
	// Broadcaster returns the tenant the event belongs to.
	Broadcaster() string
	// OccurredAt returns the upstream occurrence timestamp.
	OccurredAt() time.Time
	// EventType returns the canonical type string used in telemetry.
	EventType() string
}

// RedemptionAdd is a fresh channel-point redemption.
type RedemptionAdd struct {
	BroadcasterID string    `json:"broadcaster_id"`
	At            time.Time `json:"occurred_at"`
	RedemptionID  string    `json:"redemption_id"`
	User          User      `json:"user"`
	Reward        Reward    `json:"reward"`
}

func (e RedemptionAdd) Broadcaster() string   { return e.BroadcasterID }
func (e RedemptionAdd) OccurredAt() time.Time { return e.At }
func (e RedemptionAdd) EventType() string     { return "redemption.add" }

// RedemptionUpdate reflects an upstream status change on an existing
// redemption (fulfilled or canceled outside this system).
type RedemptionUpdate struct {
	BroadcasterID string    `json:"broadcaster_id"`
	At            time.Time `json:"occurred_at"`
	RedemptionID  string    `json:"redemption_id"`
	Status        string    `json:"status"`
	User          User      `json:"user"`
	Reward        Reward    `json:"reward"`
}

func (e RedemptionUpdate) Broadcaster() string   { return e.BroadcasterID }
func (e RedemptionUpdate) OccurredAt() time.Time { return e.At }
func (e RedemptionUpdate) EventType() string     { return "redemption.update" }

// StreamOnline marks the start of a broadcast.
type StreamOnline struct {
	BroadcasterID string    `json:"broadcaster_id"`
	At            time.Time `json:"occurred_at"`
}

func (e StreamOnline) Broadcaster() string   { return e.BroadcasterID }
func (e StreamOnline) OccurredAt() time.Time { return e.At }
func (e StreamOnline) EventType() string     { return "stream.online" }

// StreamOffline marks the end of a broadcast.
type StreamOffline struct {
	BroadcasterID string    `json:"broadcaster_id"`
	At            time.Time `json:"occurred_at"`
}

func (e StreamOffline) Broadcaster() string   { return e.BroadcasterID }
func (e StreamOffline) OccurredAt() time.Time { return e.At }
func (e StreamOffline) EventType() string     { return "stream.offline" }
