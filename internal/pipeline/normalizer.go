// Package pipeline contains the pure stages of the redemption pipeline:
// normalization of raw EventSub payloads, policy evaluation, and projection
// of command results into patches. Nothing in this package performs I/O;
// the same inputs always produce the same outputs.
package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tbourn/go-overlay-backend/internal/domain"
)

// ErrUnsupportedEvent marks event types the pipeline does not process.
// Callers treat it as a no-op, not a failure.
var ErrUnsupportedEvent = errors.New("unsupported event type")

// redemptionPayload mirrors the EventSub notification envelope for
// channel-point redemption events.
type redemptionPayload struct {
	Event *redemptionEvent `json:"event"`
}

type redemptionEvent struct {
	ID                string           `json:"id"`
	BroadcasterUserID string           `json:"broadcaster_user_id"`
	UserID            string           `json:"user_id"`
	UserLogin         string           `json:"user_login"`
	UserName          string           `json:"user_name"`
	Status            string           `json:"status"`
	RedeemedAt        string           `json:"redeemed_at"`
	Reward            redemptionReward `json:"reward"`
}

type redemptionReward struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Cost  int64  `json:"cost"`
}

type streamPayload struct {
	Event *streamEvent `json:"event"`
}

type streamEvent struct {
	BroadcasterUserID string `json:"broadcaster_user_id"`
	StartedAt         string `json:"started_at"`
	EndedAt           string `json:"ended_at"`
}

// Normalize converts a raw EventSub payload into a typed NormalizedEvent.
// The translation is deterministic: the same eventType and payload bytes
// always yield the same value. Unsupported event types return
// ErrUnsupportedEvent.
func Normalize(eventType string, payload []byte) (domain.NormalizedEvent, error) {
	switch eventType {
	case domain.EventTypeRedemptionAdd:
		return normalizeRedemption(payload, false)
	case domain.EventTypeRedemptionUpdate:
		return normalizeRedemption(payload, true)
	case domain.EventTypeStreamOnline:
		return normalizeStream(payload, true)
	case domain.EventTypeStreamOffline:
		return normalizeStream(payload, false)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, eventType)
	}
}

func normalizeRedemption(payload []byte, includeStatus bool) (domain.NormalizedEvent, error) {
	var data redemptionPayload
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("parse redemption payload: %w", err)
	}
	ev := data.Event
	if ev == nil {
		return nil, errors.New("payload missing event block")
	}
	if ev.ID == "" || ev.BroadcasterUserID == "" || ev.UserID == "" || ev.Reward.ID == "" {
		return nil, errors.New("redemption event missing required fields")
	}

	redeemedAt, err := time.Parse(time.RFC3339, ev.RedeemedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid redeemed_at: %w", err)
	}

	user := domain.User{ID: ev.UserID, Login: ev.UserLogin, DisplayName: ev.UserName}
	reward := domain.Reward{ID: ev.Reward.ID, Title: ev.Reward.Title, Cost: ev.Reward.Cost}

	if includeStatus {
		return domain.RedemptionUpdate{
			BroadcasterID: ev.BroadcasterUserID,
			At:            redeemedAt.UTC(),
			RedemptionID:  ev.ID,
			Status:        mapRedemptionStatus(ev.Status),
			User:          user,
			Reward:        reward,
		}, nil
	}
	return domain.RedemptionAdd{
		BroadcasterID: ev.BroadcasterUserID,
		At:            redeemedAt.UTC(),
		RedemptionID:  ev.ID,
		User:          user,
		Reward:        reward,
	}, nil
}

func normalizeStream(payload []byte, online bool) (domain.NormalizedEvent, error) {
	var data streamPayload
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("parse stream payload: %w", err)
	}
	ev := data.Event
	if ev == nil {
		return nil, errors.New("payload missing event block")
	}
	if ev.BroadcasterUserID == "" {
		return nil, errors.New("stream event missing broadcaster_user_id")
	}

	raw := ev.StartedAt
	field := "started_at"
	if !online {
		raw = ev.EndedAt
		field = "ended_at"
	}
	if raw == "" {
		return nil, fmt.Errorf("stream event missing %s", field)
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", field, err)
	}

	if online {
		return domain.StreamOnline{BroadcasterID: ev.BroadcasterUserID, At: at.UTC()}, nil
	}
	return domain.StreamOffline{BroadcasterID: ev.BroadcasterUserID, At: at.UTC()}, nil
}

// mapRedemptionStatus folds the upstream status vocabulary into the
// normalized set; unknown values pass through lowercased.
func mapRedemptionStatus(value string) string {
	switch value {
	case "UNFULFILLED", "PENDING", "unfulfilled", "pending":
		return domain.RedemptionStatusPending
	case "FULFILLED", "fulfilled":
		return domain.RedemptionStatusFulfilled
	case "CANCELED", "CANCELLED", "canceled", "cancelled":
		return domain.RedemptionStatusCanceled
	case "":
		return "unknown"
	default:
		return value
	}
}

// LocalDay projects a UTC instant into the broadcaster's IANA zone and
// formats the calendar day as YYYY-MM-DD. Daily counters and stream-start
// clears key on this value.
func LocalDay(t time.Time, tz string) (string, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return "", fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return t.In(loc).Format("2006-01-02"), nil
}
