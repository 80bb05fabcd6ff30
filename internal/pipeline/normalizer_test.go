package pipeline

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/tbourn/go-overlay-backend/internal/domain"
)

const sampleRedemption = `{
	"subscription": {"type": "channel.channel_points_custom_reward_redemption.add"},
	"event": {
		"id": "red-1",
		"broadcaster_user_id": "b-1",
		"user_id": "u-1",
		"user_login": "viewer",
		"user_name": "Viewer",
		"status": "UNFULFILLED",
		"redeemed_at": "2025-01-01T00:00:00Z",
		"reward": {"id": "r-1", "title": "Join", "cost": 123}
	}
}`

func TestNormalize_RedemptionAdd(t *testing.T) {
	ev, err := Normalize(domain.EventTypeRedemptionAdd, []byte(sampleRedemption))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	add, ok := ev.(domain.RedemptionAdd)
	if !ok {
		t.Fatalf("expected RedemptionAdd, got %T", ev)
	}
	if add.BroadcasterID != "b-1" || add.RedemptionID != "red-1" || add.Reward.Cost != 123 {
		t.Fatalf("unexpected event: %+v", add)
	}
	if !add.At.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected occurred_at: %v", add.At)
	}
}

func TestNormalize_Deterministic(t *testing.T) {
	first, err := Normalize(domain.EventTypeRedemptionAdd, []byte(sampleRedemption))
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := Normalize(domain.EventTypeRedemptionAdd, []byte(sampleRedemption))
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("normalization must be deterministic:\n%+v\n%+v", first, second)
	}
}

func TestNormalize_RedemptionUpdate_MapsStatus(t *testing.T) {
	ev, err := Normalize(domain.EventTypeRedemptionUpdate, []byte(sampleRedemption))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	upd := ev.(domain.RedemptionUpdate)
	if upd.Status != domain.RedemptionStatusPending {
		t.Fatalf("UNFULFILLED should map to pending, got %q", upd.Status)
	}
}

func TestNormalize_StreamOnlineOffline(t *testing.T) {
	online := `{"event":{"broadcaster_user_id":"b-1","started_at":"2025-01-01T12:00:00Z"}}`
	ev, err := Normalize(domain.EventTypeStreamOnline, []byte(online))
	if err != nil {
		t.Fatalf("online: %v", err)
	}
	if _, ok := ev.(domain.StreamOnline); !ok {
		t.Fatalf("expected StreamOnline, got %T", ev)
	}

	offline := `{"event":{"broadcaster_user_id":"b-1","ended_at":"2025-01-01T14:00:00Z"}}`
	ev, err = Normalize(domain.EventTypeStreamOffline, []byte(offline))
	if err != nil {
		t.Fatalf("offline: %v", err)
	}
	off := ev.(domain.StreamOffline)
	if !off.At.Equal(time.Date(2025, 1, 1, 14, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected ended_at: %v", off.At)
	}

	if _, err := Normalize(domain.EventTypeStreamOnline, []byte(`{"event":{"broadcaster_user_id":"b-1"}}`)); err == nil {
		t.Fatal("missing started_at must fail")
	}
}

func TestNormalize_UnsupportedType(t *testing.T) {
	_, err := Normalize("channel.follow", []byte(`{}`))
	if !errors.Is(err, ErrUnsupportedEvent) {
		t.Fatalf("expected ErrUnsupportedEvent, got %v", err)
	}
}

func TestNormalize_MalformedPayloads(t *testing.T) {
	cases := []string{
		`not json`,
		`{}`,
		`{"event":{}}`,
		`{"event":{"id":"red-1","broadcaster_user_id":"b-1","user_id":"u-1","redeemed_at":"nope","reward":{"id":"r-1"}}}`,
	}
	for _, raw := range cases {
		if _, err := Normalize(domain.EventTypeRedemptionAdd, []byte(raw)); err == nil {
			t.Fatalf("payload %q should be rejected", raw)
		}
	}
}

func TestLocalDay(t *testing.T) {
	// 2025-01-01T03:00Z is still 2024-12-31 in Los Angeles.
	at := time.Date(2025, 1, 1, 3, 0, 0, 0, time.UTC)
	day, err := LocalDay(at, "America/Los_Angeles")
	if err != nil {
		t.Fatalf("local day: %v", err)
	}
	if day != "2024-12-31" {
		t.Fatalf("expected 2024-12-31, got %s", day)
	}

	day, err = LocalDay(at, "UTC")
	if err != nil {
		t.Fatalf("utc day: %v", err)
	}
	if day != "2025-01-01" {
		t.Fatalf("expected 2025-01-01, got %s", day)
	}

	if _, err := LocalDay(at, "Invalid/Zone"); err == nil {
		t.Fatal("invalid zone must fail")
	}
}
