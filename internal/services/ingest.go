// Package services – Ingest
//
// This file implements the webhook ingestion flow: persist the delivery,
// normalize it, evaluate policy against a recent-activity snapshot, and hand
// the resulting commands to the executor. Once the delivery record is durable
// the acknowledgement is owed: later stages log and surface failures on the
// tap instead of returning them, and the caller's cancellation no longer
// aborts the pipeline.

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-overlay-backend/internal/clock"
	"github.com/tbourn/go-overlay-backend/internal/domain"
	"github.com/tbourn/go-overlay-backend/internal/pipeline"
	"github.com/tbourn/go-overlay-backend/internal/repo"
	"github.com/tbourn/go-overlay-backend/internal/tap"
)

// Ingest runs inbound EventSub deliveries through the pipeline.
type Ingest struct {
	DB       *gorm.DB
	Executor *Executor
	Tap      *tap.Tap
	Clock    clock.Clock
	IDs      clock.IDGenerator
}

func (s *Ingest) now() time.Time {
	if s.Clock != nil {
		return s.Clock.Now()
	}
	return time.Now().UTC()
}

func (s *Ingest) newID() string {
	if s.IDs != nil {
		return s.IDs.NewID()
	}
	return clock.UUID{}.NewID()
}

func (s *Ingest) publish(ev tap.Event) {
	if s.Tap != nil {
		ev.At = s.now()
		s.Tap.Publish(ev)
	}
}

// Process ingests one delivery end to end. Unsupported event types and
// unknown broadcasters are acknowledged no-ops; a redelivered message id
// returns ErrDuplicateDelivery so the caller can count it, and changes
// nothing. Errors are returned only before the delivery record is stored;
// after that the delivery counts as accepted and pipeline failures are
// logged and tapped, never propagated.
func (s *Ingest) Process(ctx context.Context, msgID, eventType string, payload []byte) error {
	tr := otel.Tracer("services/Ingest")
	ctx, span := tr.Start(ctx, "Process",
		trace.WithAttributes(
			attribute.String("eventsub.msg_id", msgID),
			attribute.String("eventsub.type", eventType),
		))
	defer span.End()

	now := s.now()
	s.publish(tap.Event{Stage: tap.StageReceived, MsgID: msgID, Summary: eventType})

	event, err := pipeline.Normalize(eventType, payload)
	if errors.Is(err, pipeline.ErrUnsupportedEvent) {
		s.publish(tap.Event{Stage: tap.StageNormalized, MsgID: msgID, Summary: "unsupported: " + eventType})
		return nil
	}
	if err != nil {
		s.publish(tap.Event{Stage: tap.StageError, MsgID: msgID, Summary: err.Error()})
		return fmt.Errorf("%w: %v", ErrInvalidEventPayload, err)
	}

	b, err := repo.GetBroadcasterByTwitchID(ctx, s.DB, event.Broadcaster())
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warn().
			Str("msg_id", msgID).
			Str("twitch_user_id", event.Broadcaster()).
			Msg("delivery for unknown broadcaster dropped")
		s.publish(tap.Event{Stage: tap.StageError, MsgID: msgID, Summary: "unknown broadcaster"})
		return nil
	}
	if err != nil {
		return err
	}

	created, err := repo.InsertEvent(ctx, s.DB, &domain.EventRecord{
		ID:            s.newID(),
		BroadcasterID: b.ID,
		MsgID:         msgID,
		EventType:     eventType,
		PayloadJSON:   string(payload),
		EventAt:       event.OccurredAt(),
		ReceivedAt:    now,
	})
	if err != nil {
		return err
	}
	if !created {
		s.publish(tap.Event{Stage: tap.StageDuplicate, Broadcaster: b.ID, MsgID: msgID})
		return ErrDuplicateDelivery
	}

	s.publish(tap.Event{
		Stage:       tap.StageNormalized,
		Broadcaster: b.ID,
		MsgID:       msgID,
		Summary:     string(event.EventType()),
	})

	// The record is durable, so the acknowledgement is owed regardless of
	// what happens next, and a dropped client connection must not abort the
	// pipeline mid-delivery.
	ctx = context.WithoutCancel(ctx)
	if err := s.apply(ctx, b, event, msgID); err != nil {
		log.Error().
			Err(err).
			Str("msg_id", msgID).
			Str("broadcaster_id", b.ID).
			Msg("pipeline failed after durable store")
		s.publish(tap.Event{Stage: tap.StageError, Broadcaster: b.ID, MsgID: msgID, Summary: err.Error()})
	}
	return nil
}

// apply runs the post-durability half of the pipeline: policy evaluation and
// command execution for an already stored delivery.
func (s *Ingest) apply(ctx context.Context, b *domain.Broadcaster, event domain.NormalizedEvent, msgID string) error {
	settings, err := domain.ParseSettings(b.SettingsJSON)
	if err != nil {
		return err
	}
	activity, err := s.buildActivity(ctx, b, settings, event.OccurredAt())
	if err != nil {
		return err
	}

	outcome := pipeline.Evaluate(settings, activity, event, event.OccurredAt())
	s.publish(tap.Event{
		Stage:       tap.StagePolicy,
		Broadcaster: b.ID,
		MsgID:       msgID,
		Summary:     outcome.Action,
		Data:        outcome.Redacted(),
	})
	if len(outcome.Commands) == 0 {
		return nil
	}
	_, err = s.Executor.Execute(ctx, b.ID, outcome.Commands)
	return err
}

// buildActivity assembles the policy engine's view of recent state: the last
// redemption per (user, reward) inside the anti-spam window, the current
// queue, and today's day string.
func (s *Ingest) buildActivity(ctx context.Context, b *domain.Broadcaster, settings domain.Settings, occurredAt time.Time) (pipeline.Activity, error) {
	today, err := pipeline.LocalDay(s.now(), b.Timezone)
	if err != nil {
		return pipeline.Activity{}, err
	}
	activity := pipeline.Activity{Today: today}

	if window := settings.Policy.AntiSpamWindowSec; window > 0 {
		cutoff := occurredAt.Add(-time.Duration(window) * time.Second)
		rows, err := repo.LastRedemptionTimes(ctx, s.DB, b.ID, cutoff)
		if err != nil {
			return pipeline.Activity{}, err
		}
		activity.LastRedemptions = make(map[pipeline.RedemptionKey]time.Time, len(rows))
		for _, r := range rows {
			activity.LastRedemptions[pipeline.RedemptionKey{UserID: r.UserID, RewardID: r.RewardID}] = r.Last
		}
	}

	if settings.ClearOnStreamStart {
		queued, err := repo.ListQueued(ctx, s.DB, b.ID, today)
		if err != nil {
			return pipeline.Activity{}, err
		}
		activity.QueuedEntries = queued
	}
	return activity, nil
}
