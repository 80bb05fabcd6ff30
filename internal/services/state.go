package services

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-overlay-backend/internal/clock"
	"github.com/tbourn/go-overlay-backend/internal/domain"
	"github.com/tbourn/go-overlay-backend/internal/pipeline"
	"github.com/tbourn/go-overlay-backend/internal/repo"
)

// State builds full projections of a broadcaster's current state, served by
// the snapshot endpoint and by state.replace fallbacks on SSE ring misses.
type State struct {
	DB    *gorm.DB
	Clock clock.Clock
}

func (s *State) now() time.Time {
	if s.Clock != nil {
		return s.Clock.Now()
	}
	return time.Now().UTC()
}

// Snapshot assembles the broadcaster's full queue, today's counters,
// settings, and current version.
func (s *State) Snapshot(ctx context.Context, broadcasterID string) (domain.StateSnapshot, error) {
	return s.build(ctx, broadcasterID, nil)
}

// SnapshotSession scopes the queue to the current or most recent stream
// session. A broadcaster that has never gone online gets the full queue.
func (s *State) SnapshotSession(ctx context.Context, broadcasterID string) (domain.StateSnapshot, error) {
	session, err := repo.LatestSession(ctx, s.DB, broadcasterID)
	if err != nil {
		return domain.StateSnapshot{}, err
	}
	if session == nil {
		return s.build(ctx, broadcasterID, nil)
	}
	return s.build(ctx, broadcasterID, &session.StartedAt)
}

// SnapshotSince scopes the queue to entries enqueued at or after the given
// instant.
func (s *State) SnapshotSince(ctx context.Context, broadcasterID string, since time.Time) (domain.StateSnapshot, error) {
	return s.build(ctx, broadcasterID, &since)
}

// build reads the projection inside one read transaction so the advertised
// version, the queue, and the counters all describe the same instant.
func (s *State) build(ctx context.Context, broadcasterID string, since *time.Time) (domain.StateSnapshot, error) {
	tr := otel.Tracer("services/State")
	ctx, span := tr.Start(ctx, "Snapshot",
		trace.WithAttributes(attribute.String("broadcaster.id", broadcasterID)))
	defer span.End()

	var snap domain.StateSnapshot
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := repo.GetBroadcaster(ctx, tx, broadcasterID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrBroadcasterNotFound
		}
		if err != nil {
			return err
		}
		settings, err := domain.ParseSettings(b.SettingsJSON)
		if err != nil {
			return err
		}

		version, err := repo.CurrentVersion(ctx, tx, b.ID)
		if err != nil {
			return err
		}

		today, err := pipeline.LocalDay(s.now(), b.Timezone)
		if err != nil {
			return err
		}
		var queue []domain.QueueEntry
		if since != nil {
			queue, err = repo.ListQueuedSince(ctx, tx, b.ID, today, *since)
		} else {
			queue, err = repo.ListQueued(ctx, tx, b.ID, today)
		}
		if err != nil {
			return err
		}
		counters, err := repo.ListCountersForDay(ctx, tx, b.ID, today)
		if err != nil {
			return err
		}

		snap = domain.StateSnapshot{
			Version:       version,
			Queue:         queue,
			CountersToday: make([]domain.UserCounter, 0, len(counters)),
			Settings:      settings,
		}
		for _, c := range counters {
			snap.CountersToday = append(snap.CountersToday, domain.UserCounter{UserID: c.UserID, Count: c.Count})
		}
		return nil
	})
	if err != nil {
		return domain.StateSnapshot{}, err
	}
	return snap, nil
}
