package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-overlay-backend/internal/clock"
	"github.com/tbourn/go-overlay-backend/internal/repo"
)

// Maintenance prunes expired event records and command-log rows and
// checkpoints the WAL. It never touches the state index, queue entries, or
// counters: pruning the log must not move any broadcaster's version.
type Maintenance struct {
	DB       *gorm.DB
	Clock    clock.Clock
	Interval time.Duration
	TTL      time.Duration
	Batch    int
}

func (m *Maintenance) interval() time.Duration {
	if m.Interval > 0 {
		return m.Interval
	}
	return time.Hour
}

func (m *Maintenance) ttl() time.Duration {
	if m.TTL > 0 {
		return m.TTL
	}
	return 72 * time.Hour
}

func (m *Maintenance) batch() int {
	if m.Batch > 0 {
		return m.Batch
	}
	return 500
}

func (m *Maintenance) now() time.Time {
	if m.Clock != nil {
		return m.Clock.Now()
	}
	return time.Now().UTC()
}

// Run loops until the context is cancelled, sweeping once per interval. The
// first sweep runs immediately so a restart does not defer overdue cleanup.
func (m *Maintenance) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval())
	defer ticker.Stop()

	m.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep performs one maintenance pass: batched pruning of both retention
// tables followed by a WAL checkpoint.
func (m *Maintenance) Sweep(ctx context.Context) {
	cutoff := m.now().Add(-m.ttl())
	events := m.drain(ctx, cutoff, repo.PruneEvents)
	commands := m.drain(ctx, cutoff, repo.PruneCommands)

	if err := repo.WALCheckpoint(m.DB); err != nil {
		log.Warn().Err(err).Msg("maintenance: wal checkpoint failed")
	}
	if events > 0 || commands > 0 {
		log.Info().
			Int64("events_pruned", events).
			Int64("commands_pruned", commands).
			Time("cutoff", cutoff).
			Msg("maintenance sweep")
	}
}

// drain repeats a batched prune until it returns fewer rows than the batch
// size, keeping each delete short-lived.
func (m *Maintenance) drain(ctx context.Context, cutoff time.Time, prune func(context.Context, *gorm.DB, time.Time, int) (int64, error)) int64 {
	var total int64
	for {
		n, err := prune(ctx, m.DB, cutoff, m.batch())
		if err != nil {
			log.Warn().Err(err).Msg("maintenance: prune failed")
			return total
		}
		total += n
		if n < int64(m.batch()) {
			return total
		}
	}
}
