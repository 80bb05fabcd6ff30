// Package services – Executor
//
// This file implements the single-writer command executor. All state
// mutations for a broadcaster flow through Execute, serialized by a
// per-broadcaster mutex and applied inside one database transaction:
// version allocation, the command-log append, and the state change commit
// or roll back together, so versions stay contiguous and the log never
// references state that was not applied.
//
// Observability: Execute is OpenTelemetry-instrumented and publishes the
// applied commands to the debug tap after commit.

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
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

// PatchSink receives the patches of a committed command batch, in order.
// The SSE hub implements it; tests swap in a recorder.
type PatchSink interface {
	Broadcast(tenant string, patches []domain.Patch)
}

// RedemptionUpdater is the external capability that consumes or refunds an
// upstream redemption. Failures are recorded on the command, never
// propagated: queue state is the source of truth and must not depend on the
// upstream call succeeding.
type RedemptionUpdater interface {
	Update(ctx context.Context, broadcasterID, redemptionID, mode string) error
}

// NoopRedemptionUpdater is the default capability used when no upstream
// credentials are configured. Every call succeeds without side effects.
type NoopRedemptionUpdater struct{}

// Update implements RedemptionUpdater.
func (NoopRedemptionUpdater) Update(context.Context, string, string, string) error { return nil }

// Result reports one Execute call.
type Result struct {
	// Version is the broadcaster's version after the batch (or the stored
	// version on an op_id replay).
	Version int64
	// Patches are the emitted patches, already broadcast. Empty on replay.
	Patches []domain.Patch
	// Replayed is true when the op_id was seen before with an identical
	// payload and nothing was re-applied.
	Replayed bool
}

// Executor applies command batches for broadcasters, one writer per tenant.
type Executor struct {
	DB          *gorm.DB
	Sink        PatchSink
	Tap         *tap.Tap
	Clock       clock.Clock
	IDs         clock.IDGenerator
	Redemptions RedemptionUpdater
	Projector   pipeline.Projector

	mu      sync.Mutex
	tenants map[string]*sync.Mutex
}

func (e *Executor) tenantLock(broadcasterID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tenants == nil {
		e.tenants = make(map[string]*sync.Mutex)
	}
	l := e.tenants[broadcasterID]
	if l == nil {
		l = &sync.Mutex{}
		e.tenants[broadcasterID] = l
	}
	return l
}

func (e *Executor) now() time.Time {
	if e.Clock != nil {
		return e.Clock.Now()
	}
	return time.Now().UTC()
}

func (e *Executor) newID() string {
	if e.IDs != nil {
		return e.IDs.NewID()
	}
	return clock.UUID{}.NewID()
}

func (e *Executor) redemptions() RedemptionUpdater {
	if e.Redemptions != nil {
		return e.Redemptions
	}
	return NoopRedemptionUpdater{}
}

// Execute applies a command batch for one broadcaster. Admin batches carry a
// single command with an op_id; a replayed op_id with an identical payload
// returns the original result, a differing payload returns ErrOpIDConflict.
func (e *Executor) Execute(ctx context.Context, broadcasterID string, commands []domain.Command) (Result, error) {
	tr := otel.Tracer("services/Executor")
	ctx, span := tr.Start(ctx, "Execute",
		trace.WithAttributes(
			attribute.String("broadcaster.id", broadcasterID),
			attribute.Int("commands.count", len(commands)),
		))
	defer span.End()

	if len(commands) == 0 {
		version, err := repo.CurrentVersion(ctx, e.DB, broadcasterID)
		return Result{Version: version}, err
	}

	// Upstream redemption calls run before any lock or transaction: a slow
	// Helix round trip must never stall other writers on this tenant or hold
	// the database write lock. The outcome travels on the command, so the
	// log records what actually happened upstream.
	for i := range commands {
		if c, isUpdate := commands[i].(domain.RedemptionUpdateCommand); isUpdate {
			e.resolveRedemption(ctx, broadcasterID, &c)
			commands[i] = c
		}
	}

	lock := e.tenantLock(broadcasterID)
	lock.Lock()
	defer lock.Unlock()

	if opID := commands[0].Op(); opID != "" {
		replayed, res, err := e.checkReplay(ctx, broadcasterID, opID, commands[0])
		if err != nil {
			return Result{}, err
		}
		if replayed {
			return res, nil
		}
	}

	b, err := repo.GetBroadcaster(ctx, e.DB, broadcasterID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Result{}, ErrBroadcasterNotFound
	}
	if err != nil {
		return Result{}, err
	}
	settings, err := domain.ParseSettings(b.SettingsJSON)
	if err != nil {
		return Result{}, err
	}

	var (
		patches []domain.Patch
		version int64
	)
	err = e.DB.Transaction(func(tx *gorm.DB) error {
		for _, cmd := range commands {
			applied, skip, err := e.apply(ctx, tx, b, &settings, cmd)
			if err != nil {
				return err
			}
			if skip {
				continue
			}
			patches = append(patches, applied...)
			if n := len(applied); n > 0 {
				version = applied[n-1].Version
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if version == 0 {
		if version, err = repo.CurrentVersion(ctx, e.DB, broadcasterID); err != nil {
			return Result{}, err
		}
	}

	if e.Sink != nil && len(patches) > 0 {
		e.Sink.Broadcast(broadcasterID, patches)
	}
	e.publishTap(broadcasterID, commands, patches)
	return Result{Version: version, Patches: patches}, nil
}

// checkReplay resolves op_id idempotency before anything is applied.
func (e *Executor) checkReplay(ctx context.Context, broadcasterID, opID string, cmd domain.Command) (bool, Result, error) {
	stored, err := repo.GetCommandByOpID(ctx, e.DB, broadcasterID, opID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, Result{}, nil
	}
	if err != nil {
		return false, Result{}, err
	}

	payload, err := domain.EncodeCommand(cmd)
	if err != nil {
		return false, Result{}, err
	}
	if stored.PayloadJSON != payload || stored.Type != cmd.CommandType() {
		return false, Result{}, ErrOpIDConflict
	}
	log.Debug().
		Str("broadcaster_id", broadcasterID).
		Str("op_id", opID).
		Int64("version", stored.Version).
		Msg("op_id replay, returning stored result")
	return true, Result{Version: stored.Version, Replayed: true}, nil
}

// apply executes one command inside the batch transaction. skip reports that
// the command was a no-op (e.g. an enqueue for a redemption that already has
// an entry) and burned no version.
func (e *Executor) apply(ctx context.Context, tx *gorm.DB, b *domain.Broadcaster, settings *domain.Settings, cmd domain.Command) ([]domain.Patch, bool, error) {
	switch c := cmd.(type) {
	case domain.EnqueueCommand:
		return e.applyEnqueue(ctx, tx, b, c)
	case domain.RedemptionUpdateCommand:
		return e.applyRedemptionUpdate(ctx, tx, b, c)
	case domain.QueueCompleteCommand:
		return e.applyComplete(ctx, tx, b, c)
	case domain.QueueRemoveCommand:
		return e.applyRemove(ctx, tx, b, *settings, c)
	case domain.SettingsUpdateCommand:
		return e.applySettingsUpdate(ctx, tx, b, settings, c)
	case domain.StreamOnlineCommand:
		return e.applyStreamOnline(ctx, tx, b, c)
	case domain.StreamOfflineCommand:
		return e.applyStreamOffline(ctx, tx, b, c)
	default:
		return nil, false, fmt.Errorf("unsupported command type %q", cmd.CommandType())
	}
}

// appendLog allocates the next version and writes the command-log row.
func (e *Executor) appendLog(ctx context.Context, tx *gorm.DB, cmd domain.Command, at time.Time) (int64, error) {
	version, err := repo.AllocateVersion(ctx, tx, cmd.Broadcaster(), at)
	if err != nil {
		return 0, err
	}
	payload, err := domain.EncodeCommand(cmd)
	if err != nil {
		return 0, err
	}
	var opID *string
	if op := cmd.Op(); op != "" {
		opID = &op
	}
	row := &domain.CommandLog{
		BroadcasterID: cmd.Broadcaster(),
		Version:       version,
		OpID:          opID,
		Type:          cmd.CommandType(),
		PayloadJSON:   payload,
		CreatedAt:     at,
	}
	return version, repo.AppendCommand(ctx, tx, row)
}

func (e *Executor) applyEnqueue(ctx context.Context, tx *gorm.DB, b *domain.Broadcaster, c domain.EnqueueCommand) ([]domain.Patch, bool, error) {
	if c.RedemptionID != "" {
		_, err := repo.GetEntryByRedemption(ctx, tx, b.ID, c.RedemptionID)
		if err == nil {
			// The redemption already produced an entry; a replayed event
			// changes nothing.
			return nil, true, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, err
		}
	}

	now := e.now()
	version, err := e.appendLog(ctx, tx, c, now)
	if err != nil {
		return nil, false, err
	}

	enqueuedAt := c.IssuedAt
	if enqueuedAt.IsZero() {
		enqueuedAt = now
	}
	entry := domain.QueueEntry{
		ID:              e.newID(),
		BroadcasterID:   b.ID,
		UserID:          c.User.ID,
		UserLogin:       c.User.Login,
		UserDisplayName: c.User.DisplayName,
		RewardID:        c.Reward.ID,
		EnqueuedAt:      enqueuedAt,
		Status:          domain.StatusQueued,
		Managed:         c.Managed,
		LastUpdatedAt:   now,
	}
	if c.RedemptionID != "" {
		rid := c.RedemptionID
		entry.RedemptionID = &rid
	}
	if err := repo.InsertQueueEntry(ctx, tx, &entry); err != nil {
		return nil, false, err
	}

	day, err := pipeline.LocalDay(enqueuedAt, b.Timezone)
	if err != nil {
		return nil, false, err
	}
	count, err := repo.IncrementCounter(ctx, tx, b.ID, c.User.ID, day, now)
	if err != nil {
		return nil, false, err
	}

	// user_today_count rides on the enqueue patch; a separate counter
	// patch is emitted only when a count moves without a queue change.
	return []domain.Patch{e.Projector.QueueEnqueued(version, now, entry, count)}, false, nil
}

// resolveRedemption settles a redemption-update command against the external
// capability. Failures are recorded on the command, never propagated.
func (e *Executor) resolveRedemption(ctx context.Context, broadcasterID string, c *domain.RedemptionUpdateCommand) {
	if !c.Applicable {
		if c.Result == "" {
			c.Result = domain.ResultSkipped
		}
		return
	}
	if err := e.redemptions().Update(ctx, broadcasterID, c.RedemptionID, c.Mode); err != nil {
		c.Result = domain.ResultFailed
		c.Error = err.Error()
		log.Warn().Err(err).
			Str("broadcaster_id", broadcasterID).
			Str("redemption_id", c.RedemptionID).
			Str("mode", c.Mode).
			Msg("redemption capability failed")
		return
	}
	c.Result = domain.ResultOK
}

func (e *Executor) applyRedemptionUpdate(ctx context.Context, tx *gorm.DB, b *domain.Broadcaster, c domain.RedemptionUpdateCommand) ([]domain.Patch, bool, error) {
	now := e.now()

	if c.Managed && c.RedemptionID != "" {
		entry, err := repo.GetEntryByRedemption(ctx, tx, b.ID, c.RedemptionID)
		if err == nil {
			if err := repo.SetEntryManaged(ctx, tx, b.ID, entry.ID, true, now); err != nil {
				return nil, false, err
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, err
		}
	}

	version, err := e.appendLog(ctx, tx, c, now)
	if err != nil {
		return nil, false, err
	}
	return []domain.Patch{e.Projector.RedemptionUpdated(version, now, c)}, false, nil
}

func (e *Executor) applyComplete(ctx context.Context, tx *gorm.DB, b *domain.Broadcaster, c domain.QueueCompleteCommand) ([]domain.Patch, bool, error) {
	now := e.now()
	affected, err := repo.TransitionQueueEntry(ctx, tx, b.ID, c.EntryID, domain.StatusCompleted, nil, now)
	if err != nil {
		return nil, false, err
	}
	if affected == 0 {
		return nil, false, e.transitionFailure(ctx, tx, b.ID, c.EntryID)
	}

	version, err := e.appendLog(ctx, tx, c, now)
	if err != nil {
		return nil, false, err
	}
	return []domain.Patch{e.Projector.QueueCompleted(version, now, c.EntryID)}, false, nil
}

func (e *Executor) applyRemove(ctx context.Context, tx *gorm.DB, b *domain.Broadcaster, settings domain.Settings, c domain.QueueRemoveCommand) ([]domain.Patch, bool, error) {
	now := e.now()

	entry, err := repo.GetQueueEntry(ctx, tx, b.ID, c.EntryID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if c.Source == domain.SourcePolicy {
			return nil, true, nil
		}
		return nil, false, ErrEntryNotFound
	}
	if err != nil {
		return nil, false, err
	}

	reason := c.Reason
	affected, err := repo.TransitionQueueEntry(ctx, tx, b.ID, c.EntryID, domain.StatusRemoved, &reason, now)
	if err != nil {
		return nil, false, err
	}
	if affected == 0 {
		// Policy clears tolerate racing with an admin transition.
		if c.Source == domain.SourcePolicy {
			return nil, true, nil
		}
		return nil, false, ErrAlreadyTerminal
	}

	version, err := e.appendLog(ctx, tx, c, now)
	if err != nil {
		return nil, false, err
	}

	entryDay, err := pipeline.LocalDay(entry.EnqueuedAt, b.Timezone)
	if err != nil {
		return nil, false, err
	}
	decrement := false
	switch c.Reason {
	case domain.ReasonUndo:
		decrement = true
	case domain.ReasonStreamStartClear:
		today, err := pipeline.LocalDay(now, b.Timezone)
		if err != nil {
			return nil, false, err
		}
		// Clears only give back counts accrued today; yesterday's entries
		// removed at stream start keep their counts.
		decrement = settings.ClearDecrementCounts && entryDay == today
	}

	count, err := repo.GetUserDayCount(ctx, tx, b.ID, entry.UserID, entryDay)
	if err != nil {
		return nil, false, err
	}
	patches := []domain.Patch{}
	if decrement {
		if count, err = repo.DecrementCounter(ctx, tx, b.ID, entry.UserID, entryDay, now); err != nil {
			return nil, false, err
		}
	}
	patches = append(patches, e.Projector.QueueRemoved(version, now, c.EntryID, c.Reason, count))
	if decrement {
		patches = append(patches, e.Projector.CounterUpdated(version, now, entry.UserID, count))
	}
	return patches, false, nil
}

// transitionFailure distinguishes a missing entry from a terminal one after
// a zero-row transition.
func (e *Executor) transitionFailure(ctx context.Context, tx *gorm.DB, broadcasterID, entryID string) error {
	entry, err := repo.GetQueueEntry(ctx, tx, broadcasterID, entryID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrEntryNotFound
	}
	if err != nil {
		return err
	}
	if entry.Terminal() {
		return ErrAlreadyTerminal
	}
	return fmt.Errorf("queue entry %s in unexpected status %s", entryID, entry.Status)
}

func (e *Executor) applySettingsUpdate(ctx context.Context, tx *gorm.DB, b *domain.Broadcaster, settings *domain.Settings, c domain.SettingsUpdateCommand) ([]domain.Patch, bool, error) {
	now := e.now()

	merged, err := settings.ApplyPatch(c.Patch)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	encoded, err := merged.Encode()
	if err != nil {
		return nil, false, err
	}
	if err := repo.UpdateSettings(ctx, tx, b.ID, encoded, now); err != nil {
		return nil, false, err
	}
	*settings = merged
	b.SettingsJSON = encoded

	version, err := e.appendLog(ctx, tx, c, now)
	if err != nil {
		return nil, false, err
	}
	return []domain.Patch{e.Projector.SettingsUpdated(version, now, json.RawMessage(c.Patch))}, false, nil
}

func (e *Executor) applyStreamOnline(ctx context.Context, tx *gorm.DB, b *domain.Broadcaster, c domain.StreamOnlineCommand) ([]domain.Patch, bool, error) {
	now := e.now()
	if _, err := repo.OpenSession(ctx, tx, e.newID(), b.ID, c.StartedAt); err != nil {
		return nil, false, err
	}
	version, err := e.appendLog(ctx, tx, c, now)
	if err != nil {
		return nil, false, err
	}
	return []domain.Patch{e.Projector.StreamOnline(version, now)}, false, nil
}

func (e *Executor) applyStreamOffline(ctx context.Context, tx *gorm.DB, b *domain.Broadcaster, c domain.StreamOfflineCommand) ([]domain.Patch, bool, error) {
	now := e.now()
	if err := repo.CloseSession(ctx, tx, b.ID, c.EndedAt); err != nil {
		return nil, false, err
	}
	version, err := e.appendLog(ctx, tx, c, now)
	if err != nil {
		return nil, false, err
	}
	return []domain.Patch{e.Projector.StreamOffline(version, now)}, false, nil
}

// publishTap reports a committed batch to the debug tap.
func (e *Executor) publishTap(broadcasterID string, commands []domain.Command, patches []domain.Patch) {
	if e.Tap == nil {
		return
	}
	redacted := make([]map[string]any, 0, len(commands))
	for _, c := range commands {
		redacted = append(redacted, c.Redacted())
	}
	kinds := make([]string, 0, len(patches))
	for _, p := range patches {
		kinds = append(kinds, string(p.Kind))
	}
	e.Tap.Publish(tap.Event{
		At:          e.now(),
		Broadcaster: broadcasterID,
		Stage:       tap.StageExecuted,
		Data:        map[string]any{"commands": redacted, "patches": kinds},
	})
}
