package services

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-overlay-backend/internal/clock"
	"github.com/tbourn/go-overlay-backend/internal/domain"
)

// Admin translates operator mutations into commands and runs them through
// the executor. Every mutation carries an op_id; retries with the same op_id
// and body succeed idempotently, a reused op_id with a different body fails
// with ErrOpIDConflict.
type Admin struct {
	Executor *Executor
	Clock    clock.Clock
}

func (a *Admin) now() time.Time {
	if a.Clock != nil {
		return a.Clock.Now()
	}
	return time.Now().UTC()
}

// Complete marks the entry served (QUEUED→COMPLETED). The daily counter is
// unchanged.
func (a *Admin) Complete(ctx context.Context, broadcasterID, entryID, opID string) (Result, error) {
	tr := otel.Tracer("services/Admin")
	ctx, span := tr.Start(ctx, "Complete",
		trace.WithAttributes(
			attribute.String("broadcaster.id", broadcasterID),
			attribute.String("entry.id", entryID),
		))
	defer span.End()

	cmd := domain.QueueCompleteCommand{
		BroadcasterID: broadcasterID,
		IssuedAt:      a.now(),
		Source:        domain.SourceAdmin,
		EntryID:       entryID,
		OpID:          opID,
	}
	return a.Executor.Execute(ctx, broadcasterID, []domain.Command{cmd})
}

// Undo removes the entry (QUEUED→REMOVED, reason UNDO) and gives the user
// their daily count back.
func (a *Admin) Undo(ctx context.Context, broadcasterID, entryID, opID string) (Result, error) {
	tr := otel.Tracer("services/Admin")
	ctx, span := tr.Start(ctx, "Undo",
		trace.WithAttributes(
			attribute.String("broadcaster.id", broadcasterID),
			attribute.String("entry.id", entryID),
		))
	defer span.End()

	cmd := domain.QueueRemoveCommand{
		BroadcasterID: broadcasterID,
		IssuedAt:      a.now(),
		Source:        domain.SourceAdmin,
		EntryID:       entryID,
		Reason:        domain.ReasonUndo,
		OpID:          opID,
	}
	return a.Executor.Execute(ctx, broadcasterID, []domain.Command{cmd})
}

// UpdateSettings merges a partial settings patch. Validation happens inside
// the executor; an invalid patch surfaces ErrInvalidPatch and leaves the
// stored document untouched.
func (a *Admin) UpdateSettings(ctx context.Context, broadcasterID string, patch json.RawMessage, opID string) (Result, error) {
	tr := otel.Tracer("services/Admin")
	ctx, span := tr.Start(ctx, "UpdateSettings",
		trace.WithAttributes(attribute.String("broadcaster.id", broadcasterID)))
	defer span.End()

	cmd := domain.SettingsUpdateCommand{
		BroadcasterID: broadcasterID,
		IssuedAt:      a.now(),
		Source:        domain.SourceAdmin,
		Patch:         patch,
		OpID:          opID,
	}
	return a.Executor.Execute(ctx, broadcasterID, []domain.Command{cmd})
}
