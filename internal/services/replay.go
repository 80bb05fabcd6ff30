// Package services – Debug capture and replay
//
// Capture exports a broadcaster's recent deliveries as NDJSON; Replay runs
// such an export through a scratch in-memory pipeline. Replay never touches
// the durable store: it provisions a fresh SQLite database in memory, seeds
// it with the captured broadcaster document, and reports the patches and
// final state the capture produces there.

package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/tbourn/go-overlay-backend/internal/clock"
	"github.com/tbourn/go-overlay-backend/internal/domain"
	"github.com/tbourn/go-overlay-backend/internal/repo"
)

// captureHeader is the first NDJSON line of an export.
type captureHeader struct {
	Broadcaster domain.Broadcaster `json:"broadcaster"`
	CapturedAt  time.Time          `json:"captured_at"`
}

// captureLine is one recorded delivery.
type captureLine struct {
	MsgID      string          `json:"msg_id"`
	EventType  string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload"`
	EventAt    time.Time       `json:"event_at"`
	ReceivedAt time.Time       `json:"received_at"`
}

// ReplayReport summarizes one replay run.
type ReplayReport struct {
	Events     int                  `json:"events"`
	Duplicates int                  `json:"duplicates"`
	Patches    []domain.Patch       `json:"patches"`
	Final      domain.StateSnapshot `json:"final_state"`
}

// Debug bundles the capture and replay operations.
type Debug struct {
	DB    *gorm.DB
	Clock clock.Clock
}

func (d *Debug) now() time.Time {
	if d.Clock != nil {
		return d.Clock.Now()
	}
	return time.Now().UTC()
}

// Capture exports the broadcaster document plus its deliveries received at
// or after since, newline-delimited.
func (d *Debug) Capture(ctx context.Context, broadcasterID string, since time.Time, limit int) ([]byte, error) {
	b, err := repo.GetBroadcaster(ctx, d.DB, broadcasterID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBroadcasterNotFound
	}
	if err != nil {
		return nil, err
	}
	events, err := repo.ListEventsSince(ctx, d.DB, broadcasterID, since, limit)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(captureHeader{Broadcaster: *b, CapturedAt: d.now()}); err != nil {
		return nil, err
	}
	for _, ev := range events {
		line := captureLine{
			MsgID:      ev.MsgID,
			EventType:  ev.EventType,
			Payload:    json.RawMessage(ev.PayloadJSON),
			EventAt:    ev.EventAt,
			ReceivedAt: ev.ReceivedAt,
		}
		if err := enc.Encode(line); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// memorySQLite dials a private in-memory database, discarded when the
// replay's connection closes.
func memorySQLite() gorm.Dialector { return sqlite.Open(":memory:") }

// replaySink collects broadcast patches during a replay.
type replaySink struct {
	patches []domain.Patch
}

func (s *replaySink) Broadcast(_ string, patches []domain.Patch) {
	s.patches = append(s.patches, patches...)
}

// Replay runs a capture through a scratch in-memory pipeline and reports
// what it produced. The process is deterministic for a given capture: event
// order and payloads come from the file, not from the wall clock.
func (d *Debug) Replay(ctx context.Context, capture []byte) (ReplayReport, error) {
	scanner := bufio.NewScanner(bytes.NewReader(capture))
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	if !scanner.Scan() {
		return ReplayReport{}, errors.New("empty capture")
	}
	var header captureHeader
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil {
		return ReplayReport{}, fmt.Errorf("invalid capture header: %w", err)
	}
	if header.Broadcaster.ID == "" {
		return ReplayReport{}, errors.New("capture header missing broadcaster")
	}

	scratch, err := gorm.Open(memorySQLite(), &gorm.Config{})
	if err != nil {
		return ReplayReport{}, err
	}
	defer func() {
		if sqlDB, err := scratch.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()
	if err := repo.AutoMigrate(scratch); err != nil {
		return ReplayReport{}, err
	}
	if err := scratch.Create(&header.Broadcaster).Error; err != nil {
		return ReplayReport{}, err
	}

	sink := &replaySink{}
	executor := &Executor{
		DB:    scratch,
		Sink:  sink,
		Clock: d.Clock,
		IDs:   clock.NewSequence("replay"),
	}
	ingest := &Ingest{DB: scratch, Executor: executor, Clock: d.Clock}

	report := ReplayReport{}
	for scanner.Scan() {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var line captureLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return ReplayReport{}, fmt.Errorf("invalid capture line %d: %w", report.Events+1, err)
		}
		report.Events++
		err := ingest.Process(ctx, line.MsgID, line.EventType, []byte(line.Payload))
		if errors.Is(err, ErrDuplicateDelivery) {
			report.Duplicates++
			continue
		}
		if err != nil {
			return ReplayReport{}, fmt.Errorf("replay event %s: %w", line.MsgID, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return ReplayReport{}, err
	}

	report.Patches = sink.patches
	state := &State{DB: scratch, Clock: d.Clock}
	final, err := state.Snapshot(ctx, header.Broadcaster.ID)
	if err != nil {
		return ReplayReport{}, err
	}
	report.Final = final
	return report, nil
}
