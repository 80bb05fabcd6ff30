// Package handlers provides HTTP handler implementations for the public API.
package handlers

import (
	"time"

	"github.com/tbourn/go-overlay-backend/internal/clock"
	"github.com/tbourn/go-overlay-backend/internal/pipeline"
	"github.com/tbourn/go-overlay-backend/internal/services"
	"github.com/tbourn/go-overlay-backend/internal/sse"
	"github.com/tbourn/go-overlay-backend/internal/tap"
)

// Handler bundles the application services behind the HTTP surface. All
// fields are plain dependencies injected by the router; Handler itself holds
// no state and is safe for concurrent use.
type Handler struct {
	Ingest *services.Ingest
	State  *services.State
	Admin  *services.Admin
	Debug  *services.Debug
	Hub    *sse.Hub
	Tap    *tap.Tap

	// WebhookSecret verifies inbound EventSub signatures.
	WebhookSecret string
	// SigningKey signs and verifies SSE subscription tokens.
	SigningKey []byte
	// Heartbeat is the SSE keepalive comment cadence.
	Heartbeat time.Duration
	// TokenTTL is the validity window for minted SSE tokens.
	TokenTTL time.Duration

	Clock     clock.Clock
	Projector pipeline.Projector
}

// New constructs a Handler. Optional fields (Clock, Heartbeat, TokenTTL)
// fall back to sane defaults when unset.
func New(h Handler) *Handler {
	if h.Clock == nil {
		h.Clock = clock.System{}
	}
	if h.Heartbeat <= 0 {
		h.Heartbeat = 25 * time.Second
	}
	if h.TokenTTL <= 0 {
		h.TokenTTL = 12 * time.Hour
	}
	return &h
}

func (h *Handler) now() time.Time { return h.Clock.Now() }
