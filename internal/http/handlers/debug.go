// Package handlers provides HTTP handler implementations for the public API.
//
// This file implements the /_debug surface: the observability tap stream,
// capture download, offline replay, and SSE token minting. The router mounts
// these routes only when debug endpoints are enabled; they are development
// and incident tooling, not part of the public contract.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-overlay-backend/internal/http/middleware"
	"github.com/tbourn/go-overlay-backend/internal/services"
	"github.com/tbourn/go-overlay-backend/internal/sse"
)

// maxCaptureBody caps uploaded capture files for replay.
const maxCaptureBody = 16 << 20

// TapStream handles GET /_debug/tap. It streams pipeline trace events as
// SSE: the retained backlog first, then live events. Unlike the patch
// streams there is no resume protocol; the tap is best-effort by design.
func (h *Handler) TapStream(c *gin.Context) {
	backlog, live, cancel := h.Tap.Subscribe()
	defer cancel()

	w := c.Writer
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	middleware.SSEClients.WithLabelValues("tap").Inc()
	defer middleware.SSEClients.WithLabelValues("tap").Dec()

	for _, line := range backlog {
		fmt.Fprintf(w, "data: %s\n\n", line)
	}
	w.Flush()

	ticker := time.NewTicker(h.Heartbeat)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case line, open := <-live:
			if !open {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", line)
			w.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			w.Flush()
		}
	}
}

// Capture handles GET /_debug/capture. It downloads the retained deliveries
// of one broadcaster as NDJSON, suitable for POST /_debug/replay.
func (h *Handler) Capture(c *gin.Context) {
	broadcasterID := c.Query("broadcaster_id")
	if broadcasterID == "" {
		fail(c, http.StatusBadRequest, ProblemBadRequest, "broadcaster_id is required")
		return
	}

	var since time.Time
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			fail(c, http.StatusBadRequest, ProblemBadRequest, "since must be RFC3339")
			return
		}
		since = parsed
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			fail(c, http.StatusBadRequest, ProblemBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	capture, err := h.Debug.Capture(c.Request.Context(), broadcasterID, since, limit)
	if err != nil {
		fail(c, http.StatusNotFound, ProblemTenantNotFound, err.Error())
		return
	}

	c.Header("Content-Disposition", `attachment; filename="capture.ndjson"`)
	c.Data(http.StatusOK, "application/x-ndjson", capture)
}

// Replay handles POST /_debug/replay. The uploaded capture is replayed
// against a scratch store; the durable database is never touched. The
// response reports delivery counts and the final reconstructed state.
func (h *Handler) Replay(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCaptureBody))
	if err != nil || len(body) == 0 {
		fail(c, http.StatusBadRequest, ProblemBadRequest, "capture body required")
		return
	}

	report, err := h.Debug.Replay(c.Request.Context(), body)
	if err != nil {
		fail(c, http.StatusBadRequest, ProblemInvalidPayload, err.Error())
		return
	}
	ok(c, http.StatusOK, report)
}

// tokenRequest is the body of POST /_debug/token.
type tokenRequest struct {
	BroadcasterID string `json:"broadcaster_id" binding:"required"`
	Audience      string `json:"audience" binding:"required"`
}

// tokenResponse carries a freshly minted SSE subscription token.
type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// MintToken handles POST /_debug/token. It issues a signed SSE subscription
// token for the given broadcaster and audience.
func (h *Handler) MintToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ProblemBadRequest, "invalid token request: "+err.Error())
		return
	}
	if req.Audience != sse.AudienceOverlay && req.Audience != sse.AudienceAdmin {
		fail(c, http.StatusBadRequest, ProblemBadRequest, "audience must be overlay or admin")
		return
	}

	// Confirm the tenant exists before signing anything for it.
	if _, err := h.State.Snapshot(c.Request.Context(), req.BroadcasterID); err != nil {
		if errors.Is(err, services.ErrBroadcasterNotFound) {
			fail(c, http.StatusNotFound, ProblemTenantNotFound, "unknown broadcaster")
			return
		}
		fail(c, http.StatusInternalServerError, ProblemInternal, "tenant lookup failed")
		return
	}

	now := h.now()
	token, err := sse.MintToken(h.SigningKey, req.BroadcasterID, req.Audience, h.TokenTTL, now)
	if err != nil {
		fail(c, http.StatusInternalServerError, ProblemInternal, "token signing failed")
		return
	}
	ok(c, http.StatusOK, tokenResponse{Token: token, ExpiresAt: now.Add(h.TokenTTL)})
}
