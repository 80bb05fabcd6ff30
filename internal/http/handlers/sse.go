// Package handlers provides HTTP handler implementations for the public API.
//
// This file implements the Server-Sent Events endpoints. A subscriber
// presents a signed token scoped to one broadcaster and one audience, tells
// the server the last version it applied, and receives either an in-order
// replay from the redelivery ring or a single state.replace snapshot when
// the ring cannot bridge the gap. After catch-up the connection streams live
// patches with periodic keepalive comments.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-overlay-backend/internal/http/middleware"
	"github.com/tbourn/go-overlay-backend/internal/services"
	"github.com/tbourn/go-overlay-backend/internal/sse"
)

// OverlaySSE handles GET /overlay/sse.
func (h *Handler) OverlaySSE(c *gin.Context) { h.stream(c, sse.AudienceOverlay) }

// AdminSSE handles GET /admin/sse.
func (h *Handler) AdminSSE(c *gin.Context) { h.stream(c, sse.AudienceAdmin) }

// stream runs one SSE connection for the given audience.
func (h *Handler) stream(c *gin.Context, audience string) {
	claims, err := sse.ValidateToken(h.SigningKey, bearerToken(c), audience)
	if err != nil {
		fail(c, http.StatusUnauthorized, ProblemUnauthorized, "invalid subscription token")
		return
	}
	c.Set(middleware.BroadcasterIDKey, claims.Broadcaster)

	since := sinceVersion(c)
	families := splitFamilies(c.Query("types"))

	sub, replay, needReplace := h.Hub.Subscribe(claims.Broadcaster, audience, since, families)
	defer h.Hub.Unsubscribe(claims.Broadcaster, audience, sub)

	// The ring alone cannot prove a client at `since` is current: an empty
	// ring looks identical for a fresh tenant and for one whose patches
	// expired. The snapshot version settles it. Reading the version before
	// streaming is safe because the subscription is already registered:
	// anything newer than the snapshot arrives live.
	snap, err := h.State.Snapshot(c.Request.Context(), claims.Broadcaster)
	switch {
	case errors.Is(err, services.ErrBroadcasterNotFound):
		fail(c, http.StatusNotFound, ProblemTenantNotFound, "unknown broadcaster")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ProblemInternal, "snapshot failed")
		return
	}

	// A family filter removes patches from the replay, so coverage cannot be
	// judged from replay versions alone; filtered clients rely on the hub's
	// own ring-miss verdict.
	covered := snap.Version
	if len(families) == 0 {
		covered = since
		if n := len(replay); n > 0 {
			covered = replay[n-1].Version
		}
	}

	w := c.Writer
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	middleware.SSEClients.WithLabelValues(audience).Inc()
	defer middleware.SSEClients.WithLabelValues(audience).Dec()

	if needReplace || covered < snap.Version {
		patch := h.Projector.StateReplace(h.now(), snap)
		data, err := json.Marshal(patch)
		if err != nil {
			return
		}
		writeFrame(w, patch.Version, data)
	} else {
		for _, ev := range replay {
			writeFrame(w, ev.Version, ev.Data)
		}
	}
	w.Flush()

	ticker := time.NewTicker(h.Heartbeat)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-sub.C():
			if !open {
				// Overflowed: the client reconnects with Last-Event-ID and
				// gets a replay or a snapshot.
				return
			}
			writeFrame(w, ev.Version, ev.Data)
			w.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			w.Flush()
		}
	}
}

// bearerToken extracts the subscription token from the `token` query
// parameter, falling back to an Authorization: Bearer header. EventSource in
// browsers cannot set headers, hence the query parameter.
func bearerToken(c *gin.Context) string {
	if tok := c.Query("token"); tok != "" {
		return tok
	}
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// sinceVersion reads the client's resume position: Last-Event-ID header
// first (set automatically by EventSource on reconnect), then the
// since_version query parameter. A fresh client reports -1.
func sinceVersion(c *gin.Context) int64 {
	for _, raw := range []string{c.GetHeader("Last-Event-ID"), c.Query("since_version")} {
		if raw == "" {
			continue
		}
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v >= 0 {
			return v
		}
	}
	return -1
}

// splitFamilies parses the comma-separated `types` filter.
func splitFamilies(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// writeFrame emits one SSE frame. Every frame uses the event name "patch";
// clients dispatch on the "type" field inside the data. The id line carries
// the patch version so EventSource resumes with Last-Event-ID after a drop.
func writeFrame(w gin.ResponseWriter, version int64, data []byte) {
	fmt.Fprintf(w, "id: %d\nevent: patch\ndata: %s\n\n", version, data)
}
