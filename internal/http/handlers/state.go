package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-overlay-backend/internal/domain"
	"github.com/tbourn/go-overlay-backend/internal/http/middleware"
	"github.com/tbourn/go-overlay-backend/internal/services"
)

// GetState handles GET /api/state. It returns the current projection for one
// broadcaster: version, queue in display order, today's counters, and the
// effective settings. Clients use it to seed their view before (or instead
// of) following the patch stream.
//
// scope=session (default) restricts the queue to the current or most recent
// stream session; scope=since requires an RFC3339 `since` parameter and
// restricts the queue to entries enqueued at or after it.
func (h *Handler) GetState(c *gin.Context) {
	broadcasterID := c.Query("broadcaster_id")
	if broadcasterID == "" {
		fail(c, http.StatusBadRequest, ProblemBadRequest, "broadcaster_id is required")
		return
	}
	c.Set(middleware.BroadcasterIDKey, broadcasterID)

	var (
		snap domain.StateSnapshot
		err  error
	)
	switch scope := c.DefaultQuery("scope", "session"); scope {
	case "session":
		snap, err = h.State.SnapshotSession(c.Request.Context(), broadcasterID)
	case "since":
		since, perr := time.Parse(time.RFC3339, c.Query("since"))
		if perr != nil {
			fail(c, http.StatusBadRequest, ProblemBadRequest, "scope=since requires an RFC3339 since parameter")
			return
		}
		snap, err = h.State.SnapshotSince(c.Request.Context(), broadcasterID, since)
	default:
		fail(c, http.StatusBadRequest, ProblemBadRequest, "scope must be session or since")
		return
	}

	switch {
	case errors.Is(err, services.ErrBroadcasterNotFound):
		fail(c, http.StatusNotFound, ProblemTenantNotFound, "unknown broadcaster")
	case err != nil:
		fail(c, http.StatusInternalServerError, ProblemInternal, "snapshot failed")
	default:
		ok(c, http.StatusOK, snap)
	}
}
