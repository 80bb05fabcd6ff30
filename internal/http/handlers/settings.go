package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-overlay-backend/internal/http/middleware"
)

// settingsUpdateRequest is the body of POST /api/settings/update. Patch is a
// partial settings document; absent fields keep their current values.
type settingsUpdateRequest struct {
	BroadcasterID string          `json:"broadcaster_id" binding:"required"`
	Patch         json.RawMessage `json:"patch" binding:"required"`
	OpID          string          `json:"op_id" binding:"required"`
}

// UpdateSettings handles POST /api/settings/update. The patch is validated
// and merged atomically; the applied patch (not the merged document) is
// broadcast to subscribers as settings.updated.
func (h *Handler) UpdateSettings(c *gin.Context) {
	var req settingsUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ProblemBadRequest, "invalid settings request: "+err.Error())
		return
	}
	if !checkAdminTenant(c, req.BroadcasterID) {
		return
	}
	c.Set(middleware.BroadcasterIDKey, req.BroadcasterID)

	res, err := h.Admin.UpdateSettings(c.Request.Context(), req.BroadcasterID, req.Patch, req.OpID)
	if err != nil {
		failMutation(c, err)
		return
	}
	ok(c, http.StatusOK, mutationResponse{
		Version:  res.Version,
		Replayed: res.Replayed,
		Result:   gin.H{"applied": true},
	})
}
