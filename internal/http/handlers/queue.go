// Package handlers provides HTTP handler implementations for the public API.
//
// This file implements the admin queue mutations. Every mutation carries a
// client-chosen op_id; retrying the same request is safe and returns the
// originally assigned version instead of producing a second command.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-overlay-backend/internal/domain"
	"github.com/tbourn/go-overlay-backend/internal/http/middleware"
	"github.com/tbourn/go-overlay-backend/internal/services"
)

// Dequeue modes.
const (
	modeComplete = "COMPLETE"
	modeUndo     = "UNDO"
)

// dequeueRequest is the body of POST /api/queue/dequeue.
type dequeueRequest struct {
	BroadcasterID string `json:"broadcaster_id" binding:"required"`
	EntryID       string `json:"entry_id" binding:"required"`
	Mode          string `json:"mode" binding:"required"`
	OpID          string `json:"op_id" binding:"required"`
}

// mutationResponse is the success body of the admin mutations.
type mutationResponse struct {
	Version  int64 `json:"version"`
	Replayed bool  `json:"replayed"`
	Result   any   `json:"result,omitempty"`
}

// dequeueResult echoes what was done to which entry. UserTodayCount is set
// when the mutation moved the user's daily counter (UNDO does, COMPLETE does
// not) and omitted on op_id replays, where no patches are re-emitted.
type dequeueResult struct {
	EntryID        string `json:"entry_id"`
	Mode           string `json:"mode"`
	UserTodayCount *int   `json:"user_today_count,omitempty"`
}

// Dequeue handles POST /api/queue/dequeue. COMPLETE marks an entry served;
// UNDO removes it and refunds the user's daily count.
func (h *Handler) Dequeue(c *gin.Context) {
	var req dequeueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ProblemBadRequest, "invalid dequeue request: "+err.Error())
		return
	}
	if !checkAdminTenant(c, req.BroadcasterID) {
		return
	}
	c.Set(middleware.BroadcasterIDKey, req.BroadcasterID)

	var (
		res  services.Result
		err  error
		mode = strings.ToUpper(req.Mode)
	)
	switch mode {
	case modeComplete:
		res, err = h.Admin.Complete(c.Request.Context(), req.BroadcasterID, req.EntryID, req.OpID)
	case modeUndo:
		res, err = h.Admin.Undo(c.Request.Context(), req.BroadcasterID, req.EntryID, req.OpID)
	default:
		fail(c, http.StatusBadRequest, ProblemBadRequest, "mode must be COMPLETE or UNDO")
		return
	}
	if err != nil {
		failMutation(c, err)
		return
	}

	result := dequeueResult{EntryID: req.EntryID, Mode: mode}
	for _, p := range res.Patches {
		if d, okData := p.Data.(domain.QueueRemovedData); okData && d.EntryID == req.EntryID {
			count := d.UserTodayCount
			result.UserTodayCount = &count
		}
	}
	ok(c, http.StatusOK, mutationResponse{Version: res.Version, Replayed: res.Replayed, Result: result})
}

// failMutation maps executor errors onto the problem taxonomy shared by all
// admin mutations.
func failMutation(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrOpIDConflict):
		fail(c, http.StatusPreconditionFailed, ProblemOpIDConflict, err.Error())
	case errors.Is(err, services.ErrAlreadyTerminal):
		fail(c, http.StatusConflict, ProblemAlreadyTerminal, err.Error())
	case errors.Is(err, services.ErrEntryNotFound):
		fail(c, http.StatusNotFound, ProblemEntryNotFound, err.Error())
	case errors.Is(err, services.ErrBroadcasterNotFound):
		fail(c, http.StatusNotFound, ProblemTenantNotFound, err.Error())
	case errors.Is(err, services.ErrInvalidPatch):
		fail(c, http.StatusBadRequest, ProblemInvalidPayload, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ProblemInternal, "mutation failed")
	}
}
