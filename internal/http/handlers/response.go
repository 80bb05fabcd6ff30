// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the standard response utilities used across all
// endpoints: RFC-7807 problem documents for failures, consistent JSON
// serialization, and helpers for common HTTP patterns. The goal is to
// guarantee uniform responses for both success and failure cases, making the
// API predictable and machine-friendly.
//
// Conventions:
//   - All error responses are Problem documents served as
//     application/problem+json with a stable `type`.
//   - `fail()` centralizes error logging and formatting, ensuring 5xx
//     responses are logged with request context for observability.
//   - `ok()` and `noContent()` simplify writing success responses in a
//     consistent shape across handlers.
//
// Example error response:
//
//	HTTP/1.1 412 Precondition Failed
//	Content-Type: application/problem+json
//	{
//	  "type": "op_id_conflict",
//	  "title": "op_id reused with a different request",
//	  "status": 412,
//	  "detail": "op_id OP1 was recorded with a different body",
//	  "instance": "/api/queue/dequeue"
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-overlay-backend/internal/http/middleware"
)

// problemContentType is the RFC-7807 media type.
const problemContentType = "application/problem+json"

// Problem is the RFC-7807 error document returned by all endpoints.
//
// Fields:
//   - Type: stable, machine-readable identifier (see errors.go constants).
//   - Title: short human-readable summary, constant per type.
//   - Status: the HTTP status, duplicated in the body for log correlation.
//   - Detail: occurrence-specific explanation, safe to display.
//   - Instance: the request path that produced the problem.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// problemTitles maps problem types to their constant titles.
var problemTitles = map[string]string{
	ProblemBadRequest:       "malformed request",
	ProblemUnauthorized:     "authorization required",
	ProblemForbidden:        "access denied",
	ProblemNotFound:         "resource not found",
	ProblemRateLimited:      "rate limit exceeded",
	ProblemInternal:         "internal error",
	ProblemInvalidSignature: "webhook signature verification failed",
	ProblemInvalidTimestamp: "webhook timestamp outside tolerance",
	ProblemInvalidPayload:   "payload failed validation",
	ProblemOpIDConflict:     "op_id reused with a different request",
	ProblemAlreadyTerminal:  "entry already completed or removed",
	ProblemEntryNotFound:    "queue entry not found",
	ProblemTenantNotFound:   "broadcaster not found",
}

// fail aborts the request with an RFC-7807 problem document.
//
// Server errors (>=500) are logged using the request-scoped logger from
// middleware.
func fail(c *gin.Context, status int, problemType, detail string) {
	title := problemTitles[problemType]
	if title == "" {
		title = problemType
	}
	p := Problem{
		Type:     problemType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.FullPath(),
	}
	if p.Instance == "" {
		p.Instance = c.Request.URL.Path
	}

	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("problem", problemType).
			Str("detail", detail).
			Msg("api error")
	}

	c.Header("Content-Type", problemContentType)
	c.AbortWithStatusJSON(status, p)
}

// Fail is the exported variant of fail().
//
// External packages (e.g., router setup) should call Fail to return
// consistent problem documents without directly depending on unexported
// helpers.
func Fail(c *gin.Context, status int, problemType, detail string) { fail(c, status, problemType, detail) }

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// noContent writes an HTTP 204 No Content response.
//
// Used when the operation succeeds but there is no response body, notably
// the webhook acknowledgement.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
