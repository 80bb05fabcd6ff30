// Package handlers defines the HTTP-layer error taxonomy used across all
// API endpoints.
//
// This file centralizes the stable problem identifiers mapped to RFC-7807
// responses (via the `fail()` helper in this package). Clients branch on
// `type` programmatically; `detail` is free-form and may change.
//
// Conventions:
//   - Identifiers are lowercase, snake_case.
//   - Generic identifiers (bad_request, unauthorized) mirror common HTTP
//     status semantics to aid interoperability.
//   - Domain-specific identifiers (op_id_conflict, already_terminal) are
//     reserved for business rules a status alone cannot convey.

package handlers

const (
	ProblemBadRequest   = "bad_request"
	ProblemUnauthorized = "unauthorized"
	ProblemForbidden    = "forbidden"
	ProblemNotFound     = "not_found"
	ProblemRateLimited  = "too_many_requests"
	ProblemInternal     = "internal_error"

	// Webhook ingress:
	ProblemInvalidSignature = "invalid_signature"
	ProblemInvalidTimestamp = "invalid_timestamp"
	ProblemInvalidPayload   = "invalid_payload"

	// Admin mutations:
	ProblemOpIDConflict    = "op_id_conflict"
	ProblemAlreadyTerminal = "already_terminal"
	ProblemEntryNotFound   = "entry_not_found"
	ProblemTenantNotFound  = "tenant_not_found"
)
