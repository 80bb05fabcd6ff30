// Package services implements the business logic of the overlay backend:
// the single-writer command executor, webhook ingestion, state snapshots,
// and the maintenance worker. This file centralizes common service-level
// error values so that they can be consistently returned by service methods
// and checked by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler/controller layer.
package services

import "errors"

var (
	// ErrBroadcasterNotFound indicates that no broadcaster matches the
	// requested id (or upstream user id).
	ErrBroadcasterNotFound = errors.New("broadcaster not found")

	// ErrEntryNotFound indicates that the referenced queue entry does not
	// exist for this broadcaster.
	ErrEntryNotFound = errors.New("queue entry not found")

	// ErrAlreadyTerminal is returned when a transition targets an entry
	// that already reached COMPLETED or REMOVED.
	ErrAlreadyTerminal = errors.New("queue entry already terminal")

	// ErrOpIDConflict is returned when an op_id is reused with a request
	// body that differs from the one originally recorded.
	ErrOpIDConflict = errors.New("op_id reused with a different request")

	// ErrInvalidPatch is returned when a settings patch fails validation;
	// the stored document is left untouched.
	ErrInvalidPatch = errors.New("invalid settings patch")

	// ErrDuplicateDelivery marks a webhook message id that was already
	// ingested. Callers acknowledge and do nothing.
	ErrDuplicateDelivery = errors.New("duplicate delivery")

	// ErrInvalidEventPayload marks a delivery of a supported event type
	// whose payload could not be normalized. The transport rejects it so
	// the sender's retry carries the signal.
	ErrInvalidEventPayload = errors.New("invalid event payload")
)
