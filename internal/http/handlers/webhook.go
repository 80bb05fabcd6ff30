// Package handlers provides HTTP handler implementations for the public API.
//
// This file implements the EventSub webhook ingress. Every delivery is
// authenticated with an HMAC-SHA256 signature over the message ID, the
// timestamp, and the raw body before any byte of the payload is trusted.
// Verified notifications are acknowledged with 204 once the delivery record
// is durable; pipeline failures past that point never withhold the ack.
package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-overlay-backend/internal/http/middleware"
	"github.com/tbourn/go-overlay-backend/internal/services"
)

// EventSub delivery headers.
const (
	headerMsgID     = "Twitch-Eventsub-Message-Id"
	headerTimestamp = "Twitch-Eventsub-Message-Timestamp"
	headerSignature = "Twitch-Eventsub-Message-Signature"
	headerMsgType   = "Twitch-Eventsub-Message-Type"
	headerSubType   = "Twitch-Eventsub-Subscription-Type"
)

// EventSub message types.
const (
	msgTypeNotification = "notification"
	msgTypeVerification = "webhook_callback_verification"
	msgTypeRevocation   = "revocation"
)

// signaturePrefix is the algorithm tag EventSub prepends to the hex digest.
const signaturePrefix = "sha256="

// timestampTolerance bounds the accepted clock skew on deliveries. Older
// (or future-dated) messages are rejected to blunt replayed signatures.
const timestampTolerance = 10 * time.Minute

// maxWebhookBody caps how much of a delivery we are willing to read.
const maxWebhookBody = 1 << 20

// verificationBody is the relevant slice of a webhook_callback_verification
// payload.
type verificationBody struct {
	Challenge string `json:"challenge"`
}

// notificationBody is the relevant slice of a notification payload; the
// event block is handed to the pipeline untouched.
type notificationBody struct {
	Subscription struct {
		Type string `json:"type"`
	} `json:"subscription"`
}

// Webhook handles POST /eventsub/webhook.
//
// Flow:
//  1. Verify the HMAC signature over msgID + timestamp + raw body
//     (constant-time compare). Failure → 403 invalid_signature.
//  2. Verify the delivery timestamp parses and is within tolerance → 400
//     otherwise.
//  3. webhook_callback_verification → echo the challenge as text/plain.
//  4. notification → persist and process, then 204. Duplicate message IDs
//     acknowledge without reprocessing; a 500 means the record itself could
//     not be stored.
//  5. revocation → acknowledged with 204 (subscription repair is operator
//     work, not request work).
func (h *Handler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		fail(c, http.StatusBadRequest, ProblemBadRequest, "unreadable body")
		return
	}

	msgID := c.GetHeader(headerMsgID)
	timestamp := c.GetHeader(headerTimestamp)
	signature := c.GetHeader(headerSignature)
	if msgID == "" || timestamp == "" || signature == "" {
		middleware.WebhookDeliveries.WithLabelValues("bad_request").Inc()
		fail(c, http.StatusBadRequest, ProblemBadRequest, "missing delivery headers")
		return
	}

	if !verifySignature(h.WebhookSecret, msgID, timestamp, body, signature) {
		middleware.WebhookDeliveries.WithLabelValues("invalid_signature").Inc()
		fail(c, http.StatusForbidden, ProblemInvalidSignature, "signature mismatch")
		return
	}

	// Timestamp problems are 400s; 403 is reserved for a failed signature.
	sentAt, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		middleware.WebhookDeliveries.WithLabelValues("invalid_timestamp").Inc()
		fail(c, http.StatusBadRequest, ProblemInvalidTimestamp, "unparseable timestamp")
		return
	}
	if skew := h.now().Sub(sentAt); skew > timestampTolerance || skew < -timestampTolerance {
		middleware.WebhookDeliveries.WithLabelValues("invalid_timestamp").Inc()
		fail(c, http.StatusBadRequest, ProblemInvalidTimestamp, "timestamp outside tolerance")
		return
	}

	switch c.GetHeader(headerMsgType) {
	case msgTypeVerification:
		var v verificationBody
		if err := json.Unmarshal(body, &v); err != nil || v.Challenge == "" {
			middleware.WebhookDeliveries.WithLabelValues("invalid_payload").Inc()
			fail(c, http.StatusBadRequest, ProblemInvalidPayload, "verification payload missing challenge")
			return
		}
		middleware.WebhookDeliveries.WithLabelValues("challenge").Inc()
		c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(v.Challenge))
		return

	case msgTypeRevocation:
		middleware.WebhookDeliveries.WithLabelValues("revocation").Inc()
		noContent(c)
		return

	case msgTypeNotification:
		eventType := c.GetHeader(headerSubType)
		if eventType == "" {
			var n notificationBody
			if err := json.Unmarshal(body, &n); err != nil || n.Subscription.Type == "" {
				middleware.WebhookDeliveries.WithLabelValues("invalid_payload").Inc()
				fail(c, http.StatusBadRequest, ProblemInvalidPayload, "notification missing subscription type")
				return
			}
			eventType = n.Subscription.Type
		}

		err := h.Ingest.Process(c.Request.Context(), msgID, eventType, body)
		switch {
		case errors.Is(err, services.ErrDuplicateDelivery):
			middleware.WebhookDeliveries.WithLabelValues("duplicate").Inc()
			noContent(c)
		case errors.Is(err, services.ErrInvalidEventPayload):
			middleware.WebhookDeliveries.WithLabelValues("invalid_payload").Inc()
			fail(c, http.StatusBadRequest, ProblemInvalidPayload, "malformed event payload")
		case err != nil:
			middleware.WebhookDeliveries.WithLabelValues("error").Inc()
			fail(c, http.StatusInternalServerError, ProblemInternal, "delivery processing failed")
		default:
			middleware.WebhookDeliveries.WithLabelValues("accepted").Inc()
			noContent(c)
		}
		return

	default:
		middleware.WebhookDeliveries.WithLabelValues("invalid_payload").Inc()
		fail(c, http.StatusBadRequest, ProblemBadRequest, "unknown message type")
	}
}

// verifySignature recomputes the EventSub HMAC and compares it in constant
// time. The signed message is the concatenation msgID || timestamp || body.
func verifySignature(secret, msgID, timestamp string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msgID))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	want := signaturePrefix + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(signature))
}
