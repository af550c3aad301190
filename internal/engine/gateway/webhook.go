package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/harborwave/humanizer/internal/domain"
	"github.com/harborwave/humanizer/internal/pkg/httputil"
	"github.com/harborwave/humanizer/internal/pkg/logger"
)

// EventSink receives a parsed DeliveryEvent from an inbound provider
// webhook; cmd/server wires this to a sink that applies the event
// synchronously through tracker.PostgresStatusUpdater.
type EventSink interface {
	Publish(evt domain.DeliveryEvent)
}

// WebhookHandler verifies and ingests provider-initiated delivery-status
// callbacks (delivered/read/failed). Each provider integration signs its
// payload with an HMAC-SHA256 secret shared out of band; the handler
// rejects anything that doesn't verify rather than trusting the network
// path alone.
type WebhookHandler struct {
	secret []byte
	sink   EventSink
}

func NewWebhookHandler(secret []byte, sink EventSink) *WebhookHandler {
	return &WebhookHandler{secret: secret, sink: sink}
}

// Routes mounts the webhook endpoint on r.
func (h *WebhookHandler) Routes(r chi.Router) {
	r.Post("/webhooks/gateway", h.handleCallback)
}

type webhookPayload struct {
	ProviderMessageID string `json:"message_id"`
	Status            string `json:"status"`
	Reason            string `json:"reason,omitempty"`
	OccurredAt        int64  `json:"occurred_at"`
}

func (h *WebhookHandler) handleCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		httputil.BadRequest(w, "could not read body")
		return
	}

	if !h.verifySignature(r.Header.Get("X-Signature-256"), body) {
		logger.Warn("gateway webhook signature mismatch", "remote", r.RemoteAddr)
		httputil.Error(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		httputil.BadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	if payload.ProviderMessageID == "" {
		httputil.BadRequest(w, "missing message_id")
		return
	}

	occurredAt := time.Now().UTC()
	if payload.OccurredAt > 0 {
		occurredAt = time.Unix(payload.OccurredAt, 0).UTC()
	}
	evt := domain.DeliveryEvent{
		ProviderMessageID: payload.ProviderMessageID,
		Status:            domain.MessageStatus(payload.Status),
		Reason:            payload.Reason,
		OccurredAt:        occurredAt,
	}
	h.sink.Publish(evt)
	httputil.NoContent(w)
}

func (h *WebhookHandler) verifySignature(header string, body []byte) bool {
	if len(h.secret) == 0 {
		return true // no secret configured: local/dev mode
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(header), []byte(expected))
}
