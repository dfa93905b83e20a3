// ABOUTME: WhatsApp webhook endpoints: the GET subscription handshake and POST deliveries
// ABOUTME: Non-WhatsApp payloads are acknowledged as ignored so the provider stops retrying

package gateway

import (
	"errors"
	"io"
	"net/http"

	"github.com/2389/inbox-gateway/internal/conversation"
	"github.com/2389/inbox-gateway/internal/metrics"
	"github.com/2389/inbox-gateway/internal/whatsapp"
)

// maxWebhookBytes caps webhook bodies; Graph batches stay well below this.
const maxWebhookBytes = 4 << 20

// WebhookResponse is the JSON response for POST /webhook.
type WebhookResponse struct {
	Status string `json:"status"`
	*conversation.WebhookResult
}

// handleWebhookVerify answers the hub.mode=subscribe handshake with the challenge.
func (g *Gateway) handleWebhookVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, ok := whatsapp.VerifySubscription(
		q.Get("hub.mode"),
		q.Get("hub.verify_token"),
		q.Get("hub.challenge"),
		g.config.WhatsApp.VerifyToken,
	)
	if !ok {
		g.logger.Warn("webhook verification failed", "mode", q.Get("hub.mode"))
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}
	g.logger.Info("webhook verified")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

// handleWebhook ingests a delivery. Processing failures return 500 so the
// provider redelivers; already-ingested messages are skipped on retry.
func (g *Gateway) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	payload, err := whatsapp.ParseWebhook(body)
	if err != nil {
		metrics.RecordWebhook("payload", err)
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !payload.IsBusinessAccount() {
		g.logger.Debug("ignoring webhook", "object", payload.Object)
		g.writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	result, err := g.conversation.HandleWebhook(r.Context(), payload)
	if errors.Is(err, conversation.ErrInvalidInput) {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		g.logger.Error("webhook processing failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "webhook processing failed")
		return
	}
	g.logger.Debug("webhook processed",
		"messages", result.Messages,
		"duplicates", result.Duplicates,
		"statuses", result.Statuses)
	g.writeJSON(w, http.StatusOK, WebhookResponse{Status: "success", WebhookResult: result})
}
