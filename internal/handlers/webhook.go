package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/luxprint/api/internal/payments"
	"github.com/luxprint/api/internal/platform/httpx"
	"github.com/luxprint/api/internal/platform/observability"
	"github.com/luxprint/api/internal/platform/requestctx"
	"github.com/luxprint/api/internal/services"
	"go.uber.org/zap"
)

const eventCheckoutCompleted = "checkout.session.completed"

type webhookResponse struct {
	Received bool   `json:"received"`
	OK       bool   `json:"ok"`
	EventID  string `json:"event_id,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Error    string `json:"error,omitempty"`
}

// handleWebhook receives PSP event deliveries. Only a bad signature earns a
// 400 and only a body-read failure earns a 500; every downstream failure is
// acknowledged with a 200 so the PSP does not retry into a poisoned queue —
// the confirm endpoint covers the gap.
func (h *Handlers) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := requestctx.Logger(ctx)

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		logger.Error("webhook body read failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("body_read_failed", "unable to read webhook payload", http.StatusInternalServerError))
		return
	}

	provider, err := h.payments.Default()
	if err != nil {
		logger.Error("webhook provider resolution failed", zap.Error(err))
		writeJSON(w, http.StatusOK, webhookResponse{Received: true, OK: false, Error: "provider_unavailable"})
		return
	}

	event, err := provider.VerifyWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			writeBadRequest(ctx, w, "invalid_signature", "webhook signature verification failed")
			return
		}
		logger.Error("webhook verification failed", zap.Error(err))
		writeJSON(w, http.StatusOK, webhookResponse{Received: true, OK: false, EventID: event.ID, Error: "verification_failed"})
		return
	}

	if event.Type != eventCheckoutCompleted {
		writeJSON(w, http.StatusOK, webhookResponse{Received: true, OK: true, EventID: event.ID, Detail: "event ignored"})
		return
	}
	if event.SessionID == "" {
		logger.Warn("completed event carries no session id", zap.String("event_id", event.ID))
		writeJSON(w, http.StatusOK, webhookResponse{Received: true, OK: false, EventID: event.ID, Error: "missing_session_id"})
		return
	}

	result, err := h.orders.Reconcile(ctx, services.ReconcileCommand{
		SessionID: event.SessionID,
		Trigger:   "webhook",
	})
	if err != nil {
		logger.Error("webhook reconciliation failed",
			zap.String("event_id", event.ID),
			zap.String("session_id", observability.SanitizeSessionID(event.SessionID)),
			zap.Error(err))
		writeJSON(w, http.StatusOK, webhookResponse{Received: true, OK: false, EventID: event.ID, Error: reconcileErrorCode(err)})
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{Received: true, OK: result.OK, EventID: event.ID, Detail: result.Detail})
}
