package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/luxprint/api/internal/platform/httpx"
	"github.com/luxprint/api/internal/platform/observability"
	"github.com/luxprint/api/internal/platform/requestctx"
	"github.com/luxprint/api/internal/services"
	"go.uber.org/zap"
)

type confirmRequest struct {
	SessionID string `json:"session_id"`
}

type sessionSummaryResponse struct {
	ID          string `json:"id"`
	AmountTotal int64  `json:"amount_total"`
	Currency    string `json:"currency"`
}

type reconcileResponse struct {
	OK                 bool                    `json:"ok"`
	PaymentStatus      string                  `json:"payment_status,omitempty"`
	FulfillmentOrderID int64                   `json:"fulfillment_order_id,omitempty"`
	StoreID            string                  `json:"store_id,omitempty"`
	Submitted          bool                    `json:"submitted"`
	Duplicate          bool                    `json:"duplicate,omitempty"`
	ItemCount          int                     `json:"item_count"`
	SkippedItems       int                     `json:"skipped_items,omitempty"`
	Detail             string                  `json:"detail,omitempty"`
	Error              string                  `json:"error,omitempty"`
	Session            *sessionSummaryResponse `json:"session,omitempty"`
}

// handleConfirm reconciles a session on explicit storefront request, covering
// webhook delivery gaps after the customer lands on the success page.
func (h *Handlers) handleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req confirmRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBadRequest(ctx, w, "invalid_request", "request body must carry a session_id")
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		writeBadRequest(ctx, w, "missing_session_id", "session_id is required")
		return
	}

	result, err := h.orders.Reconcile(ctx, services.ReconcileCommand{
		SessionID: sessionID,
		Trigger:   "confirm",
	})
	if err != nil {
		if errors.Is(err, services.ErrOrderSessionNotFound) {
			httpx.WriteError(ctx, w, httpx.NewError("session_not_found", "no checkout session for the given id", http.StatusNotFound))
			return
		}
		// Downstream faults surface as ok:false so the storefront can show a
		// soft failure; the order is retried on the next confirm or delivery.
		requestctx.Logger(ctx).Error("confirm reconciliation failed",
			zap.String("session_id", observability.SanitizeSessionID(sessionID)),
			zap.Error(err))
		writeJSON(w, http.StatusOK, reconcileResponse{OK: false, Error: reconcileErrorCode(err)})
		return
	}

	writeJSON(w, http.StatusOK, toReconcileResponse(result))
}

func toReconcileResponse(result services.ReconcileResult) reconcileResponse {
	return reconcileResponse{
		OK:                 result.OK,
		PaymentStatus:      result.PaymentStatus,
		FulfillmentOrderID: result.FulfillmentOrderID,
		StoreID:            result.StoreID,
		Submitted:          result.Submitted,
		Duplicate:          result.Duplicate,
		ItemCount:          result.ItemCount,
		SkippedItems:       result.SkippedItems,
		Detail:             result.Detail,
		Session: &sessionSummaryResponse{
			ID:          result.Session.ID,
			AmountTotal: result.Session.AmountTotal,
			Currency:    result.Session.Currency,
		},
	}
}

func reconcileErrorCode(err error) string {
	switch {
	case errors.Is(err, services.ErrOrderCartUnreadable):
		return "cart_unreadable"
	case errors.Is(err, services.ErrFulfillmentFailed):
		return "fulfillment_failed"
	default:
		return "reconcile_failed"
	}
}
