package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/luxprint/api/internal/domain"
	"github.com/luxprint/api/internal/payments"
	"github.com/luxprint/api/internal/platform/httpx"
	"github.com/luxprint/api/internal/platform/requestctx"
	"github.com/luxprint/api/internal/services"
	"go.uber.org/zap"
)

type checkoutRequest struct {
	Items    []domain.CartItem `json:"items"`
	Provider string            `json:"provider,omitempty"`
}

type checkoutResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
	Provider  string `json:"provider"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

// handleCreateCheckout accepts the storefront cart and returns the hosted
// checkout redirect URL.
func (h *Handlers) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req checkoutRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBadRequest(ctx, w, "invalid_request", "request body must be a JSON cart")
		return
	}

	session, err := h.checkout.CreateCheckoutSession(ctx, services.CreateCheckoutSessionCommand{
		Items:    req.Items,
		Provider: req.Provider,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrCheckoutEmptyCart):
			writeBadRequest(ctx, w, "empty_cart", "cart has no sellable items")
		case errors.Is(err, services.ErrCheckoutInvalidPrice):
			writeBadRequest(ctx, w, "invalid_price", "a cart line resolved to a non-positive price")
		case errors.Is(err, services.ErrMetadataTooLarge):
			writeBadRequest(ctx, w, "cart_too_large", "cart exceeds the session metadata budget")
		case errors.Is(err, payments.ErrUnsupportedProvider):
			writeBadRequest(ctx, w, "unsupported_provider", "unknown payment provider")
		case errors.Is(err, services.ErrCheckoutPaymentFailed):
			requestctx.Logger(ctx).Error("checkout session creation failed", zap.Error(err))
			httpx.WriteError(ctx, w, httpx.NewError("payment_failed", err.Error(), http.StatusBadGateway))
		default:
			requestctx.Logger(ctx).Error("checkout session creation failed", zap.Error(err))
			httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unable to create checkout session", http.StatusInternalServerError))
		}
		return
	}

	resp := checkoutResponse{
		SessionID: session.SessionID,
		URL:       session.RedirectURL,
		Provider:  session.PSP,
	}
	if !session.ExpiresAt.IsZero() {
		resp.ExpiresAt = session.ExpiresAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}
