package handlers

import (
	"errors"
	"net/http"

	"github.com/luxprint/api/internal/fulfillment"
	"github.com/luxprint/api/internal/platform/httpx"
	"github.com/luxprint/api/internal/platform/requestctx"
	"github.com/luxprint/api/internal/services"
	"go.uber.org/zap"
)

// handleGetProduct proxies one catalog product lookup for the storefront.
func (h *Handlers) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	productID := queryInt64(r, "id")
	if productID == 0 {
		writeBadRequest(ctx, w, "missing_product_id", "id must be a positive integer")
		return
	}

	product, err := h.catalog.GetProduct(ctx, productID)
	if err != nil {
		writeCatalogError(w, r, "product lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

// handleGetVariants proxies the variant list lookup for the storefront.
func (h *Handlers) handleGetVariants(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	productID := queryInt64(r, "product_id")
	if productID == 0 {
		writeBadRequest(ctx, w, "missing_product_id", "product_id must be a positive integer")
		return
	}

	variants, err := h.catalog.GetVariants(ctx, productID)
	if err != nil {
		writeCatalogError(w, r, "variant lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"variants": variants})
}

func writeCatalogError(w http.ResponseWriter, r *http.Request, message string, err error) {
	ctx := r.Context()
	requestctx.Logger(ctx).Error(message, zap.Error(err))

	if errors.Is(err, services.ErrCatalogUnavailable) {
		upstream := 0
		var apiErr *fulfillment.APIError
		if errors.As(err, &apiErr) {
			upstream = apiErr.Status
		}
		e := httpx.NewUpstreamError("catalog_unavailable", message, upstream)
		e.Status = http.StatusBadGateway
		httpx.WriteError(ctx, w, e)
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("internal_error", message, http.StatusInternalServerError))
}
