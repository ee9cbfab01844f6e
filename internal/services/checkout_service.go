package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/luxprint/api/internal/domain"
	"github.com/luxprint/api/internal/payments"
)

// Checkout sentinel errors consumed by the transport layer.
var (
	// ErrCheckoutEmptyCart is returned when no sellable line survives validation.
	ErrCheckoutEmptyCart = errors.New("services: cart has no sellable items")
	// ErrCheckoutInvalidPrice is returned when a line resolves to a non-positive
	// amount; the whole cart is rejected rather than silently repriced.
	ErrCheckoutInvalidPrice = errors.New("services: cart line resolved to a non-positive price")
	// ErrCheckoutPaymentFailed wraps PSP failures during session creation.
	ErrCheckoutPaymentFailed = errors.New("services: payment provider rejected the session")
)

const defaultLineName = "LuxPrint Item"

// CheckoutServiceDeps wires the checkout session builder.
type CheckoutServiceDeps struct {
	Payments          *payments.Manager
	Pricing           *PricingEngine
	CartCodec         ChunkCodec
	LineCodec         ChunkCodec
	StoreID           string
	SuccessURL        string
	CancelURL         string
	ShippingCountries []string
	Logger            Logger
}

// Logger defines the logging contract for service operations.
type Logger func(ctx context.Context, event string, fields map[string]any)

type checkoutService struct {
	payments          *payments.Manager
	pricing           *PricingEngine
	cartCodec         ChunkCodec
	lineCodec         ChunkCodec
	storeID           string
	successURL        string
	cancelURL         string
	shippingCountries []string
	logger            Logger
}

// NewCheckoutService constructs the checkout session builder validating deps.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Payments == nil {
		return nil, errors.New("services: payments manager is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("services: pricing engine is required")
	}
	if deps.CartCodec.Key == "" || deps.LineCodec.Key == "" {
		return nil, errors.New("services: metadata codecs are required")
	}
	if strings.TrimSpace(deps.SuccessURL) == "" || strings.TrimSpace(deps.CancelURL) == "" {
		return nil, errors.New("services: success and cancel URLs are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &checkoutService{
		payments:          deps.Payments,
		pricing:           deps.Pricing,
		cartCodec:         deps.CartCodec,
		lineCodec:         deps.LineCodec,
		storeID:           strings.TrimSpace(deps.StoreID),
		successURL:        strings.TrimSpace(deps.SuccessURL),
		cancelURL:         strings.TrimSpace(deps.CancelURL),
		shippingCountries: deps.ShippingCountries,
		logger:            logger,
	}, nil
}

// CreateCheckoutSession validates and prices the cart, encodes it into session
// metadata, and opens a hosted checkout session with the resolved provider.
func (s *checkoutService) CreateCheckoutSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutSession, error) {
	items := normalizeCartItems(cmd.Items)
	if len(items) == 0 {
		return CheckoutSession{}, ErrCheckoutEmptyCart
	}

	providerKey, provider, err := s.payments.Resolve(cmd.Provider)
	if err != nil {
		return CheckoutSession{}, err
	}

	currency := s.pricing.Currency()
	lines := make([]payments.CheckoutLineItem, 0, len(items))
	for i, item := range items {
		amount := s.pricing.UnitAmountMinor(UnitAmountQuery{
			BasePriceMajor:      item.BasePriceMajor,
			FallbackAmountMinor: item.UnitPriceMinor,
		})
		if amount <= 0 {
			return CheckoutSession{}, fmt.Errorf("%w: line %d (variant %d)",
				ErrCheckoutInvalidPrice, i, item.VariantID.Int64())
		}

		productMeta := map[string]string{
			"variant_id": strconv.FormatInt(item.VariantID.Int64(), 10),
		}
		designFields, err := s.lineCodec.Encode(domain.DesignSet{Designs: item.Designs})
		if err != nil {
			return CheckoutSession{}, fmt.Errorf("services: line %d designs: %w", i, err)
		}
		for k, v := range designFields {
			productMeta[k] = v
		}

		name := strings.TrimSpace(item.ProductName)
		if name == "" {
			name = defaultLineName
		}
		lines = append(lines, payments.CheckoutLineItem{
			Name:            name,
			ImageURL:        strings.TrimSpace(item.ProductImage),
			Quantity:        item.Quantity.Int64(),
			UnitAmount:      amount,
			Currency:        currency,
			ProductMetadata: productMeta,
		})
	}

	metadata, err := s.cartCodec.Encode(domain.Cart{Items: items})
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("services: cart metadata: %w", err)
	}
	if s.storeID != "" {
		metadata["store_id"] = s.storeID
	}

	session, err := provider.CreateCheckoutSession(ctx, payments.CheckoutSessionRequest{
		Currency:          currency,
		SuccessURL:        s.successURL,
		CancelURL:         s.cancelURL,
		Metadata:          metadata,
		Items:             lines,
		ShippingCountries: s.shippingCountries,
	})
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("%w: %w", ErrCheckoutPaymentFailed, err)
	}

	s.logger(ctx, "checkout.session.created", map[string]any{
		"sessionId": session.ID,
		"provider":  providerKey,
		"lines":     len(lines),
		"currency":  currency,
	})

	return CheckoutSession{
		SessionID:   session.ID,
		PSP:         providerKey,
		RedirectURL: session.RedirectURL,
		ExpiresAt:   session.ExpiresAt,
	}, nil
}

// normalizeCartItems drops lines that cannot be sold (no variant, no positive
// quantity) and strips design layers down to usable file references. An absent
// quantity decodes to zero and drops the line too; quantities are never
// defaulted at checkout time.
func normalizeCartItems(items []domain.CartItem) []domain.CartItem {
	out := make([]domain.CartItem, 0, len(items))
	for _, item := range items {
		if item.VariantID.Int64() <= 0 || item.Quantity.Int64() <= 0 {
			continue
		}
		item.ProductName = strings.TrimSpace(item.ProductName)
		item.Designs = normalizeDesigns(item.Designs)
		item.Options = normalizeOptions(item.Options)
		out = append(out, item)
	}
	return out
}

func normalizeDesigns(designs []domain.DesignEntry) []domain.DesignEntry {
	out := make([]domain.DesignEntry, 0, len(designs))
	for _, design := range designs {
		layers := make([]domain.DesignLayer, 0, len(design.Layers))
		for _, layer := range design.Layers {
			if layer.Type != domain.DesignLayerTypeFile {
				continue
			}
			layer.URL = strings.TrimSpace(layer.URL)
			if layer.URL == "" {
				continue
			}
			layers = append(layers, layer)
		}
		if len(layers) == 0 {
			continue
		}
		design.Placement = strings.TrimSpace(design.Placement)
		design.Layers = layers
		out = append(out, design)
	}
	return out
}

func normalizeOptions(options []domain.ItemOption) []domain.ItemOption {
	out := make([]domain.ItemOption, 0, len(options))
	for _, opt := range options {
		opt.ID = strings.TrimSpace(opt.ID)
		if opt.ID == "" {
			continue
		}
		out = append(out, opt)
	}
	return out
}
