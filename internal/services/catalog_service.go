package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/luxprint/api/internal/domain"
	"github.com/luxprint/api/internal/fulfillment"
)

// ErrCatalogUnavailable wraps provider failures on catalog lookups.
var ErrCatalogUnavailable = errors.New("services: catalog lookup failed")

// catalogAPI is the slice of the fulfillment client the catalog proxy uses.
type catalogAPI interface {
	GetProduct(ctx context.Context, productID int64) (map[string]any, error)
	GetVariants(ctx context.Context, productID int64) ([]any, error)
}

// CatalogServiceDeps wires the catalog proxy.
type CatalogServiceDeps struct {
	Fulfillment catalogAPI
	Logger      Logger
}

type catalogService struct {
	fulfillment catalogAPI
	logger      Logger
}

// NewCatalogService constructs the catalog proxy validating dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Fulfillment == nil {
		return nil, errors.New("services: fulfillment client is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &catalogService{fulfillment: deps.Fulfillment, logger: logger}, nil
}

// GetProduct loads and normalises one catalog product.
func (s *catalogService) GetProduct(ctx context.Context, productID int64) (map[string]any, error) {
	if productID <= 0 {
		return nil, errors.New("services: product id is required")
	}
	body, err := s.fulfillment.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
	}
	return fulfillment.NormalizeProduct(body), nil
}

// GetVariants loads and normalises the variant list for a product.
func (s *catalogService) GetVariants(ctx context.Context, productID int64) ([]domain.CatalogVariant, error) {
	if productID <= 0 {
		return nil, errors.New("services: product id is required")
	}
	raw, err := s.fulfillment.GetVariants(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
	}
	return fulfillment.NormalizeVariants(raw), nil
}
