package services

import (
	"context"
	"errors"
	"testing"
)

func TestCatalogGetProductNormalises(t *testing.T) {
	ff := &fakeFulfillment{
		getProductFn: func(ctx context.Context, productID int64) (map[string]any, error) {
			return map[string]any{
				"result": map[string]any{
					"id":                   float64(productID),
					"available_placements": []any{"front", "back"},
				},
			}, nil
		},
	}
	svc, err := NewCatalogService(CatalogServiceDeps{Fulfillment: ff})
	if err != nil {
		t.Fatalf("NewCatalogService returned error: %v", err)
	}

	product, err := svc.GetProduct(context.Background(), 71)
	if err != nil {
		t.Fatalf("GetProduct returned error: %v", err)
	}
	placements, ok := product["placements"].([]any)
	if !ok || len(placements) != 2 {
		t.Fatalf("expected normalised placements, got %v", product["placements"])
	}
	if _, ok := product["options"]; !ok {
		t.Fatal("expected an options key even when the provider omits it")
	}
}

func TestCatalogGetVariantsNormalises(t *testing.T) {
	ff := &fakeFulfillment{
		getVariantsFn: func(ctx context.Context, productID int64) ([]any, error) {
			return []any{
				map[string]any{"id": float64(4012), "size": "A3", "color": "white"},
				map[string]any{"variant_id": "4013", "attributes": map[string]any{"size": "A2"}},
				"not an object",
			}, nil
		},
	}
	svc, err := NewCatalogService(CatalogServiceDeps{Fulfillment: ff})
	if err != nil {
		t.Fatalf("NewCatalogService returned error: %v", err)
	}

	variants, err := svc.GetVariants(context.Background(), 71)
	if err != nil {
		t.Fatalf("GetVariants returned error: %v", err)
	}
	if len(variants) != 2 {
		t.Fatalf("expected 2 variants, got %d", len(variants))
	}
	if variants[0].ID != "4012" || variants[0].Size != "A3" {
		t.Fatalf("unexpected first variant: %+v", variants[0])
	}
	if variants[1].ID != "4013" || variants[1].Size != "A2" || variants[1].Color != "" {
		t.Fatalf("unexpected second variant: %+v", variants[1])
	}
}

func TestCatalogLookupFailure(t *testing.T) {
	ff := &fakeFulfillment{
		getProductFn: func(ctx context.Context, productID int64) (map[string]any, error) {
			return nil, errors.New("both endpoints failed")
		},
	}
	svc, err := NewCatalogService(CatalogServiceDeps{Fulfillment: ff})
	if err != nil {
		t.Fatalf("NewCatalogService returned error: %v", err)
	}

	if _, err := svc.GetProduct(context.Background(), 71); !errors.Is(err, ErrCatalogUnavailable) {
		t.Fatalf("expected ErrCatalogUnavailable, got %v", err)
	}
	if _, err := svc.GetProduct(context.Background(), 0); err == nil {
		t.Fatal("expected an error for a missing product id")
	}
}
