package services

import (
	"context"
	"errors"

	"github.com/luxprint/api/internal/fulfillment"
	"github.com/luxprint/api/internal/payments"
)

// fakeProvider implements payments.Provider with overridable function fields.
type fakeProvider struct {
	createFn        func(ctx context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
	getFn           func(ctx context.Context, sessionID string) (payments.SessionDetails, error)
	updateSessionFn func(ctx context.Context, sessionID string, metadata map[string]string) error
	updateIntentFn  func(ctx context.Context, intentID string, metadata map[string]string) error
	verifyFn        func(payload []byte, signature string) (payments.Event, error)
}

func (f *fakeProvider) CreateCheckoutSession(ctx context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	if f.createFn != nil {
		return f.createFn(ctx, req)
	}
	return payments.CheckoutSession{ID: "cs_test", Provider: "stripe", RedirectURL: "https://pay.example/cs_test"}, nil
}

func (f *fakeProvider) GetCheckoutSession(ctx context.Context, sessionID string) (payments.SessionDetails, error) {
	if f.getFn != nil {
		return f.getFn(ctx, sessionID)
	}
	return payments.SessionDetails{}, errors.New("fake: getFn not configured")
}

func (f *fakeProvider) UpdateSessionMetadata(ctx context.Context, sessionID string, metadata map[string]string) error {
	if f.updateSessionFn != nil {
		return f.updateSessionFn(ctx, sessionID, metadata)
	}
	return nil
}

func (f *fakeProvider) UpdateIntentMetadata(ctx context.Context, intentID string, metadata map[string]string) error {
	if f.updateIntentFn != nil {
		return f.updateIntentFn(ctx, intentID, metadata)
	}
	return nil
}

func (f *fakeProvider) VerifyWebhook(payload []byte, signature string) (payments.Event, error) {
	if f.verifyFn != nil {
		return f.verifyFn(payload, signature)
	}
	return payments.Event{}, errors.New("fake: verifyFn not configured")
}

func newFakeManager(provider payments.Provider) *payments.Manager {
	manager, err := payments.NewManager(map[string]payments.Provider{"stripe": provider})
	if err != nil {
		panic(err)
	}
	return manager
}

// fakeFulfillment implements the fulfillment client slices the services use.
type fakeFulfillment struct {
	createOrderFn func(ctx context.Context, order fulfillment.Order) (fulfillment.OrderResult, error)
	getProductFn  func(ctx context.Context, productID int64) (map[string]any, error)
	getVariantsFn func(ctx context.Context, productID int64) ([]any, error)
	storeID       string
}

func (f *fakeFulfillment) CreateOrder(ctx context.Context, order fulfillment.Order) (fulfillment.OrderResult, error) {
	if f.createOrderFn != nil {
		return f.createOrderFn(ctx, order)
	}
	return fulfillment.OrderResult{ID: 1}, nil
}

func (f *fakeFulfillment) GetProduct(ctx context.Context, productID int64) (map[string]any, error) {
	if f.getProductFn != nil {
		return f.getProductFn(ctx, productID)
	}
	return map[string]any{}, nil
}

func (f *fakeFulfillment) GetVariants(ctx context.Context, productID int64) ([]any, error) {
	if f.getVariantsFn != nil {
		return f.getVariantsFn(ctx, productID)
	}
	return []any{}, nil
}

func (f *fakeFulfillment) StoreID() string { return f.storeID }
