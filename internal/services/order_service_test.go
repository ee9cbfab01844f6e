package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/luxprint/api/internal/domain"
	"github.com/luxprint/api/internal/fulfillment"
	"github.com/luxprint/api/internal/payments"
	"github.com/luxprint/api/internal/platform/idempotency"
)

var testAllowlist = regexp.MustCompile(`^https://([a-z0-9-]+\.)?(website-files\.com|uploads-ssl\.webflow\.com)/`)

func newTestOrderService(t *testing.T, provider payments.Provider, ff *fakeFulfillment) OrderService {
	t.Helper()
	svc, err := NewOrderService(OrderServiceDeps{
		Payments:         newFakeManager(provider),
		Fulfillment:      ff,
		CartCodec:        NewChunkCodec("cart", 450, 45),
		LineCodec:        NewChunkCodec("designs", 450, 45),
		FileURLAllowlist: testAllowlist,
		Idempotency:      idempotency.NewMemoryStore(),
	})
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}
	return svc
}

func paidSessionWithCart(t *testing.T, sessionID string, cart domain.Cart) payments.SessionDetails {
	t.Helper()
	metadata, err := NewChunkCodec("cart", 450, 45).Encode(cart)
	if err != nil {
		t.Fatalf("encode cart: %v", err)
	}
	return payments.SessionDetails{
		ID:            sessionID,
		PaymentStatus: "paid",
		AmountTotal:   2700,
		Currency:      "eur",
		Metadata:      metadata,
		IntentID:      "pi_test",
		Shipping: &payments.Contact{
			Name:  "Marie Curie",
			Phone: "+352 621 000 000",
			Address: payments.Address{
				Line1:      "2 rue du Château",
				City:       "Luxembourg",
				PostalCode: "L-1234",
				Country:    "LU",
			},
		},
		Customer: &payments.Contact{Name: "Marie Curie", Email: "marie@example.lu"},
	}
}

func TestReconcileSubmitsFromSessionMetadata(t *testing.T) {
	session := paidSessionWithCart(t, "cs_meta", domain.Cart{Items: []domain.CartItem{testCartItem()}})

	var stamped map[string]string
	var intentStamped map[string]string
	provider := &fakeProvider{
		getFn: func(ctx context.Context, sessionID string) (payments.SessionDetails, error) {
			return session, nil
		},
		updateSessionFn: func(ctx context.Context, sessionID string, metadata map[string]string) error {
			stamped = metadata
			return nil
		},
		updateIntentFn: func(ctx context.Context, intentID string, metadata map[string]string) error {
			intentStamped = metadata
			return nil
		},
	}

	var submitted fulfillment.Order
	ff := &fakeFulfillment{
		storeID: "16644948",
		createOrderFn: func(ctx context.Context, order fulfillment.Order) (fulfillment.OrderResult, error) {
			submitted = order
			return fulfillment.OrderResult{ID: 98765}, nil
		},
	}

	svc := newTestOrderService(t, provider, ff)
	result, err := svc.Reconcile(context.Background(), ReconcileCommand{SessionID: "cs_meta", Trigger: "webhook"})
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}

	if !result.OK || !result.Submitted || result.FulfillmentOrderID != 98765 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.ItemCount != 1 || result.SkippedItems != 0 {
		t.Fatalf("unexpected item counts: %+v", result)
	}
	if result.Session.ID != "cs_meta" || result.Session.AmountTotal != 2700 || result.Session.Currency != "eur" {
		t.Fatalf("unexpected session summary: %+v", result.Session)
	}

	if submitted.ExternalID != "cs_meta" {
		t.Fatalf("expected session id as external id, got %q", submitted.ExternalID)
	}
	if len(submitted.Items) != 1 || submitted.Items[0].VariantID != 4012 || submitted.Items[0].Quantity != 2 {
		t.Fatalf("unexpected order items: %+v", submitted.Items)
	}
	if len(submitted.Items[0].Files) != 1 || submitted.Items[0].Files[0].Type != "front" {
		t.Fatalf("unexpected order files: %+v", submitted.Items[0].Files)
	}
	if submitted.Recipient.Name != "Marie Curie" || submitted.Recipient.CountryCode != "LU" {
		t.Fatalf("unexpected recipient: %+v", submitted.Recipient)
	}
	if submitted.Recipient.Email != "marie@example.lu" {
		t.Fatalf("expected customer email fallback, got %q", submitted.Recipient.Email)
	}

	if stamped["printful_order_id"] != "98765" || stamped["printful_store_id"] != "16644948" {
		t.Fatalf("unexpected session stamp: %v", stamped)
	}
	if stamped["reconcile_id"] == "" {
		t.Fatal("expected a reconcile id on the stamp")
	}
	if intentStamped["printful_order_id"] != "98765" {
		t.Fatalf("expected intent stamp, got %v", intentStamped)
	}
}

func TestReconcileFallsBackToLineItems(t *testing.T) {
	designFields, err := NewChunkCodec("designs", 450, 45).Encode(domain.DesignSet{Designs: []domain.DesignEntry{{
		Placement: "back",
		Layers:    []domain.DesignLayer{{Type: domain.DesignLayerTypeFile, URL: "https://assets.website-files.com/b.png"}},
	}}})
	if err != nil {
		t.Fatalf("encode designs: %v", err)
	}
	productMeta := map[string]string{"variant_id": "7731"}
	for k, v := range designFields {
		productMeta[k] = v
	}

	provider := &fakeProvider{
		getFn: func(ctx context.Context, sessionID string) (payments.SessionDetails, error) {
			return payments.SessionDetails{
				ID:            sessionID,
				PaymentStatus: "paid",
				Lines: []payments.SessionLine{{
					Quantity:        3,
					UnitAmount:      1500,
					ProductMetadata: productMeta,
				}},
			}, nil
		},
	}

	var submitted fulfillment.Order
	ff := &fakeFulfillment{
		createOrderFn: func(ctx context.Context, order fulfillment.Order) (fulfillment.OrderResult, error) {
			submitted = order
			return fulfillment.OrderResult{ID: 11}, nil
		},
	}

	svc := newTestOrderService(t, provider, ff)
	result, err := svc.Reconcile(context.Background(), ReconcileCommand{SessionID: "cs_lines"})
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if !result.Submitted {
		t.Fatalf("expected a submission, got %+v", result)
	}
	if len(submitted.Items) != 1 || submitted.Items[0].VariantID != 7731 || submitted.Items[0].Quantity != 3 {
		t.Fatalf("unexpected items: %+v", submitted.Items)
	}
	if submitted.Items[0].Files[0].Position != "back" {
		t.Fatalf("expected back placement, got %+v", submitted.Items[0].Files)
	}
}

func TestReconcileCartUnreadable(t *testing.T) {
	provider := &fakeProvider{
		getFn: func(ctx context.Context, sessionID string) (payments.SessionDetails, error) {
			return payments.SessionDetails{ID: sessionID, PaymentStatus: "paid"}, nil
		},
	}
	svc := newTestOrderService(t, provider, &fakeFulfillment{})

	_, err := svc.Reconcile(context.Background(), ReconcileCommand{SessionID: "cs_empty"})
	if !errors.Is(err, ErrOrderCartUnreadable) {
		t.Fatalf("expected ErrOrderCartUnreadable, got %v", err)
	}
}

func TestReconcileSkipsDisallowedFileURLs(t *testing.T) {
	item := testCartItem()
	item.Designs[0].Layers[0].URL = "https://evil.example/design.png"
	session := paidSessionWithCart(t, "cs_filtered", domain.Cart{Items: []domain.CartItem{item}})

	provider := &fakeProvider{
		getFn: func(ctx context.Context, sessionID string) (payments.SessionDetails, error) {
			return session, nil
		},
	}
	var created bool
	ff := &fakeFulfillment{
		createOrderFn: func(ctx context.Context, order fulfillment.Order) (fulfillment.OrderResult, error) {
			created = true
			return fulfillment.OrderResult{ID: 1}, nil
		},
	}

	svc := newTestOrderService(t, provider, ff)
	result, err := svc.Reconcile(context.Background(), ReconcileCommand{SessionID: "cs_filtered"})
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if !result.OK || result.Submitted {
		t.Fatalf("expected ok without submission, got %+v", result)
	}
	if result.SkippedItems != 1 || result.ItemCount != 0 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if created {
		t.Fatal("order must not be created with zero items")
	}
}

func TestReconcileUnpaidSessionDoesNotSubmit(t *testing.T) {
	session := paidSessionWithCart(t, "cs_unpaid", domain.Cart{Items: []domain.CartItem{testCartItem()}})
	session.PaymentStatus = "unpaid"

	provider := &fakeProvider{
		getFn: func(ctx context.Context, sessionID string) (payments.SessionDetails, error) {
			return session, nil
		},
	}
	var created bool
	ff := &fakeFulfillment{
		createOrderFn: func(ctx context.Context, order fulfillment.Order) (fulfillment.OrderResult, error) {
			created = true
			return fulfillment.OrderResult{ID: 1}, nil
		},
	}

	svc := newTestOrderService(t, provider, ff)
	result, err := svc.Reconcile(context.Background(), ReconcileCommand{SessionID: "cs_unpaid"})
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if result.Submitted || created {
		t.Fatalf("unpaid session must not submit, got %+v", result)
	}
	if result.PaymentStatus != "unpaid" {
		t.Fatalf("expected unpaid status echoed, got %q", result.PaymentStatus)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	session := paidSessionWithCart(t, "cs_dup", domain.Cart{Items: []domain.CartItem{testCartItem()}})
	provider := &fakeProvider{
		getFn: func(ctx context.Context, sessionID string) (payments.SessionDetails, error) {
			return session, nil
		},
	}
	var calls int
	ff := &fakeFulfillment{
		storeID: "16644948",
		createOrderFn: func(ctx context.Context, order fulfillment.Order) (fulfillment.OrderResult, error) {
			calls++
			return fulfillment.OrderResult{ID: 555}, nil
		},
	}

	svc := newTestOrderService(t, provider, ff)
	first, err := svc.Reconcile(context.Background(), ReconcileCommand{SessionID: "cs_dup", Trigger: "webhook"})
	if err != nil {
		t.Fatalf("first Reconcile returned error: %v", err)
	}
	second, err := svc.Reconcile(context.Background(), ReconcileCommand{SessionID: "cs_dup", Trigger: "confirm"})
	if err != nil {
		t.Fatalf("second Reconcile returned error: %v", err)
	}

	if calls != 1 {
		t.Fatalf("expected a single order submission, got %d", calls)
	}
	if !first.Submitted || first.Duplicate {
		t.Fatalf("unexpected first result: %+v", first)
	}
	if second.Submitted || !second.Duplicate {
		t.Fatalf("unexpected second result: %+v", second)
	}
	if second.FulfillmentOrderID != 555 || second.StoreID != "16644948" {
		t.Fatalf("expected replayed order reference, got %+v", second)
	}
}

func TestReconcileRetriesAfterFulfillmentFailure(t *testing.T) {
	session := paidSessionWithCart(t, "cs_retry", domain.Cart{Items: []domain.CartItem{testCartItem()}})
	provider := &fakeProvider{
		getFn: func(ctx context.Context, sessionID string) (payments.SessionDetails, error) {
			return session, nil
		},
	}
	var calls int
	ff := &fakeFulfillment{
		createOrderFn: func(ctx context.Context, order fulfillment.Order) (fulfillment.OrderResult, error) {
			calls++
			if calls == 1 {
				return fulfillment.OrderResult{}, fmt.Errorf("upstream 500")
			}
			return fulfillment.OrderResult{ID: 77}, nil
		},
	}

	svc := newTestOrderService(t, provider, ff)
	if _, err := svc.Reconcile(context.Background(), ReconcileCommand{SessionID: "cs_retry"}); !errors.Is(err, ErrFulfillmentFailed) {
		t.Fatalf("expected ErrFulfillmentFailed, got %v", err)
	}

	// the failed reservation was released, so the retry submits again
	result, err := svc.Reconcile(context.Background(), ReconcileCommand{SessionID: "cs_retry"})
	if err != nil {
		t.Fatalf("retry returned error: %v", err)
	}
	if !result.Submitted || result.FulfillmentOrderID != 77 {
		t.Fatalf("unexpected retry result: %+v", result)
	}
	if calls != 2 {
		t.Fatalf("expected 2 submission attempts, got %d", calls)
	}
}

func TestReconcileStampFailureIsNotFatal(t *testing.T) {
	session := paidSessionWithCart(t, "cs_stamp", domain.Cart{Items: []domain.CartItem{testCartItem()}})
	provider := &fakeProvider{
		getFn: func(ctx context.Context, sessionID string) (payments.SessionDetails, error) {
			return session, nil
		},
		updateSessionFn: func(ctx context.Context, sessionID string, metadata map[string]string) error {
			return errors.New("metadata update rejected")
		},
		updateIntentFn: func(ctx context.Context, intentID string, metadata map[string]string) error {
			return errors.New("intent update rejected")
		},
	}
	svc := newTestOrderService(t, provider, &fakeFulfillment{})

	result, err := svc.Reconcile(context.Background(), ReconcileCommand{SessionID: "cs_stamp"})
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if !result.Submitted {
		t.Fatalf("stamp failures must not block the order, got %+v", result)
	}
}

func TestReconcileSessionNotFound(t *testing.T) {
	provider := &fakeProvider{
		getFn: func(ctx context.Context, sessionID string) (payments.SessionDetails, error) {
			return payments.SessionDetails{}, fmt.Errorf("retrieve: %w", payments.ErrSessionNotFound)
		},
	}
	svc := newTestOrderService(t, provider, &fakeFulfillment{})

	_, err := svc.Reconcile(context.Background(), ReconcileCommand{SessionID: "cs_missing"})
	if !errors.Is(err, ErrOrderSessionNotFound) {
		t.Fatalf("expected ErrOrderSessionNotFound, got %v", err)
	}
}
