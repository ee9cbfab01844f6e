package services

import (
	"context"
	"time"

	"github.com/luxprint/api/internal/domain"
)

// CheckoutService builds hosted checkout sessions from storefront carts.
type CheckoutService interface {
	CreateCheckoutSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutSession, error)
}

// OrderService reconciles completed checkout sessions into fulfillment orders.
type OrderService interface {
	Reconcile(ctx context.Context, cmd ReconcileCommand) (ReconcileResult, error)
}

// CatalogService proxies product and variant lookups to the print provider.
type CatalogService interface {
	GetProduct(ctx context.Context, productID int64) (map[string]any, error)
	GetVariants(ctx context.Context, productID int64) ([]domain.CatalogVariant, error)
}

// CreateCheckoutSessionCommand carries the storefront cart into checkout.
type CreateCheckoutSessionCommand struct {
	Items    []domain.CartItem
	Provider string
}

// CheckoutSession is the handler-facing view of a created session.
type CheckoutSession struct {
	SessionID   string
	PSP         string
	RedirectURL string
	ExpiresAt   time.Time
}

// ReconcileCommand identifies the session to reconcile and where the trigger
// came from (webhook delivery or an explicit confirmation poll).
type ReconcileCommand struct {
	SessionID string
	Trigger   string
}

// SessionSummary echoes the provider-held session state back to the storefront.
type SessionSummary struct {
	ID          string
	AmountTotal int64
	Currency    string
}

// ReconcileResult reports the outcome of one reconciliation attempt.
// Zero surviving items is a success (Submitted false, Detail set) so the
// event source does not retry.
type ReconcileResult struct {
	OK                 bool
	PaymentStatus      string
	FulfillmentOrderID int64
	StoreID            string
	Submitted          bool
	Duplicate          bool
	ItemCount          int
	SkippedItems       int
	Detail             string
	Session            SessionSummary
}
