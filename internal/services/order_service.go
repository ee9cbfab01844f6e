package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/luxprint/api/internal/domain"
	"github.com/luxprint/api/internal/fulfillment"
	"github.com/luxprint/api/internal/payments"
	"github.com/luxprint/api/internal/platform/idempotency"
)

// Reconciliation sentinel errors consumed by the transport layer.
var (
	// ErrOrderSessionNotFound is returned when the PSP has no session for the id.
	ErrOrderSessionNotFound = errors.New("services: checkout session not found")
	// ErrOrderCartUnreadable is returned when no source can reconstruct the cart.
	ErrOrderCartUnreadable = errors.New("services: cart could not be reconstructed from session")
	// ErrFulfillmentFailed wraps order submission failures. The reservation is
	// released first, so a retried delivery attempts submission again.
	ErrFulfillmentFailed = errors.New("services: fulfillment order submission failed")
)

const (
	defaultPlacement      = "front"
	idempotencyKeyPrefix  = "fulfillment:"
	metadataKeyOrderID    = "printful_order_id"
	metadataKeyStoreID    = "printful_store_id"
	metadataKeyReconcile  = "reconcile_id"
	paymentStatusPaid     = "paid"
	paymentStatusNoCharge = "no_payment_required"
)

// CartSource reconstructs the cart from a retrieved session. Sources are
// tried in order; a source reports false when its data is absent or
// unparseable so the next one gets a chance.
type CartSource interface {
	Name() string
	Load(session payments.SessionDetails) (domain.Cart, bool)
}

// sessionMetadataSource reads the whole cart encoded into session metadata.
type sessionMetadataSource struct {
	codec ChunkCodec
}

func (s sessionMetadataSource) Name() string { return "session_metadata" }

func (s sessionMetadataSource) Load(session payments.SessionDetails) (domain.Cart, bool) {
	var cart domain.Cart
	if !s.codec.Decode(session.Metadata, &cart) {
		return domain.Cart{}, false
	}
	return cart, true
}

// lineItemSource rebuilds the cart from expanded line items, reading the
// variant id and designs off each line's product metadata.
type lineItemSource struct {
	codec ChunkCodec
}

func (s lineItemSource) Name() string { return "line_items" }

func (s lineItemSource) Load(session payments.SessionDetails) (domain.Cart, bool) {
	if len(session.Lines) == 0 {
		return domain.Cart{}, false
	}
	items := make([]domain.CartItem, 0, len(session.Lines))
	for _, line := range session.Lines {
		variantID, _ := strconv.ParseInt(strings.TrimSpace(line.ProductMetadata["variant_id"]), 10, 64)
		item := domain.CartItem{
			VariantID:      domain.FlexInt(variantID),
			Quantity:       domain.FlexInt(line.Quantity),
			UnitPriceMinor: float64(line.UnitAmount),
		}
		var designs domain.DesignSet
		if s.codec.Decode(line.ProductMetadata, &designs) {
			item.Designs = designs.Designs
		}
		items = append(items, item)
	}
	return domain.Cart{Items: items}, true
}

// fulfillmentAPI is the slice of the fulfillment client the reconciler uses.
type fulfillmentAPI interface {
	CreateOrder(ctx context.Context, order fulfillment.Order) (fulfillment.OrderResult, error)
	StoreID() string
}

// OrderServiceDeps wires the reconciler.
type OrderServiceDeps struct {
	Payments           *payments.Manager
	Fulfillment        fulfillmentAPI
	CartCodec          ChunkCodec
	LineCodec          ChunkCodec
	FileURLAllowlist   *regexp.Regexp
	Idempotency        idempotency.Store
	IdempotencyTTL     time.Duration
	PackingSlipMessage string
	Clock              func() time.Time
	Logger             Logger
}

type orderService struct {
	payments    *payments.Manager
	fulfillment fulfillmentAPI
	sources     []CartSource
	allowlist   *regexp.Regexp
	idem        idempotency.Store
	idemTTL     time.Duration
	slipMessage string
	clock       func() time.Time
	logger      Logger
}

// NewOrderService constructs the reconciler validating required dependencies.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Payments == nil {
		return nil, errors.New("services: payments manager is required")
	}
	if deps.Fulfillment == nil {
		return nil, errors.New("services: fulfillment client is required")
	}
	if deps.Idempotency == nil {
		return nil, errors.New("services: idempotency store is required")
	}
	if deps.CartCodec.Key == "" || deps.LineCodec.Key == "" {
		return nil, errors.New("services: metadata codecs are required")
	}
	ttl := deps.IdempotencyTTL
	if ttl <= 0 {
		ttl = idempotency.DefaultTTL
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderService{
		payments:    deps.Payments,
		fulfillment: deps.Fulfillment,
		sources: []CartSource{
			sessionMetadataSource{codec: deps.CartCodec},
			lineItemSource{codec: deps.LineCodec},
		},
		allowlist:   deps.FileURLAllowlist,
		idem:        deps.Idempotency,
		idemTTL:     ttl,
		slipMessage: strings.TrimSpace(deps.PackingSlipMessage),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// storedOrderRef is the idempotency result recorded after a submission.
type storedOrderRef struct {
	OrderID int64  `json:"order_id"`
	StoreID string `json:"store_id"`
}

// Reconcile turns a completed checkout session into exactly one consolidated
// fulfillment order. Redeliveries replay the recorded order reference; zero
// printable items is a success so the event source does not retry.
func (s *orderService) Reconcile(ctx context.Context, cmd ReconcileCommand) (ReconcileResult, error) {
	sessionID := strings.TrimSpace(cmd.SessionID)
	if sessionID == "" {
		return ReconcileResult{}, errors.New("services: session id is required")
	}

	provider, err := s.payments.Default()
	if err != nil {
		return ReconcileResult{}, err
	}

	session, err := provider.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, payments.ErrSessionNotFound) {
			return ReconcileResult{}, fmt.Errorf("%w: %s", ErrOrderSessionNotFound, sessionID)
		}
		return ReconcileResult{}, fmt.Errorf("services: retrieve session: %w", err)
	}

	result := ReconcileResult{
		OK:            true,
		PaymentStatus: session.PaymentStatus,
		StoreID:       s.fulfillment.StoreID(),
		Session: SessionSummary{
			ID:          session.ID,
			AmountTotal: session.AmountTotal,
			Currency:    session.Currency,
		},
	}

	if session.PaymentStatus != paymentStatusPaid && session.PaymentStatus != paymentStatusNoCharge {
		result.Detail = "payment not settled"
		return result, nil
	}

	cart, sourceName, ok := s.loadCart(session)
	if !ok {
		return ReconcileResult{}, fmt.Errorf("%w: %s", ErrOrderCartUnreadable, sessionID)
	}

	items, skipped := s.buildOrderItems(ctx, sessionID, cart)
	result.ItemCount = len(items)
	result.SkippedItems = skipped
	if len(items) == 0 {
		result.Detail = "no printable items in session"
		s.logger(ctx, "orders.reconcile.empty", map[string]any{
			"sessionId": sessionID,
			"source":    sourceName,
			"skipped":   skipped,
			"trigger":   cmd.Trigger,
		})
		return result, nil
	}

	now := s.clock()
	idemKey := idempotencyKeyPrefix + sessionID
	fingerprint := idempotency.Fingerprint([]byte(sessionID))

	reservation, err := s.idem.Reserve(ctx, idemKey, fingerprint, now, s.idemTTL)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("services: reserve reconciliation: %w", err)
	}
	switch reservation.State {
	case idempotency.ReservationStateCompleted:
		var ref storedOrderRef
		if err := json.Unmarshal(reservation.Record.Result, &ref); err == nil {
			result.FulfillmentOrderID = ref.OrderID
			if ref.StoreID != "" {
				result.StoreID = ref.StoreID
			}
		}
		result.Duplicate = true
		result.Detail = "order already submitted"
		return result, nil
	case idempotency.ReservationStatePending:
		result.Duplicate = true
		result.Detail = "reconciliation in progress"
		return result, nil
	}

	order := fulfillment.Order{
		ExternalID: sessionID,
		Recipient:  resolveRecipient(session),
		Items:      items,
	}
	if slip := s.packingSlip(session); slip != nil {
		order.PackingSlip = slip
	}

	orderResult, err := s.fulfillment.CreateOrder(ctx, order)
	if err != nil {
		if releaseErr := s.idem.Release(ctx, idemKey, fingerprint); releaseErr != nil {
			s.logger(ctx, "orders.reconcile.release_failed", map[string]any{
				"sessionId": sessionID,
				"error":     releaseErr.Error(),
			})
		}
		return ReconcileResult{}, fmt.Errorf("%w: %v", ErrFulfillmentFailed, err)
	}

	ref := storedOrderRef{OrderID: orderResult.ID, StoreID: s.fulfillment.StoreID()}
	refPayload, _ := json.Marshal(ref)
	if err := s.idem.SaveResult(ctx, idemKey, fingerprint, refPayload, s.clock(), s.idemTTL); err != nil {
		s.logger(ctx, "orders.reconcile.save_failed", map[string]any{
			"sessionId": sessionID,
			"orderId":   orderResult.ID,
			"error":     err.Error(),
		})
	}

	result.FulfillmentOrderID = orderResult.ID
	result.Submitted = true

	s.stampMetadata(ctx, provider, session, orderResult.ID)

	s.logger(ctx, "orders.reconcile.submitted", map[string]any{
		"sessionId": sessionID,
		"orderId":   orderResult.ID,
		"items":     len(items),
		"skipped":   skipped,
		"source":    sourceName,
		"trigger":   cmd.Trigger,
	})
	return result, nil
}

func (s *orderService) loadCart(session payments.SessionDetails) (domain.Cart, string, bool) {
	for _, source := range s.sources {
		if cart, ok := source.Load(session); ok {
			return cart, source.Name(), true
		}
	}
	return domain.Cart{}, "", false
}

// buildOrderItems maps cart lines onto fulfillment items, skipping lines that
// have no variant or no usable printable file.
func (s *orderService) buildOrderItems(ctx context.Context, sessionID string, cart domain.Cart) ([]fulfillment.OrderItem, int) {
	items := make([]fulfillment.OrderItem, 0, len(cart.Items))
	skipped := 0
	for i, line := range cart.Items {
		variantID := line.VariantID.Int64()
		files := s.printableFiles(line.Designs)
		if variantID <= 0 || len(files) == 0 {
			skipped++
			s.logger(ctx, "orders.reconcile.line_skipped", map[string]any{
				"sessionId": sessionID,
				"line":      i,
				"variantId": variantID,
				"files":     len(files),
			})
			continue
		}
		quantity := line.Quantity.Int64()
		if quantity <= 0 {
			quantity = 1
		}
		items = append(items, fulfillment.OrderItem{
			VariantID: variantID,
			Quantity:  quantity,
			Files:     files,
			Options:   line.Options,
		})
	}
	return items, skipped
}

// printableFiles flattens design layers into order file references. Only
// file-typed layers with an allowlisted URL survive.
func (s *orderService) printableFiles(designs []domain.DesignEntry) []fulfillment.OrderFile {
	var files []fulfillment.OrderFile
	for _, design := range designs {
		placement := strings.TrimSpace(design.Placement)
		if placement == "" {
			placement = defaultPlacement
		}
		for _, layer := range design.Layers {
			url := strings.TrimSpace(layer.URL)
			if layer.Type != domain.DesignLayerTypeFile || url == "" {
				continue
			}
			if s.allowlist != nil && !s.allowlist.MatchString(url) {
				continue
			}
			files = append(files, fulfillment.OrderFile{
				URL:      url,
				Type:     placement,
				Position: placement,
				Filename: strings.TrimSpace(layer.Filename),
			})
		}
	}
	return files
}

// resolveRecipient maps the session's shipping contact (customer contact as
// fallback) onto the provider recipient. Absent fields stay empty; the
// provider is the validator of record for addresses.
func resolveRecipient(session payments.SessionDetails) domain.Recipient {
	contact := session.Shipping
	if contact == nil {
		contact = session.Customer
	}
	if contact == nil {
		return domain.Recipient{}
	}

	recipient := domain.Recipient{
		Name:        strings.TrimSpace(contact.Name),
		Address1:    strings.TrimSpace(contact.Address.Line1),
		Address2:    strings.TrimSpace(contact.Address.Line2),
		City:        strings.TrimSpace(contact.Address.City),
		StateCode:   strings.TrimSpace(contact.Address.State),
		CountryCode: strings.TrimSpace(contact.Address.Country),
		Zip:         strings.TrimSpace(contact.Address.PostalCode),
		Phone:       strings.TrimSpace(contact.Phone),
		Email:       strings.TrimSpace(contact.Email),
	}
	if recipient.Email == "" && session.Customer != nil {
		recipient.Email = strings.TrimSpace(session.Customer.Email)
	}
	if recipient.Phone == "" && session.Customer != nil {
		recipient.Phone = strings.TrimSpace(session.Customer.Phone)
	}
	return recipient
}

func (s *orderService) packingSlip(session payments.SessionDetails) *fulfillment.PackingSlip {
	if s.slipMessage == "" {
		return nil
	}
	slip := &fulfillment.PackingSlip{Message: s.slipMessage}
	if session.Customer != nil {
		slip.Email = strings.TrimSpace(session.Customer.Email)
		slip.Phone = strings.TrimSpace(session.Customer.Phone)
	}
	return slip
}

// stampMetadata writes the order reference back onto the session and its
// payment intent. Failures are logged and swallowed: the order exists, and the
// stamp is a convenience for support tooling.
func (s *orderService) stampMetadata(ctx context.Context, provider payments.Provider, session payments.SessionDetails, orderID int64) {
	metadata := map[string]string{
		metadataKeyOrderID:   strconv.FormatInt(orderID, 10),
		metadataKeyReconcile: ulid.Make().String(),
	}
	if storeID := s.fulfillment.StoreID(); storeID != "" {
		metadata[metadataKeyStoreID] = storeID
	}

	if err := provider.UpdateSessionMetadata(ctx, session.ID, metadata); err != nil {
		s.logger(ctx, "orders.reconcile.stamp_session_failed", map[string]any{
			"sessionId": session.ID,
			"error":     err.Error(),
		})
	}
	if session.IntentID != "" {
		if err := provider.UpdateIntentMetadata(ctx, session.IntentID, metadata); err != nil {
			s.logger(ctx, "orders.reconcile.stamp_intent_failed", map[string]any{
				"sessionId": session.ID,
				"intentId":  session.IntentID,
				"error":     err.Error(),
			})
		}
	}
}
