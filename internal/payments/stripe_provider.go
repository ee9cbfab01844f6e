package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/checkout/session"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Update(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripePaymentIntentAPI interface {
	Update(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeClients struct {
	sessions stripeSessionAPI
	intents  stripePaymentIntentAPI
}

// sessionUpdateClient extends the generated checkout-session client with the
// metadata-update call it does not expose, posting straight at the sessions
// endpoint through the same backend.
type sessionUpdateClient struct {
	*session.Client
}

func (c sessionUpdateClient) Update(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	path := stripe.FormatURLPath("/v1/checkout/sessions/%s", id)
	updated := &stripe.CheckoutSession{}
	err := c.B.Call(http.MethodPost, path, c.Key, params, updated)
	return updated, err
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey        string
	WebhookSecret string
	Backends      *stripe.Backends
	Logger        StripeLogger
	Clock         func() time.Time
	Clients       *stripeClients
}

// StripeProvider implements the Provider interface using Stripe Checkout APIs.
type StripeProvider struct {
	api           stripeClients
	webhookSecret string
	clock         func() time.Time
	logger        StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			sessions: sessionUpdateClient{sc.CheckoutSessions},
			intents:  sc.PaymentIntents,
		}
	}

	if clients.sessions == nil || clients.intents == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:           clients,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateCheckoutSession creates a Stripe Checkout session in payment mode.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	if p == nil {
		return CheckoutSession{}, errors.New("stripe: provider is nil")
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	params.Context = ctx

	if len(req.Metadata) > 0 {
		params.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			params.Metadata[k] = v
		}
	}

	if len(req.ShippingCountries) > 0 {
		params.ShippingAddressCollection = &stripe.CheckoutSessionShippingAddressCollectionParams{
			AllowedCountries: stripe.StringSlice(req.ShippingCountries),
		}
	}

	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	for _, item := range req.Items {
		productData := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(item.Name),
		}
		if item.ImageURL != "" {
			productData.Images = stripe.StringSlice([]string{item.ImageURL})
		}
		if len(item.ProductMetadata) > 0 {
			productData.Metadata = make(map[string]string, len(item.ProductMetadata))
			for k, v := range item.ProductMetadata {
				productData.Metadata[k] = v
			}
		}
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(max64(item.Quantity, 1)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(strings.ToLower(defaultString(item.Currency, req.Currency))),
				UnitAmount:  stripe.Int64(item.UnitAmount),
				ProductData: productData,
			},
		})
	}
	params.LineItems = lineItems

	session, err := p.api.sessions.New(params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	intentID := ""
	if session.PaymentIntent != nil {
		intentID = session.PaymentIntent.ID
	}

	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId":     session.ID,
		"paymentIntent": intentID,
		"currency":      session.Currency,
	})

	expiresAt := p.clock().Add(30 * time.Minute)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}

	return CheckoutSession{
		ID:          session.ID,
		Provider:    "stripe",
		RedirectURL: session.URL,
		IntentID:    intentID,
		ExpiresAt:   expiresAt,
	}, nil
}

// GetCheckoutSession retrieves a session with its line items and product
// metadata expanded, normalised for the reconciler.
func (p *StripeProvider) GetCheckoutSession(ctx context.Context, sessionID string) (SessionDetails, error) {
	if p == nil {
		return SessionDetails{}, errors.New("stripe: provider is nil")
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("line_items.data.price.product")
	params.AddExpand("payment_intent")

	session, err := p.api.sessions.Get(sessionID, params)
	if err != nil {
		if isStripeNotFound(err) {
			return SessionDetails{}, fmt.Errorf("stripe: retrieve session %s: %w", sessionID, ErrSessionNotFound)
		}
		return SessionDetails{}, fmt.Errorf("stripe: retrieve session %s: %w", sessionID, err)
	}

	return stripeSessionDetails(session), nil
}

// UpdateSessionMetadata merges the provided keys into the session metadata.
func (p *StripeProvider) UpdateSessionMetadata(ctx context.Context, sessionID string, metadata map[string]string) error {
	if p == nil {
		return errors.New("stripe: provider is nil")
	}
	if len(metadata) == 0 {
		return nil
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.Metadata = make(map[string]string, len(metadata))
	for k, v := range metadata {
		params.Metadata[k] = v
	}
	if _, err := p.api.sessions.Update(sessionID, params); err != nil {
		return fmt.Errorf("stripe: update session metadata: %w", err)
	}
	return nil
}

// UpdateIntentMetadata merges the provided keys into the payment intent metadata.
func (p *StripeProvider) UpdateIntentMetadata(ctx context.Context, intentID string, metadata map[string]string) error {
	if p == nil {
		return errors.New("stripe: provider is nil")
	}
	if strings.TrimSpace(intentID) == "" || len(metadata) == 0 {
		return nil
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.Metadata = make(map[string]string, len(metadata))
	for k, v := range metadata {
		params.Metadata[k] = v
	}
	if _, err := p.api.intents.Update(intentID, params); err != nil {
		return fmt.Errorf("stripe: update intent metadata: %w", err)
	}
	return nil
}

// VerifyWebhook checks the Stripe-Signature header against the shared secret
// and returns the parsed event. Verification failures map to ErrInvalidSignature.
func (p *StripeProvider) VerifyWebhook(payload []byte, signature string) (Event, error) {
	if p == nil {
		return Event{}, errors.New("stripe: provider is nil")
	}
	if p.webhookSecret == "" {
		return Event{}, errors.New("stripe: webhook secret is not configured")
	}
	// Webflow storefront events may be pinned to a different dashboard API
	// version than this SDK; signature validity is what matters here.
	stripeEvent, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	event := Event{
		ID:   stripeEvent.ID,
		Type: string(stripeEvent.Type),
		Raw:  append([]byte(nil), stripeEvent.Data.Raw...),
	}
	if strings.HasPrefix(event.Type, "checkout.session.") {
		var object struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(stripeEvent.Data.Raw, &object); err == nil {
			event.SessionID = object.ID
		}
	}
	return event, nil
}

func stripeSessionDetails(session *stripe.CheckoutSession) SessionDetails {
	if session == nil {
		return SessionDetails{}
	}

	details := SessionDetails{
		ID:            session.ID,
		PaymentStatus: string(session.PaymentStatus),
		AmountTotal:   session.AmountTotal,
		Currency:      strings.ToLower(string(session.Currency)),
	}

	if len(session.Metadata) > 0 {
		details.Metadata = make(map[string]string, len(session.Metadata))
		for k, v := range session.Metadata {
			details.Metadata[k] = v
		}
	}

	if session.PaymentIntent != nil {
		details.IntentID = session.PaymentIntent.ID
	}

	if session.LineItems != nil {
		details.Lines = make([]SessionLine, 0, len(session.LineItems.Data))
		for _, li := range session.LineItems.Data {
			if li == nil {
				continue
			}
			line := SessionLine{Quantity: li.Quantity}
			if li.Price != nil {
				line.UnitAmount = li.Price.UnitAmount
				if li.Price.Product != nil && len(li.Price.Product.Metadata) > 0 {
					line.ProductMetadata = make(map[string]string, len(li.Price.Product.Metadata))
					for k, v := range li.Price.Product.Metadata {
						line.ProductMetadata[k] = v
					}
				}
			}
			details.Lines = append(details.Lines, line)
		}
	}

	if session.ShippingDetails != nil {
		details.Shipping = &Contact{
			Name:    session.ShippingDetails.Name,
			Phone:   session.ShippingDetails.Phone,
			Address: stripeAddress(session.ShippingDetails.Address),
		}
	}
	if session.CustomerDetails != nil {
		details.Customer = &Contact{
			Name:    session.CustomerDetails.Name,
			Email:   session.CustomerDetails.Email,
			Phone:   session.CustomerDetails.Phone,
			Address: stripeAddress(session.CustomerDetails.Address),
		}
	}

	return details
}

func stripeAddress(addr *stripe.Address) Address {
	if addr == nil {
		return Address{}
	}
	return Address{
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
	}
}

func isStripeNotFound(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode == 404 || stripeErr.Code == stripe.ErrorCodeResourceMissing
	}
	return false
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}
