package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// ErrSessionNotFound is returned when the PSP has no session for the given id.
var ErrSessionNotFound = errors.New("payments: session not found")

// ErrInvalidSignature is returned when a webhook payload fails verification.
var ErrInvalidSignature = errors.New("payments: invalid webhook signature")

// CheckoutLineItem describes a single priced line to include in a checkout session.
// ProductMetadata is attached to the line's product so the cart can be
// reconstructed from the session even if whole-session metadata is lost.
type CheckoutLineItem struct {
	Name            string
	ImageURL        string
	Quantity        int64
	UnitAmount      int64
	Currency        string
	ProductMetadata map[string]string
}

// CheckoutSessionRequest captures the payload required to create a checkout session.
type CheckoutSessionRequest struct {
	Currency          string
	SuccessURL        string
	CancelURL         string
	Metadata          map[string]string
	Items             []CheckoutLineItem
	ShippingCountries []string
}

// CheckoutSession represents the PSP session returned to the storefront.
type CheckoutSession struct {
	ID          string
	Provider    string
	RedirectURL string
	IntentID    string
	ExpiresAt   time.Time
}

// Address normalises PSP address fields.
type Address struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// Contact captures the shipping or billing contact attached to a session.
type Contact struct {
	Name    string
	Email   string
	Phone   string
	Address Address
}

// SessionLine is one line item read back from a completed session, with the
// product metadata expanded.
type SessionLine struct {
	Quantity        int64
	UnitAmount      int64
	ProductMetadata map[string]string
}

// SessionDetails is the provider-held session state the reconciler consumes.
type SessionDetails struct {
	ID            string
	PaymentStatus string
	AmountTotal   int64
	Currency      string
	Metadata      map[string]string
	IntentID      string
	Lines         []SessionLine
	Shipping      *Contact
	Customer      *Contact
}

// Event is a verified inbound payment event.
type Event struct {
	ID        string
	Type      string
	SessionID string
	Raw       []byte
}

// Provider defines the contract for PSP adapters to implement.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (SessionDetails, error)
	UpdateSessionMetadata(ctx context.Context, sessionID string, metadata map[string]string) error
	UpdateIntentMetadata(ctx context.Context, intentID string, metadata map[string]string) error
	VerifyWebhook(payload []byte, signature string) (Event, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider selection.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = strings.ToLower(strings.TrimSpace(provider))
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{providers: copyMap}
	if _, ok := copyMap["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Resolve returns the provider registered for the given key, falling back to
// the default registration when the key is empty or unknown.
func (m *Manager) Resolve(preferred string) (string, Provider, error) {
	if m == nil || len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if key := strings.TrimSpace(strings.ToLower(preferred)); key != "" {
		if p, ok := m.providers[key]; ok {
			return key, p, nil
		}
	}
	if def := m.defaultProvider; def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// Default resolves the default provider registration.
func (m *Manager) Default() (Provider, error) {
	_, p, err := m.Resolve("")
	return p, err
}
