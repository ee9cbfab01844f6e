package payments

import (
	"context"
	"errors"
	"testing"
)

type stubProvider struct {
	Provider
	name string
}

func (s *stubProvider) CreateCheckoutSession(context.Context, CheckoutSessionRequest) (CheckoutSession, error) {
	return CheckoutSession{Provider: s.name}, nil
}

func TestNewManagerValidation(t *testing.T) {
	if _, err := NewManager(nil); err == nil {
		t.Fatal("expected an error for an empty provider set")
	}
	if _, err := NewManager(map[string]Provider{"": &stubProvider{}}); err == nil {
		t.Fatal("expected an error for an empty key")
	}
	if _, err := NewManager(map[string]Provider{"stripe": nil}); err == nil {
		t.Fatal("expected an error for a nil provider")
	}
}

func TestManagerResolve(t *testing.T) {
	stripeStub := &stubProvider{name: "stripe"}
	otherStub := &stubProvider{name: "other"}
	manager, err := NewManager(map[string]Provider{"stripe": stripeStub, "other": otherStub})
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}

	key, p, err := manager.Resolve("other")
	if err != nil || key != "other" || p != Provider(otherStub) {
		t.Fatalf("unexpected resolution: %q %v %v", key, p, err)
	}

	// unknown and empty keys fall back to the stripe default
	for _, preferred := range []string{"", "unknown", " STRIPE "} {
		key, p, err = manager.Resolve(preferred)
		if err != nil || key != "stripe" || p != Provider(stripeStub) {
			t.Fatalf("preferred %q: unexpected resolution: %q %v %v", preferred, key, p, err)
		}
	}
}

func TestManagerSingleProviderFallback(t *testing.T) {
	only := &stubProvider{name: "other"}
	manager, err := NewManager(map[string]Provider{"other": only})
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}
	key, p, err := manager.Resolve("")
	if err != nil || key != "other" || p != Provider(only) {
		t.Fatalf("unexpected resolution: %q %v %v", key, p, err)
	}
}

func TestManagerUnsupportedProvider(t *testing.T) {
	manager, err := NewManager(map[string]Provider{"a": &stubProvider{}, "b": &stubProvider{}},
		WithDefaultProvider("missing"))
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}
	if _, _, err := manager.Resolve("nope"); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}
