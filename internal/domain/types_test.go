package domain

import (
	"encoding/json"
	"testing"
)

func TestFlexIntUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int64
	}{
		{name: "number", in: `4012`, want: 4012},
		{name: "string", in: `"4012"`, want: 4012},
		{name: "float", in: `4012.0`, want: 4012},
		{name: "null", in: `null`, want: 0},
		{name: "empty string", in: `""`, want: 0},
		{name: "garbage", in: `"abc"`, want: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var f FlexInt
			if err := json.Unmarshal([]byte(tc.in), &f); err != nil {
				t.Fatalf("Unmarshal returned error: %v", err)
			}
			if f.Int64() != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, f.Int64())
			}
		})
	}
}

func TestFlexIntMarshalAsNumber(t *testing.T) {
	item := CartItem{VariantID: 4012, Quantity: 2}
	data, err := json.Marshal(item)
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if string(raw["variant_id"]) != "4012" {
		t.Fatalf("expected a bare number, got %s", raw["variant_id"])
	}
}

func TestCartRoundTripMixedIDEncodings(t *testing.T) {
	payload := `{"items":[{"variant_id":"4012","quantity":2},{"variant_id":4013,"quantity":"1"}]}`
	var cart Cart
	if err := json.Unmarshal([]byte(payload), &cart); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if len(cart.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(cart.Items))
	}
	if cart.Items[0].VariantID.Int64() != 4012 || cart.Items[1].Quantity.Int64() != 1 {
		t.Fatalf("unexpected cart: %+v", cart.Items)
	}
}
