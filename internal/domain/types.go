package domain

import (
	"bytes"
	"strconv"
	"strings"
)

// DesignLayerTypeFile is the only layer kind the storefront emits today.
const DesignLayerTypeFile = "file"

// FlexInt tolerates identifiers encoded as JSON numbers or strings. Historical
// storefront payloads mix both; unparseable values decode to zero instead of
// failing the whole cart.
type FlexInt int64

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(bytes.Trim(bytes.TrimSpace(data), `"`)))
	if raw == "" || raw == "null" {
		*f = 0
		return nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*f = FlexInt(n)
		return nil
	}
	if fl, err := strconv.ParseFloat(raw, 64); err == nil {
		*f = FlexInt(int64(fl))
		return nil
	}
	*f = 0
	return nil
}

// MarshalJSON implements json.Marshaler, always emitting a number.
func (f FlexInt) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(f), 10)), nil
}

// Int64 returns the underlying value.
func (f FlexInt) Int64() int64 { return int64(f) }

// DesignLayer is one printable asset reference bound to a placement.
type DesignLayer struct {
	Type     string `json:"type"`
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
}

// DesignEntry groups the ordered layers printed at one semantic placement
// (front, back, ...). An entry with no layers contributes no printable file.
type DesignEntry struct {
	Placement string        `json:"placement"`
	Technique string        `json:"technique,omitempty"`
	Layers    []DesignLayer `json:"layers"`
}

// ItemOption is a provider-facing option pair carried through checkout.
type ItemOption struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// CartItem is one storefront cart entry. UnitPriceMinor is the client-supplied
// price in minor units; BasePriceMajor is the provider base price used when
// server-side pricing is enforced.
type CartItem struct {
	ProductID      FlexInt       `json:"product_id,omitempty"`
	ProductName    string        `json:"product_name,omitempty"`
	ProductImage   string        `json:"product_image,omitempty"`
	VariantID      FlexInt       `json:"variant_id"`
	Quantity       FlexInt       `json:"quantity"`
	UnitPriceMinor float64       `json:"unit_price,omitempty"`
	BasePriceMajor float64       `json:"usd_base,omitempty"`
	Technique      string        `json:"technique,omitempty"`
	Designs        []DesignEntry `json:"designs"`
	Options        []ItemOption  `json:"options,omitempty"`
}

// Cart is the checkout payload round-tripped through session metadata.
type Cart struct {
	Items []CartItem `json:"items"`
}

// DesignSet is the per-line metadata payload carrying only the item designs.
type DesignSet struct {
	Designs []DesignEntry `json:"designs"`
}

// CatalogVariant is the normalised variant shape served to the storefront.
type CatalogVariant struct {
	ID    string `json:"id"`
	Size  string `json:"size"`
	Color string `json:"color"`
}

// Recipient is the shipping destination resolved from the payment session.
// Missing provider fields stay empty rather than failing order creation.
type Recipient struct {
	Name        string `json:"name,omitempty"`
	Address1    string `json:"address1,omitempty"`
	Address2    string `json:"address2,omitempty"`
	City        string `json:"city,omitempty"`
	StateCode   string `json:"state_code,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
	Zip         string `json:"zip,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Email       string `json:"email,omitempty"`
}
