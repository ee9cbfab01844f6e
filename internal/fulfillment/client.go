// Package fulfillment wraps the print provider's REST API: catalog lookups
// with a versioned-endpoint fallback and consolidated order submission.
package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/luxprint/api/internal/domain"
)

const (
	defaultBaseURLV1 = "https://api.printful.com"
	defaultBaseURLV2 = "https://api.printful.com/v2"
	defaultTimeout   = 30 * time.Second

	storeIDHeader = "X-PF-Store-Id"
)

// Logger defines the logging contract for client operations.
type Logger func(ctx context.Context, event string, fields map[string]any)

// APIError carries the provider HTTP status and response detail.
type APIError struct {
	Status  int
	Op      string
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("fulfillment: %s failed (%d)", e.Op, e.Status)
	}
	return fmt.Sprintf("fulfillment: %s failed (%d): %s", e.Op, e.Status, e.Message)
}

// Config configures the Client.
type Config struct {
	Token       string
	OrdersToken string
	StoreID     string
	BaseURLV1   string
	BaseURLV2   string
	HTTPClient  *http.Client
	Logger      Logger
}

// Client talks to the print provider. All calls are blocking network I/O with
// no internal retry; callers surface failures to the event source.
type Client struct {
	token       string
	ordersToken string
	storeID     string
	baseV1      string
	baseV2      string
	httpClient  *http.Client
	logger      Logger
}

// NewClient constructs a Client validating required configuration.
func NewClient(cfg Config) (*Client, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("fulfillment: token is required")
	}
	ordersToken := strings.TrimSpace(cfg.OrdersToken)
	if ordersToken == "" {
		ordersToken = token
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Client{
		token:       token,
		ordersToken: ordersToken,
		storeID:     strings.TrimSpace(cfg.StoreID),
		baseV1:      strings.TrimRight(defaultIfEmpty(cfg.BaseURLV1, defaultBaseURLV1), "/"),
		baseV2:      strings.TrimRight(defaultIfEmpty(cfg.BaseURLV2, defaultBaseURLV2), "/"),
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

// StoreID exposes the configured store identifier.
func (c *Client) StoreID() string {
	if c == nil {
		return ""
	}
	return c.storeID
}

// OrderFile is one printable file reference submitted with an order item.
type OrderFile struct {
	URL      string `json:"url"`
	Type     string `json:"type"`
	Position string `json:"position,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// OrderItem is one fulfillment line: a variant, a quantity, and its files.
type OrderItem struct {
	VariantID int64               `json:"variant_id"`
	Quantity  int64               `json:"quantity"`
	Files     []OrderFile         `json:"files"`
	Options   []domain.ItemOption `json:"options,omitempty"`
}

// PackingSlip customises the slip included with the parcel.
type PackingSlip struct {
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Message string `json:"message,omitempty"`
}

// Order is the consolidated production/shipping order. ExternalID carries the
// originating checkout-session id and is the provider-side dedup anchor.
type Order struct {
	ExternalID  string           `json:"external_id,omitempty"`
	Recipient   domain.Recipient `json:"recipient"`
	Items       []OrderItem      `json:"items"`
	StoreID     string           `json:"store_id,omitempty"`
	PackingSlip *PackingSlip     `json:"packing_slip,omitempty"`
}

// OrderResult is the provider acknowledgement for a created order.
type OrderResult struct {
	ID  int64
	Raw map[string]any
}

// GetProduct loads a catalog product, trying the v2 endpoint first and
// falling back to v1 before failing with the last status.
func (c *Client) GetProduct(ctx context.Context, productID int64) (map[string]any, error) {
	if c == nil {
		return nil, errors.New("fulfillment: client is nil")
	}
	path := fmt.Sprintf("/catalog/products/%d", productID)

	status, data, err := c.get(ctx, c.baseV2+path)
	if err == nil {
		return data, nil
	}
	c.logger(ctx, "fulfillment.catalog.fallback", map[string]any{
		"productId": productID,
		"status":    status,
	})

	status, data, err = c.get(ctx, c.baseV1+path)
	if err == nil {
		return data, nil
	}
	return nil, &APIError{Status: status, Op: "product load", Message: compactError(data)}
}

// GetVariants loads the variant list for a product with the same v2→v1 fallback.
func (c *Client) GetVariants(ctx context.Context, productID int64) ([]any, error) {
	if c == nil {
		return nil, errors.New("fulfillment: client is nil")
	}
	path := fmt.Sprintf("/catalog/variants?product_id=%d", productID)

	status, data, err := c.get(ctx, c.baseV2+path)
	if err == nil {
		return variantArray(data), nil
	}

	status, data, err = c.get(ctx, c.baseV1+path)
	if err == nil {
		return variantArray(data), nil
	}
	return nil, &APIError{Status: status, Op: "variants load", Message: compactError(data)}
}

// CreateOrder submits the consolidated order against the v1 orders endpoint.
func (c *Client) CreateOrder(ctx context.Context, order Order) (OrderResult, error) {
	if c == nil {
		return OrderResult{}, errors.New("fulfillment: client is nil")
	}
	if order.StoreID == "" {
		order.StoreID = c.storeID
	}

	payload, err := json.Marshal(order)
	if err != nil {
		return OrderResult{}, fmt.Errorf("fulfillment: encode order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseV1+"/orders", bytes.NewReader(payload))
	if err != nil {
		return OrderResult{}, fmt.Errorf("fulfillment: build order request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.ordersToken)
	req.Header.Set("Content-Type", "application/json")
	if c.storeID != "" {
		req.Header.Set(storeIDHeader, c.storeID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return OrderResult{}, fmt.Errorf("fulfillment: order create: %w", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || orderRejected(body) {
		return OrderResult{}, &APIError{Status: resp.StatusCode, Op: "order create", Message: compactError(body)}
	}

	result := OrderResult{ID: extractOrderID(body), Raw: body}
	c.logger(ctx, "fulfillment.order.created", map[string]any{
		"externalId": order.ExternalID,
		"orderId":    result.ID,
		"items":      len(order.Items),
	})
	return result, nil
}

func (c *Client) get(ctx context.Context, url string) (int, map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("fulfillment: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("fulfillment: request %s: %w", url, err)
	}
	defer resp.Body.Close()

	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, body, &APIError{Status: resp.StatusCode, Op: "request", Message: compactError(body)}
	}
	return resp.StatusCode, body, nil
}

// variantArray tolerates both response generations: v2 nests the list under
// "result" while some v1 responses use "variants".
func variantArray(body map[string]any) []any {
	if body == nil {
		return []any{}
	}
	if arr, ok := body["result"].([]any); ok {
		return arr
	}
	if arr, ok := body["variants"].([]any); ok {
		return arr
	}
	// v2 wraps the list one level deeper on some catalog endpoints.
	if inner, ok := body["result"].(map[string]any); ok {
		if arr, ok := inner["variants"].([]any); ok {
			return arr
		}
	}
	return []any{}
}

func orderRejected(body map[string]any) bool {
	if body == nil {
		return false
	}
	_, hasError := body["error"]
	_, hasResult := body["result"]
	return hasError && !hasResult
}

func extractOrderID(body map[string]any) int64 {
	if body == nil {
		return 0
	}
	if result, ok := body["result"].(map[string]any); ok {
		if id := numberField(result, "id"); id != 0 {
			return id
		}
		if order, ok := result["order"].(map[string]any); ok {
			if id := numberField(order, "id"); id != 0 {
				return id
			}
		}
	}
	return numberField(body, "id")
}

func numberField(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}

func compactError(body map[string]any) string {
	if body == nil {
		return ""
	}
	if msg, ok := body["error"].(string); ok {
		return msg
	}
	if errObj, ok := body["error"].(map[string]any); ok {
		if msg, ok := errObj["message"].(string); ok {
			return msg
		}
	}
	if msg, ok := body["message"].(string); ok {
		return msg
	}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	const limit = 256
	if len(data) > limit {
		data = data[:limit]
	}
	return string(data)
}

func defaultIfEmpty(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}
