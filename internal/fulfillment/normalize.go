package fulfillment

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/luxprint/api/internal/domain"
)

// NormalizeVariants maps heterogeneous provider variant shapes into the
// stable {id, size, color} form. Field names drifted across provider API
// generations; missing fields default to empty strings and a malformed entry
// never aborts the list.
func NormalizeVariants(raw []any) []domain.CatalogVariant {
	out := make([]domain.CatalogVariant, 0, len(raw))
	for _, entry := range raw {
		variant, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, domain.CatalogVariant{
			ID:    firstString(variant, "id", "variant_id", "catalog_variant_id", "external_id", "sku"),
			Size:  firstNestedString(variant, []string{"size", "size_name", "size_code"}, "size"),
			Color: firstNestedString(variant, []string{"color", "color_name", "color_code"}, "color"),
		})
	}
	return out
}

// NormalizeProduct unwraps the provider envelope and surfaces placements and
// options under stable keys, leaving the rest of the product untouched.
func NormalizeProduct(body map[string]any) map[string]any {
	product := map[string]any{}
	switch {
	case body == nil:
	case isObject(body["result"]):
		product = body["result"].(map[string]any)
	case isObject(body["product"]):
		product = body["product"].(map[string]any)
	default:
		product = body
	}

	placements := firstArray(product, "available_placements", "placements", "print_areas")
	options := firstArray(product, "options", "product_options")

	out := make(map[string]any, len(product)+2)
	for k, v := range product {
		out[k] = v
	}
	out["placements"] = placements
	out["options"] = options
	return out
}

func isObject(v any) bool {
	_, ok := v.(map[string]any)
	return ok
}

func firstArray(m map[string]any, keys ...string) []any {
	for _, key := range keys {
		if arr, ok := m[key].([]any); ok {
			return arr
		}
	}
	return []any{}
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := stringValue(m[key]); s != "" {
			return s
		}
	}
	return ""
}

// firstNestedString checks the flat aliases first, then the attributes and
// options objects some generations nest the value under.
func firstNestedString(m map[string]any, keys []string, nestedKey string) string {
	if s := firstString(m, keys...); s != "" {
		return s
	}
	for _, parent := range []string{"attributes", "options"} {
		if nested, ok := m[parent].(map[string]any); ok {
			if s := stringValue(nested[nestedKey]); s != "" {
				return s
			}
		}
	}
	return ""
}

func stringValue(v any) string {
	switch value := v.(type) {
	case string:
		return strings.TrimSpace(value)
	case float64:
		if value == float64(int64(value)) {
			return strconv.FormatInt(int64(value), 10)
		}
		return strconv.FormatFloat(value, 'f', -1, 64)
	case json.Number:
		return value.String()
	default:
		return ""
	}
}
