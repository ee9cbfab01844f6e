package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/luxprint/api/internal/platform/httpx"
)

// maxBodyBytes bounds inbound payloads; carts and webhook events are small.
const maxBodyBytes = 1 << 20

var (
	errBodyTooLarge = errors.New("handlers: request body too large")
	errEmptyBody    = errors.New("handlers: request body is empty")
)

// readLimitedBody drains the request body up to maxBodyBytes.
func readLimitedBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxBodyBytes {
		return nil, errBodyTooLarge
	}
	return body, nil
}

// decodeJSONBody reads and unmarshals the request body into v.
func decodeJSONBody(r *http.Request, v any) error {
	body, err := readLimitedBody(r)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return errEmptyBody
	}
	return json.Unmarshal(body, v)
}

// writeJSON writes v with the given status, logging nothing on encode failure
// since the header is already committed.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeBadRequest(ctx context.Context, w http.ResponseWriter, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, http.StatusBadRequest))
}

// queryInt64 parses a positive int64 query parameter, returning 0 when absent
// or malformed.
func queryInt64(r *http.Request, key string) int64 {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
