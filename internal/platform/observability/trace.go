package observability

import (
	"net/http"
	"strings"

	"github.com/luxprint/api/internal/platform/requestctx"
)

const traceparentHeader = "traceparent"

// TraceMiddleware extracts W3C trace context from the incoming request and
// stores it on the context so logs and error envelopes can reference it.
func TraceMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, ok := parseTraceparent(r.Header.Get(traceparentHeader))
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			ctx := requestctx.WithTrace(r.Context(), info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// parseTraceparent handles the "00-<trace-id>-<span-id>-<flags>" form. Any
// malformed header is ignored rather than rejected.
func parseTraceparent(header string) (requestctx.TraceInfo, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return requestctx.TraceInfo{}, false
	}
	parts := strings.Split(header, "-")
	if len(parts) != 4 {
		return requestctx.TraceInfo{}, false
	}
	traceID := strings.ToLower(parts[1])
	spanID := strings.ToLower(parts[2])
	if len(traceID) != 32 || len(spanID) != 16 || !isHex(traceID) || !isHex(spanID) {
		return requestctx.TraceInfo{}, false
	}
	if traceID == strings.Repeat("0", 32) {
		return requestctx.TraceInfo{}, false
	}
	return requestctx.TraceInfo{
		TraceID: traceID,
		SpanID:  spanID,
		Sampled: strings.HasSuffix(parts[3], "1"),
	}, true
}

func isHex(value string) bool {
	for _, r := range value {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}
