package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"fotad.sh/internal/metrics"
)

// Metrics records request counts and latency per method and endpoint.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := newResponseWriter(w)

		next.ServeHTTP(wrapped, r)

		metrics.RecordHTTPRequest(
			r.Method,
			cleanPath(r.URL.Path),
			strconv.Itoa(wrapped.statusCode),
			time.Since(start).Seconds(),
		)
	})
}

// cleanPath collapses ids to a placeholder so the endpoint label stays
// low-cardinality.
func cleanPath(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if len(part) == 36 && strings.Count(part, "-") == 4 {
			parts[i] = "{id}"
			continue
		}
		if _, err := strconv.Atoi(part); err == nil && part != "" {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}
