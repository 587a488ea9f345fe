package middleware

import (
	"net/http"
	"strings"
)

// CORSMiddleware answers browser preflight for the record API. Device
// requests carry X-Device-ID, so it is always allowed even when the
// configured header list leaves it out. Preflight from an origin that is
// not allowed is refused before it reaches authentication.
func CORSMiddleware(allowedOrigins, allowedMethods, allowedHeaders string) func(http.Handler) http.Handler {
	origins := splitList(allowedOrigins)
	wildcard := false
	for _, o := range origins {
		if o == "*" {
			wildcard = true
		}
	}

	headers := splitList(allowedHeaders)
	if !containsFold(headers, DeviceIDHeader) {
		headers = append(headers, DeviceIDHeader)
	}
	allowHeaders := strings.Join(headers, ",")
	allowMethods := strings.Join(splitList(allowedMethods), ",")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			w.Header().Add("Vary", "Origin")

			// Native clients send no Origin and need no CORS headers.
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !wildcard && !containsFold(origins, origin) {
				if r.Method == http.MethodOptions {
					http.Error(w, "Origin not allowed", http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")

			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", allowMethods)
				w.Header().Set("Access-Control-Allow-Headers", allowHeaders)
				w.Header().Set("Access-Control-Max-Age", "3600")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
