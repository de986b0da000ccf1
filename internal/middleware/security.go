package middleware

import (
	"net/http"
)

// SecurityHeaders returns middleware that sets the standard security
// response headers. The full set is production-only; development keeps
// responses inspectable without header noise, matching the legacy variants.
func SecurityHeaders(full bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !full {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "SAMEORIGIN")
			h.Set("X-XSS-Protection", "1; mode=block")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")

			if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}
