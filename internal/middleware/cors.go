package middleware

import (
	"net/http"
)

// CORSConfig holds CORS middleware settings. With Wildcard set every origin
// receives "*" (development). Otherwise the request origin is echoed back
// only when it appears in AllowedOrigins; unknown origins receive the
// literal "null" so browsers refuse the cross-origin read.
type CORSConfig struct {
	Wildcard       bool
	AllowedOrigins []string
}

// CORS returns middleware that handles Cross-Origin Resource Sharing for
// the proxy's GET-only API. Preflight OPTIONS requests short-circuit with
// 204 before any other processing. The config is re-evaluated through the
// provider func on every request so hot reload takes effect immediately.
func CORS(provider func() CORSConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cfg := provider()

			h := w.Header()
			switch {
			case cfg.Wildcard:
				h.Set("Access-Control-Allow-Origin", "*")
			default:
				origin := r.Header.Get("Origin")
				if origin != "" && contains(cfg.AllowedOrigins, origin) {
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Vary", "Origin")
				} else {
					h.Set("Access-Control-Allow-Origin", "null")
				}
			}
			h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, X-Requested-With")
			h.Set("Access-Control-Max-Age", "3600")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// StaticCORS wraps a fixed config in a provider for callers without hot
// reload (tests).
func StaticCORS(cfg CORSConfig) func() CORSConfig {
	return func() CORSConfig { return cfg }
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
