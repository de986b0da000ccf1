// Package admin exposes the operational API: runtime configuration, cache
// statistics and purge, rate-limit window inspection, and upstream breaker
// state. Every request must come from an allow-listed network and carry a
// valid HS256 bearer token; denials are recorded in the security log.
package admin

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tropicstracker/stormproxy/internal/apierror"
	"github.com/tropicstracker/stormproxy/internal/cache"
	"github.com/tropicstracker/stormproxy/internal/config"
	"github.com/tropicstracker/stormproxy/internal/ratelimit"
	"github.com/tropicstracker/stormproxy/internal/upstream"
)

// Handler serves the /admin surface.
type Handler struct {
	cfgFn   func() *config.Config
	store   *cache.Store
	limiter *ratelimit.Limiter
	client  *upstream.Client
	secLog  *slog.Logger
	nets    []*net.IPNet
}

// New builds the admin handler. The IP allowlist is parsed once from the
// startup configuration; a reload that changes it requires a restart, which
// keeps the trust boundary static.
func New(cfgFn func() *config.Config, store *cache.Store, limiter *ratelimit.Limiter, client *upstream.Client, secLog *slog.Logger) *Handler {
	if secLog == nil {
		secLog = slog.New(slog.DiscardHandler)
	}
	var nets []*net.IPNet
	for _, cidr := range cfgFn().Admin.IPAllowlist {
		if _, ipNet, err := net.ParseCIDR(cidr); err == nil {
			nets = append(nets, ipNet)
		}
	}
	return &Handler{
		cfgFn:   cfgFn,
		store:   store,
		limiter: limiter,
		client:  client,
		secLog:  secLog,
		nets:    nets,
	}
}

// Register mounts the admin routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("GET /admin/config", h.guard(http.HandlerFunc(h.getConfig)))
	mux.Handle("GET /admin/cache", h.guard(http.HandlerFunc(h.getCache)))
	mux.Handle("POST /admin/cache/purge", h.guard(http.HandlerFunc(h.purgeCache)))
	mux.Handle("GET /admin/limiters", h.guard(http.HandlerFunc(h.getLimiters)))
	mux.Handle("GET /admin/breakers", h.guard(http.HandlerFunc(h.getBreakers)))
}

// guard enforces the source network allowlist, then the bearer token.
func (h *Handler) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := remoteIP(r)
		if !h.ipAllowed(ip) {
			h.secLog.Warn("admin request from unauthorized network",
				"client_ip", r.RemoteAddr,
				"path", r.URL.Path,
			)
			apierror.WriteJSON(w, http.StatusForbidden, apierror.AdminForbidden, "Forbidden")
			return
		}

		token := extractBearerToken(r)
		if token == "" {
			h.secLog.Warn("admin request without bearer token",
				"client_ip", r.RemoteAddr,
				"path", r.URL.Path,
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
			apierror.WriteJSON(w, http.StatusUnauthorized, apierror.AdminUnauthorized, "Unauthorized")
			return
		}

		if err := h.validateToken(token); err != nil {
			h.secLog.Warn("admin request with invalid token",
				"client_ip", r.RemoteAddr,
				"path", r.URL.Path,
				"error", err.Error(),
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="admin", error="invalid_token"`)
			apierror.WriteJSON(w, http.StatusUnauthorized, apierror.AdminUnauthorized, "Unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handler) ipAllowed(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, ipNet := range h.nets {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// validateToken parses and verifies an HS256 token against the configured
// secret, issuer, and audience. Expiration is mandatory: tokens without an
// exp claim are rejected.
func (h *Handler) validateToken(tokenString string) error {
	cfg := h.cfgFn().Admin
	_, err := jwt.Parse(tokenString,
		func(t *jwt.Token) (any, error) {
			return []byte(cfg.JWTSecret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.JWTIssuer),
		jwt.WithAudience(cfg.JWTAudience),
		jwt.WithExpirationRequired(),
	)
	return err
}

func (h *Handler) getConfig(w http.ResponseWriter, r *http.Request) {
	// Secrets carry json:"-" on the config structs, so marshaling the
	// runtime config is already redacted.
	writeJSON(w, h.cfgFn())
}

func (h *Handler) getCache(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.store.Stats())
}

func (h *Handler) purgeCache(w http.ResponseWriter, r *http.Request) {
	removed := h.store.Purge()
	h.secLog.Info("cache purged via admin API",
		"client_ip", r.RemoteAddr,
		"removed", removed,
	)
	writeJSON(w, map[string]int{"removed": removed})
}

func (h *Handler) getLimiters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"windows": h.limiter.Snapshot()})
}

func (h *Handler) getBreakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"breakers": h.client.BreakerStates()})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// extractBearerToken pulls the token out of the Authorization header.
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return strings.TrimSpace(auth[len(prefix):])
	}
	return ""
}

// remoteIP parses the connection peer address. The admin trust decision is
// deliberately based on the direct peer, not X-Forwarded-For.
func remoteIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return net.ParseIP(host)
}
