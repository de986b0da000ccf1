// Package ratelimit implements per-client fixed-window rate limiting with
// one small persisted record per client. Records survive process restarts
// and are shared by independent workers pointed at the same directory; stale
// windows are aged out implicitly by overwrite and by the cache sweep.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tropicstracker/stormproxy/internal/apierror"
	"github.com/tropicstracker/stormproxy/internal/config"
	"github.com/tropicstracker/stormproxy/internal/metrics"
)

// window is the persisted per-client record.
type window struct {
	WindowStart int64 `json:"window_start"`
	Count       int   `json:"count"`
}

// Decision is the outcome of an Allow check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter tracks request counts per client within a fixed time window.
type Limiter struct {
	dir          string
	clock        clockwork.Clock
	logger       *slog.Logger
	securityLog  *slog.Logger
	trustedCIDRs []*net.IPNet

	// limit/windowSize are guarded by cfgMu so hot reload can swap them.
	cfgMu      sync.RWMutex
	limit      int
	windowSize time.Duration
	enabled    bool

	// Per-record write locks, striped by the first byte of the client
	// hash. Two near-simultaneous requests from the same client always
	// contend on the same stripe, so the read-modify-write of a window
	// record cannot interleave within this process; the temp-file rename
	// keeps the record consistent across processes.
	stripes [256]sync.Mutex
}

// New creates a Limiter persisting windows under dir (created if needed).
// trustedProxies is a list of CIDR strings whose X-Forwarded-For headers
// are trusted. securityLog may be nil.
func New(cfg config.RateLimitConfig, enabled bool, dir string, trustedProxies []string, clock clockwork.Clock, logger, securityLog *slog.Logger) (*Limiter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating rate limit directory: %w", err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Limiter{
		dir:          dir,
		clock:        clock,
		logger:       logger,
		securityLog:  securityLog,
		trustedCIDRs: parseCIDRs(trustedProxies, logger),
		limit:        cfg.Requests,
		windowSize:   cfg.Window,
		enabled:      enabled,
	}, nil
}

func parseCIDRs(cidrs []string, logger *slog.Logger) []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range cidrs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			logger.Warn("invalid trusted proxy CIDR, skipping", "cidr", cidr, "error", err)
			continue
		}
		nets = append(nets, ipNet)
	}
	return nets
}

// UpdateConfig hot-reloads the limiter settings. Existing windows keep
// their counts; the new limit applies on the next request.
func (l *Limiter) UpdateConfig(cfg config.RateLimitConfig, enabled bool) {
	l.cfgMu.Lock()
	defer l.cfgMu.Unlock()
	l.limit = cfg.Requests
	l.windowSize = cfg.Window
	l.enabled = enabled
}

func (l *Limiter) settings() (int, time.Duration, bool) {
	l.cfgMu.RLock()
	defer l.cfgMu.RUnlock()
	return l.limit, l.windowSize, l.enabled
}

// Allow records one request for clientID and reports whether it is within
// the limit. A missing or expired window resets to count=1. Persistence
// errors fail open: a broken disk must not take the API down.
func (l *Limiter) Allow(clientID string) Decision {
	limit, windowSize, _ := l.settings()

	sum := sha256.Sum256([]byte(clientID))
	hash := hex.EncodeToString(sum[:])
	path := filepath.Join(l.dir, "rate_"+hash+".json")

	stripe := &l.stripes[sum[0]]
	stripe.Lock()
	defer stripe.Unlock()

	now := l.clock.Now()
	w := window{WindowStart: now.Unix(), Count: 1}

	if data, err := os.ReadFile(path); err == nil {
		var prev window
		if err := json.Unmarshal(data, &prev); err == nil && prev.WindowStart > 0 {
			age := now.Sub(time.Unix(prev.WindowStart, 0))
			if age < windowSize {
				prev.Count++
				w = prev
			}
		}
	}

	if w.Count > limit {
		// Denied requests do not advance the window; the record already
		// holds count == limit (or more from a concurrent worker).
		return Decision{Allowed: false, RetryAfter: windowSize}
	}

	if err := l.writeWindow(path, hash, w); err != nil {
		l.logger.Warn("rate window persist failed, allowing request", "error", err)
	}

	return Decision{Allowed: true, Remaining: limit - w.Count}
}

// writeWindow publishes the record with a temp-file rename so concurrent
// readers in other processes never see a torn write.
func (l *Limiter) writeWindow(path, hash string, w window) error {
	data, err := json.Marshal(w)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(l.dir, "rate_"+hash+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName) //nolint:errcheck
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return err
	}
	return os.Rename(tmpName, path)
}

// Middleware returns an HTTP middleware that enforces the rate limit. When
// the limiter is disabled (development mode) requests pass straight through.
func (l *Limiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limit, _, enabled := l.settings()
			if !enabled {
				next.ServeHTTP(w, r)
				return
			}

			ip := l.clientIP(r)
			decision := l.Allow(ip)
			if !decision.Allowed {
				metrics.RateLimitHits.Inc()
				l.logger.Warn("rate limit exceeded", "client_ip", ip, "path", r.URL.Path)
				if l.securityLog != nil {
					l.securityLog.Warn("rate limit exceeded",
						"client_ip", ip,
						"user_agent", r.UserAgent(),
					)
				}
				apierror.WriteResponse(w, apierror.ErrorResponse{
					Error:      "Rate limit exceeded",
					Code:       http.StatusTooManyRequests,
					ErrorCode:  string(apierror.RateLimitExceeded),
					RetryAfter: int(decision.RetryAfter.Seconds()),
					Limit:      limit,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the real client IP. X-Forwarded-For is only trusted when
// the direct peer (RemoteAddr) is in the trusted proxies list.
func (l *Limiter) clientIP(r *http.Request) string {
	peerIP := extractIP(r.RemoteAddr)

	if len(l.trustedCIDRs) > 0 && l.isTrusted(peerIP) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// Walk right-to-left, return first non-trusted IP.
			parts := strings.Split(xff, ",")
			for i := len(parts) - 1; i >= 0; i-- {
				ip := strings.TrimSpace(parts[i])
				if ip != "" && !l.isTrusted(ip) {
					return ip
				}
			}
		}
	}

	return peerIP
}

func (l *Limiter) isTrusted(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, cidr := range l.trustedCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// WindowInfo is a snapshot of one persisted client window for the admin API.
// Clients are identified only by their hash; raw addresses are never stored.
type WindowInfo struct {
	ClientHash  string `json:"client_hash"`
	WindowStart int64  `json:"window_start"`
	Count       int    `json:"count"`
	Active      bool   `json:"active"`
}

// Snapshot lists the persisted rate windows. Unreadable records are skipped.
func (l *Limiter) Snapshot() []WindowInfo {
	_, windowSize, _ := l.settings()
	now := l.clock.Now()

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil
	}

	var out []WindowInfo
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "rate_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(l.dir, name))
		if err != nil {
			continue
		}
		var w window
		if err := json.Unmarshal(data, &w); err != nil {
			continue
		}
		out = append(out, WindowInfo{
			ClientHash:  strings.TrimSuffix(strings.TrimPrefix(name, "rate_"), ".json"),
			WindowStart: w.WindowStart,
			Count:       w.Count,
			Active:      now.Sub(time.Unix(w.WindowStart, 0)) < windowSize,
		})
	}
	return out
}
