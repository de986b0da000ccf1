package ratelimit

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tropicstracker/stormproxy/internal/config"
)

func newTestLimiter(t *testing.T, requests int, window time.Duration, enabled bool) (*Limiter, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	l, err := New(config.RateLimitConfig{Requests: requests, Window: window},
		enabled, t.TempDir(), nil, clock, slog.Default(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, clock
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestLimiter_AllowsUpToLimit(t *testing.T) {
	l, _ := newTestLimiter(t, 60, time.Minute, true)

	for i := 0; i < 60; i++ {
		d := l.Allow("198.51.100.7")
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if d := l.Allow("198.51.100.7"); d.Allowed {
		t.Error("request 61 should be denied")
	}
}

func TestLimiter_RemainingCountsDown(t *testing.T) {
	l, _ := newTestLimiter(t, 3, time.Minute, true)

	for want := 2; want >= 0; want-- {
		d := l.Allow("198.51.100.8")
		if d.Remaining != want {
			t.Errorf("expected remaining %d, got %d", want, d.Remaining)
		}
	}
}

func TestLimiter_WindowResets(t *testing.T) {
	l, clock := newTestLimiter(t, 2, time.Minute, true)

	l.Allow("198.51.100.9")
	l.Allow("198.51.100.9")
	if d := l.Allow("198.51.100.9"); d.Allowed {
		t.Fatal("third request should be denied")
	}

	clock.Advance(time.Minute + time.Second)

	d := l.Allow("198.51.100.9")
	if !d.Allowed {
		t.Error("request in a fresh window should be allowed")
	}
	if d.Remaining != 1 {
		t.Errorf("fresh window should reset the count to 1, remaining %d", d.Remaining)
	}
}

func TestLimiter_ClientsAreIsolated(t *testing.T) {
	l, _ := newTestLimiter(t, 1, time.Minute, true)

	if d := l.Allow("203.0.113.1"); !d.Allowed {
		t.Fatal("first client should be allowed")
	}
	if d := l.Allow("203.0.113.1"); d.Allowed {
		t.Fatal("first client should now be denied")
	}
	if d := l.Allow("203.0.113.2"); !d.Allowed {
		t.Error("second client must not share the first client's window")
	}
}

func TestLimiter_DeniedRetryAfter(t *testing.T) {
	l, _ := newTestLimiter(t, 1, 30*time.Second, true)

	l.Allow("203.0.113.3")
	d := l.Allow("203.0.113.3")
	if d.Allowed {
		t.Fatal("expected denial")
	}
	if d.RetryAfter != 30*time.Second {
		t.Errorf("expected RetryAfter 30s, got %v", d.RetryAfter)
	}
}

func TestMiddleware_DisabledPassesThrough(t *testing.T) {
	l, _ := newTestLimiter(t, 1, time.Minute, false)
	handler := l.Middleware()(okHandler())

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("GET", "/api/proxy", nil)
		req.RemoteAddr = "203.0.113.4:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: disabled limiter must pass through, got %d", i, rec.Code)
		}
	}
}

func TestMiddleware_DeniesWith429Body(t *testing.T) {
	l, _ := newTestLimiter(t, 1, time.Minute, true)
	handler := l.Middleware()(okHandler())

	req := httptest.NewRequest("GET", "/api/proxy", nil)
	req.RemoteAddr = "203.0.113.5:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Errorf("expected Retry-After 60, got %q", rec.Header().Get("Retry-After"))
	}

	var body struct {
		Error      string `json:"error"`
		Code       int    `json:"code"`
		ErrorCode  string `json:"error_code"`
		RetryAfter int    `json:"retry_after"`
		Limit      int    `json:"limit"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body.Error != "Rate limit exceeded" || body.Code != 429 {
		t.Errorf("unexpected body: %+v", body)
	}
	if body.ErrorCode != "PROXY_RATE_LIMIT_EXCEEDED" {
		t.Errorf("unexpected error_code %q", body.ErrorCode)
	}
	if body.RetryAfter != 60 || body.Limit != 1 {
		t.Errorf("expected retry_after 60 and limit 1, got %d/%d", body.RetryAfter, body.Limit)
	}
}

func TestUpdateConfig_AppliesNewLimit(t *testing.T) {
	l, _ := newTestLimiter(t, 1, time.Minute, true)

	l.Allow("203.0.113.6")
	if d := l.Allow("203.0.113.6"); d.Allowed {
		t.Fatal("expected denial at the old limit")
	}

	l.UpdateConfig(config.RateLimitConfig{Requests: 10, Window: time.Minute}, true)
	if d := l.Allow("203.0.113.6"); !d.Allowed {
		t.Error("raised limit should apply to the existing window")
	}
}

func TestClientIP_UntrustedPeerIgnoresForwardedFor(t *testing.T) {
	l, _ := newTestLimiter(t, 60, time.Minute, true)

	req := httptest.NewRequest("GET", "/api/proxy", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	req.Header.Set("X-Forwarded-For", "10.9.9.9")

	if ip := l.clientIP(req); ip != "203.0.113.7" {
		t.Errorf("untrusted peer must be identified by RemoteAddr, got %q", ip)
	}
}

func TestClientIP_TrustedProxyUsesForwardedFor(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l, err := New(config.RateLimitConfig{Requests: 60, Window: time.Minute},
		true, t.TempDir(), []string{"127.0.0.0/8"}, clock, slog.Default(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/proxy", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	req.Header.Set("X-Forwarded-For", "198.51.100.23, 127.0.0.2")

	if ip := l.clientIP(req); ip != "198.51.100.23" {
		t.Errorf("expected the first non-trusted hop, got %q", ip)
	}
}

func TestSnapshot_ListsWindows(t *testing.T) {
	l, _ := newTestLimiter(t, 60, time.Minute, true)

	l.Allow("203.0.113.8")
	l.Allow("203.0.113.8")
	l.Allow("203.0.113.9")

	windows := l.Snapshot()
	if len(windows) != 2 {
		t.Fatalf("expected 2 windows, got %d", len(windows))
	}
	total := 0
	for _, w := range windows {
		if !w.Active {
			t.Errorf("window %s should be active", w.ClientHash)
		}
		total += w.Count
	}
	if total != 3 {
		t.Errorf("expected 3 recorded requests, got %d", total)
	}
}
