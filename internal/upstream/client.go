// Package upstream issues outbound HTTP calls to the configured weather
// data sources. The client enforces connect and total timeouts, mandatory
// TLS verification, bounded redirects, per-endpoint headers, a politeness
// throttle per upstream host, and a circuit breaker that short-circuits
// hosts that keep failing. It never fabricates data: any failure surfaces
// as a typed error and the caller substitutes fallback content.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tropicstracker/stormproxy/internal/config"
	"github.com/tropicstracker/stormproxy/internal/endpoint"
	"github.com/tropicstracker/stormproxy/internal/metrics"
)

// ErrAPIKeyMissing reports that the commercial weather API secret is not
// configured. The gateway maps this to 503 in production and demo data in
// development.
var ErrAPIKeyMissing = errors.New("weatherapi key not configured")

// maxResponseBytes bounds how much of an upstream body is read. HURDAT2 is
// the largest payload and parsing is capped at 1000 lines anyway.
const maxResponseBytes = 8 << 20 // 8 MiB

// Error is a failed upstream fetch. Reason is a stable label used in
// metrics ("transport", "status", "breaker_open", "throttle").
type Error struct {
	Endpoint string
	Status   int
	Reason   string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s: %s: %v", e.Endpoint, e.Reason, e.Err)
	}
	return fmt.Sprintf("upstream %s: %s (status %d)", e.Endpoint, e.Reason, e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

// Client performs outbound fetches for validated endpoints.
type Client struct {
	cfg        config.UpstreamConfig
	httpClient *http.Client
	logger     *slog.Logger
	errorLog   *slog.Logger

	mu       sync.Mutex
	throttle map[string]*rate.Limiter
	breakers map[string]*Breaker
}

// New creates an upstream Client. errorLog receives operator-facing fetch
// failures and may be nil.
func New(cfg config.UpstreamConfig, logger, errorLog *slog.Logger) *Client {
	maxRedirects := cfg.MaxRedirects
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.TotalTimeout,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		// TLS verification stays on: no TLSClientConfig override.
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.TotalTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		logger:   logger,
		errorLog: errorLog,
		throttle: make(map[string]*rate.Limiter),
		breakers: make(map[string]*Breaker),
	}
}

// Fetch retrieves the raw upstream payload for a validated endpoint.
// Only the endpoint's designated forward parameter participates in URL
// construction; everything else in params is cache-key material the
// upstream never sees.
func (c *Client) Fetch(ctx context.Context, desc endpoint.Descriptor, params map[string]string) ([]byte, error) {
	fullURL, err := c.buildURL(desc, params)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(fullURL)
	if err != nil {
		return nil, &Error{Endpoint: desc.ID, Reason: "transport", Err: err}
	}
	host := u.Host

	breaker := c.breakerFor(host)
	if !breaker.Allow() {
		metrics.UpstreamErrors.WithLabelValues(desc.ID, "breaker_open").Inc()
		return nil, &Error{Endpoint: desc.ID, Reason: "breaker_open"}
	}

	if err := c.throttleFor(host).Wait(ctx); err != nil {
		metrics.UpstreamErrors.WithLabelValues(desc.ID, "throttle").Inc()
		return nil, &Error{Endpoint: desc.ID, Reason: "throttle", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, &Error{Endpoint: desc.ID, Reason: "transport", Err: err}
	}
	c.setHeaders(req, desc)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.UpstreamDuration.WithLabelValues(desc.ID).Observe(time.Since(start).Seconds())

	if err != nil {
		breaker.RecordFailure()
		metrics.UpstreamErrors.WithLabelValues(desc.ID, "transport").Inc()
		c.logFailure(desc.ID, fmt.Sprintf("transport failure: %v", err))
		return nil, &Error{Endpoint: desc.ID, Reason: "transport", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		breaker.RecordFailure()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
		metrics.UpstreamErrors.WithLabelValues(desc.ID, "status").Inc()
		c.logFailure(desc.ID, fmt.Sprintf("unexpected status %d", resp.StatusCode))
		return nil, &Error{Endpoint: desc.ID, Reason: "status", Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		breaker.RecordFailure()
		metrics.UpstreamErrors.WithLabelValues(desc.ID, "transport").Inc()
		c.logFailure(desc.ID, fmt.Sprintf("reading body: %v", err))
		return nil, &Error{Endpoint: desc.ID, Reason: "transport", Err: err}
	}

	breaker.RecordSuccess()
	return body, nil
}

// buildURL appends the endpoint's forwarded query parameter, if any. The
// commercial weather endpoint additionally requires the configured secret.
func (c *Client) buildURL(desc endpoint.Descriptor, params map[string]string) (string, error) {
	base := desc.URL

	if desc.RequiresKey {
		if c.cfg.WeatherAPIKey == "" || c.cfg.WeatherAPIKey == "your_weatherapi_key_here" {
			return "", ErrAPIKeyMissing
		}
		q := url.Values{"key": {c.cfg.WeatherAPIKey}}
		if v := params[desc.ForwardParam]; v != "" {
			q.Set(desc.ForwardParam, v)
		}
		return base + "?" + q.Encode(), nil
	}

	if desc.ForwardParam != "" {
		if v := params[desc.ForwardParam]; v != "" {
			q := url.Values{desc.ForwardParam: {v}}
			return base + "?" + q.Encode(), nil
		}
	}

	return base, nil
}

func (c *Client) setHeaders(req *http.Request, desc endpoint.Descriptor) {
	req.Header.Set("User-Agent", "TropicsTracker.net/1.0")
	switch desc.ID {
	case endpoint.NWSAlerts:
		// api.weather.gov requires an identifying User-Agent with contact.
		req.Header.Set("User-Agent", "TropicsTracker.net/1.0 (admin@tropicstracker.net)")
		req.Header.Set("Accept", "application/geo+json,application/json")
	case endpoint.WeatherAPI:
		req.Header.Set("Content-Type", "application/json")
	}
}

func (c *Client) breakerFor(host string) *Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[host]
	if !ok {
		b = NewBreaker(host, c.cfg.Breaker, c.logger)
		c.breakers[host] = b
	}
	return b
}

func (c *Client) throttleFor(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.throttle[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(c.cfg.RequestsPerSecond), c.cfg.Burst)
		c.throttle[host] = l
	}
	return l
}

// BreakerStates reports the current breaker state per upstream host for
// the admin API.
func (c *Client) BreakerStates() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.breakers))
	for host, b := range c.breakers {
		out[host] = b.State().String()
	}
	return out
}

func (c *Client) logFailure(endpointID, msg string) {
	c.logger.Warn("upstream fetch failed", "endpoint", endpointID, "detail", msg)
	if c.errorLog != nil {
		c.errorLog.Error("upstream fetch failed", "endpoint", endpointID, "detail", msg)
	}
}
