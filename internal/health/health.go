// Package health exposes liveness and readiness probes. Liveness answers
// from memory; readiness checks that the core upstream hosts are reachable,
// caching the verdict briefly so probes cannot be used to hammer NOAA.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/tropicstracker/stormproxy/internal/endpoint"
)

var liveBody = []byte(`{"status":"ok"}` + "\n")

// probeTimeout bounds each readiness probe request.
const probeTimeout = 5 * time.Second

// cacheTTL is how long a readiness verdict is reused.
const cacheTTL = 30 * time.Second

// upstreamStatus is one host's probe result.
type upstreamStatus struct {
	Host    string `json:"host"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

type readiness struct {
	Status    string           `json:"status"`
	Upstreams []upstreamStatus `json:"upstreams"`
}

// Checker serves /health and /ready.
type Checker struct {
	hosts  []string
	client *http.Client
	logger *slog.Logger

	mu      sync.Mutex
	result  readiness
	ready   bool
	checked time.Time
}

// NewChecker builds a Checker probing the distinct hosts of the catalog's
// fetched endpoints. Imagery endpoints are excluded: their payloads are
// synthesized locally and their tile services are contacted by the browser,
// not by the proxy.
func NewChecker(catalog *endpoint.Catalog, logger *slog.Logger) *Checker {
	seen := make(map[string]bool)
	var hosts []string
	for _, id := range catalog.IDs() {
		desc, err := catalog.Lookup(id)
		if err != nil || desc.Kind == endpoint.KindImagery {
			continue
		}
		u, err := url.Parse(desc.URL)
		if err != nil || seen[u.Host] {
			continue
		}
		seen[u.Host] = true
		hosts = append(hosts, u.Scheme+"://"+u.Host+"/")
	}
	return &Checker{
		hosts:  hosts,
		client: &http.Client{Timeout: probeTimeout},
		logger: logger,
	}
}

// Live is the liveness handler: the process is up and serving.
func (c *Checker) Live(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(liveBody) //nolint:errcheck
}

// Ready is the readiness handler. Any HTTP response from an upstream counts
// as reachable, including 403: several NOAA hosts reject requests without a
// browser User-Agent at their root path, but the host being up is all
// readiness asserts.
func (c *Checker) Ready(w http.ResponseWriter, r *http.Request) {
	result, ready := c.check(r.Context())

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(result) //nolint:errcheck
}

func (c *Checker) check(ctx context.Context) (readiness, bool) {
	c.mu.Lock()
	if time.Since(c.checked) < cacheTTL && !c.checked.IsZero() {
		result, ready := c.result, c.ready
		c.mu.Unlock()
		return result, ready
	}
	c.mu.Unlock()

	statuses := make([]upstreamStatus, len(c.hosts))
	var wg sync.WaitGroup
	for i, host := range c.hosts {
		wg.Add(1)
		go func(i int, host string) {
			defer wg.Done()
			statuses[i] = c.probe(ctx, host)
		}(i, host)
	}
	wg.Wait()

	ready := true
	for _, st := range statuses {
		if !st.Healthy {
			ready = false
			c.logger.Warn("readiness probe failed", "host", st.Host, "detail", st.Detail)
		}
	}

	result := readiness{Status: "ready", Upstreams: statuses}
	if !ready {
		result.Status = "degraded"
	}

	c.mu.Lock()
	c.result = result
	c.ready = ready
	c.checked = time.Now()
	c.mu.Unlock()

	return result, ready
}

func (c *Checker) probe(ctx context.Context, host string) upstreamStatus {
	st := upstreamStatus{Host: host}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, host, nil)
	if err != nil {
		st.Detail = err.Error()
		return st
	}
	req.Header.Set("User-Agent", "TropicsTracker.net/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		st.Detail = err.Error()
		return st
	}
	resp.Body.Close()

	st.Healthy = true
	return st
}
