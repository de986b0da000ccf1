package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tropicstracker/stormproxy/internal/cache"
	"github.com/tropicstracker/stormproxy/internal/config"
	"github.com/tropicstracker/stormproxy/internal/endpoint"
	"github.com/tropicstracker/stormproxy/internal/upstream"
)

// newTestGateway builds a handler whose catalog points every endpoint at the
// given upstream server. yaml customizes the configuration; the cache uses a
// fresh temp directory per test.
func newTestGateway(t *testing.T, upstreamURL, yaml string) (*Handler, *clockwork.FakeClock) {
	t.Helper()

	cfg, err := config.LoadFromBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.Cache.Dir = t.TempDir()
	cfg.Upstream.RequestsPerSecond = 1000
	cfg.Upstream.Burst = 1000
	if upstreamURL != "" {
		cfg.Upstream.URLOverrides = map[string]string{}
		for _, id := range endpoint.NewCatalog(nil).IDs() {
			cfg.Upstream.URLOverrides[id] = upstreamURL
		}
	}

	clock := clockwork.NewFakeClock()
	logger := slog.Default()

	catalog := endpoint.NewCatalog(cfg.Upstream.URLOverrides)
	store, err := cache.New(cfg.Cache.Dir, cfg.Cache.Expiry, clock, logger)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	client := upstream.New(cfg.Upstream, logger, nil)

	h := New(catalog, store, client, func() *config.Config { return cfg }, clock, logger, nil, nil)
	return h, clock
}

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", target, nil))
	return rec
}

func TestGateway_MissingEndpoint(t *testing.T) {
	h, _ := newTestGateway(t, "", "environment: production")

	rec := get(h, "/api/proxy")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	var body struct {
		Error     string `json:"error"`
		Code      int    `json:"code"`
		ErrorCode string `json:"error_code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.Error != "Missing endpoint parameter" || body.Code != 400 {
		t.Errorf("unexpected body: %+v", body)
	}
	if body.ErrorCode != "PROXY_MISSING_ENDPOINT" {
		t.Errorf("unexpected error_code: %q", body.ErrorCode)
	}
}

func TestGateway_InvalidEndpoint(t *testing.T) {
	h, _ := newTestGateway(t, "", "environment: production")

	rec := get(h, "/api/proxy?endpoint=secrets")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	var body struct {
		Error string `json:"error"`
		Debug any    `json:"debug"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.Error != "Invalid endpoint" {
		t.Errorf("unexpected error: %q", body.Error)
	}
	if body.Debug != nil {
		t.Error("production errors must not carry a debug block")
	}
}

func TestGateway_DebugBlockInDevelopment(t *testing.T) {
	h, _ := newTestGateway(t, "", "environment: development")

	rec := get(h, "/api/proxy?endpoint=secrets")
	var body struct {
		Debug *struct {
			Method string `json:"method"`
			URI    string `json:"request_uri"`
		} `json:"debug"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.Debug == nil {
		t.Fatal("development errors should echo request details")
	}
	if body.Debug.Method != "GET" || body.Debug.URI != "/api/proxy?endpoint=secrets" {
		t.Errorf("unexpected debug block: %+v", body.Debug)
	}
}

func TestGateway_MethodNotAllowed(t *testing.T) {
	h, _ := newTestGateway(t, "", "environment: production")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/proxy?endpoint=nhc-storms", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestGateway_EnvironmentHeader(t *testing.T) {
	h, _ := newTestGateway(t, "", "environment: production")
	rec := get(h, "/api/proxy?endpoint=goes-satellite")
	if got := rec.Header().Get("X-Environment"); got != "production" {
		t.Errorf("expected X-Environment production, got %q", got)
	}
}

func TestGateway_MissThenHitIdenticalBytes(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"storms":[{"name":"Hermine","lat":28.0,"lon":-94.8,"windSpeed":105}]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	h, _ := newTestGateway(t, srv.URL, "environment: production")

	first := get(h, "/api/proxy?endpoint=nhc-storms")
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", first.Code)
	}
	if first.Header().Get("X-Cache") != "MISS" {
		t.Errorf("expected MISS, got %q", first.Header().Get("X-Cache"))
	}

	second := get(h, "/api/proxy?endpoint=nhc-storms")
	if second.Header().Get("X-Cache") != "HIT" {
		t.Errorf("expected HIT, got %q", second.Header().Get("X-Cache"))
	}
	if second.Header().Get("X-Cache-Age") != "0" {
		t.Errorf("expected age 0 on a fake clock, got %q", second.Header().Get("X-Cache-Age"))
	}
	if first.Body.String() != second.Body.String() {
		t.Error("HIT body must be byte-identical to the MISS that populated it")
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 upstream call, got %d", calls)
	}

	var feed struct {
		Storms []struct {
			Name           string `json:"name"`
			Basin          string `json:"basin"`
			Classification struct {
				Code string `json:"code"`
			} `json:"classification"`
		} `json:"storms"`
	}
	if err := json.Unmarshal(first.Body.Bytes(), &feed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(feed.Storms) != 1 || feed.Storms[0].Classification.Code != "CAT2" || feed.Storms[0].Basin != "atlantic" {
		t.Errorf("unexpected normalized feed: %+v", feed)
	}
}

func TestGateway_ExpiredEntryRefetches(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"storms":[]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	h, clock := newTestGateway(t, srv.URL, "environment: production")

	get(h, "/api/proxy?endpoint=nhc-storms")
	clock.Advance(6 * time.Minute)
	rec := get(h, "/api/proxy?endpoint=nhc-storms")

	if rec.Header().Get("X-Cache") != "MISS" {
		t.Errorf("expected MISS after expiry, got %q", rec.Header().Get("X-Cache"))
	}
	if calls != 2 {
		t.Errorf("expected 2 upstream calls, got %d", calls)
	}
}

func TestGateway_ParamsPartitionCache(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"features":[{"properties":{"event":"Warning"}}]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	h, _ := newTestGateway(t, srv.URL, "environment: production")

	get(h, "/api/proxy?endpoint=nws-alerts&area=FL")
	get(h, "/api/proxy?endpoint=nws-alerts&area=TX")
	rec := get(h, "/api/proxy?endpoint=nws-alerts&area=FL")

	if calls != 2 {
		t.Errorf("expected 2 upstream calls for 2 distinct parameter sets, got %d", calls)
	}
	if rec.Header().Get("X-Cache") != "HIT" {
		t.Errorf("expected HIT for the repeated parameter set, got %q", rec.Header().Get("X-Cache"))
	}
}

func TestGateway_EmptyAlertFeedServesFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"features":[]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	h, _ := newTestGateway(t, srv.URL, "environment: production")

	rec := get(h, "/api/proxy?endpoint=nws-alerts")
	if rec.Code != http.StatusOK {
		t.Fatalf("fallback must still be 200, got %d", rec.Code)
	}

	var feed struct {
		Alerts []struct {
			ID string `json:"id"`
		} `json:"alerts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &feed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(feed.Alerts) != 1 || feed.Alerts[0].ID != "demo-alert-1" {
		t.Errorf("expected the demo alert, got %+v", feed.Alerts)
	}
}

func TestGateway_UpstreamFailureServesFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	h, _ := newTestGateway(t, srv.URL, "environment: production")

	rec := get(h, "/api/proxy?endpoint=nhc-storms")
	if rec.Code != http.StatusOK {
		t.Fatalf("fallback must still be 200, got %d", rec.Code)
	}

	var feed struct {
		Storms []struct {
			ID string `json:"id"`
		} `json:"storms"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &feed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(feed.Storms) != 1 || feed.Storms[0].ID != "demo-storm-1" {
		t.Errorf("expected the demo storm, got %+v", feed.Storms)
	}
}

func TestGateway_ImageryNeedsNoUpstream(t *testing.T) {
	// No URL override: the imagery base URL is unreachable from tests, which
	// proves no HTTP call happens.
	h, _ := newTestGateway(t, "", "environment: production")

	rec := get(h, "/api/proxy?endpoint=nexrad-radar&bounds=24.5,-82.0,31.0,-79.5")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var layer struct {
		Type    string        `json:"type"`
		TileURL string        `json:"tileUrl"`
		Bounds  [2][2]float64 `json:"bounds"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &layer); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if layer.Type != "tile" || layer.TileURL == "" {
		t.Errorf("unexpected layer: %+v", layer)
	}
	if layer.Bounds != ([2][2]float64{{24.5, -82.0}, {31.0, -79.5}}) {
		t.Errorf("bounds parameter not applied: %v", layer.Bounds)
	}

	if rec := get(h, "/api/proxy?endpoint=nexrad-radar&bounds=24.5,-82.0,31.0,-79.5"); rec.Header().Get("X-Cache") != "HIT" {
		t.Error("imagery responses should be cached too")
	}
}

func TestGateway_WeatherAPIWithoutKeyProduction(t *testing.T) {
	h, _ := newTestGateway(t, "", "environment: production")

	rec := get(h, "/api/proxy?endpoint=weatherapi&q=Miami")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 in production without a key, got %d", rec.Code)
	}

	var body struct {
		ErrorCode string `json:"error_code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.ErrorCode != "PROXY_UPSTREAM_MISCONFIGURED" {
		t.Errorf("unexpected error_code: %q", body.ErrorCode)
	}
}

func TestGateway_WeatherAPIWithoutKeyDevelopment(t *testing.T) {
	h, _ := newTestGateway(t, "", "environment: development")

	rec := get(h, "/api/proxy?endpoint=weatherapi&q=Miami")
	if rec.Code != http.StatusOK {
		t.Fatalf("development should degrade to fallback, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["error"] != "Service temporarily unavailable" {
		t.Errorf("expected the service notice, got %v", body)
	}
}

func TestGateway_LenientValidationInDevelopment(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"storms":[]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	h, _ := newTestGateway(t, srv.URL, "environment: development")

	// Unknown parameters are kept in development, so they partition the cache.
	get(h, "/api/proxy?endpoint=nhc-storms&custom=1")
	get(h, "/api/proxy?endpoint=nhc-storms&custom=2")
	if calls != 2 {
		t.Errorf("expected distinct cache entries per unknown param in development, got %d calls", calls)
	}
}

func TestGateway_StrictValidationDropsUnknownParams(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"storms":[]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	h, _ := newTestGateway(t, srv.URL, "environment: production")

	get(h, "/api/proxy?endpoint=nhc-storms&custom=1")
	rec := get(h, "/api/proxy?endpoint=nhc-storms&custom=2")
	if calls != 1 {
		t.Errorf("unknown params must not partition the cache in production, got %d calls", calls)
	}
	if rec.Header().Get("X-Cache") != "HIT" {
		t.Errorf("expected HIT, got %q", rec.Header().Get("X-Cache"))
	}
}
