// Package gateway implements the proxy's main request path: validate the
// endpoint and parameters, consult the file cache, fetch and normalize the
// upstream payload on a miss, and fall back to deterministic demo data when
// the upstream misbehaves. A browser client polling this handler always
// receives HTTP 200 with a well-formed JSON document unless its own request
// was invalid.
package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tropicstracker/stormproxy/internal/apierror"
	"github.com/tropicstracker/stormproxy/internal/cache"
	"github.com/tropicstracker/stormproxy/internal/config"
	"github.com/tropicstracker/stormproxy/internal/endpoint"
	"github.com/tropicstracker/stormproxy/internal/metrics"
	"github.com/tropicstracker/stormproxy/internal/normalize"
	"github.com/tropicstracker/stormproxy/internal/upstream"
)

// Handler serves the /api/proxy surface.
type Handler struct {
	catalog  *endpoint.Catalog
	store    *cache.Store
	client   *upstream.Client
	cfgFn    func() *config.Config
	clock    clockwork.Clock
	logger   *slog.Logger
	errorLog *slog.Logger
	secLog   *slog.Logger
}

// New assembles the gateway handler. cfgFn is consulted per request so
// configuration hot reloads take effect without a restart. errorLog and
// secLog may be nil.
func New(catalog *endpoint.Catalog, store *cache.Store, client *upstream.Client, cfgFn func() *config.Config, clock clockwork.Clock, logger, errorLog, secLog *slog.Logger) *Handler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if errorLog == nil {
		errorLog = slog.New(slog.DiscardHandler)
	}
	if secLog == nil {
		secLog = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		catalog:  catalog,
		store:    store,
		client:   client,
		cfgFn:    cfgFn,
		clock:    clock,
		logger:   logger,
		errorLog: errorLog,
		secLog:   secLog,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	cfg := h.cfgFn()
	policy := cfg.Policy()

	w.Header().Set("X-Environment", cfg.Environment)

	// OPTIONS preflights are absorbed by the CORS middleware before the
	// request reaches this handler.
	if r.Method != http.MethodGet {
		h.writeError(w, r, policy, apierror.ErrorResponse{
			Error:     "Method not allowed",
			Code:      http.StatusMethodNotAllowed,
			ErrorCode: string(apierror.MethodNotAllowed),
		})
		h.observe("_invalid", http.StatusMethodNotAllowed, start)
		return
	}

	id := r.URL.Query().Get("endpoint")
	desc, err := h.catalog.Lookup(id)
	if err != nil {
		resp := apierror.ErrorResponse{Code: http.StatusBadRequest}
		if errors.Is(err, endpoint.ErrMissingEndpoint) {
			resp.Error = "Missing endpoint parameter"
			resp.ErrorCode = string(apierror.MissingEndpoint)
		} else {
			resp.Error = "Invalid endpoint"
			resp.ErrorCode = string(apierror.InvalidEndpoint)
			h.secLog.Warn("invalid endpoint requested",
				"endpoint", endpoint.SanitizeValue(id),
				"client_ip", r.RemoteAddr,
				"user_agent", r.UserAgent(),
			)
		}
		h.writeError(w, r, policy, resp)
		h.observe("_invalid", http.StatusBadRequest, start)
		return
	}

	params := endpoint.ValidateParams(r.URL.Query(), policy.StrictValidation)
	key := cache.Key(desc.ID, params)

	if payload, age, ok := h.store.Get(key); ok {
		metrics.CacheHits.WithLabelValues(desc.ID).Inc()
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("X-Cache", "HIT")
		w.Header().Set("X-Cache-Age", strconv.Itoa(int(age.Seconds())))
		w.Write(payload) //nolint:errcheck
		h.observe(desc.ID, http.StatusOK, start)
		h.maybeSweep(cfg)
		return
	}
	metrics.CacheMisses.WithLabelValues(desc.ID).Inc()

	payload, status, errResp := h.produce(r, desc, params, cfg)
	if errResp != nil {
		h.writeError(w, r, policy, *errResp)
		h.observe(desc.ID, status, start)
		return
	}

	if err := h.store.Put(key, payload); err != nil {
		// Serving without caching is fine; the next request retries the write.
		h.logger.Warn("cache write failed", "endpoint", desc.ID, "error", err)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Cache", "MISS")
	w.Write(payload) //nolint:errcheck
	h.observe(desc.ID, http.StatusOK, start)
	h.maybeSweep(cfg)
}

// produce builds the response payload for a cache miss. It returns the
// marshaled document, or an error response for the rare cases that cannot
// degrade to fallback data.
func (h *Handler) produce(r *http.Request, desc endpoint.Descriptor, params map[string]string, cfg *config.Config) ([]byte, int, *apierror.ErrorResponse) {
	now := h.clock.Now()

	// Imagery endpoints are synthesized locally; no upstream HTTP call.
	if desc.Kind == endpoint.KindImagery {
		layer, _ := normalize.BuildImagery(desc.ID, desc.URL, params, now)
		return h.marshal(desc, layer)
	}

	raw, err := h.client.Fetch(r.Context(), desc, params)
	if err != nil {
		if errors.Is(err, upstream.ErrAPIKeyMissing) && !cfg.IsDevelopment() {
			h.errorLog.Error("weatherapi key not configured", "endpoint", desc.ID)
			return nil, http.StatusServiceUnavailable, &apierror.ErrorResponse{
				Error:     "Upstream not configured",
				Code:      http.StatusServiceUnavailable,
				ErrorCode: string(apierror.UpstreamMisconfigured),
			}
		}
		return h.fallback(desc, now, err)
	}

	doc, err := normalize.Normalize(desc, raw, now)
	if err != nil {
		return h.fallback(desc, now, err)
	}
	return h.marshal(desc, doc)
}

// fallback substitutes the deterministic demo payload after an upstream or
// parse failure. Still HTTP 200: the browser client has no failure mode.
func (h *Handler) fallback(desc endpoint.Descriptor, now time.Time, cause error) ([]byte, int, *apierror.ErrorResponse) {
	metrics.FallbacksTotal.WithLabelValues(desc.ID).Inc()
	h.errorLog.Error("serving fallback data", "endpoint", desc.ID, "cause", cause.Error())
	h.logger.Warn("serving fallback data", "endpoint", desc.ID, "cause", cause.Error())
	return h.marshal(desc, normalize.Fallback(desc, now))
}

// marshal serializes the document once; the same bytes are cached and
// written, so a later HIT is byte-identical to the MISS that populated it.
func (h *Handler) marshal(desc endpoint.Descriptor, doc any) ([]byte, int, *apierror.ErrorResponse) {
	payload, err := json.Marshal(doc)
	if err != nil {
		h.errorLog.Error("response marshal failed", "endpoint", desc.ID, "error", err)
		return nil, http.StatusInternalServerError, &apierror.ErrorResponse{
			Error:     "Internal server error",
			Code:      http.StatusInternalServerError,
			ErrorCode: string(apierror.InternalError),
		}
	}
	return payload, http.StatusOK, nil
}

// writeError emits a structured error body, attaching the request debug
// block in development mode.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, policy config.Policy, resp apierror.ErrorResponse) {
	if policy.DebugLogging {
		resp.Debug = &apierror.DebugInfo{
			Method:    r.Method,
			URI:       r.URL.RequestURI(),
			UserAgent: r.UserAgent(),
		}
	}
	apierror.WriteResponse(w, resp)
}

// maybeSweep occasionally reclaims expired cache files. Probability is
// 1 in cfg.Cache.SweepChance per request; entries are removed once they are
// twice the expiry old, well past the point Get stopped serving them.
func (h *Handler) maybeSweep(cfg *config.Config) {
	if rand.IntN(cfg.Cache.SweepChance) != 0 {
		return
	}
	go h.store.Sweep(2 * cfg.Cache.Expiry)
}

func (h *Handler) observe(endpointID string, status int, start time.Time) {
	metrics.RequestsTotal.WithLabelValues(endpointID, strconv.Itoa(status)).Inc()
	metrics.RequestDuration.WithLabelValues(endpointID).Observe(time.Since(start).Seconds())
}
