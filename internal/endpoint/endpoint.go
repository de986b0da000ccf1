// Package endpoint defines the catalog of upstream data sources the proxy
// fronts and the validation rules for incoming request parameters. The
// catalog is immutable after startup; URL overrides from configuration are
// applied once when the catalog is built.
package endpoint

import (
	"errors"
	"net/url"
	"sort"
	"strings"
	"unicode/utf8"
)

// Kind classifies the shape of an endpoint's upstream response.
type Kind int

const (
	// KindJSON is a plain JSON object passed through after validation.
	KindJSON Kind = iota
	// KindStormFeed is the NHC active storms JSON feed.
	KindStormFeed
	// KindAlertFeed is the NWS GeoJSON alert feed.
	KindAlertFeed
	// KindDelimitedText is comma-delimited text (HURDAT2).
	KindDelimitedText
	// KindImagery is synthesized tile/overlay metadata; no upstream HTTP
	// call is made for these endpoints.
	KindImagery
)

// Descriptor describes one configured upstream data source.
type Descriptor struct {
	// ID is the proxy's internal short name, e.g. "nhc-storms".
	ID string
	// URL is the upstream base URL (or tile service root for imagery).
	URL string
	// Kind selects the normalizer applied to the upstream payload.
	Kind Kind
	// ForwardParam names the single query parameter forwarded to the
	// upstream, if any ("q" for weatherapi, "area" for nws-alerts).
	// All other parameters only participate in the cache key.
	ForwardParam string
	// RequiresKey marks endpoints that need the commercial API secret.
	RequiresKey bool
}

// Endpoint identifiers.
const (
	NHCStorms   = "nhc-storms"
	NHCSample   = "nhc-sample"
	NWSAlerts   = "nws-alerts"
	Hurdat2     = "hurdat2"
	WeatherAPI  = "weatherapi"
	GOESSat     = "goes-satellite"
	NexradRadar = "nexrad-radar"
	WindData    = "wind-data"
	PressData   = "pressure-data"
	SeaTempData = "sea-temp-data"
)

// defaults is the built-in upstream catalog. Order matters only for the
// admin listing; lookup goes through the map in Catalog.
var defaults = []Descriptor{
	{ID: NHCStorms, URL: "https://www.nhc.noaa.gov/CurrentStorms.json", Kind: KindStormFeed},
	{ID: NHCSample, URL: "https://www.nhc.noaa.gov/productexamples/NHC_JSON_Sample.json", Kind: KindStormFeed},
	{ID: NWSAlerts, URL: "https://api.weather.gov/alerts/active", Kind: KindAlertFeed, ForwardParam: "area"},
	{ID: Hurdat2, URL: "https://www.aoml.noaa.gov/hrd/hurdat/hurdat2.txt", Kind: KindDelimitedText},
	{ID: WeatherAPI, URL: "https://api.weatherapi.com/v1/current.json", Kind: KindJSON, ForwardParam: "q", RequiresKey: true},
	{ID: GOESSat, URL: "https://cdn.star.nesdis.noaa.gov/GOES16/ABI/CONUS/GEOCOLOR", Kind: KindImagery},
	{ID: NexradRadar, URL: "https://mapservices.weather.noaa.gov/eventdriven/rest/services/radar/radar_base_reflectivity_time/ImageServer", Kind: KindImagery},
	{ID: WindData, URL: "https://earth.nullschool.net/api/v1/winds/current", Kind: KindImagery},
	{ID: PressData, URL: "https://earth.nullschool.net/api/v1/pressure/current", Kind: KindImagery},
	{ID: SeaTempData, URL: "https://coastwatch.pfeg.noaa.gov/erddap/griddap/jplMURSST41.png", Kind: KindImagery},
}

// allowedParams are the query parameters clients may send besides
// "endpoint". In strict mode anything else is dropped; in lenient mode
// unknown parameters are accepted but never forwarded upstream. Either way
// every surviving parameter participates in the cache key.
var allowedParams = map[string]bool{
	"q":         true,
	"area":      true,
	"year":      true,
	"bounds":    true,
	"zoom":      true,
	"timestamp": true,
}

// Validation errors.
var (
	ErrMissingEndpoint = errors.New("missing endpoint parameter")
	ErrInvalidEndpoint = errors.New("invalid endpoint")
)

// Catalog is the immutable set of endpoint descriptors for one proxy
// instance.
type Catalog struct {
	byID map[string]Descriptor
	ids  []string
}

// NewCatalog builds the endpoint catalog, replacing built-in upstream URLs
// with any configured overrides. Unknown override keys are ignored (config
// validation has already parsed the URLs).
func NewCatalog(urlOverrides map[string]string) *Catalog {
	byID := make(map[string]Descriptor, len(defaults))
	ids := make([]string, 0, len(defaults))
	for _, d := range defaults {
		if override, ok := urlOverrides[d.ID]; ok {
			d.URL = override
		}
		byID[d.ID] = d
		ids = append(ids, d.ID)
	}
	return &Catalog{byID: byID, ids: ids}
}

// Lookup validates the endpoint identifier against the allow-list.
func (c *Catalog) Lookup(id string) (Descriptor, error) {
	if id == "" {
		return Descriptor{}, ErrMissingEndpoint
	}
	d, ok := c.byID[id]
	if !ok {
		return Descriptor{}, ErrInvalidEndpoint
	}
	return d, nil
}

// IDs returns the endpoint identifiers in catalog order.
func (c *Catalog) IDs() []string {
	out := make([]string, len(c.ids))
	copy(out, c.ids)
	return out
}

// maxParamLen bounds every parameter value. Longer values are truncated,
// not rejected, matching the legacy behavior.
const maxParamLen = 100

// ValidateParams sanitizes the incoming query parameters. The "endpoint"
// key is always excluded. In strict mode parameters outside the allow-list
// are dropped; in lenient mode they are kept (but never forwarded upstream).
// Values are truncated to 100 characters and scrubbed of control and
// HTML-special characters; parameters that end up empty are dropped.
func ValidateParams(query url.Values, strict bool) map[string]string {
	params := make(map[string]string, len(query))
	for key, values := range query {
		if key == "endpoint" || len(values) == 0 {
			continue
		}
		if strict && !allowedParams[key] {
			continue
		}
		v := SanitizeValue(values[0])
		if v != "" {
			params[key] = v
		}
	}
	return params
}

// SanitizeValue scrubs a single parameter value: control characters and
// HTML-special characters are removed and the result is truncated to the
// parameter length bound.
func SanitizeValue(v string) string {
	var b strings.Builder
	b.Grow(len(v))
	for _, r := range v {
		switch {
		case r < 0x20 || r == 0x7f:
			// control characters
		case r == '<' || r == '>' || r == '"' || r == '\'' || r == '&' || r == '\\':
			// HTML-special; parameters are reflected into JSON output
		default:
			b.WriteRune(r)
		}
	}
	s := b.String()
	if len(s) > maxParamLen {
		cut := maxParamLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return strings.TrimSpace(s)
}

// CanonicalParams renders a parameter set as "k=v" pairs sorted by key,
// joined with "&". Semantically identical requests always produce the same
// string regardless of client parameter order; the cache keys off it.
func CanonicalParams(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}
