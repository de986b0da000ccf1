package normalize

import (
	"strconv"
	"strings"
	"time"

	"github.com/tropicstracker/stormproxy/internal/endpoint"
)

// Bounds is a geographic box as [[swLat, swLon], [neLat, neLon]].
type Bounds [2][2]float64

// GlobalBounds covers the whole globe; the default when the client sends
// no bounds or a malformed value.
var GlobalBounds = Bounds{{-90, -180}, {90, 180}}

// TileLayer describes a map tile overlay (satellite, radar).
type TileLayer struct {
	Type        string            `json:"type"`
	TileURL     string            `json:"tileUrl"`
	Attribution string            `json:"attribution"`
	Opacity     float64           `json:"opacity"`
	Bounds      Bounds            `json:"bounds"`
	Timestamp   string            `json:"timestamp"`
	MaxZoom     int               `json:"maxZoom"`
	MinZoom     int               `json:"minZoom"`
	ColorMap    map[string]string `json:"colorMap,omitempty"`
}

// VectorLayer describes a particle-animated vector overlay (wind).
type VectorLayer struct {
	Type          string  `json:"type"`
	VectorURL     string  `json:"vectorUrl"`
	Attribution   string  `json:"attribution"`
	Opacity       float64 `json:"opacity"`
	Bounds        Bounds  `json:"bounds"`
	Timestamp     string  `json:"timestamp"`
	WindScale     Scale   `json:"windScale"`
	ParticleCount int     `json:"particleCount"`
}

// ContourLayer describes an isoline overlay (pressure).
type ContourLayer struct {
	Type         string            `json:"type"`
	ContourURL   string            `json:"contourUrl"`
	Attribution  string            `json:"attribution"`
	Opacity      float64           `json:"opacity"`
	Bounds       Bounds            `json:"bounds"`
	Timestamp    string            `json:"timestamp"`
	ContourLines ContourSpec       `json:"contourLines"`
	ColorMap     map[string]string `json:"colorMap"`
}

// HeatmapLayer describes a gridded scalar overlay (sea surface temperature).
type HeatmapLayer struct {
	Type             string            `json:"type"`
	HeatmapURL       string            `json:"heatmapUrl"`
	Attribution      string            `json:"attribution"`
	Opacity          float64           `json:"opacity"`
	Bounds           Bounds            `json:"bounds"`
	Timestamp        string            `json:"timestamp"`
	TemperatureScale Scale             `json:"temperatureScale"`
	ColorMap         map[string]string `json:"colorMap"`
}

// BuildImagery synthesizes the overlay descriptor for an imagery endpoint.
// No upstream HTTP call is involved; the payload is request parameters plus
// static per-layer metadata. Returns false for non-imagery endpoints.
func BuildImagery(id, baseURL string, params map[string]string, now time.Time) (any, bool) {
	bounds := ParseBounds(params["bounds"])
	ts := now.Format(time.RFC3339)

	switch id {
	case endpoint.GOESSat:
		return TileLayer{
			Type:        "tile",
			TileURL:     baseURL + "/{z}/{x}/{y}.jpg",
			Attribution: "NOAA GOES-16/18 Satellite",
			Opacity:     0.7,
			Bounds:      bounds,
			Timestamp:   ts,
			MaxZoom:     10,
			MinZoom:     3,
		}, true
	case endpoint.NexradRadar:
		return TileLayer{
			Type:        "tile",
			TileURL:     baseURL + "/tile/{z}/{y}/{x}",
			Attribution: "NOAA NEXRAD Radar",
			Opacity:     0.6,
			Bounds:      bounds,
			Timestamp:   ts,
			MaxZoom:     12,
			MinZoom:     3,
			ColorMap:    RadarColorMap(),
		}, true
	case endpoint.WindData:
		return VectorLayer{
			Type:          "vector",
			VectorURL:     baseURL,
			Attribution:   "earth.nullschool.net Wind Data",
			Opacity:       0.8,
			Bounds:        bounds,
			Timestamp:     ts,
			WindScale:     WindScale(),
			ParticleCount: 5000,
		}, true
	case endpoint.PressData:
		return ContourLayer{
			Type:         "contour",
			ContourURL:   baseURL,
			Attribution:  "earth.nullschool.net Pressure Data",
			Opacity:      0.5,
			Bounds:       bounds,
			Timestamp:    ts,
			ContourLines: PressureContours(),
			ColorMap:     PressureColorMap(),
		}, true
	case endpoint.SeaTempData:
		return HeatmapLayer{
			Type:             "heatmap",
			HeatmapURL:       baseURL,
			Attribution:      "NOAA Sea Surface Temperature",
			Opacity:          0.6,
			Bounds:           bounds,
			Timestamp:        ts,
			TemperatureScale: SeaTempScale(),
			ColorMap:         SeaTempColorMap(),
		}, true
	}
	return nil, false
}

// ParseBounds parses a "lat1,lon1,lat2,lon2" string into a bounds box
// (SW then NE corner). Absent or malformed input yields the whole globe.
func ParseBounds(s string) Bounds {
	if s == "" {
		return GlobalBounds
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return GlobalBounds
	}
	var vals [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return GlobalBounds
		}
		vals[i] = v
	}
	return Bounds{{vals[0], vals[1]}, {vals[2], vals[3]}}
}
