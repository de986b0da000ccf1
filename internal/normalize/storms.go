package normalize

import (
	"encoding/json"
	"fmt"
	"time"
)

// Classification is the storm strength derived from wind speed.
type Classification struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Movement is the storm's current motion.
type Movement struct {
	Speed     float64 `json:"speed"`
	Direction string  `json:"direction"`
}

// Storm is the canonical normalized storm record.
type Storm struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Basin          string         `json:"basin"`
	Classification Classification `json:"classification"`
	WindSpeed      int            `json:"windSpeed"`
	Pressure       int            `json:"pressure"`
	Coordinates    [2]float64     `json:"coordinates"`
	Movement       Movement       `json:"movement"`
	LastUpdate     string         `json:"lastUpdate"`
	ForecastTrack  [][2]float64   `json:"forecastTrack"`
}

// StormFeed is the canonical storm feed payload.
type StormFeed struct {
	Storms []Storm `json:"storms"`
}

// Default coordinates and pressure applied when the upstream omits fields.
const (
	defaultLat      = 25.0
	defaultLon      = -75.0
	defaultPressure = 1013
)

// ParseStormFeed normalizes an NHC storm feed. The upstream publishes the
// array under "storms" or "activeStorms" depending on product; an explicit
// "storms" key wins. Returns an error when the payload is not JSON or
// carries neither key; the caller substitutes fallback data.
func ParseStormFeed(raw []byte, now time.Time) (StormFeed, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return StormFeed{}, fmt.Errorf("storm feed is not a JSON object: %w", err)
	}

	var rawStorms []map[string]any
	found := false
	for _, key := range []string{"storms", "activeStorms"} {
		arr, ok := doc[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(arr, &rawStorms); err != nil {
			return StormFeed{}, fmt.Errorf("storm array %q malformed: %w", key, err)
		}
		found = true
		break
	}
	if !found {
		return StormFeed{}, fmt.Errorf("storm feed has no storms or activeStorms array")
	}

	feed := StormFeed{Storms: make([]Storm, 0, len(rawStorms))}
	for _, rs := range rawStorms {
		lat := floatField(rs, "lat", defaultLat)
		lon := floatField(rs, "lon", defaultLon)
		wind := intField(rs, "windSpeed", 0)

		feed.Storms = append(feed.Storms, Storm{
			ID:             Sanitize(stringField(rs, "id", fmt.Sprintf("storm-%d", now.Unix()))),
			Name:           Sanitize(stringField(rs, "name", "Unknown Storm")),
			Basin:          DetermineBasin(lat, lon),
			Classification: Classify(wind),
			WindSpeed:      wind,
			Pressure:       intField(rs, "pressure", defaultPressure),
			Coordinates:    [2]float64{lat, lon},
			Movement: Movement{
				Speed:     floatField(rs, "movementSpeed", 0),
				Direction: Sanitize(stringField(rs, "movementDirection", "N")),
			},
			LastUpdate:    Sanitize(stringField(rs, "lastUpdate", now.Format(time.RFC3339))),
			ForecastTrack: coordPairs(rs["forecastTrack"]),
		})
	}

	return feed, nil
}

// Classify maps a wind speed to its category. The thresholds are monotonic
// and total: every non-negative speed lands in exactly one bucket.
func Classify(windSpeed int) Classification {
	switch {
	case windSpeed < 39:
		return Classification{Code: "TD", Name: "Tropical Depression", Color: "#64748b"}
	case windSpeed < 74:
		return Classification{Code: "TS", Name: "Tropical Storm", Color: "#06b6d4"}
	case windSpeed < 96:
		return Classification{Code: "CAT1", Name: "Category 1", Color: "#fbbf24"}
	case windSpeed < 111:
		return Classification{Code: "CAT2", Name: "Category 2", Color: "#f97316"}
	case windSpeed < 130:
		return Classification{Code: "CAT3", Name: "Category 3", Color: "#ef4444"}
	case windSpeed < 157:
		return Classification{Code: "CAT4", Name: "Category 4", Color: "#dc2626"}
	default:
		return Classification{Code: "CAT5", Name: "Category 5", Color: "#7c2d12"}
	}
}

// DetermineBasin maps coordinates to one of the six tracked basins.
// First match wins; anything unmatched defaults to the Atlantic.
// The South Pacific box crosses the antimeridian.
func DetermineBasin(lat, lon float64) string {
	switch {
	case lat > 0 && lat < 60 && lon > -100 && lon < 0:
		return "atlantic"
	case lat > 0 && lat < 60 && lon > -180 && lon < -80:
		return "epac"
	case lat > -5 && lat < 50 && lon > 100 && lon < 180:
		return "wpac"
	case lat > 0 && lat < 35 && lon > 40 && lon < 100:
		return "nio"
	case lat > -50 && lat < 0 && lon > 20 && lon < 115:
		return "sio"
	case lat > -50 && lat < 0 && (lon > 135 || lon < -120):
		return "spc"
	default:
		return "atlantic"
	}
}

// coordPairs converts an untyped forecast track into coordinate pairs,
// dropping malformed entries. Always returns a non-nil slice so the JSON
// field is [] rather than null.
func coordPairs(v any) [][2]float64 {
	out := make([][2]float64, 0)
	arr, ok := v.([]any)
	if !ok {
		return out
	}
	for _, item := range arr {
		pair, ok := item.([]any)
		if !ok || len(pair) < 2 {
			continue
		}
		lat, okLat := toFloat(pair[0])
		lon, okLon := toFloat(pair[1])
		if okLat && okLon {
			out = append(out, [2]float64{lat, lon})
		}
	}
	return out
}

// Field helpers tolerate the loose typing of the upstream feeds, where
// numbers occasionally arrive as strings and vice versa.

func stringField(m map[string]any, key, def string) string {
	switch v := m[key].(type) {
	case string:
		if v != "" {
			return v
		}
	case float64:
		return fmt.Sprintf("%g", v)
	}
	return def
}

func floatField(m map[string]any, key string, def float64) float64 {
	if f, ok := toFloat(m[key]); ok {
		return f
	}
	return def
}

func intField(m map[string]any, key string, def int) int {
	if f, ok := toFloat(m[key]); ok {
		return int(f)
	}
	return def
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		var f float64
		if _, err := fmt.Sscanf(n, "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}
