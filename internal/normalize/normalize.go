// Package normalize turns heterogeneous upstream payloads into the proxy's
// canonical JSON shapes. Every transform is a pure function of the raw
// bytes; when an upstream payload cannot be parsed the caller substitutes
// the deterministic fallback so the browser client always gets a valid
// document with HTTP 200.
package normalize

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tropicstracker/stormproxy/internal/endpoint"
)

// Normalize transforms raw upstream bytes according to the endpoint kind.
// On error the caller should substitute Fallback. Imagery endpoints never
// reach here; they are synthesized without an upstream call.
func Normalize(desc endpoint.Descriptor, raw []byte, now time.Time) (any, error) {
	switch desc.Kind {
	case endpoint.KindStormFeed:
		feed, err := ParseStormFeed(raw, now)
		if err != nil {
			return nil, err
		}
		return feed, nil
	case endpoint.KindAlertFeed:
		feed, err := ParseAlertFeed(raw, now)
		if err != nil {
			return nil, err
		}
		return feed, nil
	case endpoint.KindDelimitedText:
		return ParseHurdat(raw), nil
	case endpoint.KindJSON:
		if !json.Valid(raw) {
			return nil, fmt.Errorf("upstream payload is not valid JSON")
		}
		return json.RawMessage(raw), nil
	default:
		return nil, fmt.Errorf("no normalizer for endpoint %q", desc.ID)
	}
}

// Fallback returns the deterministic substitute payload for an endpoint,
// used when the upstream is unreachable, misbehaving, or unparseable.
func Fallback(desc endpoint.Descriptor, now time.Time) any {
	switch desc.ID {
	case endpoint.NHCStorms, endpoint.NHCSample:
		return demoStorms(now)
	case endpoint.NWSAlerts:
		return demoAlerts(now)
	default:
		if layer, ok := BuildImagery(desc.ID, desc.URL, nil, now); ok {
			return layer
		}
		// hurdat2 and weatherapi degrade to a service notice; the client
		// treats any payload without its expected key as "no data".
		return map[string]string{"error": "Service temporarily unavailable"}
	}
}

// demoStorms is the placeholder storm shown when the NHC feed is down.
func demoStorms(now time.Time) StormFeed {
	return StormFeed{Storms: []Storm{{
		ID:             "demo-storm-1",
		Name:           "Demo Hurricane Alpha",
		Basin:          "atlantic",
		Classification: Classify(105),
		WindSpeed:      105,
		Pressure:       970,
		Coordinates:    [2]float64{25.0, -75.0},
		Movement:       Movement{Speed: 15, Direction: "NW"},
		LastUpdate:     now.Format(time.RFC3339),
		ForecastTrack:  [][2]float64{{25.0, -75.0}, {26.0, -76.0}},
	}}}
}

// demoAlerts is the placeholder alert shown when the NWS feed is down or
// empty.
func demoAlerts(now time.Time) AlertFeed {
	return AlertFeed{Alerts: []Alert{{
		ID:          "demo-alert-1",
		Title:       "System Operating Normally",
		Description: "No active weather alerts at this time. System functioning properly.",
		Severity:    "Minor",
		Urgency:     "Future",
		Areas:       "All Areas",
		Issued:      now.Format(time.RFC3339),
		Expires:     now.Add(24 * time.Hour).Format(time.RFC3339),
	}}}
}
