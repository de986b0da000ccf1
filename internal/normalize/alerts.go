package normalize

import (
	"encoding/json"
	"fmt"
	"time"
)

// Alert is the canonical normalized weather alert record.
type Alert struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Urgency     string `json:"urgency"`
	Areas       string `json:"areas"`
	Issued      string `json:"issued"`
	Expires     string `json:"expires"`
}

// AlertFeed is the canonical alert feed payload.
type AlertFeed struct {
	Alerts []Alert `json:"alerts"`
}

// ParseAlertFeed normalizes an NWS GeoJSON alert feed. Each feature's
// properties map onto the canonical record with placeholder defaults for
// missing fields. A payload without features, including an empty features
// array, is an error; the caller substitutes the fallback alert so the
// browser always has something to render.
func ParseAlertFeed(raw []byte, now time.Time) (AlertFeed, error) {
	var doc struct {
		Features []struct {
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return AlertFeed{}, fmt.Errorf("alert feed is not valid JSON: %w", err)
	}
	if len(doc.Features) == 0 {
		return AlertFeed{}, fmt.Errorf("alert feed has no features")
	}

	feed := AlertFeed{Alerts: make([]Alert, 0, len(doc.Features))}
	for _, f := range doc.Features {
		props := f.Properties
		if props == nil {
			props = map[string]any{}
		}
		feed.Alerts = append(feed.Alerts, Alert{
			ID:          Sanitize(stringField(props, "id", fmt.Sprintf("alert-%d", now.Unix()))),
			Title:       Sanitize(stringField(props, "event", "Weather Alert")),
			Description: Sanitize(stringField(props, "description", "No description available")),
			Severity:    Sanitize(stringField(props, "severity", "Unknown")),
			Urgency:     Sanitize(stringField(props, "urgency", "Unknown")),
			Areas:       Sanitize(stringField(props, "areaDesc", "Unknown Area")),
			Issued:      Sanitize(stringField(props, "sent", now.Format(time.RFC3339))),
			Expires:     Sanitize(stringField(props, "expires", now.Add(24*time.Hour).Format(time.RFC3339))),
		})
	}

	return feed, nil
}
