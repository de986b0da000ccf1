package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

// TrackPoint is one observation from a historical storm track.
type TrackPoint struct {
	Date      string  `json:"date"`
	Time      string  `json:"time"`
	Status    string  `json:"status"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	WindSpeed int     `json:"windSpeed"`
	Pressure  int     `json:"pressure"`
}

// TrackStorm is one storm from the HURDAT2 historical dataset.
type TrackStorm struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Entries int          `json:"entries"`
	Track   []TrackPoint `json:"track"`
}

// TrackFeed is the canonical HURDAT2 payload.
type TrackFeed struct {
	Storms []TrackStorm `json:"storms"`
}

// maxHurdatLines caps parsing cost; the full dataset runs to tens of
// thousands of lines and the browser only ever shows the head. A partial
// result past the cap is acceptable, not an error.
const maxHurdatLines = 1000

// stormHeaderRe matches a HURDAT2 storm header id: two-letter basin code
// followed by cyclone number and year, e.g. AL092023.
var stormHeaderRe = regexp.MustCompile(`^[A-Z]{2}\d{6}$`)

// ParseHurdat parses the comma-delimited HURDAT2 text format. A header
// line opens a new storm; every following data line is a track point for it
// until the next header. NOAA data lines carry a record identifier (often
// blank) between the time and status columns; a compact 7-field line
// without it is also accepted. Lines past the cap are ignored.
func ParseHurdat(raw []byte) TrackFeed {
	feed := TrackFeed{Storms: make([]TrackStorm, 0)}
	var current *TrackStorm

	lineCount := 0
	for _, line := range strings.Split(string(raw), "\n") {
		lineCount++
		if lineCount > maxHurdatLines {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		// NOAA lines end with a trailing comma; drop the empty field it
		// leaves so the column count is meaningful.
		if parts[len(parts)-1] == "" {
			parts = parts[:len(parts)-1]
		}

		if len(parts) >= 3 && stormHeaderRe.MatchString(parts[0]) {
			if current != nil {
				feed.Storms = append(feed.Storms, *current)
			}
			entries, _ := strconv.Atoi(parts[2])
			current = &TrackStorm{
				ID:      parts[0],
				Name:    Sanitize(parts[1]),
				Entries: entries,
				Track:   make([]TrackPoint, 0, entries),
			}
			continue
		}

		if current != nil && len(parts) >= 7 {
			// Status column: index 3 in the full layout (after the record
			// identifier), index 2 in the compact 7-field form.
			f := 2
			if len(parts) >= 8 {
				f = 3
			}
			wind, _ := strconv.Atoi(parts[f+3])
			pressure, _ := strconv.Atoi(parts[f+4])
			current.Track = append(current.Track, TrackPoint{
				Date:      parts[0],
				Time:      parts[1],
				Status:    parts[f],
				Lat:       parseHemisphere(parts[f+1]),
				Lon:       parseHemisphere(parts[f+2]),
				WindSpeed: wind,
				Pressure:  pressure,
			})
		}
	}

	if current != nil {
		feed.Storms = append(feed.Storms, *current)
	}

	return feed
}

// parseHemisphere converts a HURDAT2 coordinate like "28.0N" or "94.8W"
// into a signed float (south and west negative). A bare number passes
// through unchanged; garbage parses to 0.
func parseHemisphere(s string) float64 {
	if s == "" {
		return 0
	}
	sign := 1.0
	last := s[len(s)-1]
	switch last {
	case 'N', 'E':
		s = s[:len(s)-1]
	case 'S', 'W':
		sign = -1.0
		s = s[:len(s)-1]
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return sign * v
}
