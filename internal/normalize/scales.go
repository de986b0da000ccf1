package normalize

// Static color mappings and scales for the overlay endpoints. Values match
// what the browser renderer has always been given; changing them changes
// the map legend.

// Scale is a min/max range with a color ramp.
type Scale struct {
	Min    float64  `json:"min"`
	Max    float64  `json:"max"`
	Units  string   `json:"units,omitempty"`
	Colors []string `json:"colors"`
}

// ContourSpec describes isoline generation for the pressure overlay.
type ContourSpec struct {
	Interval int               `json:"interval"`
	MinValue int               `json:"minValue"`
	MaxValue int               `json:"maxValue"`
	Colors   map[string]string `json:"colors"`
}

// RadarColorMap maps reflectivity (dBZ buckets) to RGBA colors.
func RadarColorMap() map[string]string {
	return map[string]string{
		"0":  "#00000000",
		"5":  "#00ff0080",
		"10": "#00ff0080",
		"15": "#ffff0080",
		"20": "#ff800080",
		"25": "#ff000080",
		"30": "#ff00ff80",
		"35": "#ffffff80",
	}
}

// WindScale is the wind speed color ramp in mph.
func WindScale() Scale {
	return Scale{
		Min: 0,
		Max: 200,
		Colors: []string{
			"#3288bd",
			"#99d594",
			"#e6f598",
			"#fee08b",
			"#fc8d59",
			"#d53e4f",
		},
	}
}

// PressureContours describes the isobar spacing in millibars.
func PressureContours() ContourSpec {
	return ContourSpec{
		Interval: 4,
		MinValue: 960,
		MaxValue: 1040,
		Colors: map[string]string{
			"low":    "#ff0000",
			"normal": "#00ff00",
			"high":   "#0000ff",
		},
	}
}

// PressureColorMap maps pressure in millibars to colors.
func PressureColorMap() map[string]string {
	return map[string]string{
		"960":  "#800080",
		"980":  "#ff0000",
		"1000": "#ffff00",
		"1013": "#00ff00",
		"1020": "#00ffff",
		"1030": "#0000ff",
		"1040": "#000080",
	}
}

// SeaTempScale is the sea surface temperature ramp in Celsius.
func SeaTempScale() Scale {
	return Scale{
		Min:   -2,
		Max:   35,
		Units: "C",
		Colors: []string{
			"#000080",
			"#0000ff",
			"#00ffff",
			"#00ff00",
			"#ffff00",
			"#ff8000",
			"#ff0000",
		},
	}
}

// SeaTempColorMap maps temperature in Celsius to colors.
func SeaTempColorMap() map[string]string {
	return map[string]string{
		"-2": "#000080",
		"5":  "#0000ff",
		"10": "#00ffff",
		"15": "#00ff00",
		"20": "#ffff00",
		"25": "#ff8000",
		"30": "#ff0000",
		"35": "#800000",
	}
}
