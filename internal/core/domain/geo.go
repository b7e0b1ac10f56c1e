package domain

// GeoPoint represents a geographic coordinate (WGS 84).
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ValidCoordinates reports whether lat/lon are inside WGS 84 bounds.
func ValidCoordinates(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// Bounds represents a geographic bounding box.
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// BoundsOf returns the bounding box of the given fixes.
func BoundsOf(fixes []Fix) (Bounds, bool) {
	if len(fixes) == 0 {
		return Bounds{}, false
	}
	b := Bounds{
		MinLat: fixes[0].Latitude, MaxLat: fixes[0].Latitude,
		MinLon: fixes[0].Longitude, MaxLon: fixes[0].Longitude,
	}
	for _, f := range fixes[1:] {
		b.MinLat = min(b.MinLat, f.Latitude)
		b.MaxLat = max(b.MaxLat, f.Latitude)
		b.MinLon = min(b.MinLon, f.Longitude)
		b.MaxLon = max(b.MaxLon, f.Longitude)
	}
	return b, true
}
