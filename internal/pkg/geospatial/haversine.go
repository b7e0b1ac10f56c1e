package geospatial

import "math"

// Mean Earth radius used by the haversine formula.
const earthRadiusMeters = 6_371_000.0

// Coord is a WGS 84 latitude/longitude pair in degrees.
type Coord struct {
	Lat, Lon float64
}

// Haversine returns the great-circle distance in meters between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1, phi2 := radians(lat1), radians(lat2)
	dPhi := radians(lat2 - lat1)
	dLambda := radians(lon2 - lon1)

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// PathLength sums the distances between consecutive coordinates.
func PathLength(coords []Coord) float64 {
	var total float64
	for i := 1; i < len(coords); i++ {
		a, b := coords[i-1], coords[i]
		total += Haversine(a.Lat, a.Lon, b.Lat, b.Lon)
	}
	return total
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
