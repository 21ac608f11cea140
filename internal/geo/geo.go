package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used by the haversine formula.
const EarthRadiusMeters = 6371000.0

// Coordinate is a latitude/longitude pair in degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude" db:"latitude"`
	Longitude float64 `json:"longitude" db:"longitude"`
}

// Valid reports whether the coordinate lies within [-90,90] x [-180,180].
func (c Coordinate) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 &&
		c.Longitude >= -180 && c.Longitude <= 180
}

// DistanceMeters returns the great-circle distance between a and b.
func DistanceMeters(a, b Coordinate) float64 {
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dLat := toRadians(b.Latitude - a.Latitude)
	dLng := toRadians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	// rounding can push h a hair past 1 for antipodal points
	h = math.Min(1, math.Max(0, h))

	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

// Box is an axis-aligned lat/lng rectangle. When MinLng > MaxLng the box
// crosses the antimeridian and spans [MinLng,180] plus [-180,MaxLng].
type Box struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// WrapsAntimeridian reports whether the box crosses longitude ±180.
func (b Box) WrapsAntimeridian() bool {
	return b.MinLng > b.MaxLng
}

// Contains reports whether c falls inside the box.
func (b Box) Contains(c Coordinate) bool {
	if c.Latitude < b.MinLat || c.Latitude > b.MaxLat {
		return false
	}
	if b.WrapsAntimeridian() {
		return c.Longitude >= b.MinLng || c.Longitude <= b.MaxLng
	}
	return c.Longitude >= b.MinLng && c.Longitude <= b.MaxLng
}

// BoundingBox returns a rectangle enclosing every point within radiusMeters
// of center. It is a coarse prefilter; callers still compare DistanceMeters.
func BoundingBox(center Coordinate, radiusMeters float64) Box {
	latDelta := toDegrees(radiusMeters / EarthRadiusMeters)

	lngDelta := 180.0
	if cos := math.Cos(toRadians(center.Latitude)); cos > 1e-9 {
		lngDelta = math.Min(180, toDegrees(radiusMeters/(EarthRadiusMeters*cos)))
	}

	box := Box{
		MinLat: math.Max(-90, center.Latitude-latDelta),
		MaxLat: math.Min(90, center.Latitude+latDelta),
		MinLng: center.Longitude - lngDelta,
		MaxLng: center.Longitude + lngDelta,
	}
	switch {
	case lngDelta >= 180 || box.MaxLat == 90 || box.MinLat == -90:
		box.MinLng, box.MaxLng = -180, 180
	case box.MinLng < -180:
		box.MinLng += 360
	case box.MaxLng > 180:
		box.MaxLng -= 360
	}
	return box
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }

func toDegrees(rad float64) float64 { return rad * 180 / math.Pi }
