package geo

import "math"

// EarthRadiusM is the mean earth radius used by every distance in the module.
const EarthRadiusM = 6371000.0

// Point is an immutable latitude/longitude pair in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Route is an ordered sequence of points, oldest first.
type Route []Point

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b Point) float64 {
	if a == b {
		return 0
	}
	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusM * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// HaversineKm is Distance expressed in kilometers.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	return Distance(Point{Lat: lat1, Lng: lng1}, Point{Lat: lat2, Lng: lng2}) / 1000
}

// Length folds Distance over consecutive points in order.
func (r Route) Length() float64 {
	total := 0.0
	for i := 1; i < len(r); i++ {
		total += Distance(r[i-1], r[i])
	}
	return total
}

// Last returns the most recent point, if any.
func (r Route) Last() (Point, bool) {
	if len(r) == 0 {
		return Point{}, false
	}
	return r[len(r)-1], true
}

// Clone returns a copy that does not share the backing array.
func (r Route) Clone() Route {
	if r == nil {
		return Route{}
	}
	out := make(Route, len(r))
	copy(out, r)
	return out
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
