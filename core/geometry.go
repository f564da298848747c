package core

import "math"

// WGS-84 ellipsoid.
const (
	wgs84A  = 6378137.0
	wgs84F  = 1 / 298.257223563
	wgs84E2 = wgs84F * (2 - wgs84F)
)

// Vec3 is an ECEF vector in metres.
type Vec3 struct {
	X, Y, Z float64
}

// DistanceTo returns the straight-line distance between two points.
func (v Vec3) DistanceTo(other Vec3) float64 {
	return v.Sub(other).Norm()
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// Geodetic is a WGS-84 position.
type Geodetic struct {
	LatitudeDeg  float64 `json:"latitude" yaml:"latitude" mapstructure:"latitude"`
	LongitudeDeg float64 `json:"longitude" yaml:"longitude" mapstructure:"longitude"`
	AltitudeM    float64 `json:"altitude" yaml:"altitude" mapstructure:"altitude"`
}

// ECEF converts g to Earth-centred Earth-fixed metres.
func (g Geodetic) ECEF() Vec3 {
	lat := g.LatitudeDeg * math.Pi / 180
	lon := g.LongitudeDeg * math.Pi / 180
	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
	return Vec3{
		X: (n + g.AltitudeM) * cosLat * math.Cos(lon),
		Y: (n + g.AltitudeM) * cosLat * math.Sin(lon),
		Z: (n*(1-wgs84E2) + g.AltitudeM) * sinLat,
	}
}

// LookAngles returns the azimuth and elevation (degrees) of target as seen
// from receiver, together with the East/North/Up unit line of sight.
func LookAngles(receiver Geodetic, target Vec3) (azimuth, elevation float64, los [3]float64) {
	d := target.Sub(receiver.ECEF())
	r := d.Norm()
	if r == 0 {
		return 0, 90, [3]float64{0, 0, 1}
	}

	lat := receiver.LatitudeDeg * math.Pi / 180
	lon := receiver.LongitudeDeg * math.Pi / 180
	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	sinLon, cosLon := math.Sin(lon), math.Cos(lon)

	e := -sinLon*d.X + cosLon*d.Y
	n := -sinLat*cosLon*d.X - sinLat*sinLon*d.Y + cosLat*d.Z
	u := cosLat*cosLon*d.X + cosLat*sinLon*d.Y + sinLat*d.Z
	los = [3]float64{e / r, n / r, u / r}

	elevation = math.Asin(math.Max(-1, math.Min(1, los[2]))) * 180 / math.Pi
	azimuth = math.Atan2(e, n) * 180 / math.Pi
	if azimuth < 0 {
		azimuth += 360
	}
	return azimuth, elevation, los
}

// ElevationDegrees returns the elevation angle of target as seen from
// receiver, in degrees. 0 is the local horizon, 90 is overhead.
func ElevationDegrees(receiver Geodetic, target Vec3) float64 {
	_, el, _ := LookAngles(receiver, target)
	return el
}
