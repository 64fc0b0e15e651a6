package sky

import (
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// Horizontal is a local sky position.
type Horizontal struct {
	Alt float64 `json:"alt"`
	Az  float64 `json:"az"`
}

// Site is an observatory location on the Earth.
type Site struct {
	Lat float64
	Lon float64
}

// MWASite is the location of the Murchison Widefield Array.
var MWASite = Site{Lat: -26.7033194, Lon: 116.6708139}

const deg = math.Pi / 180

// JulianDate returns the Julian date of t.
func JulianDate(t time.Time) float64 {
	return float64(t.UnixNano())/float64(24*time.Hour) + 2440587.5
}

// LocalSiderealTime returns the mean sidereal time at lon, in degrees.
func LocalSiderealTime(t time.Time, lon float64) float64 {
	d := JulianDate(t) - 2451545.0
	return normalizeDegrees(280.46061837 + 360.98564736629*d + lon)
}

// ToHorizontal converts an equatorial position to altitude and azimuth seen
// from site at t. Azimuth runs from north through east. Precession,
// nutation and refraction are ignored.
func ToHorizontal(eq Equatorial, site Site, t time.Time) Horizontal {
	h := (LocalSiderealTime(t, site.Lon) - eq.RA) * deg
	dec := eq.Dec * deg
	lat := site.Lat * deg

	sinAlt := math.Sin(dec)*math.Sin(lat) + math.Cos(dec)*math.Cos(lat)*math.Cos(h)
	alt := math.Asin(math.Max(-1, math.Min(1, sinAlt)))
	az := math.Atan2(
		-math.Cos(dec)*math.Sin(h),
		math.Sin(dec)*math.Cos(lat)-math.Cos(dec)*math.Sin(lat)*math.Cos(h),
	)
	return Horizontal{Alt: alt / deg, Az: normalizeDegrees(az / deg)}
}

func (h Horizontal) vec() r3.Vec {
	alt, az := h.Alt*deg, h.Az*deg
	return r3.Vec{
		X: math.Cos(alt) * math.Cos(az),
		Y: math.Cos(alt) * math.Sin(az),
		Z: math.Sin(alt),
	}
}

// Separation returns the great circle angle between a and b.
func Separation(a, b Horizontal) float64 {
	u, v := a.vec(), b.vec()
	return math.Atan2(r3.Norm(r3.Cross(u, v)), r3.Dot(u, v)) / deg
}
