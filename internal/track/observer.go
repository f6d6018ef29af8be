// Package track computes observer-relative satellite geometry: SGP4
// propagation, TEME → ECEF rotation, and topocentric look angles for a
// fixed ground station.
//
// Method: simplified Vallado-style rotation using GMST only (TEME → PEF
// ≈ ECEF), ignoring polar motion and the equation of equinoxes. The
// ~50m error is irrelevant at pass-scheduling resolution.
//
// Reference: Vallado, "Fundamentals of Astrodynamics and Applications", Ch. 3-4.
package track

import "math"

// WGS-84 ellipsoid parameters.
const (
	wgs84A  = 6378137.0             // semi-major axis (meters)
	wgs84F  = 1.0 / 298.257223563   // flattening
	wgs84E2 = wgs84F * (2 - wgs84F) // first eccentricity squared
)

// Observer holds a ground station's location in both geodetic and ECEF frames.
// ECEF coordinates are precomputed once so they can be reused across many
// satellite lookups.
type Observer struct {
	LatRad, LonRad, AltM float64 // geodetic (radians, meters above ellipsoid)
	ECEFx, ECEFy, ECEFz  float64 // precomputed ECEF (meters)
}

// NewObserver creates an Observer from geodetic coordinates.
// Latitude and longitude are in degrees, altitude in meters above the
// WGS-84 ellipsoid.
func NewObserver(latDeg, lonDeg, altM float64) Observer {
	lat := latDeg * math.Pi / 180.0
	lon := lonDeg * math.Pi / 180.0

	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)

	// Radius of curvature in the prime vertical.
	N := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	return Observer{
		LatRad: lat,
		LonRad: lon,
		AltM:   altM,
		ECEFx:  (N + altM) * cosLat * math.Cos(lon),
		ECEFy:  (N + altM) * cosLat * math.Sin(lon),
		ECEFz:  (N*(1-wgs84E2) + altM) * sinLat,
	}
}

// GeodeticPoint holds a geodetic position (degrees, meters).
type GeodeticPoint struct {
	LatDeg, LonDeg, AltM float64
}

// ECEFToGeodetic converts ECEF coordinates (meters) to geodetic coordinates
// using the iterative Bowring method. Converges in 2-3 iterations for
// Earth orbits.
func ECEFToGeodetic(x, y, z float64) GeodeticPoint {
	lon := math.Atan2(y, x)
	p := math.Sqrt(x*x + y*y)

	lat := math.Atan2(z, p*(1-wgs84E2))
	for i := 0; i < 5; i++ {
		sinLat := math.Sin(lat)
		N := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
		lat = math.Atan2(z+wgs84E2*N*sinLat, p)
	}

	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)
	N := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	var alt float64
	if math.Abs(cosLat) > 1e-10 {
		alt = p/cosLat - N
	} else {
		alt = math.Abs(z)/math.Abs(sinLat) - N*(1-wgs84E2)
	}

	return GeodeticPoint{
		LatDeg: lat * 180.0 / math.Pi,
		LonDeg: lon * 180.0 / math.Pi,
		AltM:   alt,
	}
}
