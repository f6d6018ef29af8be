package track

import (
	"math"
	"time"
)

// j2000 is the Julian Date of the J2000.0 epoch (January 1, 2000, 12:00:00 TT).
const j2000 = 2451545.0

// LookAngles holds azimuth, elevation, and slant range from observer to satellite.
type LookAngles struct {
	AzimuthDeg   float64 // 0 = North, clockwise
	ElevationDeg float64 // 0 = horizon, 90 = zenith
	RangeMeters  float64
}

// JulianDate converts a time.Time (UTC) to Julian Date.
// Uses the standard astronomical algorithm valid for dates after March 1, 4801 BC.
func JulianDate(t time.Time) float64 {
	y := float64(t.Year())
	m := float64(t.Month())
	d := float64(t.Day())
	h := float64(t.Hour())
	min := float64(t.Minute())
	s := float64(t.Second()) + float64(t.Nanosecond())/1e9

	// Jan/Feb count as months 13/14 of the previous year.
	if m <= 2 {
		y -= 1
		m += 12
	}

	A := math.Floor(y / 100)
	B := 2 - A + math.Floor(A/4)

	jd := math.Floor(365.25*(y+4716)) + math.Floor(30.6001*(m+1)) + d + B - 1524.5
	jd += (h + min/60.0 + s/3600.0) / 24.0

	return jd
}

// GMST calculates Greenwich Mean Sidereal Time in radians for a given UTC time.
// IAU-82 model, Vallado Eq 3-47.
func GMST(t time.Time) float64 {
	t = t.UTC()
	jd := JulianDate(t)
	tUT1 := (jd - j2000) / 36525.0

	// GMST in seconds of time. 876600h = 3155760000 seconds.
	gmstSec := 67310.54841 +
		(3155760000.0+8640184.812866)*tUT1 +
		0.093104*tUT1*tUT1 -
		6.2e-6*tUT1*tUT1*tUT1

	gmstSec = math.Mod(gmstSec, 86400.0)
	if gmstSec < 0 {
		gmstSec += 86400.0
	}
	return gmstSec / 86400.0 * 2.0 * math.Pi
}

// temeToECEF rotates a TEME position (km) about the Z-axis by GMST and
// returns ECEF coordinates in meters. Velocity is not carried; pass
// scheduling only needs positions.
func temeToECEF(xKm, yKm, zKm float64, t time.Time) (x, y, z float64) {
	gmst := GMST(t)
	cosG := math.Cos(gmst)
	sinG := math.Sin(gmst)

	x = (xKm*cosG + yKm*sinG) * 1000.0
	y = (-xKm*sinG + yKm*cosG) * 1000.0
	z = zKm * 1000.0
	return x, y, z
}

// ECEFToLookAngles computes azimuth, elevation, and slant range from an
// observer to a satellite given in ECEF meters.
//
// Uses the SEZ (South-East-Zenith) topocentric rotation per Vallado
// Section 4.4. Azimuth: 0 = North, measured clockwise.
func ECEFToLookAngles(obs Observer, satX, satY, satZ float64) LookAngles {
	rx := satX - obs.ECEFx
	ry := satY - obs.ECEFy
	rz := satZ - obs.ECEFz

	sinLat := math.Sin(obs.LatRad)
	cosLat := math.Cos(obs.LatRad)
	sinLon := math.Sin(obs.LonRad)
	cosLon := math.Cos(obs.LonRad)

	// Rotate ECEF range vector to SEZ (South, East, Zenith).
	south := sinLat*cosLon*rx + sinLat*sinLon*ry - cosLat*rz
	east := -sinLon*rx + cosLon*ry
	zenith := cosLat*cosLon*rx + cosLat*sinLon*ry + sinLat*rz

	rangeMag := math.Sqrt(south*south + east*east + zenith*zenith)

	el := math.Asin(zenith / rangeMag)

	// In SEZ, North = -South direction, so az = atan2(east, -south).
	az := math.Atan2(east, -south)
	if az < 0 {
		az += 2 * math.Pi
	}

	return LookAngles{
		AzimuthDeg:   az * 180.0 / math.Pi,
		ElevationDeg: el * 180.0 / math.Pi,
		RangeMeters:  rangeMag,
	}
}
