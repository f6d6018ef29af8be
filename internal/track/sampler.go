package track

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/prismspecs/open-weather-ags/internal/tle"
)

// SGP4 library choice: github.com/joshuaferrara/go-satellite.
// Pure Go (no CGO), explicit TEME output, battle-tested since 2016.
//
// Note: Propagate() takes Satellite by value so SGP4 error codes are not
// visible to the caller. Propagation failures are detected by checking the
// output for NaN/Inf and unreasonable position magnitudes.

// ErrElementsInvalid reports that a satellite's orbital elements cannot be
// used by the propagator. Callers skip the satellite for the cycle.
var ErrElementsInvalid = errors.New("orbital elements invalid")

// Sample is an observer-relative satellite position at a single instant.
// Ephemeral: produced per grid step, consumed immediately, never persisted.
type Sample struct {
	Time         time.Time
	Visible      bool // above the observer's horizon
	ElevationDeg float64
	AzimuthDeg   float64
	RangeMeters  float64
	SubPoint     GeodeticPoint // geodetic sub-satellite point
}

// Sampler propagates one satellite's elements and reports observer-relative
// geometry. Bound to a single element set and observer; safe for
// sequential reuse across a time grid.
type Sampler struct {
	sat      satellite.Satellite
	observer Observer
	noradID  int
}

// NewSampler creates a Sampler from TLE lines and an observer.
// Returns ErrElementsInvalid (wrapped) if the elements cannot be parsed or
// the SGP4 model fails to initialize.
//
// Pre-validates TLE format before passing to the library, because
// go-satellite calls log.Fatal on malformed input.
func NewSampler(el tle.Elements, obs Observer) (*Sampler, error) {
	if err := validateLines(el.Line1, el.Line2); err != nil {
		return nil, fmt.Errorf("%w: NORAD %d: %v", ErrElementsInvalid, el.NORADID, err)
	}

	sat := satellite.TLEToSat(el.Line1, el.Line2, satellite.GravityWGS84)
	if sat.Error != 0 {
		return nil, fmt.Errorf("%w: NORAD %d: sgp4 init code=%d %s", ErrElementsInvalid, el.NORADID, sat.Error, sat.ErrorStr)
	}

	return &Sampler{sat: sat, observer: obs, noradID: el.NORADID}, nil
}

// validateLines performs basic format validation on TLE lines.
func validateLines(line1, line2 string) error {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)

	if len(line1) != 69 {
		return fmt.Errorf("line1 length %d, expected 69", len(line1))
	}
	if len(line2) != 69 {
		return fmt.Errorf("line2 length %d, expected 69", len(line2))
	}
	if line1[0] != '1' {
		return fmt.Errorf("line1 must start with '1', got '%c'", line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("line2 must start with '2', got '%c'", line2[0])
	}
	return nil
}

// Sample computes the satellite's observer-relative geometry at t.
// A per-instant propagation failure is recoverable: callers skip the
// grid step and continue.
func (s *Sampler) Sample(t time.Time) (Sample, error) {
	t = t.UTC()
	pos, _ := satellite.Propagate(s.sat, t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())

	if math.IsNaN(pos.X) || math.IsNaN(pos.Y) || math.IsNaN(pos.Z) ||
		math.IsInf(pos.X, 0) || math.IsInf(pos.Y, 0) || math.IsInf(pos.Z, 0) {
		return Sample{}, fmt.Errorf("sgp4 propagation failed for NORAD %d: output is NaN/Inf", s.noradID)
	}

	// Sanity check: position magnitude should be between ~6200km and ~50000km.
	mag := math.Sqrt(pos.X*pos.X + pos.Y*pos.Y + pos.Z*pos.Z)
	if mag < 6200.0 || mag > 50000.0 {
		return Sample{}, fmt.Errorf("sgp4 propagation failed for NORAD %d: unreasonable position magnitude %.1f km", s.noradID, mag)
	}

	x, y, z := temeToECEF(pos.X, pos.Y, pos.Z, t)
	la := ECEFToLookAngles(s.observer, x, y, z)

	return Sample{
		Time:         t,
		Visible:      la.ElevationDeg > 0,
		ElevationDeg: la.ElevationDeg,
		AzimuthDeg:   la.AzimuthDeg,
		RangeMeters:  la.RangeMeters,
		SubPoint:     ECEFToGeodetic(x, y, z),
	}, nil
}
