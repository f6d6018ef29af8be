// Package passes converts a time-stepped orbital-position feed into
// discrete pass records with quality aggregates.
package passes

import (
	"math"
	"time"
)

// keyTimeLayout pins pass identity to minute granularity: two records with
// the same satellite and start minute are the same real-world opportunity.
const keyTimeLayout = "2006-01-02 15:04"

// Pass is a contiguous interval during which a satellite is observable
// from the ground station, with quality aggregates. The durable unit of
// scheduling. Start/end are buffer-inclusive, UTC, minute resolution.
type Pass struct {
	Satellite       string    `json:"satellite"`
	Channel         string    `json:"channel"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationMinutes int       `json:"duration_minutes"`
	MaxElevation    float64   `json:"max_elevation"` // degrees, 2-decimal
	AvgElevation    float64   `json:"avg_elevation"` // degrees, 2-decimal
	MinRange        float64   `json:"min_range"`     // meters, 2-decimal
	AvgRange        float64   `json:"avg_range"`     // meters, 2-decimal
	Recorded        bool      `json:"recorded"`
}

// Key returns the identity key used for deduplication.
func (p Pass) Key() string {
	return p.Satellite + "|" + p.StartTime.UTC().Format(keyTimeLayout)
}

// SameDay reports whether the pass starts on the given UTC calendar day.
func (p Pass) SameDay(day time.Time) bool {
	y1, m1, d1 := p.StartTime.UTC().Date()
	y2, m2, d2 := day.UTC().Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// round2 rounds to 2-decimal precision, the stored resolution for
// elevation and range aggregates.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
