package tle

import (
	"strings"
	"time"
)

// Elements is a single satellite's two-line element set.
type Elements struct {
	NORADID int
	Name    string
	Epoch   time.Time
	Line1   string
	Line2   string
}

// Dataset is a complete set of element sets from one refresh.
type Dataset struct {
	Source    string
	FetchedAt time.Time
	Entries   []Elements

	byName map[string]Elements
}

// NewDataset builds a Dataset with a name index for per-satellite lookups.
// Names are matched case-insensitively on the trimmed TLE title line.
func NewDataset(source string, fetchedAt time.Time, entries []Elements) *Dataset {
	byName := make(map[string]Elements, len(entries))
	for _, e := range entries {
		key := normalizeName(e.Name)
		if _, ok := byName[key]; !ok {
			byName[key] = e
		}
	}
	return &Dataset{
		Source:    source,
		FetchedAt: fetchedAt,
		Entries:   entries,
		byName:    byName,
	}
}

// ByName returns the element set for a satellite name, if present.
func (d *Dataset) ByName(name string) (Elements, bool) {
	e, ok := d.byName[normalizeName(name)]
	return e, ok
}

// EpochRange returns the oldest and newest element epochs in the dataset.
func (d *Dataset) EpochRange() (min, max time.Time) {
	for i, e := range d.Entries {
		if i == 0 {
			min, max = e.Epoch, e.Epoch
			continue
		}
		if e.Epoch.Before(min) {
			min = e.Epoch
		}
		if e.Epoch.After(max) {
			max = e.Epoch
		}
	}
	return min, max
}

func normalizeName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
