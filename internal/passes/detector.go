package passes

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prismspecs/open-weather-ags/internal/metrics"
	"github.com/prismspecs/open-weather-ags/internal/tle"
	"github.com/prismspecs/open-weather-ags/internal/track"
)

// Sampler yields observer-relative geometry for one satellite at an instant.
// *track.Sampler satisfies this; tests substitute synthetic feeds.
type Sampler interface {
	Sample(t time.Time) (track.Sample, error)
}

// Window is a half-open prediction interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Target names a satellite to predict and the channel tag recorded with
// its passes (e.g. a frequency label; opaque to the detector).
type Target struct {
	Name    string
	Channel string
}

// Result holds the detection outcome for one target. Err is per-target:
// it never aborts detection for other targets in the same run.
type Result struct {
	Target Target
	Passes []Pass
	Err    error
}

// Config holds the detection grid parameters.
type Config struct {
	Step           time.Duration // grid step (default: 1 minute)
	MaxRangeMeters float64       // in-view requires range <= this
	Buffer         time.Duration // symmetric expansion applied to each raw interval
}

// Detector walks a time grid and segments contiguous in-view samples into
// buffered Pass records.
type Detector struct {
	observer track.Observer
	config   Config
	logger   *slog.Logger
}

// NewDetector creates a Detector for a fixed ground station.
func NewDetector(observer track.Observer, config Config, logger *slog.Logger) *Detector {
	if config.Step <= 0 {
		config.Step = time.Minute
	}
	return &Detector{
		observer: observer,
		config:   config,
		logger:   logger,
	}
}

// DetectAll predicts passes for every target over the window. Each target
// runs in its own goroutine, bounded by a semaphore. A target whose
// elements are missing or invalid gets a per-target error in its Result.
func (d *Detector) DetectAll(ctx context.Context, ds *tle.Dataset, targets []Target, window Window) []Result {
	results := make([]Result, len(targets))
	sem := make(chan struct{}, runtime.NumCPU())
	var wg sync.WaitGroup

	for i, target := range targets {
		wg.Add(1)
		go func(idx int, tg Target) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = Result{Target: tg, Err: ctx.Err()}
				return
			}

			el, ok := ds.ByName(tg.Name)
			if !ok {
				metrics.IncDetectionError("elements_missing")
				results[idx] = Result{Target: tg, Err: fmt.Errorf("no elements for %q in dataset from %s", tg.Name, ds.Source)}
				return
			}

			found, err := d.Detect(ctx, tg, el, window)
			results[idx] = Result{Target: tg, Passes: found, Err: err}
		}(i, target)
	}

	wg.Wait()
	return results
}

// Detect segments the window into passes for a single satellite.
// A window with zero in-view samples yields zero passes and no error.
func (d *Detector) Detect(ctx context.Context, target Target, el tle.Elements, window Window) ([]Pass, error) {
	sampler, err := track.NewSampler(el, d.observer)
	if err != nil {
		metrics.IncDetectionError("elements_invalid")
		return nil, err
	}
	return d.detectWith(ctx, target, sampler, window)
}

// detectWith runs the grid walk against any Sampler.
//
// Accumulator state machine per grid step:
//   - not-in-view → in-view: open an interval, reset aggregates
//   - in-view: append elevation and range
//   - in-view → not-in-view: close the interval at t and emit
//   - still in view at window end: close at window.End (no pass is
//     silently dropped at the boundary)
func (d *Detector) detectWith(ctx context.Context, target Target, sampler Sampler, window Window) ([]Pass, error) {
	var (
		found      []Pass
		inView     bool
		openStart  time.Time
		elevations []float64
		ranges     []float64
		sampleErrs int
	)

	emit := func(end time.Time) {
		found = append(found, d.buildPass(target, openStart, end, elevations, ranges))
		inView = false
	}

	for t := window.Start; t.Before(window.End); t = t.Add(d.config.Step) {
		if err := ctx.Err(); err != nil {
			return found, err
		}

		s, err := sampler.Sample(t)
		if err != nil {
			// Per-instant propagation failure: skip the grid step,
			// keep the open interval.
			sampleErrs++
			continue
		}

		nowInView := s.Visible && s.RangeMeters <= d.config.MaxRangeMeters

		switch {
		case nowInView && !inView:
			inView = true
			openStart = t
			elevations = elevations[:0]
			ranges = ranges[:0]
			elevations = append(elevations, s.ElevationDeg)
			ranges = append(ranges, s.RangeMeters)
		case nowInView && inView:
			elevations = append(elevations, s.ElevationDeg)
			ranges = append(ranges, s.RangeMeters)
		case !nowInView && inView:
			emit(t)
		}
	}

	if inView {
		emit(window.End)
	}

	if sampleErrs > 0 {
		d.logger.Warn("grid steps skipped on propagation failure",
			"satellite", target.Name,
			"skipped", sampleErrs,
		)
	}

	metrics.AddPassesDetected(len(found))
	return found, nil
}

// buildPass closes a raw interval [start, end), computes aggregates, and
// applies the symmetric buffer. Downstream capture hardware needs settle
// margin before the satellite crosses the visibility threshold and after.
func (d *Detector) buildPass(target Target, start, end time.Time, elevations, ranges []float64) Pass {
	maxEl, avgEl := maxAndMean(elevations)
	minRg, avgRg := minAndMean(ranges)

	bufStart := start.Add(-d.config.Buffer).UTC().Truncate(time.Minute)
	bufEnd := end.Add(d.config.Buffer).UTC().Truncate(time.Minute)

	return Pass{
		Satellite:       target.Name,
		Channel:         target.Channel,
		StartTime:       bufStart,
		EndTime:         bufEnd,
		DurationMinutes: int(bufEnd.Sub(bufStart) / time.Minute),
		MaxElevation:    round2(maxEl),
		AvgElevation:    round2(avgEl),
		MinRange:        round2(minRg),
		AvgRange:        round2(avgRg),
		Recorded:        false,
	}
}

func maxAndMean(vals []float64) (max, mean float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	max = vals[0]
	var sum float64
	for _, v := range vals {
		if v > max {
			max = v
		}
		sum += v
	}
	return max, sum / float64(len(vals))
}

func minAndMean(vals []float64) (min, mean float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	min = vals[0]
	var sum float64
	for _, v := range vals {
		if v < min {
			min = v
		}
		sum += v
	}
	return min, sum / float64(len(vals))
}
