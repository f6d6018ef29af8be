// Package cycle runs the periodic prediction cycle: refresh orbital
// elements, detect passes for every configured satellite, and merge the
// results into the durable schedule.
package cycle

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/prismspecs/open-weather-ags/internal/metrics"
	"github.com/prismspecs/open-weather-ags/internal/passes"
	"github.com/prismspecs/open-weather-ags/internal/schedule"
	"github.com/prismspecs/open-weather-ags/internal/tle"
)

// cronParser accepts standard 5-field cron expressions.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Config holds prediction cycle settings.
type Config struct {
	WindowDays  int           // prediction horizon (default: 1)
	CronSpec    string        // cycle schedule, 5-field cron (default: hourly)
	MaxAge      time.Duration // element staleness threshold before refetch
	EnableFetch bool          // allow network fetches (off = cache only)
}

// Runner executes prediction cycles.
type Runner struct {
	fetcher  *tle.Fetcher
	cache    *tle.Cache
	elements *tle.Store
	detector *passes.Detector
	store    *schedule.Store
	targets  []passes.Target
	config   Config
	logger   *slog.Logger

	now func() time.Time // test clock
}

// NewRunner creates a Runner.
func NewRunner(fetcher *tle.Fetcher, cache *tle.Cache, elements *tle.Store, detector *passes.Detector, store *schedule.Store, targets []passes.Target, config Config, logger *slog.Logger) *Runner {
	if config.WindowDays <= 0 {
		config.WindowDays = 1
	}
	if config.MaxAge <= 0 {
		config.MaxAge = 12 * time.Hour
	}
	return &Runner{
		fetcher:  fetcher,
		cache:    cache,
		elements: elements,
		detector: detector,
		store:    store,
		targets:  targets,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// ValidateCronSpec checks a cycle schedule expression.
func ValidateCronSpec(spec string) error {
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return nil
}

// RunOnce executes a single prediction cycle. Per-satellite problems are
// logged and skipped; only element exhaustion and store-level I/O
// failures abort the cycle.
func (r *Runner) RunOnce(ctx context.Context) error {
	start := time.Now()

	ds, err := r.refreshElements(ctx)
	if err != nil {
		return fmt.Errorf("refreshing elements: %w", err)
	}

	now := r.now().UTC().Truncate(time.Minute)
	window := passes.Window{
		Start: now,
		End:   now.AddDate(0, 0, r.config.WindowDays),
	}

	results := r.detector.DetectAll(ctx, ds, r.targets, window)

	var incoming []passes.Pass
	var failed int
	for _, res := range results {
		if res.Err != nil {
			failed++
			r.logger.Warn("pass detection failed for satellite",
				"satellite", res.Target.Name,
				"error", res.Err,
			)
			continue
		}
		incoming = append(incoming, res.Passes...)
	}

	existing, err := r.store.Load()
	if err != nil {
		return fmt.Errorf("loading schedule: %w", err)
	}

	merged := schedule.Merge(existing, incoming)
	if err := r.store.Save(merged); err != nil {
		return fmt.Errorf("saving schedule: %w", err)
	}

	duration := time.Since(start)
	metrics.ObserveCycleDuration(duration)
	r.logger.Info("prediction cycle complete",
		"satellites", len(r.targets),
		"satellites_failed", failed,
		"passes_detected", len(incoming),
		"passes_new", len(merged)-len(existing),
		"schedule_size", len(merged),
		"duration_ms", duration.Milliseconds(),
	)

	return nil
}

// refreshElements returns a usable element dataset: the current one if
// fresh enough, otherwise a new fetch, otherwise whatever the disk cache
// holds. The fetch mutex serializes refreshes.
func (r *Runner) refreshElements(ctx context.Context) (*tle.Dataset, error) {
	r.elements.Lock()
	defer r.elements.Unlock()

	if ds := r.elements.Get(); ds != nil && time.Since(ds.FetchedAt) < r.config.MaxAge {
		return ds, nil
	}

	if r.config.EnableFetch {
		if ds, err := r.fetchFresh(ctx); err != nil {
			r.logger.Warn("element fetch failed, falling back", "error", err)
		} else {
			return ds, nil
		}
	}

	// Stale beats nothing.
	if ds := r.elements.Get(); ds != nil {
		return ds, nil
	}

	data, ts, err := r.cache.LoadLatest()
	if err != nil {
		return nil, fmt.Errorf("no elements available: %w", err)
	}
	entries, err := tle.Parse(bytes.NewReader(data), r.logger)
	if err != nil {
		return nil, fmt.Errorf("parsing cached elements: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("cached element file from %s contained no usable entries", ts.Format(time.RFC3339))
	}

	ds := tle.NewDataset("cache", ts, entries)
	r.elements.Set(ds)
	metrics.SetElementsDatasetCount(len(entries))
	r.logger.Info("loaded elements from cache", "count", len(entries), "cached_at", ts.Format(time.RFC3339))
	return ds, nil
}

func (r *Runner) fetchFresh(ctx context.Context) (*tle.Dataset, error) {
	data, err := r.fetcher.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	entries, err := tle.Parse(bytes.NewReader(data), r.logger)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("fetched element data contained no usable entries")
	}

	fetchedAt := time.Now().UTC()
	if err := r.cache.Write(data, fetchedAt); err != nil {
		r.logger.Warn("failed to cache fetched elements", "error", err)
	}

	ds := tle.NewDataset("remote", fetchedAt, entries)
	r.elements.Set(ds)
	metrics.SetElementsDatasetCount(len(entries))
	r.logger.Info("fetched fresh elements", "count", len(entries))
	return ds, nil
}

// Start runs an immediate cycle, then follows the configured cron
// schedule until the context is cancelled.
func (r *Runner) Start(ctx context.Context) error {
	sched, err := cronParser.Parse(r.config.CronSpec)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", r.config.CronSpec, err)
	}

	if err := r.RunOnce(ctx); err != nil {
		r.logger.Error("prediction cycle failed", "error", err)
	}

	for {
		next := sched.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-timer.C:
			if err := r.RunOnce(ctx); err != nil {
				r.logger.Error("prediction cycle failed", "error", err)
			}
		case <-ctx.Done():
			timer.Stop()
			return nil
		}
	}
}
