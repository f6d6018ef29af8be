package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prismspecs/open-weather-ags/internal/capture"
	"github.com/prismspecs/open-weather-ags/internal/metrics"
	"github.com/prismspecs/open-weather-ags/internal/passes"
)

// Config holds scheduler settings.
type Config struct {
	PassesPerDay int           // top-N selection per UTC day (default: 2)
	TickInterval time.Duration // re-selection interval (default: 30s)
}

// Scheduler selects the day's best passes and drives one bounded recording
// activation per selected pass. It is the single owner of the
// activation-in-progress flag and of recorded-flag writes to the store.
type Scheduler struct {
	store    *Store
	recorder capture.Recorder
	config   Config
	logger   *slog.Logger

	mu        sync.Mutex
	recording bool
	timers    map[string]armedTimer

	now func() time.Time // test clock
}

// armedTimer pairs the one-shot timer with the pass start it fires for.
type armedTimer struct {
	timer *time.Timer
	start time.Time
}

// NewScheduler creates a Scheduler.
func NewScheduler(store *Store, recorder capture.Recorder, config Config, logger *slog.Logger) *Scheduler {
	if config.PassesPerDay <= 0 {
		config.PassesPerDay = 2
	}
	if config.TickInterval <= 0 {
		config.TickInterval = 30 * time.Second
	}
	return &Scheduler{
		store:    store,
		recorder: recorder,
		config:   config,
		logger:   logger,
		timers:   make(map[string]armedTimer),
		now:      time.Now,
	}
}

// SelectTop filters to passes starting within the given UTC day that are
// not yet recorded and still in the future, sorts by max elevation
// descending (stable), and returns at most n.
func SelectTop(ps []passes.Pass, day time.Time, n int, now time.Time) []passes.Pass {
	var eligible []passes.Pass
	for _, p := range ps {
		if p.Recorded || !p.SameDay(day) || !p.StartTime.After(now) {
			continue
		}
		eligible = append(eligible, p)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].MaxElevation > eligible[j].MaxElevation
	})

	if len(eligible) > n {
		eligible = eligible[:n]
	}
	return eligible
}

// Tick re-derives today's top passes from a fresh store read and
// reconciles the armed timers: stale timers are cancelled before new
// passes are armed, so a selection change between ticks cannot leave a
// stray fire behind.
func (s *Scheduler) Tick(ctx context.Context) error {
	ps, err := s.store.Load()
	if err != nil {
		return fmt.Errorf("loading schedule: %w", err)
	}

	now := s.now().UTC()
	selected := SelectTop(ps, now, s.config.PassesPerDay, now)

	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]bool, len(selected))
	for _, p := range selected {
		want[p.Key()] = true
	}

	for key, armed := range s.timers {
		if want[key] {
			continue
		}
		armed.timer.Stop()
		delete(s.timers, key)
		s.logger.Info("pass disarmed, no longer selected", "pass", key)
	}

	for _, p := range selected {
		key := p.Key()
		if _, armed := s.timers[key]; armed {
			continue
		}

		delay := p.StartTime.Sub(now)
		if delay <= 0 {
			// Already elapsed: missed, not an error.
			s.logger.Info("pass start already elapsed, skipping",
				"pass", key,
				"start", p.StartTime.Format(time.RFC3339),
			)
			metrics.IncRecordingSkipped("past")
			continue
		}

		pass := p
		s.timers[key] = armedTimer{
			timer: time.AfterFunc(delay, func() {
				s.fire(ctx, pass)
			}),
			start: p.StartTime,
		}
		s.logger.Info("pass armed",
			"pass", key,
			"channel", p.Channel,
			"max_elevation", p.MaxElevation,
			"fires_in_s", int(delay.Seconds()),
		)
	}

	return nil
}

// fire is the one-shot timer callback for an armed pass. At most one
// activation may be in progress at any instant; a fire arriving while
// another recording runs is a scheduling conflict, skipped and counted,
// and the pass stays unrecorded.
func (s *Scheduler) fire(ctx context.Context, p passes.Pass) {
	key := p.Key()

	s.mu.Lock()
	delete(s.timers, key)
	if s.recording {
		s.mu.Unlock()
		s.logger.Warn("recording already in progress, fire skipped",
			"pass", key,
			"channel", p.Channel,
		)
		metrics.IncRecordingSkipped("conflict")
		return
	}
	s.recording = true
	s.mu.Unlock()

	// Persist the recorded flag before the activation runs so a crash
	// mid-capture leaves the store reflecting "already attempted" and the
	// pass is never re-armed by a later merge.
	if err := s.store.MarkRecorded(key); err != nil {
		s.logger.Error("failed to mark pass recorded", "pass", key, "error", err)
	}

	duration := time.Duration(p.DurationMinutes) * time.Minute
	s.logger.Info("recording activation starting",
		"pass", key,
		"channel", p.Channel,
		"duration_min", p.DurationMinutes,
	)
	metrics.IncRecordingsStarted()

	go func() {
		rctx, cancel := context.WithTimeout(ctx, duration)
		defer cancel()

		err := s.recorder.Record(rctx, capture.Request{
			Satellite: p.Satellite,
			Channel:   p.Channel,
			StartTime: p.StartTime,
			Duration:  duration,
		})
		if err != nil {
			s.logger.Warn("recording activation finished with error", "pass", key, "error", err)
		} else {
			s.logger.Info("recording activation finished", "pass", key)
		}

		// Completion (success or failure) always clears the
		// single-flight flag.
		s.mu.Lock()
		s.recording = false
		s.mu.Unlock()
	}()
}

// Run ticks the scheduler until the context is cancelled, then stops all
// armed timers.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	if err := s.Tick(ctx); err != nil {
		s.logger.Error("scheduler tick failed", "error", err)
	}

	for {
		select {
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Error("scheduler tick failed", "error", err)
			}
		case <-ctx.Done():
			s.mu.Lock()
			for key, armed := range s.timers {
				armed.timer.Stop()
				delete(s.timers, key)
			}
			s.mu.Unlock()
			return
		}
	}
}

// Status is a point-in-time scheduler snapshot for the status API.
type Status struct {
	Recording bool     `json:"recording"`
	Armed     []string `json:"armed"`
	NextStart string   `json:"next_start,omitempty"` // RFC3339, earliest armed pass
}

// Snapshot returns the current scheduler state.
func (s *Scheduler) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	armed := make([]string, 0, len(s.timers))
	var next time.Time
	for key, a := range s.timers {
		armed = append(armed, key)
		if next.IsZero() || a.start.Before(next) {
			next = a.start
		}
	}
	sort.Strings(armed)

	status := Status{
		Recording: s.recording,
		Armed:     armed,
	}
	if !next.IsZero() {
		status.NextStart = next.UTC().Format(time.RFC3339)
	}
	return status
}
