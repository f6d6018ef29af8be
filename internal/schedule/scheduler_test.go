package schedule

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prismspecs/open-weather-ags/internal/capture"
	"github.com/prismspecs/open-weather-ags/internal/passes"
)

// noopRecorder completes immediately.
var noopRecorder = capture.RecorderFunc(func(ctx context.Context, req capture.Request) error {
	return nil
})

func newTestScheduler(t *testing.T, rec capture.Recorder, now time.Time) (*Scheduler, *Store) {
	t.Helper()
	store := NewStore(filepath.Join(t.TempDir(), "schedule.json"), testLogger)
	s := NewScheduler(store, rec, Config{PassesPerDay: 2, TickInterval: time.Minute}, testLogger)
	s.now = func() time.Time { return now }
	return s, store
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSelectTop(t *testing.T) {
	now := day.Add(8 * time.Hour)

	recorded := testPass("NOAA 19", day.Add(9*time.Hour), 80)
	recorded.Recorded = true
	past := testPass("NOAA 15", day.Add(7*time.Hour), 70)
	otherDay := testPass("NOAA 18", day.Add(30*time.Hour), 90)
	low := testPass("NOAA 15", day.Add(12*time.Hour), 21)
	mid := testPass("METEOR-M 2", day.Add(14*time.Hour), 44.5)
	high := testPass("NOAA 19", day.Add(20*time.Hour), 63)

	all := []passes.Pass{recorded, past, otherDay, low, mid, high}

	got := SelectTop(all, day, 2, now)
	if len(got) != 2 {
		t.Fatalf("expected 2 passes, got %d", len(got))
	}
	if got[0].Key() != high.Key() || got[1].Key() != mid.Key() {
		t.Errorf("wrong selection order: %q, %q", got[0].Key(), got[1].Key())
	}

	for _, p := range got {
		if p.Recorded {
			t.Error("selected a recorded pass")
		}
		if !p.StartTime.After(now) {
			t.Error("selected a past pass")
		}
		if !p.SameDay(day) {
			t.Error("selected a pass outside the day")
		}
	}

	// Fewer qualifying passes than n returns all of them.
	got = SelectTop(all, day, 10, now)
	if len(got) != 3 {
		t.Fatalf("expected all 3 eligible passes, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].MaxElevation > got[i-1].MaxElevation {
			t.Errorf("not sorted by max elevation descending: %.2f after %.2f", got[i].MaxElevation, got[i-1].MaxElevation)
		}
	}
}

func TestTickArmsAndDisarms(t *testing.T) {
	now := day.Add(8 * time.Hour)
	s, store := newTestScheduler(t, noopRecorder, now)

	a := testPass("NOAA 19", day.Add(10*time.Hour), 60)
	b := testPass("NOAA 15", day.Add(12*time.Hour), 40)
	if err := store.Save([]passes.Pass{a, b}); err != nil {
		t.Fatal(err)
	}

	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}

	snap := s.Snapshot()
	if len(snap.Armed) != 2 {
		t.Fatalf("expected 2 armed passes, got %v", snap.Armed)
	}
	if want := a.StartTime.UTC().Format(time.RFC3339); snap.NextStart != want {
		t.Errorf("next start = %q, want %q", snap.NextStart, want)
	}

	// A better pass merged in displaces the weakest: b drops out of top-2.
	c := testPass("METEOR-M 2", day.Add(16*time.Hour), 85)
	merged := Merge([]passes.Pass{a, b}, []passes.Pass{c})
	if err := store.Save(merged); err != nil {
		t.Fatal(err)
	}

	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}

	snap = s.Snapshot()
	if len(snap.Armed) != 2 {
		t.Fatalf("expected 2 armed passes after reselection, got %v", snap.Armed)
	}
	for _, key := range snap.Armed {
		if key == b.Key() {
			t.Error("displaced pass still armed")
		}
	}
}

func TestTickSkipsElapsedStart(t *testing.T) {
	now := day.Add(11 * time.Hour)
	s, store := newTestScheduler(t, noopRecorder, now)

	elapsed := testPass("NOAA 19", day.Add(10*time.Hour), 60)
	if err := store.Save([]passes.Pass{elapsed}); err != nil {
		t.Fatal(err)
	}

	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if snap := s.Snapshot(); len(snap.Armed) != 0 {
		t.Fatalf("elapsed pass must not be armed, got %v", snap.Armed)
	}
}

// TestFireMarksRecordedBeforePassActivation verifies the store already
// reflects recorded=true by the time the activation runs, so a crash
// mid-capture can never cause a re-record.
func TestFireMarksRecordedBeforeActivation(t *testing.T) {
	now := day.Add(8 * time.Hour)

	observed := make(chan bool, 1)
	var store *Store
	rec := capture.RecorderFunc(func(ctx context.Context, req capture.Request) error {
		ps, err := store.Load()
		if err != nil {
			t.Errorf("load inside activation: %v", err)
		}
		for _, p := range ps {
			if p.Satellite == req.Satellite {
				observed <- p.Recorded
				return nil
			}
		}
		observed <- false
		return nil
	})

	s, st := newTestScheduler(t, rec, now)
	store = st

	p := testPass("NOAA 19", day.Add(10*time.Hour), 60)
	if err := st.Save([]passes.Pass{p}); err != nil {
		t.Fatal(err)
	}

	s.fire(context.Background(), p)

	select {
	case recorded := <-observed:
		if !recorded {
			t.Error("pass not marked recorded before activation ran")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("activation never ran")
	}

	waitFor(t, "single-flight flag clear", func() bool {
		return !s.Snapshot().Recording
	})
}

// TestSingleFlightConflict verifies that a second fire while an activation
// is in progress is skipped, leaves recorded=false on the skipped pass,
// and that the flag clears once the first activation completes.
func TestSingleFlightConflict(t *testing.T) {
	now := day.Add(8 * time.Hour)

	release := make(chan struct{})
	started := make(chan struct{})
	rec := capture.RecorderFunc(func(ctx context.Context, req capture.Request) error {
		close(started)
		<-release
		return nil
	})

	s, store := newTestScheduler(t, rec, now)

	first := testPass("NOAA 19", day.Add(10*time.Hour), 60)
	second := testPass("NOAA 15", day.Add(10*time.Hour).Add(5*time.Minute), 40)
	if err := store.Save([]passes.Pass{first, second}); err != nil {
		t.Fatal(err)
	}

	s.fire(context.Background(), first)
	<-started
	if !s.Snapshot().Recording {
		t.Fatal("expected recording in progress")
	}

	// Overlapping fire: must be skipped, not queued.
	s.fire(context.Background(), second)

	ps, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range ps {
		switch p.Key() {
		case first.Key():
			if !p.Recorded {
				t.Error("fired pass should be recorded")
			}
		case second.Key():
			if p.Recorded {
				t.Error("conflict-skipped pass must not be recorded")
			}
		}
	}

	close(release)
	waitFor(t, "single-flight flag clear", func() bool {
		return !s.Snapshot().Recording
	})

	// With the flag clear, the skipped pass can fire on a later cycle.
	if s.Snapshot().Recording {
		t.Error("flag left set after completion")
	}
}

func TestRunStopsTimersOnCancel(t *testing.T) {
	now := time.Now().UTC()
	s, store := newTestScheduler(t, noopRecorder, now)

	p := testPass("NOAA 19", now.Add(2*time.Hour), 60)
	if err := store.Save([]passes.Pass{p}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	waitFor(t, "pass armed", func() bool {
		return len(s.Snapshot().Armed) == 1
	})

	cancel()
	<-done

	if snap := s.Snapshot(); len(snap.Armed) != 0 {
		t.Fatalf("timers not stopped on shutdown: %v", snap.Armed)
	}
}
