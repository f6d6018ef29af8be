// Package schedule owns the durable pass schedule: the deduplicated
// store backing it and the timer-driven recording scheduler reading it.
package schedule

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/prismspecs/open-weather-ags/internal/metrics"
	"github.com/prismspecs/open-weather-ags/internal/passes"
)

// Store persists the pass schedule as an ordered JSON array on disk.
// All writes go through a temp file and an atomic rename, so a reader of
// the canonical path sees fully-old or fully-new content, never a
// partial write. Safe for concurrent use.
type Store struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewStore creates a Store backed by the file at path.
func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{path: path, logger: logger}
}

// Path returns the canonical schedule file path.
func (s *Store) Path() string {
	return s.path
}

// Load returns the decoded persisted schedule. A missing or empty file
// yields an empty schedule. A corrupt file is recoverable: Load warns and
// returns an empty schedule so a fresh save re-establishes a valid file.
// Only I/O failures other than not-exist propagate.
func (s *Store) Load() ([]passes.Pass, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() ([]passes.Pass, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading schedule file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var ps []passes.Pass
	if err := json.Unmarshal(data, &ps); err != nil {
		s.logger.Warn("schedule file corrupt, treating as empty",
			"path", s.path,
			"error", err,
		)
		return nil, nil
	}
	return ps, nil
}

// Merge appends each incoming pass only if no existing pass shares its
// identity key. Order-preserving; existing entries are never mutated.
// Idempotent: merging the same batch twice adds nothing the second time.
func Merge(existing, incoming []passes.Pass) []passes.Pass {
	seen := make(map[string]bool, len(existing))
	for _, p := range existing {
		seen[p.Key()] = true
	}

	merged := existing
	for _, p := range incoming {
		key := p.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, p)
	}
	return merged
}

// Save sorts the schedule ascending by start time (stable, so equal start
// times keep their input order) and writes it crash-safely: temp file in
// the same directory, fsync, atomic rename. The previous version is
// retained as a .bak sibling.
func (s *Store) Save(ps []passes.Pass) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ps)
}

func (s *Store) save(ps []passes.Pass) error {
	sorted := make([]passes.Pass, len(ps))
	copy(sorted, ps)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartTime.Before(sorted[j].StartTime)
	})

	data, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		metrics.IncScheduleSaveFailures()
		return fmt.Errorf("encoding schedule: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		metrics.IncScheduleSaveFailures()
		return fmt.Errorf("creating schedule dir: %w", err)
	}

	// Retain the previous version before replacing it.
	if old, err := os.ReadFile(s.path); err == nil {
		if err := os.WriteFile(s.path+".bak", old, 0644); err != nil {
			s.logger.Warn("schedule backup write failed", "error", err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".schedule-*.tmp")
	if err != nil {
		metrics.IncScheduleSaveFailures()
		return fmt.Errorf("creating temp schedule file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		metrics.IncScheduleSaveFailures()
		return fmt.Errorf("writing temp schedule file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		metrics.IncScheduleSaveFailures()
		return fmt.Errorf("syncing temp schedule file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		metrics.IncScheduleSaveFailures()
		return fmt.Errorf("closing temp schedule file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		metrics.IncScheduleSaveFailures()
		return fmt.Errorf("replacing schedule file: %w", err)
	}

	metrics.SetSchedulePasses(len(sorted))
	return nil
}

// MarkRecorded flips the recorded flag for the pass with the given
// identity key and saves immediately. Read-modify-write under the store
// mutex; the scheduler is the only caller. The flag is monotonic: a pass
// already marked is left untouched.
func (s *Store) MarkRecorded(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps, err := s.load()
	if err != nil {
		return err
	}

	for i := range ps {
		if ps[i].Key() != key {
			continue
		}
		if ps[i].Recorded {
			return nil
		}
		ps[i].Recorded = true
		return s.save(ps)
	}

	return fmt.Errorf("pass %q not found in schedule", key)
}
