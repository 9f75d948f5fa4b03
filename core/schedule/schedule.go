// Package schedule decides when a periodic report run is due and persists the
// last-run timestamp between process restarts.
package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// biweeklyMinGap is the shortest gap that still counts as "every other week".
// 13 days instead of 14 absorbs clock drift and runs that fire a little early.
const biweeklyMinGap = 13 * 24 * time.Hour

// Spec describes the recurring slot: a weekday plus wall-clock time, fired at
// most once per day, optionally gated to every other week.
type Spec struct {
	Weekday  time.Weekday
	Hour     int
	Minute   int
	Biweekly bool
}

// ParseWeekday accepts full English weekday names, case-insensitive.
func ParseWeekday(name string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), name) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", name)
}

// Due reports whether a run should fire at now given the last completed run.
// A zero lastRun means no run has ever happened.
func (s Spec) Due(now, lastRun time.Time) bool {
	if now.Weekday() != s.Weekday {
		return false
	}
	if now.Hour() != s.Hour || now.Minute() != s.Minute {
		return false
	}
	if !lastRun.IsZero() {
		// Never fire twice inside the same minute slot.
		if now.Sub(lastRun) < time.Minute {
			return false
		}
		if s.Biweekly && now.Sub(lastRun) < biweeklyMinGap {
			return false
		}
	}
	return true
}

// Next returns the first instant at or after now that matches the spec,
// ignoring the biweekly gate.
func (s Spec) Next(now time.Time) time.Time {
	candidate := time.Date(now.Year(), now.Month(), now.Day(), s.Hour, s.Minute, 0, 0, now.Location())
	for i := 0; i < 8; i++ {
		if candidate.Weekday() == s.Weekday && !candidate.Before(now) {
			return candidate
		}
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

// RunStore persists the last successful run time. Keeping it behind an
// interface lets the server share one store with the loop and keeps tests
// away from the filesystem.
type RunStore interface {
	LastRun() (time.Time, error)
	SetLastRun(t time.Time) error
}

// FileRunStore keeps the timestamp in a small JSON file.
type FileRunStore struct {
	Path string
}

type runState struct {
	LastRun time.Time `json:"last_run"`
}

func (f *FileRunStore) LastRun() (time.Time, error) {
	raw, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("reading run state: %w", err)
	}
	var state runState
	if err := json.Unmarshal(raw, &state); err != nil {
		return time.Time{}, fmt.Errorf("parsing run state %s: %w", f.Path, err)
	}
	return state.LastRun, nil
}

func (f *FileRunStore) SetLastRun(t time.Time) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return fmt.Errorf("creating run state directory: %w", err)
	}
	raw, err := json.Marshal(runState{LastRun: t})
	if err != nil {
		return err
	}
	if err := os.WriteFile(f.Path, raw, 0o644); err != nil {
		return fmt.Errorf("writing run state: %w", err)
	}
	return nil
}

// Loop ticks once a minute and invokes run when the spec is due. It records
// the run time only when run succeeds, so failed runs retry at the next slot.
type Loop struct {
	Spec  Spec
	Store RunStore
	Run   func(ctx context.Context) error

	// Now and Tick are overridable for tests.
	Now  func() time.Time
	Tick time.Duration
}

// Start blocks until ctx is cancelled.
func (l *Loop) Start(ctx context.Context) error {
	now := l.Now
	if now == nil {
		now = time.Now
	}
	tick := l.Tick
	if tick == 0 {
		tick = time.Minute
	}

	slog.Info("Scheduler started",
		"weekday", l.Spec.Weekday.String(),
		"time", fmt.Sprintf("%02d:%02d", l.Spec.Hour, l.Spec.Minute),
		"biweekly", l.Spec.Biweekly)

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.maybeRun(ctx, now())
		}
	}
}

func (l *Loop) maybeRun(ctx context.Context, now time.Time) {
	lastRun, err := l.Store.LastRun()
	if err != nil {
		slog.Error("Reading last run failed", "error", err)
		return
	}
	if !l.Spec.Due(now, lastRun) {
		return
	}

	slog.Info("Scheduled run starting", "last_run", lastRun)
	if err := l.Run(ctx); err != nil {
		slog.Error("Scheduled run failed", "error", err)
		return
	}
	if err := l.Store.SetLastRun(now); err != nil {
		slog.Error("Recording run time failed", "error", err)
	}
}
