// Package presence debounces per-category detector hits into a stable "currently present" signal.
package presence

import (
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/timeutil"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/pkg/types"
)

// CategoryConfig configures one tracked category.
type CategoryConfig struct {
	Threshold float64       // minimum confidence for a raw hit
	Window    time.Duration // interpolation window after the last raw hit
}

type signal struct {
	cfg     CategoryConfig
	lastHit timeutil.Mark
}

// Tracker keeps the last raw hit per category. It is not safe for concurrent use.
type Tracker struct {
	signals map[string]*signal
}

// NewTracker creates a tracker for the given categories.
func NewTracker(categories map[string]CategoryConfig) *Tracker {
	signals := make(map[string]*signal, len(categories))
	for name, cfg := range categories {
		signals[name] = &signal{cfg: cfg}
	}
	return &Tracker{signals: signals}
}

// Observe folds one tick of detections into the tracker.
func (t *Tracker) Observe(now time.Time, dets []types.Detection) {
	for _, det := range dets {
		s, ok := t.signals[det.Category]
		if !ok {
			continue
		}
		if det.Confidence >= s.cfg.Threshold {
			s.lastHit.Arm(now)
		}
	}
}

// IsPresent reports whether the category had a raw hit less than its window ago.
func (t *Tracker) IsPresent(category string, now time.Time) bool {
	s, ok := t.signals[category]
	if !ok || !s.lastHit.Armed() {
		return false
	}
	return s.lastHit.Since(now) < s.cfg.Window
}

// LastHit returns the last raw hit time for category.
func (t *Tracker) LastHit(category string) (time.Time, bool) {
	s, ok := t.signals[category]
	if !ok {
		return time.Time{}, false
	}
	return s.lastHit.At()
}
