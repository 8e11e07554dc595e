// Package timeutil holds small time helpers shared by the tick pipeline.
package timeutil

import "time"

// Mark is an optional timestamp with explicit armed/disarmed state.
// The zero value is disarmed.
type Mark struct {
	at    time.Time
	armed bool
}

// Arm records t and arms the mark.
func (m *Mark) Arm(t time.Time) {
	m.at = t
	m.armed = true
}

// ArmOnce arms the mark only if it is not armed yet. It reports whether the mark was armed by this call.
func (m *Mark) ArmOnce(t time.Time) bool {
	if m.armed {
		return false
	}
	m.Arm(t)
	return true
}

// Disarm clears the mark.
func (m *Mark) Disarm() {
	*m = Mark{}
}

// Armed reports whether the mark holds a timestamp.
func (m Mark) Armed() bool {
	return m.armed
}

// At returns the recorded timestamp and whether the mark is armed.
func (m Mark) At() (time.Time, bool) {
	return m.at, m.armed
}

// Since returns now - mark. It returns 0 for a disarmed mark.
func (m Mark) Since(now time.Time) time.Duration {
	if !m.armed {
		return 0
	}
	return now.Sub(m.at)
}

// Elapsed reports whether the mark is armed and at least d has passed since it.
func (m Mark) Elapsed(now time.Time, d time.Duration) bool {
	return m.armed && now.Sub(m.at) >= d
}

// Ptr returns a copy of the timestamp, or nil when disarmed.
func (m Mark) Ptr() *time.Time {
	if !m.armed {
		return nil
	}
	t := m.at
	return &t
}

// WholeSeconds returns floor(d / 1s) when d is positive; otherwise nil.
func WholeSeconds(d time.Duration) *int64 {
	s := int64(d / time.Second)
	if s <= 0 {
		return nil
	}
	return &s
}
