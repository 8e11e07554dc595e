// Package monitor runs one tick of the behavior pipeline: decode, debounce, step the session machines
// and emit the resulting events.
package monitor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/detector"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/override"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/presence"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/session"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/pkg/types"
)

var log = logger.For("Monitor")

// ErrUnknownKind is returned for a session kind the monitor does not track.
var ErrUnknownKind = errors.New("unknown session kind")

// Sink receives session events in the order they were produced.
type Sink interface {
	Emit(types.SessionEvent) error
}

// Config wires categories to session kinds.
type Config struct {
	Categories      map[string]presence.CategoryConfig
	TargetCategory  string // drives target_present
	SubjectCategory string // its absence drives subject_absent
	TargetPresent   session.Config
	SubjectAbsent   session.Config
}

// Monitor owns the tracker and both session machines.
// Handle* calls must come from a single goroutine; getters are safe to call concurrently.
type Monitor struct {
	cfg     Config
	decoder *detector.Decoder
	sink    Sink
	metrics *metrics.Metrics

	mu       sync.RWMutex
	tracker  *presence.Tracker
	target   *session.Machine
	absence  *override.Gate
	lastDets []types.Detection
	lastAt   time.Time
	lastSig  types.OverrideSignal
	override override.Source
}

// New creates a monitor. A nil sink discards events and a nil source never overrides.
func New(cfg Config, decoder *detector.Decoder, sink Sink, source override.Source, m *metrics.Metrics) *Monitor {
	if source == nil {
		source = override.Inactive
	}
	if m == nil {
		m = metrics.New()
	}
	return &Monitor{
		cfg:      cfg,
		decoder:  decoder,
		sink:     sink,
		metrics:  m,
		tracker:  presence.NewTracker(cfg.Categories),
		target:   session.NewMachine(types.KindTargetPresent, cfg.TargetPresent),
		absence:  override.NewGate(session.NewMachine(types.KindSubjectAbsent, cfg.SubjectAbsent), source),
		override: source,
	}
}

// HandleTensor decodes one model output and processes the detections.
// A malformed tensor aborts the tick and leaves all state untouched.
func (m *Monitor) HandleTensor(now time.Time, t *detector.RawTensor, imageWidth, imageHeight int) error {
	dets, err := m.decoder.Decode(t, imageWidth, imageHeight)
	if err != nil {
		m.metrics.DecodeErrors.Add(1)
		return fmt.Errorf("decode: %w", err)
	}
	m.HandleDetections(now, dets)
	return nil
}

// HandleMiss processes a tick that produced no model output.
func (m *Monitor) HandleMiss(now time.Time) {
	m.HandleDetections(now, nil)
}

// HandleDetections processes one tick of already decoded detections.
func (m *Monitor) HandleDetections(now time.Time, dets []types.Detection) {
	events, sig, open := m.step(now, dets)

	m.metrics.Detections.Add(uint64(len(dets)))
	m.metrics.OpenSessions.Store(open)
	m.metrics.SetOverride(sig.Active)

	for _, ev := range events {
		m.emit(ev)
	}
}

func (m *Monitor) step(now time.Time, dets []types.Detection) ([]types.SessionEvent, types.OverrideSignal, int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastDets = append(make([]types.Detection, 0, len(dets)), dets...)
	m.lastAt = now

	m.tracker.Observe(now, dets)
	targetPresent := m.tracker.IsPresent(m.cfg.TargetCategory, now)
	subjectPresent := m.tracker.IsPresent(m.cfg.SubjectCategory, now)

	events := m.target.Step(now, targetPresent)
	sig, absenceEvents := m.absence.Step(now, !subjectPresent)
	events = append(events, absenceEvents...)
	m.lastSig = sig

	var open int64
	if m.target.Open() {
		open++
	}
	if m.absence.Machine().Open() {
		open++
	}
	return events, sig, open
}

func (m *Monitor) emit(ev types.SessionEvent) {
	m.metrics.CountEvent(ev)
	if m.sink == nil {
		return
	}
	if err := m.sink.Emit(ev); err != nil {
		m.metrics.SinkErrors.Add(1)
		log.Warn("failed to emit %s: %v", ev, err)
	}
}

// LastDetections returns a copy of the detections of the most recent tick.
func (m *Monitor) LastDetections() []types.Detection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append(make([]types.Detection, 0, len(m.lastDets)), m.lastDets...)
}

// LastDetectionTime returns the time of the most recent tick, false before the first tick.
func (m *Monitor) LastDetectionTime() (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastAt, !m.lastAt.IsZero()
}

// SessionSnapshot returns the live view of one session kind.
func (m *Monitor) SessionSnapshot(kind types.Kind, now time.Time) (session.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch kind {
	case types.KindTargetPresent:
		return m.target.Snapshot(now), nil
	case types.KindSubjectAbsent:
		return m.absence.Machine().Snapshot(now), nil
	default:
		return session.Snapshot{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// Override returns the current override signal.
func (m *Monitor) Override(now time.Time) types.OverrideSignal {
	return m.override.Snapshot(now)
}

// LastOverride returns the override signal the most recent tick acted on.
func (m *Monitor) LastOverride() types.OverrideSignal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSig
}
