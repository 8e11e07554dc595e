// Package session turns a debounced boolean condition into start/alert/end session events.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/timeutil"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/pkg/types"
)

var log = logger.For("Session")

// State is the machine's lifecycle state.
type State int

const (
	Idle State = iota
	Active
	Alerted
	ClearPending
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Alerted:
		return "alerted"
	case ClearPending:
		return "clear_pending"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config holds the per-kind timing parameters.
type Config struct {
	AlertThreshold    time.Duration
	AlertCooldown     time.Duration
	ClearStableWindow time.Duration
}

// Machine tracks one session kind. It must only be stepped from a single goroutine.
type Machine struct {
	kind types.Kind
	cfg  Config

	state      State
	sessionID  string
	startedAt  timeutil.Mark
	alertFired bool

	// lastAlertAt survives session close so the cooldown spans sessions.
	lastAlertAt timeutil.Mark

	// clearCandidateSince arms on the first non-qualifying tick of an open session.
	// recoveryAt is the first observation of the opposite condition and becomes the end time.
	clearCandidateSince timeutil.Mark
	recoveryAt          timeutil.Mark
}

// NewMachine creates an idle machine.
func NewMachine(kind types.Kind, cfg Config) *Machine {
	return &Machine{kind: kind, cfg: cfg}
}

// Kind returns the monitored kind.
func (m *Machine) Kind() types.Kind { return m.kind }

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Open reports whether a session is open.
func (m *Machine) Open() bool { return m.state != Idle }

// Step evaluates one tick and returns the events it produced, in order.
func (m *Machine) Step(now time.Time, qualifying bool) []types.SessionEvent {
	var events []types.SessionEvent

	if m.state == Idle {
		if !qualifying {
			return nil
		}
		m.start(now)
		events = append(events, m.event(types.EventStart, now, nil, nil))
	}

	if qualifying {
		if m.clearCandidateSince.Armed() {
			log.Debug("%s: clear candidate cancelled after %v", m.kind, m.clearCandidateSince.Since(now))
			m.clearCandidateSince.Disarm()
			m.recoveryAt.Disarm()
			m.state = Active
			if m.alertFired {
				m.state = Alerted
			}
		}
		if ev, ok := m.checkAlert(now); ok {
			events = append(events, ev)
		}
		return events
	}

	if m.clearCandidateSince.ArmOnce(now) {
		m.recoveryAt.Arm(now)
		m.state = ClearPending
	}
	if m.clearCandidateSince.Elapsed(now, m.cfg.ClearStableWindow) {
		events = append(events, m.close(now))
	}
	return events
}

func (m *Machine) checkAlert(now time.Time) (types.SessionEvent, bool) {
	if m.alertFired {
		return types.SessionEvent{}, false
	}
	elapsed := m.startedAt.Since(now)
	if elapsed < m.cfg.AlertThreshold {
		return types.SessionEvent{}, false
	}
	if m.lastAlertAt.Armed() && !m.lastAlertAt.Elapsed(now, m.cfg.AlertCooldown) {
		return types.SessionEvent{}, false
	}

	m.alertFired = true
	m.lastAlertAt.Arm(now)
	m.state = Alerted
	log.Info("%s: alert after %v", m.kind, elapsed.Truncate(time.Second))
	return m.event(types.EventAlert, now, nil, map[string]any{
		"elapsed_seconds": int64(elapsed / time.Second),
	}), true
}

func (m *Machine) start(now time.Time) {
	m.state = Active
	m.sessionID = uuid.NewString()
	m.startedAt.Arm(now)
	m.alertFired = false
	log.Info("%s: session %s started", m.kind, m.sessionID)
}

func (m *Machine) close(now time.Time) types.SessionEvent {
	end, _ := m.recoveryAt.At()
	started, _ := m.startedAt.At()
	ev := m.event(types.EventEnd, now, timeutil.WholeSeconds(end.Sub(started)), map[string]any{
		"alert_fired": m.alertFired,
		"ended_at":    end,
	})
	log.Info("%s: session %s ended (%s)", m.kind, m.sessionID, ev)
	m.reset()
	return ev
}

// ForceReset closes an open session without an End event and returns the Suppressed
// event covering the time up to now. It returns false when the machine was idle.
func (m *Machine) ForceReset(now time.Time, meta map[string]any) (types.SessionEvent, bool) {
	if m.state == Idle {
		return types.SessionEvent{}, false
	}
	merged := map[string]any{"alert_fired": m.alertFired}
	for k, v := range meta {
		merged[k] = v
	}
	ev := m.event(types.EventSuppressed, now, timeutil.WholeSeconds(m.startedAt.Since(now)), merged)
	log.Info("%s: session %s suppressed (%s)", m.kind, m.sessionID, ev)
	m.reset()
	return ev, true
}

func (m *Machine) reset() {
	m.state = Idle
	m.sessionID = ""
	m.startedAt.Disarm()
	m.alertFired = false
	m.clearCandidateSince.Disarm()
	m.recoveryAt.Disarm()
}

func (m *Machine) event(typ types.EventType, now time.Time, duration *int64, meta map[string]any) types.SessionEvent {
	if meta == nil {
		meta = make(map[string]any, 1)
	}
	meta["session_id"] = m.sessionID
	return types.SessionEvent{
		Type:            typ,
		Kind:            m.kind,
		OccurredAt:      now,
		DurationSeconds: duration,
		Meta:            meta,
	}
}

// Snapshot is a read-only view used for live timer display.
type Snapshot struct {
	Kind           types.Kind `json:"kind"`
	State          State      `json:"state"`
	Open           bool       `json:"open"`
	SessionID      string     `json:"session_id,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	ElapsedSeconds int64      `json:"elapsed_seconds"`
	IsAlerted      bool       `json:"is_alerted"`
}

// Snapshot returns the session view at now.
func (m *Machine) Snapshot(now time.Time) Snapshot {
	s := Snapshot{
		Kind:      m.kind,
		State:     m.state,
		Open:      m.Open(),
		SessionID: m.sessionID,
		StartedAt: m.startedAt.Ptr(),
		IsAlerted: m.alertFired,
	}
	if elapsed := m.startedAt.Since(now); elapsed > 0 {
		s.ElapsedSeconds = int64(elapsed / time.Second)
	}
	return s
}
