package override

import (
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/session"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/pkg/types"
)

var log = logger.For("Override")

// Gate freezes one session machine while the override is active.
type Gate struct {
	machine *session.Machine
	source  Source
	active  bool // override state seen on the previous tick
}

// NewGate wraps machine. A nil source never overrides.
func NewGate(machine *session.Machine, source Source) *Gate {
	if source == nil {
		source = Inactive
	}
	return &Gate{machine: machine, source: source}
}

// Machine returns the gated machine.
func (g *Gate) Machine() *session.Machine { return g.machine }

// Step reads the override once and either suppresses or evaluates the machine.
// It returns the signal it acted on together with the produced events.
func (g *Gate) Step(now time.Time, qualifying bool) (types.OverrideSignal, []types.SessionEvent) {
	sig := g.source.Snapshot(now)

	if sig.Active != g.active {
		if sig.Active {
			log.Info("override active for %s (reason=%q)", g.machine.Kind(), sig.Reason)
		} else {
			log.Info("override cleared for %s, resuming from idle", g.machine.Kind())
		}
		g.active = sig.Active
	}

	if !sig.Active {
		return sig, g.machine.Step(now, qualifying)
	}

	meta := map[string]any{"reason": sig.Reason}
	if sig.ExpiresAt != nil {
		meta["expires_at"] = *sig.ExpiresAt
	}
	if ev, ok := g.machine.ForceReset(now, meta); ok {
		return sig, []types.SessionEvent{ev}
	}
	return sig, nil
}
