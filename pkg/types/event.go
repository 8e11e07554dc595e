package types

import (
	"fmt"
	"time"
)

// Kind identifies a monitored condition. Each kind owns exactly one session machine.
type Kind string

const (
	KindTargetPresent Kind = "target_present"
	KindSubjectAbsent Kind = "subject_absent"
)

// Kinds lists every monitored kind in evaluation order.
var Kinds = []Kind{KindTargetPresent, KindSubjectAbsent}

// ParseKind parses a kind name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindTargetPresent, KindSubjectAbsent:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown session kind: %q", s)
	}
}

// EventType is the type of a session event.
type EventType string

const (
	EventStart      EventType = "start"
	EventEnd        EventType = "end"
	EventAlert      EventType = "alert"
	EventSuppressed EventType = "suppressed"
)

// SessionEvent is emitted by the session machines and never retained by them.
type SessionEvent struct {
	Type            EventType      `json:"type"`
	Kind            Kind           `json:"kind"`
	OccurredAt      time.Time      `json:"occurred_at"`
	DurationSeconds *int64         `json:"duration_seconds"`
	Meta            map[string]any `json:"meta,omitempty"`
}

// String returns a compact description for logs.
func (e SessionEvent) String() string {
	if e.DurationSeconds != nil {
		return fmt.Sprintf("%s/%s duration=%ds", e.Kind, e.Type, *e.DurationSeconds)
	}
	return fmt.Sprintf("%s/%s", e.Kind, e.Type)
}

// OverrideSignal is a read-only snapshot of the external suppression signal.
type OverrideSignal struct {
	Active    bool       `json:"active"`
	Reason    string     `json:"reason,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
