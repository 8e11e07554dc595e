// Package override gates the absence session machine on an externally owned suppression signal.
package override

import (
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/pkg/types"
)

// Source provides the current override signal. Implementations must be safe to call
// from the tick goroutine while other goroutines update them.
type Source interface {
	Snapshot(now time.Time) types.OverrideSignal
}

// SourceFunc adapts a function to Source.
type SourceFunc func(now time.Time) types.OverrideSignal

// Snapshot calls f.
func (f SourceFunc) Snapshot(now time.Time) types.OverrideSignal { return f(now) }

// Inactive is a Source that never overrides.
var Inactive Source = SourceFunc(func(time.Time) types.OverrideSignal { return types.OverrideSignal{} })

// Store is an in-memory override owner controlled over the HTTP API.
type Store struct {
	mu        sync.RWMutex
	active    bool
	reason    string
	expiresAt *time.Time
}

// NewStore returns an inactive store.
func NewStore() *Store {
	return &Store{}
}

// Activate turns the override on. A nil until means no expiry.
func (s *Store) Activate(reason string, until *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = true
	s.reason = reason
	s.expiresAt = nil
	if until != nil {
		t := *until
		s.expiresAt = &t
	}
}

// Deactivate turns the override off.
func (s *Store) Deactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = false
	s.reason = ""
	s.expiresAt = nil
}

// Snapshot returns the signal at now. An expired override reads as inactive.
func (s *Store) Snapshot(now time.Time) types.OverrideSignal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.active {
		return types.OverrideSignal{}
	}
	if s.expiresAt != nil && !now.Before(*s.expiresAt) {
		return types.OverrideSignal{}
	}
	sig := types.OverrideSignal{Active: true, Reason: s.reason}
	if s.expiresAt != nil {
		t := *s.expiresAt
		sig.ExpiresAt = &t
	}
	return sig
}
