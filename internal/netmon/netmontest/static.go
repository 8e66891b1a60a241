// Package netmontest provides a controllable reachability signal.
package netmontest

import (
	"context"
	"sync/atomic"
)

// Switch reports whatever online state the test last set.
type Switch struct {
	online atomic.Bool
	probes atomic.Int64
}

// New returns a Switch in the given state.
func New(online bool) *Switch {
	s := &Switch{}
	s.online.Store(online)
	return s
}

// Set flips the state.
func (s *Switch) Set(online bool) { s.online.Store(online) }

// Online reports the current state.
func (s *Switch) Online() bool { return s.online.Load() }

// Probe counts the probe and reports the current state.
func (s *Switch) Probe(context.Context) bool {
	s.probes.Add(1)
	return s.online.Load()
}

// Probes reports how many probes ran.
func (s *Switch) Probes() int64 { return s.probes.Load() }
