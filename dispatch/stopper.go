package dispatch

import "sync/atomic"

// Stopper is the cooperative cancellation signal checked by the dispatch
// loop. It is safe to Set from any goroutine; the running dispatch abandons
// the frontier at its next check and returns a *DispatcherAbort carrying
// the partial solution.
//
// By default every Dispatcher shares the process-wide stopper, so a parent
// can cancel all of its descendants with one Set. A caller-specific stopper
// can be installed per dispatcher (WithStopper) or per call
// (WithDispatchStopper).
//
// Remember to Clear a shared stopper before dispatching again.
type Stopper struct {
	set atomic.Bool
}

// NewStopper returns a cleared Stopper.
func NewStopper() *Stopper { return &Stopper{} }

// Set raises the signal. The current dispatch aborts at its next check;
// a user function already executing runs to completion first.
func (s *Stopper) Set() { s.set.Store(true) }

// Clear lowers the signal.
func (s *Stopper) Clear() { s.set.Store(false) }

// IsSet reports whether the signal is raised.
func (s *Stopper) IsSet() bool { return s.set.Load() }

// defaultStopper is shared by all dispatchers that are not given their own.
var defaultStopper = NewStopper()

// DefaultStopper returns the process-wide stopper.
func DefaultStopper() *Stopper { return defaultStopper }
