package dispatch

import (
	"errors"
	"fmt"
)

// ErrKindMismatch indicates an id already bound to one node kind was reused
// for another (data over function or vice versa). Node kinds are fixed at
// creation.
var ErrKindMismatch = errors.New("node id already bound to a different kind")

// ErrNotDataNode indicates an operation that only applies to data nodes
// (defaults, remote links) was aimed at a function node or an unknown id.
var ErrNotDataNode = errors.New("not a data node")

// ErrMissingFunction indicates AddFunction was called without a callable.
var ErrMissingFunction = errors.New("function is required")

// ErrBadIOMap indicates a sub-dispatcher I/O map is empty or maps an id to
// no ids at all. Whether the child ids exist in the child is not checked.
var ErrBadIOMap = errors.New("invalid sub-dispatcher I/O map")

// ErrNegativeWeight indicates the search met an edge with negative length.
// Negative lengths break the shortest-workflow guarantee, so dispatch
// rejects them unless AllowNegative is set.
var ErrNegativeWeight = errors.New("negative edge length")

// DispatcherError is returned when a dispatch cannot deliver what was asked
// of it: a requested output is unreachable, a user function failed with
// raises enabled, or an invariant (such as non-negative weights) was
// violated mid-search. The partial solution accumulated so far is always
// attached for inspection.
type DispatcherError struct {
	// Sol is the partial solution at the moment of failure.
	Sol *Solution

	// NodeID identifies the node involved, when one is.
	NodeID string

	// Msg describes the failure.
	Msg string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *DispatcherError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("dispatch: node %q: %s", e.NodeID, e.Msg)
	}
	return "dispatch: " + e.Msg
}

// Unwrap returns the underlying cause for errors.Is / errors.As chains.
func (e *DispatcherError) Unwrap() error { return e.Cause }

// DispatcherAbort is returned when the stopper (or the dispatch context)
// was triggered while a dispatch was in flight. The partial solution holds
// exactly the nodes visited before the cancellation check fired.
type DispatcherAbort struct {
	Sol *Solution
	Msg string
}

// Error implements the error interface.
func (e *DispatcherAbort) Error() string { return "dispatch aborted: " + e.Msg }
