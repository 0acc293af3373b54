// Package emit provides pluggable observability events for dispatch
// execution.
package emit

// Event is one observability record emitted while a dispatch runs.
//
// The engine emits events for the dispatch lifecycle (dispatch_start,
// dispatch_complete, dispatch_error, dispatch_abort), for every node visit
// (node_visit), and for the recoverable incidents along the way
// (domain_reject, node_error, remote_link).
type Event struct {
	// RunID identifies the dispatch that emitted this event.
	RunID string

	// Step is the visit sequence number within the run. Zero for
	// run-level events.
	Step int

	// NodeID is the node involved; empty for run-level events.
	NodeID string

	// Msg names the event.
	Msg string

	// Meta carries event-specific data. Common keys:
	//   - "dist": the distance a node was visited at
	//   - "kind": node kind (data, function, dispatcher)
	//   - "error": failure details
	//   - "duration_ms": run duration for lifecycle events
	//   - "target", "direction": remote-link writes
	Meta map[string]any
}
