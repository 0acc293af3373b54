// Package dispatch provides the core dataflow dispatch engine.
//
// A Dispatcher is a directed bipartite graph of data nodes and function
// nodes. Given a set of input data values and a set of requested outputs,
// Dispatch computes the minimum-weight workflow that produces the requested
// outputs by invoking functions in a legal order (the ArciDispatch
// algorithm: best-first expansion over weighted edges, where a function
// node fires only once all of its inputs have arrived).
//
// Dispatchers nest: a whole Dispatcher can be installed as a function node
// of another Dispatcher with explicit input/output remapping, called like a
// plain function (SubDispatch, SubDispatchFunction), pre-compiled into a
// replayable pipeline (SubDispatchPipe), or reduced to the subgraph relevant
// to a given input/output set (ShrinkDsp).
package dispatch

// Reserved node ids. They live in an angle-bracketed namespace so they can
// never collide with user data ids; AddData and AddFunction special-case
// them.
const (
	// StartID is the virtual source of explicit inputs. Every dispatch
	// begins by visiting StartID at distance zero, and functions declared
	// without inputs receive a synthetic edge from it.
	StartID = "<start>"

	// SinkID absorbs unused function outputs. It is created on demand for
	// functions declared without outputs, always waits for all inputs, and
	// collects arrivals with the Bypass merge.
	SinkID = "<sink>"

	// SelfID is a data node whose value is the enclosing Dispatcher itself.
	// Functions that need to introspect or re-enter the model declare it as
	// an input.
	SelfID = "<self>"

	// EndID is the virtual sink of requested outputs.
	EndID = "<end>"

	// EmptyID is the placeholder id used where a graph position must exist
	// but carries no edges.
	EmptyID = "<empty>"

	// PlotID is a data node that triggers a caller-supplied plotting
	// callback when committed. Rendering itself is not part of this
	// package; the callback is whatever the caller attaches.
	PlotID = "<plot>"
)

// wildcardID returns the virtual frontier id used to re-emit a wildcard
// data node's input value without occupying the node's own distance slot.
func wildcardID(id string) string { return "<wildcard>" + id }
