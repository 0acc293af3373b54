package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/gfon/schedula/dispatch/emit"
)

// PipeStep is one entry of the ordered visit record of a dispatch. Sol is
// the solution scope the node was visited in (the root solution or one of
// its sub-solutions), NodeID the node visited.
type PipeStep struct {
	Sol    *Solution
	NodeID string
}

// waitSpec overrides wait-inputs flags for one dispatcher level and, keyed
// by sub-dispatcher node id, for the nested levels. The shrink machinery
// uses it to first disable waiting globally and then re-enable it
// selectively.
type waitSpec struct {
	flags map[string]bool
	sub   map[string]*waitSpec
}

// dispatchConfig carries the per-call settings of a dispatch.
type dispatchConfig struct {
	outputs       []string
	cutoff        float64
	hasCutoff     bool
	inputDists    map[string]float64
	wildcard      bool
	noCall        bool
	noDomain      bool
	shrink        bool
	rmUnused      bool
	allowNegative bool
	stopper       *Stopper
	waitIn        *waitSpec
}

// Solution is the state and the result of one dispatch call: the ordered
// map of committed data values, the distances, the workflow graph of edges
// actually traversed, the visit pipe, and the sub-solutions of nested
// dispatchers.
type Solution struct {
	// RunID uniquely identifies this dispatch.
	RunID string

	// Dist holds the best known distance per discovered node id.
	Dist map[string]float64

	// Workflow is the graph of edges actually traversed.
	Workflow *Workflow

	// Sub holds the solutions of sub-dispatcher nodes, keyed by node id.
	Sub map[string]*Solution

	// Errored holds the error of each node that failed while the dispatch
	// continued around it (raises disabled).
	Errored map[string]error

	dsp    *Dispatcher
	parent *Solution
	nodeID string // sub-dispatcher node id in the parent, "" for the root

	cfg     dispatchConfig
	inputs  map[string]any
	targets map[string]bool

	values     map[string]any
	order      []string
	argValues  map[string]any
	visited    map[string]bool
	suppressed map[string]bool
	pending    map[string]any
	arrivals   map[string]map[string]any

	pipe []PipeStep // populated on the root solution only

	// defaultSeed marks pending entries that came from a default value
	// during a pipe replay; a replayed estimation may displace them.
	defaultSeed map[string]bool

	fringe     *frontier
	entryCount map[string]int // live frontier entries per node id
	counter    *int
	linkSeen   map[linkKey]bool // root only
	stopper    *Stopper
	done       bool
	steps      int // root only: visit sequence for events
}

type linkKey struct {
	dsp *Dispatcher
	id  string
}

// newSolution builds the root solution for one dispatch of dsp.
func newSolution(dsp *Dispatcher, inputs map[string]any, cfg dispatchConfig) *Solution {
	s := &Solution{
		RunID:    uuid.NewString(),
		dsp:      dsp,
		cfg:      cfg,
		inputs:   inputs,
		stopper:  cfg.stopper,
		counter:  new(int),
		linkSeen: map[linkKey]bool{},
	}
	if s.stopper == nil {
		s.stopper = dsp.stopper
	}
	s.reset()
	return s
}

// newSubSolution builds the solution of a sub-dispatcher node, sharing the
// parent's counter and stopper so ordering and cancellation stay global.
func (s *Solution) newSubSolution(nodeID string, child *Dispatcher, inputs map[string]any, outputs []string, cutoff float64, hasCutoff bool) *Solution {
	var childWait *waitSpec
	if s.cfg.waitIn != nil {
		childWait = s.cfg.waitIn.sub[nodeID]
	}
	cs := &Solution{
		RunID:  uuid.NewString(),
		dsp:    child,
		parent: s,
		nodeID: nodeID,
		cfg: dispatchConfig{
			outputs:       outputs,
			cutoff:        cutoff,
			hasCutoff:     hasCutoff,
			noCall:        s.cfg.noCall,
			noDomain:      s.cfg.noDomain,
			rmUnused:      s.cfg.rmUnused,
			allowNegative: s.cfg.allowNegative,
			waitIn:        childWait,
		},
		inputs:  inputs,
		stopper: s.stopper,
		counter: s.counter,
	}
	cs.reset()
	return cs
}

// reset clears the run state so the solution can be seeded again.
func (s *Solution) reset() {
	s.Dist = map[string]float64{}
	s.Workflow = NewWorkflow()
	s.Sub = map[string]*Solution{}
	s.Errored = map[string]error{}
	s.values = map[string]any{}
	s.order = nil
	s.argValues = map[string]any{}
	s.visited = map[string]bool{}
	s.suppressed = map[string]bool{}
	s.pending = map[string]any{}
	s.arrivals = map[string]map[string]any{}
	s.pipe = nil
	s.defaultSeed = map[string]bool{}
	s.fringe = newFrontier()
	s.entryCount = map[string]int{}
	s.done = false
	s.targets = map[string]bool{}
	for _, id := range s.cfg.outputs {
		s.targets[id] = true
	}
}

// root walks up to the root solution of the dispatch.
func (s *Solution) root() *Solution {
	r := s
	for r.parent != nil {
		r = r.parent
	}
	return r
}

// Dsp returns the dispatcher this solution ran on.
func (s *Solution) Dsp() *Dispatcher { return s.dsp }

// Value returns the committed value of a data node.
func (s *Solution) Value(id string) (any, bool) {
	v, ok := s.values[id]
	return v, ok
}

// Has reports whether a data node was committed.
func (s *Solution) Has(id string) bool {
	_, ok := s.values[id]
	return ok
}

// Values returns a copy of the committed data values.
func (s *Solution) Values() map[string]any {
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Order returns the data ids in commit order.
func (s *Solution) Order() []string {
	return append([]string(nil), s.order...)
}

// Pipe returns the ordered visit record of the dispatch. It is recorded on
// the root solution and covers sub-dispatch visits.
func (s *Solution) Pipe() []PipeStep {
	return append([]PipeStep(nil), s.root().pipe...)
}

// Visited reports whether the node reached a terminal evaluated state.
func (s *Solution) Visited(id string) bool { return s.visited[id] }

// Suppressed reports whether the node was rejected by its input domain.
func (s *Solution) Suppressed(id string) bool { return s.suppressed[id] }

// terminal reports whether the node can no longer fire in this dispatch.
func (s *Solution) terminal(id string) bool {
	if s.visited[id] || s.suppressed[id] {
		return true
	}
	_, errored := s.Errored[id]
	return errored
}

func (s *Solution) nextCounter() int {
	c := *s.counter
	*s.counter = c + 1
	return c
}

// push queues a frontier entry and keeps the per-node live-entry count,
// which the wait-inputs eligibility check consults.
func (s *Solution) push(dist float64, id string) {
	s.entryCount[id]++
	s.fringe.push(frontierItem{dist: dist, counter: s.nextCounter(), id: id})
}

// waitFlag resolves the effective wait-inputs flag of a data node,
// honoring the per-call override used by shrink.
func (s *Solution) waitFlag(n *Node) bool {
	if s.cfg.waitIn != nil {
		if f, ok := s.cfg.waitIn.flags[n.ID]; ok {
			return f
		}
	}
	return n.WaitInputs
}

// seed pushes the initial frontier: StartID first, then the explicit
// inputs at their initial distances, then the defaults that were not
// overridden. Wildcard inputs are seeded under a virtual id so the node's
// own distance slot stays free for re-entry.
func (s *Solution) seed() {
	s.Dist[StartID] = 0
	s.push(0, StartID)
	s.Workflow.AddNode(StartID)

	seen := map[string]bool{}
	for _, id := range sortedKeys(s.inputs) {
		if !s.dsp.HasNode(id) {
			continue
		}
		d0 := 0.0
		if s.cfg.inputDists != nil {
			if v, ok := s.cfg.inputDists[id]; ok {
				d0 = v
			}
		}
		s.seedValue(id, s.inputs[id], d0)
		seen[id] = true
	}
	for _, id := range sortedKeys(s.dsp.defaults) {
		if seen[id] || !s.dsp.HasNode(id) {
			continue
		}
		dfl := s.dsp.defaults[id]
		s.seedValue(id, dfl.Value, dfl.InitialDist)
	}
}

func (s *Solution) seedValue(id string, value any, d0 float64) {
	n, ok := s.dsp.nodes[id]
	if !ok || n.Kind != KindData {
		return
	}
	key := id
	if s.targets[id] && (n.Wildcard || s.cfg.wildcard) {
		key = wildcardID(id)
	}
	s.Dist[key] = d0
	s.pending[key] = value
	s.Workflow.AddEdge(StartID, id, value)
	s.push(d0, key)
}

// run seeds the frontier and executes the main loop.
func (s *Solution) run(ctx context.Context) error {
	s.seed()
	return s.loop(ctx)
}

// loop is the ArciDispatch main loop: pop the minimum (distance, counter)
// entry, skip stale ones, and visit the node if it is eligible. It ends
// when the frontier is exhausted or every requested output has been seen,
// and aborts when the stopper or the context fires.
func (s *Solution) loop(ctx context.Context) error {
	for !s.fringe.empty() && !s.done {
		if s.stopper.IsSet() {
			return &DispatcherAbort{Sol: s.root(), Msg: "stop requested"}
		}
		if ctx != nil {
			select {
			case <-ctx.Done():
				return &DispatcherAbort{Sol: s.root(), Msg: ctx.Err().Error()}
			default:
			}
		}
		s.observeFrontier()

		it := s.fringe.pop()
		id := it.id
		if s.entryCount[id] > 0 {
			s.entryCount[id]--
		}
		if s.terminal(id) {
			continue
		}

		real := id
		virtual := false
		if len(id) > len("<wildcard>") && id[:len("<wildcard>")] == "<wildcard>" {
			real, virtual = id[len("<wildcard>"):], true
		}
		n, ok := s.dsp.nodes[real]
		if !ok {
			continue
		}

		var err error
		switch {
		case real == StartID:
			s.visitStart(it.dist)
		case n.Kind == KindData:
			err = s.visitData(ctx, id, real, n, it, virtual)
		case n.Kind == KindDispatcher:
			err = s.visitSubDispatcher(ctx, real, n, it)
		default:
			err = s.visitFunction(ctx, real, n, it)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// visitStart marks the virtual source visited and relaxes the functions
// that take no declared inputs.
func (s *Solution) visitStart(d float64) {
	s.visited[StartID] = true
	s.argValues[StartID] = nil
	s.relaxSuccessors(StartID, nil, d)
	s.recordVisit(StartID, d, KindData)
}

// visitData commits a data node: merge or pending value, filters, callback,
// remote links, target bookkeeping, then relaxation of the successor
// functions. Virtual wildcard entries feed the successors without emitting
// the node as an output.
func (s *Solution) visitData(ctx context.Context, id, real string, n *Node, it frontierItem, virtual bool) error {
	if real == SinkID {
		return nil
	}
	wait := s.waitFlag(n)

	if !virtual && !wait {
		// Classic relaxation: only the entry carrying the best distance
		// commits the node.
		if d, ok := s.Dist[id]; !ok || d != it.dist {
			return nil
		}
	}
	if !virtual && wait {
		// The node waits while any predecessor can still deliver: reached
		// but not yet fired, with entries left in the frontier. Once the
		// frontier holds no predecessor, nothing more can arrive and the
		// merge may run.
		for _, p := range s.dsp.Predecessors(real) {
			if _, found := s.Dist[p]; found && !s.terminal(p) && s.entryCount[p] > 0 {
				return nil
			}
		}
	}

	var value any
	if s.cfg.noCall {
		value = nil
	} else if !virtual && wait {
		est := s.arrivals[real]
		if est == nil {
			est = map[string]any{}
		}
		if pv, ok := s.pending[real]; ok {
			est[StartID] = pv
		}
		merge := n.Merge
		if merge == nil {
			merge = BypassMerge
		}
		var err error
		value, err = merge(est)
		if err != nil {
			return s.nodeFailure(real, err)
		}
	} else {
		value = s.pending[id]
	}

	if !s.cfg.noCall {
		for _, f := range n.Filters {
			var err error
			value, err = f(value)
			if err != nil {
				return s.nodeFailure(real, err)
			}
		}
		if n.Callback != nil {
			n.Callback(value)
		}
	}

	s.visited[id] = true
	s.argValues[real] = value
	if !virtual {
		s.values[real] = value
		s.order = append(s.order, real)
		s.Dist[real] = it.dist
		if !s.cfg.noCall {
			s.seeRemoteLinks(n, value)
		}
		s.recordVisit(real, it.dist, KindData)
		if s.targets[real] {
			delete(s.targets, real)
			if len(s.targets) == 0 {
				s.done = true
				return nil
			}
		}
	} else {
		// Virtual wildcard entries are replayable steps too.
		s.recordVisit(id, it.dist, KindData)
	}
	return s.relaxSuccessors(real, value, it.dist)
}

// relaxSuccessors pushes the successor function nodes of a committed data
// node and records the traversed edges.
func (s *Solution) relaxSuccessors(id string, value any, d float64) error {
	for _, f := range s.dsp.Successors(id) {
		fn := s.dsp.nodes[f]
		e := s.dsp.succ[id][f]
		length := edgeLength(e, fn)
		if length < 0 && !s.cfg.allowNegative {
			return &DispatcherError{
				Sol:    s.root(),
				NodeID: f,
				Msg:    fmt.Sprintf("edge %q->%q has negative length %v", id, f, length),
				Cause:  ErrNegativeWeight,
			}
		}
		d2 := d + length
		if s.cfg.hasCutoff && d2 > s.cfg.cutoff {
			continue
		}
		if s.terminal(f) {
			continue
		}
		s.Workflow.AddEdge(id, f, value)
		if cur, ok := s.Dist[f]; !ok || d2 < cur {
			s.Dist[f] = d2
		}
		// Function nodes wait for all inputs, so every arrival re-queues
		// the node; an early entry that finds inputs missing is skipped.
		s.push(d2, f)
	}
	return nil
}

// visitFunction fires a function node once every declared input has been
// committed and the input domain accepts, then fans the results out to the
// declared outputs.
func (s *Solution) visitFunction(ctx context.Context, id string, n *Node, it frontierItem) error {
	args, ready := s.gatherArgs(n)
	if !ready {
		if s.entryCount[id] == 0 {
			// The last chance for this function to fire is gone; release
			// any merge deferring on it.
			s.requeueWaiters(id)
		}
		return nil
	}

	if n.Domain != nil && !s.cfg.noCall && !s.cfg.noDomain {
		if !n.Domain(args...) {
			s.suppressNode(id)
			return nil
		}
	}

	var res any
	if !s.cfg.noCall {
		var err error
		res, err = n.Function(args...)
		if err != nil {
			return s.nodeFailure(id, err)
		}
		for _, f := range n.Filters {
			res, err = f(res)
			if err != nil {
				return s.nodeFailure(id, err)
			}
		}
	}

	vals, err := alignResults(res, n.Outputs, s.cfg.noCall)
	if err != nil {
		return s.nodeFailure(id, err)
	}

	s.visited[id] = true
	s.recordVisit(id, it.dist, KindFunction)
	for i, o := range n.Outputs {
		if err := s.deliver(id, o, vals[i], it.dist); err != nil {
			return err
		}
	}
	return nil
}

// gatherArgs collects the function's arguments in declaration order,
// skipping the synthetic StartID input. ready is false while any input is
// still missing.
func (s *Solution) gatherArgs(n *Node) ([]any, bool) {
	args := make([]any, 0, len(n.Inputs))
	for _, in := range n.Inputs {
		v, ok := s.argValues[in]
		if !ok {
			return nil, false
		}
		if in == StartID {
			continue
		}
		args = append(args, v)
	}
	return args, true
}

// alignResults pairs a function result with the declared outputs: a single
// output takes the result itself, several outputs require an []any of at
// least that length.
func alignResults(res any, outputs []string, noCall bool) ([]any, error) {
	if noCall {
		return make([]any, len(outputs)), nil
	}
	if len(outputs) == 1 {
		return []any{res}, nil
	}
	seq, ok := res.([]any)
	if !ok {
		return nil, fmt.Errorf("expected %d results, got %T", len(outputs), res)
	}
	if len(seq) < len(outputs) {
		return nil, fmt.Errorf("expected %d results, got %d", len(outputs), len(seq))
	}
	return seq[:len(outputs)], nil
}

// deliver hands one function result to a data node: wait nodes accumulate
// it as an estimation, plain nodes keep the cheapest delivery, and the sink
// absorbs it. A declared output that is not in the graph is skipped.
func (s *Solution) deliver(from, to string, value any, d float64) error {
	n := s.dsp.nodes[to]
	e := s.dsp.succ[from][to]
	if n == nil || e == nil {
		// The output was pruned from this (shrunk) graph.
		return nil
	}
	length := edgeLength(e, n)
	if length < 0 && !s.cfg.allowNegative {
		return &DispatcherError{
			Sol:    s.root(),
			NodeID: to,
			Msg:    fmt.Sprintf("edge %q->%q has negative length %v", from, to, length),
			Cause:  ErrNegativeWeight,
		}
	}
	d2 := d + length
	if s.cfg.hasCutoff && d2 > s.cfg.cutoff {
		return nil
	}

	s.Workflow.AddEdge(from, to, value)

	if to == SinkID {
		if s.arrivals[to] == nil {
			s.arrivals[to] = map[string]any{}
		}
		s.arrivals[to][from] = value
		return nil
	}
	if s.terminal(to) {
		return nil
	}

	if s.waitFlag(n) {
		if s.arrivals[to] == nil {
			s.arrivals[to] = map[string]any{}
		}
		s.arrivals[to][from] = value
		if cur, ok := s.Dist[to]; !ok || d2 < cur {
			s.Dist[to] = d2
		}
		s.push(d2, to)
		return nil
	}

	if cur, ok := s.Dist[to]; !ok || d2 < cur {
		s.Dist[to] = d2
		s.pending[to] = value
		s.push(d2, to)
	}
	return nil
}

// visitSubDispatcher routes the parent inputs into the child dispatcher,
// runs it to completion synchronously, and routes the child outputs back.
func (s *Solution) visitSubDispatcher(ctx context.Context, id string, n *Node, it frontierItem) error {
	pv := map[string]any{}
	for _, in := range n.Inputs {
		v, ok := s.argValues[in]
		if !ok {
			if s.entryCount[id] == 0 {
				s.requeueWaiters(id)
			}
			return nil // not all inputs arrived yet
		}
		if in == StartID {
			continue
		}
		pv[in] = v
	}

	if n.SubDomain != nil && !s.cfg.noCall && !s.cfg.noDomain {
		if !n.SubDomain(pv) {
			s.suppressNode(id)
			return nil
		}
	}

	childInputs := map[string]any{}
	for _, p := range sortedKeys(n.InputsMap) {
		v, ok := pv[p]
		if !ok {
			continue
		}
		for _, c := range n.InputsMap[p] {
			childInputs[c] = v
		}
	}

	cutoff, hasCutoff := 0.0, false
	if s.cfg.hasCutoff {
		cutoff, hasCutoff = s.cfg.cutoff-it.dist, true
	}
	cs := s.newSubSolution(id, n.Sub, childInputs, sortedKeys(n.OutputsMap), cutoff, hasCutoff)
	s.Sub[id] = cs

	if err := cs.run(ctx); err != nil {
		var de *DispatcherError
		if asDispatcherError(err, &de) && !n.Sub.Raises {
			// Degrade a child failure to a node error when the child does
			// not raise.
			return s.nodeFailure(id, err)
		}
		return err
	}

	s.visited[id] = true
	s.recordVisit(id, it.dist, KindDispatcher)
	for _, c := range sortedKeys(n.OutputsMap) {
		v, ok := cs.values[c]
		if !ok {
			continue
		}
		for _, p := range n.OutputsMap[c] {
			if err := s.deliver(id, p, v, it.dist); err != nil {
				return err
			}
		}
	}
	return nil
}

func asDispatcherError(err error, target **DispatcherError) bool {
	de, ok := err.(*DispatcherError)
	if ok {
		*target = de
	}
	return ok
}

// nodeFailure handles a user-function (or merge/filter) error according to
// the raises setting: abort with the partial solution attached, or mark
// the node errored and keep going.
func (s *Solution) nodeFailure(id string, err error) error {
	if s.dsp.Raises {
		return &DispatcherError{Sol: s.root(), NodeID: id, Msg: err.Error(), Cause: err}
	}
	s.Errored[id] = err
	s.emit("node_error", id, map[string]any{"error": err.Error()})
	if m := s.metrics(); m != nil {
		m.functionErrors.Inc()
	}
	s.requeueWaiters(id)
	return nil
}

// suppressNode marks a domain rejection: terminal, silent, no outputs.
func (s *Solution) suppressNode(id string) {
	s.suppressed[id] = true
	s.emit("domain_reject", id, nil)
	if m := s.metrics(); m != nil {
		m.domainRejections.Inc()
	}
	s.requeueWaiters(id)
}

// requeueWaiters re-queues the wait-inputs successors of a node that just
// became terminal without delivering, so a deferred merge can re-check its
// predecessors instead of waiting forever.
func (s *Solution) requeueWaiters(id string) {
	n := s.dsp.nodes[id]
	if n == nil || n.Kind == KindData {
		return
	}
	for _, o := range n.Outputs {
		on, ok := s.dsp.nodes[o]
		if !ok || o == SinkID || !s.waitFlag(on) || s.terminal(o) {
			continue
		}
		if d, ok := s.Dist[o]; ok {
			s.push(d, o)
		}
	}
}

// seeRemoteLinks propagates a committed value into every linked
// dispatcher, once per (dispatcher, data id) per dispatch.
func (s *Solution) seeRemoteLinks(n *Node, value any) {
	if len(n.RemoteLinks) == 0 {
		return
	}
	root := s.root()
	for _, l := range n.RemoteLinks {
		key := linkKey{dsp: l.Dsp, id: l.DataID}
		if root.linkSeen == nil {
			root.linkSeen = map[linkKey]bool{}
		}
		if root.linkSeen[key] {
			continue
		}
		root.linkSeen[key] = true
		_ = l.Dsp.SetDefault(l.DataID, value, 0)
		s.emit("remote_link", n.ID, map[string]any{
			"target":    l.DataID,
			"direction": l.Direction.String(),
		})
	}
}

// recordVisit appends the visit to the root pipe and reports it to the
// observability hooks.
func (s *Solution) recordVisit(id string, d float64, kind Kind) {
	root := s.root()
	root.pipe = append(root.pipe, PipeStep{Sol: s, NodeID: id})
	root.steps++
	s.emit("node_visit", id, map[string]any{"dist": d, "kind": kind.String()})
	if m := s.metrics(); m != nil {
		m.visits.WithLabelValues(kind.String()).Inc()
	}
}

func (s *Solution) emit(msg, nodeID string, meta map[string]any) {
	em := s.emitter()
	if em == nil {
		return
	}
	em.Emit(emit.Event{
		RunID:  s.root().RunID,
		Step:   s.root().steps,
		NodeID: nodeID,
		Msg:    msg,
		Meta:   meta,
	})
}

func (s *Solution) emitter() emit.Emitter { return s.root().dsp.emitter }

func (s *Solution) metrics() *Metrics { return s.root().dsp.metrics }

func (s *Solution) observeFrontier() {
	if m := s.metrics(); m != nil {
		m.frontierDepth.Set(float64(s.fringe.len()))
	}
}

// unreachedTargets returns the requested outputs that were never seen.
func (s *Solution) unreachedTargets() []string {
	return sortedKeys(s.targets)
}

// waitBlocked returns the data nodes that were discovered but never
// committed because their wait-inputs flag kept deferring them. The shrink
// loop promotes these to inputs.
func (s *Solution) waitBlocked() []string {
	var out []string
	for id := range s.Dist {
		n, ok := s.dsp.nodes[id]
		if !ok || n.Kind != KindData || id == SinkID {
			continue
		}
		if s.waitFlag(n) && !s.terminal(id) {
			out = append(out, id)
		}
	}
	return out
}

// removeUnused prunes function and sub-dispatcher nodes whose outputs were
// never consumed from the workflow, repeating until stable.
func (s *Solution) removeUnused() {
	for {
		removed := false
		for _, id := range s.Workflow.Nodes() {
			n, ok := s.dsp.nodes[id]
			if !ok || n.Kind == KindData {
				continue
			}
			if s.Workflow.OutDegree(id) == 0 {
				s.Workflow.RemoveNode(id)
				removed = true
			}
		}
		if !removed {
			return
		}
	}
}
