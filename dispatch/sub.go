package dispatch

import (
	"context"
	"fmt"
	"strings"
)

// OutputType selects the shape of a SubDispatch result.
type OutputType int

const (
	// OutputAll returns the whole Solution.
	OutputAll OutputType = iota
	// OutputList returns the requested outputs as a slice in declaration
	// order.
	OutputList
	// OutputDict returns the requested outputs as a map.
	OutputDict
	// OutputValues returns the single value when one output is requested,
	// otherwise a slice.
	OutputValues
)

// SubDispatch adapts a Dispatcher to be called like a function: input maps
// are combined, the dispatch runs, and the result is shaped per the
// configured OutputType. Install its Func as a function node to nest a
// model without I/O remapping.
type SubDispatch struct {
	dsp        *Dispatcher
	outputs    []string
	outputType OutputType
	opts       []DispatchOption
	last       *Solution
}

// NewSubDispatch wraps dsp. The outputs become the dispatch targets; opts
// are applied to every call (cutoff, wildcard, shrink...).
func NewSubDispatch(dsp *Dispatcher, outputs []string, outputType OutputType, opts ...DispatchOption) *SubDispatch {
	return &SubDispatch{
		dsp:        dsp,
		outputs:    append([]string(nil), outputs...),
		outputType: outputType,
		opts:       opts,
	}
}

// Call combines the input maps, dispatches, and shapes the result. Missing
// requested outputs surface as a *DispatcherError carrying the partial
// solution.
func (sd *SubDispatch) Call(ctx context.Context, inputs ...map[string]any) (any, error) {
	in := CombineMaps(inputs...)
	opts := append(append([]DispatchOption(nil), sd.opts...), WithOutputs(sd.outputs...))
	sol, err := sd.dsp.Dispatch(ctx, in, opts...)
	sd.last = sol
	if err != nil {
		if _, ok := err.(*DispatcherError); ok && sd.outputType == OutputAll {
			// The whole-solution shape tolerates partial results.
			return sol, nil
		}
		return nil, err
	}
	return sd.shape(sol)
}

func (sd *SubDispatch) shape(sol *Solution) (any, error) {
	switch sd.outputType {
	case OutputAll:
		return sol, nil
	case OutputList:
		out := make([]any, len(sd.outputs))
		for i, id := range sd.outputs {
			v, ok := sol.Value(id)
			if !ok {
				return nil, sd.missing(sol)
			}
			out[i] = v
		}
		return out, nil
	case OutputDict:
		out, err := Selector(sd.outputs, sol.values, false)
		if err != nil {
			return nil, sd.missing(sol)
		}
		return out, nil
	default: // OutputValues
		vals := make([]any, 0, len(sd.outputs))
		for _, id := range sd.outputs {
			v, ok := sol.Value(id)
			if !ok {
				return nil, sd.missing(sol)
			}
			vals = append(vals, v)
		}
		if len(vals) == 1 {
			return vals[0], nil
		}
		return vals, nil
	}
}

func (sd *SubDispatch) missing(sol *Solution) error {
	var missed []string
	for _, id := range sd.outputs {
		if !sol.Has(id) {
			missed = append(missed, id)
		}
	}
	return &DispatcherError{
		Sol: sol,
		Msg: fmt.Sprintf("unreachable output-targets: %s", strings.Join(missed, ", ")),
	}
}

// Func exposes the sub-dispatch in the node function contract: every
// argument must be a map[string]any of inputs; they are combined left to
// right.
func (sd *SubDispatch) Func(args ...any) (any, error) {
	maps := make([]map[string]any, 0, len(args))
	for i, a := range args {
		m, ok := a.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("sub-dispatch %q: argument %d is %T, want map[string]any", sd.dsp.Name, i, a)
		}
		maps = append(maps, m)
	}
	return sd.Call(context.Background(), maps...)
}

// LastSolution returns the solution of the most recent call.
func (sd *SubDispatch) LastSolution() *Solution { return sd.last }

// SubDispatchFunction freezes a dispatcher into a positional function over
// a fixed input list and a fixed output list. The graph is pre-shrunk at
// construction; calls map the positional arguments onto the input ids,
// dispatch, and return the outputs in declared order (a single output
// comes back as the bare value).
type SubDispatchFunction struct {
	SubDispatch

	// Name is the function id the frozen dispatcher answers to.
	Name string

	inputs []string
}

// NewSubDispatchFunction shrinks dsp to the chosen I/O and freezes it.
// Outputs that do not survive the shrink are a construction error.
func NewSubDispatchFunction(dsp *Dispatcher, name string, inputs, outputs []string, opts ...DispatchOption) (*SubDispatchFunction, error) {
	shrunk := dsp.ShrinkDsp(inputs, outputs, opts...)
	if err := checkOutputs(shrunk, name, outputs); err != nil {
		return nil, err
	}
	shrunk.Name = name
	return &SubDispatchFunction{
		SubDispatch: SubDispatch{
			dsp:        shrunk,
			outputs:    append([]string(nil), outputs...),
			outputType: OutputValues,
			opts:       append(append([]DispatchOption(nil), opts...), WithWildcard()),
		},
		Name:   name,
		inputs: append([]string(nil), inputs...),
	}, nil
}

func checkOutputs(dsp *Dispatcher, name string, outputs []string) error {
	var missed []string
	for _, id := range outputs {
		if !dsp.HasNode(id) {
			missed = append(missed, id)
		}
	}
	if len(missed) > 0 {
		available := sortedKeys(dsp.DataNodes())
		return fmt.Errorf("%s: unreachable output-targets: %s (available: %s)",
			name, strings.Join(missed, ", "), strings.Join(available, ", "))
	}
	return nil
}

// Inputs returns the frozen positional input ids.
func (f *SubDispatchFunction) Inputs() []string {
	return append([]string(nil), f.inputs...)
}

// Dsp returns the pre-shrunk dispatcher behind the function.
func (f *SubDispatchFunction) Dsp() *Dispatcher { return f.dsp }

// Call maps the positional arguments onto the input ids and dispatches.
func (f *SubDispatchFunction) Call(ctx context.Context, args ...any) (any, error) {
	return f.CallKW(ctx, args, nil)
}

// CallKW is Call with additional keyword inputs. A keyword that repeats a
// positional argument or names an unknown data node is rejected.
func (f *SubDispatchFunction) CallKW(ctx context.Context, args []any, kw map[string]any) (any, error) {
	inputs := MapList(f.inputs, args...)
	for _, k := range sortedKeys(kw) {
		if _, dup := inputs[k]; dup {
			return nil, fmt.Errorf("%s: got multiple values for argument %q", f.Name, k)
		}
		if !f.dsp.HasNode(k) {
			return nil, fmt.Errorf("%s: got an unexpected keyword argument %q", f.Name, k)
		}
		inputs[k] = kw[k]
	}
	return f.SubDispatch.Call(ctx, inputs)
}

// Func exposes the frozen dispatcher in the node function contract, so it
// can be added to another dispatcher with AddFunction.
func (f *SubDispatchFunction) Func(args ...any) (any, error) {
	return f.Call(context.Background(), args...)
}

// SubDispatchPipe freezes a dispatcher into a positional function like
// SubDispatchFunction, but pre-computes the visit order once and replays
// it on every call instead of searching again. Calls are faster and fully
// predictable, at the price of an identical workflow structure every time.
type SubDispatchPipe struct {
	// Name is the function id the frozen pipe answers to.
	Name string

	dsp      *Dispatcher
	inputs   []string
	outputs  []string
	template *Solution
	steps    []PipeStep
	stopper  *Stopper
}

// NewSubDispatchPipe charts dsp with a structure-only dispatch, shrinks it
// to what the chart used, and records the visit order for replay. Domain
// guards are not evaluated while charting; they run normally on Call.
func NewSubDispatchPipe(dsp *Dispatcher, name string, inputs, outputs []string, opts ...DispatchOption) (*SubDispatchPipe, error) {
	cfg := dispatchConfig{wildcard: true, noCall: true, noDomain: true, rmUnused: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.outputs = append([]string(nil), outputs...)
	cfg.stopper = nil

	chart := dsp.dispatchRaw(seedInputs(stringSet(inputs)), cfg)
	union := newUnionGraphs()
	union.merge(chart)
	outs := outputs
	if len(outs) == 0 {
		outs = chart.Order()
	}
	shrunk := dsp.getDspFromBFS(outs, union)
	if err := checkOutputs(shrunk, name, outputs); err != nil {
		return nil, err
	}
	shrunk.Name = name

	tcfg := cfg
	tcfg.rmUnused = false
	template := shrunk.dispatchRaw(seedInputs(stringSet(inputs)), tcfg)
	return &SubDispatchPipe{
		Name:     name,
		dsp:      shrunk,
		inputs:   append([]string(nil), inputs...),
		outputs:  append([]string(nil), outputs...),
		template: template,
		steps:    template.Pipe(),
		stopper:  dsp.stopper,
	}, nil
}

// Dsp returns the pre-shrunk dispatcher behind the pipe.
func (p *SubDispatchPipe) Dsp() *Dispatcher { return p.dsp }

// Steps returns the length of the recorded pipe.
func (p *SubDispatchPipe) Steps() int { return len(p.steps) }

// Call seeds the positional arguments and replays the recorded visit
// order, checking the stopper before each step. A step that cannot run
// (missing estimation, rejected domain, failed function with raises
// disabled) ends the replay; missing outputs then surface as a
// *DispatcherError.
func (p *SubDispatchPipe) Call(ctx context.Context, args ...any) (any, error) {
	clones := map[*Solution]*Solution{}
	root := p.cloneSolution(p.template, nil, clones)
	targets := stringSet(p.template.cfg.outputs)
	seeded := MapList(p.inputs, args...)
	for _, id := range p.inputs {
		v, ok := seeded[id]
		if !ok {
			continue
		}
		n, found := root.dsp.nodes[id]
		if !found {
			continue
		}
		if targets[id] && (n.Wildcard || root.cfg.wildcard) {
			// Wildcard inputs live under their virtual id so the node's
			// own slot stays free for the recomputed value.
			root.pending[wildcardID(id)] = v
		} else {
			root.pending[id] = v
			delete(root.defaultSeed, id)
		}
	}

	for _, step := range p.steps {
		if p.stopper.IsSet() {
			return nil, &DispatcherAbort{Sol: root, Msg: "stop requested"}
		}
		if ctx != nil {
			select {
			case <-ctx.Done():
				return nil, &DispatcherAbort{Sol: root, Msg: ctx.Err().Error()}
			default:
			}
		}
		sol := clones[step.Sol]
		if sol == nil {
			continue
		}
		ok, err := sol.replayStep(step.NodeID)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
	}

	vals := make([]any, 0, len(p.outputs))
	for _, id := range p.outputs {
		v, ok := root.Value(id)
		if !ok {
			var missed []string
			for _, o := range p.outputs {
				if !root.Has(o) {
					missed = append(missed, o)
				}
			}
			return nil, &DispatcherError{
				Sol: root,
				Msg: fmt.Sprintf("unreachable output-targets: %s", strings.Join(missed, ", ")),
			}
		}
		vals = append(vals, v)
	}
	if len(vals) == 1 {
		return vals[0], nil
	}
	return vals, nil
}

// Func exposes the pipe in the node function contract.
func (p *SubDispatchPipe) Func(args ...any) (any, error) {
	return p.Call(context.Background(), args...)
}

// cloneSolution copies the skeleton of a recorded solution (and,
// recursively, of its sub-solutions) for one replay: same graph and
// settings, fresh run state seeded with the graph defaults.
func (p *SubDispatchPipe) cloneSolution(orig, parent *Solution, clones map[*Solution]*Solution) *Solution {
	c := &Solution{
		RunID:    orig.RunID,
		dsp:      orig.dsp,
		parent:   parent,
		nodeID:   orig.nodeID,
		cfg:      orig.cfg,
		stopper:  p.stopper,
		counter:  new(int),
		linkSeen: map[linkKey]bool{},
	}
	c.cfg.noCall = false
	c.cfg.noDomain = false
	c.reset()
	for _, id := range sortedKeys(c.dsp.defaults) {
		// A default seed loses to a function estimation that the recorded
		// order fires before the node's own step.
		c.pending[id] = c.dsp.defaults[id].Value
		c.defaultSeed[id] = true
	}
	clones[orig] = c
	for _, id := range sortedKeys(orig.Sub) {
		c.Sub[id] = p.cloneSolution(orig.Sub[id], c, clones)
	}
	return c
}

// replayStep re-runs one recorded visit against the current values. It
// reports false when the step cannot run, which ends the replay.
func (s *Solution) replayStep(id string) (bool, error) {
	if id == StartID {
		s.visited[StartID] = true
		s.argValues[StartID] = nil
		return true, nil
	}
	if strings.HasPrefix(id, "<wildcard>") {
		real := strings.TrimPrefix(id, "<wildcard>")
		v, ok := s.pending[id]
		if !ok {
			return false, nil
		}
		if _, found := s.dsp.nodes[real]; !found {
			return false, nil
		}
		s.visited[id] = true
		s.argValues[real] = v
		s.routeToChildren(real, v)
		return true, nil
	}
	n, ok := s.dsp.nodes[id]
	if !ok {
		return false, nil
	}
	switch n.Kind {
	case KindData:
		return s.replayData(id, n)
	case KindDispatcher:
		return s.replaySub(id, n)
	default:
		return s.replayFunction(id, n)
	}
}

func (s *Solution) replayData(id string, n *Node) (bool, error) {
	if id == SinkID {
		return true, nil
	}
	var value any
	if n.WaitInputs {
		est := s.arrivals[id]
		if est == nil {
			est = map[string]any{}
		}
		if pv, ok := s.pending[id]; ok {
			est[StartID] = pv
		}
		if len(est) == 0 {
			return false, nil
		}
		merge := n.Merge
		if merge == nil {
			merge = BypassMerge
		}
		var err error
		value, err = merge(est)
		if err != nil {
			return s.replayFailure(id, err)
		}
	} else {
		v, ok := s.pending[id]
		if !ok {
			return false, nil
		}
		value = v
	}

	for _, f := range n.Filters {
		var err error
		value, err = f(value)
		if err != nil {
			return s.replayFailure(id, err)
		}
	}
	if n.Callback != nil {
		n.Callback(value)
	}

	s.visited[id] = true
	s.values[id] = value
	s.argValues[id] = value
	s.order = append(s.order, id)
	s.seeRemoteLinks(n, value)

	// Feed the value across scope boundaries: down into sub-dispatcher
	// successors, and up through the parent's output map.
	s.routeToChildren(id, value)
	if s.parent != nil {
		pn := s.parent.dsp.nodes[s.nodeID]
		if pn != nil {
			for _, p := range pn.OutputsMap[id] {
				s.parent.replayDeliver(p, value)
			}
		}
	}
	return true, nil
}

// replayDeliver hands a replayed estimation to a non-wait pending slot:
// the first estimation wins, except over a default seed.
func (s *Solution) replayDeliver(id string, value any) {
	if _, taken := s.pending[id]; !taken || s.defaultSeed[id] {
		s.pending[id] = value
		delete(s.defaultSeed, id)
	}
}

// routeToChildren hands a committed value to the sub-dispatcher successors
// that take it as a parent-side input.
func (s *Solution) routeToChildren(id string, value any) {
	for _, f := range s.dsp.Successors(id) {
		fn := s.dsp.nodes[f]
		if fn.Kind != KindDispatcher {
			continue
		}
		cs, ok := s.Sub[f]
		if !ok {
			continue
		}
		for _, c := range fn.InputsMap[id] {
			cs.replayDeliver(c, value)
		}
	}
}

func (s *Solution) replayFunction(id string, n *Node) (bool, error) {
	args, ready := s.gatherArgs(n)
	if !ready {
		return false, nil
	}
	if n.Domain != nil && !n.Domain(args...) {
		s.suppressed[id] = true
		return false, nil
	}
	res, err := n.Function(args...)
	if err != nil {
		return s.replayFailure(id, err)
	}
	for _, f := range n.Filters {
		res, err = f(res)
		if err != nil {
			return s.replayFailure(id, err)
		}
	}
	vals, err := alignResults(res, n.Outputs, false)
	if err != nil {
		return s.replayFailure(id, err)
	}
	s.visited[id] = true
	for i, o := range n.Outputs {
		on, ok := s.dsp.nodes[o]
		if !ok || o == SinkID {
			continue
		}
		if on.WaitInputs {
			if s.arrivals[o] == nil {
				s.arrivals[o] = map[string]any{}
			}
			s.arrivals[o][id] = vals[i]
		} else {
			s.replayDeliver(o, vals[i])
		}
	}
	return true, nil
}

func (s *Solution) replaySub(id string, n *Node) (bool, error) {
	pv := map[string]any{}
	for _, in := range n.Inputs {
		v, ok := s.argValues[in]
		if !ok {
			return false, nil
		}
		if in == StartID {
			continue
		}
		pv[in] = v
	}
	if n.SubDomain != nil && !n.SubDomain(pv) {
		s.suppressed[id] = true
		return false, nil
	}
	s.visited[id] = true
	return true, nil
}

func (s *Solution) replayFailure(id string, err error) (bool, error) {
	if s.dsp.Raises {
		return false, &DispatcherError{Sol: s.root(), NodeID: id, Msg: err.Error(), Cause: err}
	}
	s.Errored[id] = err
	return false, nil
}
