package dispatch

import "context"

// unionGraphs accumulates the workflows of repeated no-call dispatches,
// one graph per dispatcher scope (the root plus one per sub-dispatcher
// node, recursively).
type unionGraphs struct {
	wf  *Workflow
	sub map[string]*unionGraphs
}

func newUnionGraphs() *unionGraphs {
	return &unionGraphs{wf: NewWorkflow(), sub: map[string]*unionGraphs{}}
}

// merge folds a solution's workflow (and its sub-solutions', recursively)
// into the union.
func (u *unionGraphs) merge(sol *Solution) {
	u.wf.Merge(sol.Workflow)
	for _, id := range sortedKeys(sol.Sub) {
		cu, ok := u.sub[id]
		if !ok {
			cu = newUnionGraphs()
			u.sub[id] = cu
		}
		cu.merge(sol.Sub[id])
	}
}

// ShrinkDsp returns a reduced dispatcher equivalent to d for the given
// input and output sets: only the nodes reachable forward from the inputs
// and backward from the outputs survive, and nested dispatchers are shrunk
// recursively with their induced I/O.
//
// The reduction dispatches structure only (no user functions run). Wait
// flags are first disabled globally to chart every path, then re-enabled
// and iteratively relaxed: a data node that stays blocked on missing
// estimations is promoted to an input and the charting repeats until the
// picture is stable.
//
// With no inputs the reduction is the backward-reachable subgraph of the
// outputs; with neither, an empty dispatcher with the same settings.
func (d *Dispatcher) ShrinkDsp(inputs, outputs []string, opts ...DispatchOption) *Dispatcher {
	cfg := dispatchConfig{wildcard: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.outputs = append([]string(nil), outputs...)
	cfg.noCall = true
	cfg.stopper = nil

	var union *unionGraphs
	if len(inputs) > 0 {
		union = newUnionGraphs()
		in := stringSet(inputs)

		// Chart everything reachable with waiting disabled.
		first := cfg
		first.waitIn = getWaitIn(d, false, true)
		first.rmUnused = true
		o := d.dispatchRaw(seedInputs(in), first)
		union.merge(o)

		// Later passes start from the distances the first pass settled on.
		dists := map[string]float64{}
		for k, v := range o.Dist {
			dists[k] = v
		}
		for k, v := range cfg.inputDists {
			dists[k] = v
		}

		// Re-enable waiting and iterate: blocked nodes become inputs.
		wait := getWaitIn(d, true, true)
		for {
			next := cfg
			next.waitIn = wait
			next.inputDists = dists
			o = d.dispatchRaw(seedInputs(in), next)
			union.merge(o)

			grew := false
			for _, id := range o.waitBlocked() {
				wait.flags[id] = false
				if !in[id] {
					in[id] = true
					grew = true
				}
			}
			if !grew {
				break
			}
		}
		if len(outputs) == 0 {
			outputs = o.Order()
		}
	} else if len(outputs) == 0 {
		return d.CopyStructure()
	}

	return d.getDspFromBFS(outputs, union)
}

func seedInputs(in map[string]bool) map[string]any {
	m := make(map[string]any, len(in))
	for id := range in {
		m[id] = nil
	}
	return m
}

// dispatchRaw runs a structure-only dispatch without touching the last
// solution or wrapping unreachable targets as errors.
func (d *Dispatcher) dispatchRaw(inputs map[string]any, cfg dispatchConfig) *Solution {
	sol := newSolution(d, inputs, cfg)
	_ = sol.run(context.Background())
	if cfg.rmUnused {
		sol.removeUnused()
	}
	return sol
}

// getDspFromBFS builds the backward-reachable sub-dispatcher of the given
// outputs over the union workflow (the full graph when union is nil), then
// shrinks every retained sub-dispatcher node against its induced I/O.
func (d *Dispatcher) getDspFromBFS(outputs []string, union *unionGraphs) *Dispatcher {
	g := d.asWorkflow()
	if union != nil {
		g = union.wf
	}
	sub := d.GetSubDspFromWorkflow(outputs, g, true)

	for _, id := range sortedKeys(sub.nodes) {
		n := sub.nodes[id]
		if n.Kind != KindDispatcher {
			continue
		}

		// Child outputs induced by the parent successors that survived.
		kept := sub.succ[id]
		childOuts := map[string]bool{}
		for _, c := range sortedKeys(n.OutputsMap) {
			for _, p := range n.OutputsMap[c] {
				if _, ok := kept[p]; ok {
					childOuts[c] = true
					break
				}
			}
		}
		// A guarded child keeps its inputs alive so the domain stays
		// evaluable.
		if n.SubDomain != nil {
			for _, cs := range n.InputsMap {
				for _, c := range cs {
					childOuts[c] = true
				}
			}
		}

		var childUnion *unionGraphs
		if union != nil {
			childUnion = union.sub[id]
		}
		newChild := n.Sub.getDspFromBFS(sortedKeys(childOuts), childUnion)
		rewriteRemoteLinks(newChild, d, sub)
		n.Sub = newChild

		// Resync the I/O maps with what survived on both sides.
		for _, p := range sortedKeys(n.InputsMap) {
			cs := n.InputsMap[p]
			var still []string
			for _, c := range cs {
				if newChild.HasNode(c) {
					still = append(still, c)
				}
			}
			if len(still) == 0 {
				delete(n.InputsMap, p)
			} else {
				n.InputsMap[p] = still
			}
		}
		for _, c := range sortedKeys(n.OutputsMap) {
			if !newChild.HasNode(c) {
				delete(n.OutputsMap, c)
			}
		}
		n.Inputs = sortedKeys(n.InputsMap)
		parents := map[string]bool{}
		for _, ps := range n.OutputsMap {
			for _, p := range ps {
				parents[p] = true
			}
		}
		n.Outputs = sortedKeys(parents)

		// Drop parent edges that no longer map through the child.
		for u := range sub.pred[id] {
			if _, ok := n.InputsMap[u]; !ok {
				delete(sub.pred[id], u)
				delete(sub.succ[u], id)
			}
		}
		for v := range sub.succ[id] {
			if !parents[v] {
				delete(sub.succ[id], v)
				delete(sub.pred[v], id)
			}
		}
	}
	return sub
}

// rewriteRemoteLinks retargets a shrunk child's links: links into the
// original parent dispatcher now point into the shrunk parent; links whose
// target disappeared are dropped.
func rewriteRemoteLinks(child *Dispatcher, origParent, shrunkParent *Dispatcher) {
	for _, id := range sortedKeys(child.nodes) {
		n := child.nodes[id]
		if n.Kind != KindData || len(n.RemoteLinks) == 0 {
			continue
		}
		kept := n.RemoteLinks[:0]
		for _, l := range n.RemoteLinks {
			if l.Dsp == origParent {
				if !shrunkParent.HasNode(l.DataID) {
					continue
				}
				l.Dsp = shrunkParent
			}
			kept = append(kept, l)
		}
		n.RemoteLinks = kept
		if len(n.RemoteLinks) == 0 {
			n.RemoteLinks = nil
		}
	}
}

// asWorkflow views the dispatcher map itself as a workflow graph.
func (d *Dispatcher) asWorkflow() *Workflow {
	w := NewWorkflow()
	for id := range d.nodes {
		w.AddNode(id)
	}
	for u, m := range d.succ {
		for v := range m {
			w.AddEdge(u, v, nil)
		}
	}
	return w
}

// getWaitIn computes the wait-flag override used by ShrinkDsp: the real
// wait-inputs data nodes (sink excluded), plus, with allDomain, the
// outputs of every guarded function and the parent-side outputs of nested
// dispatchers that are guarded or whose child-side output is itself
// flagged inside the child, so that alternative estimation paths are all
// charted.
func getWaitIn(d *Dispatcher, flag, allDomain bool) *waitSpec {
	w := &waitSpec{flags: map[string]bool{}, sub: map[string]*waitSpec{}}
	for id, n := range d.nodes {
		if n.Kind == KindData && id != SinkID && n.WaitInputs {
			w.flags[id] = flag
		}
	}
	if !allDomain {
		return w
	}
	for id, n := range d.nodes {
		switch n.Kind {
		case KindFunction:
			if n.Domain != nil {
				for _, o := range n.Outputs {
					w.flags[o] = flag
				}
			}
		case KindDispatcher:
			cw := getWaitIn(n.Sub, flag, allDomain)
			w.sub[id] = cw
			if n.SubDomain != nil {
				for _, ps := range n.OutputsMap {
					for _, p := range ps {
						w.flags[p] = flag
					}
				}
			} else {
				for c, ps := range n.OutputsMap {
					if _, ok := cw.flags[c]; ok {
						for _, p := range ps {
							w.flags[p] = flag
						}
					}
				}
			}
		}
	}
	return w
}
