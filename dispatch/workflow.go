package dispatch

import "sort"

// Workflow is the record of a dispatch: the subgraph of edges actually
// traversed, with the value that flowed along each edge. It is a plain
// directed graph keyed by node id, detached from the Dispatcher that
// produced it.
type Workflow struct {
	nodes map[string]bool
	succ  map[string]map[string]any
	pred  map[string]map[string]any
}

// NewWorkflow returns an empty workflow graph.
func NewWorkflow() *Workflow {
	return &Workflow{
		nodes: map[string]bool{},
		succ:  map[string]map[string]any{},
		pred:  map[string]map[string]any{},
	}
}

// AddNode records a node.
func (w *Workflow) AddNode(id string) { w.nodes[id] = true }

// AddEdge records a traversed edge and the value carried along it.
func (w *Workflow) AddEdge(u, v string, value any) {
	w.nodes[u] = true
	w.nodes[v] = true
	if w.succ[u] == nil {
		w.succ[u] = map[string]any{}
	}
	if w.pred[v] == nil {
		w.pred[v] = map[string]any{}
	}
	w.succ[u][v] = value
	w.pred[v][u] = value
}

// RemoveNode drops a node and its incident edges.
func (w *Workflow) RemoveNode(id string) {
	for v := range w.succ[id] {
		delete(w.pred[v], id)
	}
	for u := range w.pred[id] {
		delete(w.succ[u], id)
	}
	delete(w.succ, id)
	delete(w.pred, id)
	delete(w.nodes, id)
}

// HasNode reports whether id was touched by the dispatch.
func (w *Workflow) HasNode(id string) bool { return w.nodes[id] }

// HasEdge reports whether the edge u→v was traversed.
func (w *Workflow) HasEdge(u, v string) bool {
	_, ok := w.succ[u][v]
	return ok
}

// Value returns the value that flowed along u→v.
func (w *Workflow) Value(u, v string) (any, bool) {
	val, ok := w.succ[u][v]
	return val, ok
}

// Successors returns the successors of id in lexical order.
func (w *Workflow) Successors(id string) []string { return sortedKeys(w.succ[id]) }

// Predecessors returns the predecessors of id in lexical order.
func (w *Workflow) Predecessors(id string) []string { return sortedKeys(w.pred[id]) }

// Nodes returns all touched node ids in lexical order.
func (w *Workflow) Nodes() []string { return sortedKeys(w.nodes) }

// Edges returns all traversed edges sorted by (from, to).
func (w *Workflow) Edges() [][2]string {
	var out [][2]string
	for u, m := range w.succ {
		for v := range m {
			out = append(out, [2]string{u, v})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	return out
}

// OutDegree returns the number of outgoing traversed edges.
func (w *Workflow) OutDegree(id string) int { return len(w.succ[id]) }

// Merge copies every node and edge of other into w.
func (w *Workflow) Merge(other *Workflow) {
	for id := range other.nodes {
		w.AddNode(id)
	}
	for u, m := range other.succ {
		for v, val := range m {
			w.AddEdge(u, v, val)
		}
	}
}

// Copy returns an independent copy of the workflow.
func (w *Workflow) Copy() *Workflow {
	c := NewWorkflow()
	c.Merge(w)
	return c
}
