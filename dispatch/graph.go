package dispatch

import (
	"fmt"
	"reflect"
	"runtime"
	"sort"
	"strings"

	"github.com/gfon/schedula/dispatch/emit"
)

// Dispatcher is a directed graph of data nodes and function nodes, plus the
// default values and settings consumed by Dispatch. Build it with AddData,
// AddFunction and AddDispatcher; it is read-only while a dispatch runs.
type Dispatcher struct {
	// Name labels the dispatcher in events and as the default id when it
	// is nested into a parent.
	Name string

	// Description documents the model.
	Description string

	// Raises controls user-function failures: when true a failing function
	// aborts the dispatch with a *DispatcherError, when false the node is
	// marked errored and the dispatch continues.
	Raises bool

	nodes    map[string]*Node
	succ     map[string]map[string]*Edge
	pred     map[string]map[string]*Edge
	defaults map[string]Default

	stopper *Stopper
	emitter emit.Emitter
	metrics *Metrics

	nextIndex int
	last      *Solution
}

// Option configures a Dispatcher at construction time.
type Option func(*Dispatcher)

// WithName sets the dispatcher's name.
func WithName(name string) Option {
	return func(d *Dispatcher) { d.Name = name }
}

// WithDescription sets the dispatcher's description.
func WithDescription(s string) Option {
	return func(d *Dispatcher) { d.Description = s }
}

// WithRaises makes user-function failures abort the dispatch instead of
// marking the node errored and continuing.
func WithRaises() Option {
	return func(d *Dispatcher) { d.Raises = true }
}

// WithStopper installs a dispatcher-specific cancellation signal in place
// of the process-wide default.
func WithStopper(s *Stopper) Option {
	return func(d *Dispatcher) { d.stopper = s }
}

// WithEmitter installs an observability event receiver. Nil disables
// emission (the default).
func WithEmitter(e emit.Emitter) Option {
	return func(d *Dispatcher) { d.emitter = e }
}

// WithMetrics installs a Prometheus metrics collector updated by every
// dispatch of this dispatcher.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New creates an empty Dispatcher.
//
// Example:
//
//	dsp := dispatch.New(dispatch.WithName("co2-model"))
//	dsp.AddData("a", dispatch.WithDefault(0))
//	dsp.AddFunction("diff", diff, []string{"a", "b"}, []string{"c"})
//	sol, err := dsp.Dispatch(ctx, dispatch.Inputs{"b": 1}, dispatch.WithOutputs("c"))
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		nodes:    map[string]*Node{},
		succ:     map[string]map[string]*Edge{},
		pred:     map[string]map[string]*Edge{},
		defaults: map[string]Default{},
		stopper:  defaultStopper,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Inputs is the value map handed to Dispatch.
type Inputs = map[string]any

// nodeConfig collects the per-node options shared by the builders. Each
// builder reads the fields that apply to its node kind.
type nodeConfig struct {
	defValue    any
	hasDefault  bool
	initialDist float64
	waitInputs  bool
	wildcard    bool
	hasWildcard bool
	merge       Merge
	callback    Callback
	filters     []Filter
	links       []RemoteLink
	domain      Domain
	mapDomain   MapDomain
	weight      float64
	inWeights   map[string]float64
	outWeights  map[string]float64
	description string
	includeDfl  bool
}

// NodeOption configures a node added by AddData, AddFunction or
// AddDispatcher. Options that do not apply to the node kind being added are
// ignored, mirroring the permissive attribute model of the graph.
type NodeOption func(*nodeConfig)

// WithDefault gives a data node a default value, used as an input whenever
// the caller does not supply one.
func WithDefault(v any) NodeOption {
	return func(c *nodeConfig) { c.defValue, c.hasDefault = v, true }
}

// WithInitialDist sets the distance at which the node's default value is
// seeded. Larger distances make the default lose against computed
// estimations that arrive cheaper.
func WithInitialDist(dist float64) NodeOption {
	return func(c *nodeConfig) { c.initialDist = dist }
}

// WaitInputs makes a data node wait for every incoming function estimation
// and combine them with its merge (Bypass of the arrival map when no merge
// is set).
func WaitInputs() NodeOption {
	return func(c *nodeConfig) { c.waitInputs = true }
}

// WithMerge sets the merge invoked on a wait-inputs data node once all
// estimations have arrived.
func WithMerge(m Merge) NodeOption {
	return func(c *nodeConfig) { c.merge = m }
}

// WithCallback attaches a callback invoked with the node's final value
// after it is committed.
func WithCallback(cb Callback) NodeOption {
	return func(c *nodeConfig) { c.callback = cb }
}

// WithFilters attaches value filters, applied in order before the value is
// committed.
func WithFilters(fs ...Filter) NodeOption {
	return func(c *nodeConfig) { c.filters = append(c.filters, fs...) }
}

// AsWildcard marks a data node so that, when it is both an input and a
// requested output, its input value feeds the connected functions without
// being emitted as an output.
func AsWildcard() NodeOption {
	return func(c *nodeConfig) { c.wildcard, c.hasWildcard = true, true }
}

// WithRemoteLinks attaches remote links propagating the node's committed
// value into other dispatchers.
func WithRemoteLinks(links ...RemoteLink) NodeOption {
	return func(c *nodeConfig) { c.links = append(c.links, links...) }
}

// WithDomain guards a function node: when the guard returns false for the
// inputs that reach the node, the node is suppressed for that dispatch.
func WithDomain(dom Domain) NodeOption {
	return func(c *nodeConfig) { c.domain = dom }
}

// WithMapDomain guards a sub-dispatcher node with the parent-side input map.
func WithMapDomain(dom MapDomain) NodeOption {
	return func(c *nodeConfig) { c.mapDomain = dom }
}

// WithWeight sets the node weight added to incoming edge weights when
// computing distance.
func WithWeight(w float64) NodeOption {
	return func(c *nodeConfig) { c.weight = w }
}

// WithInputWeights overrides the weights of the edges from the named input
// data nodes into the node being added.
func WithInputWeights(w map[string]float64) NodeOption {
	return func(c *nodeConfig) { c.inWeights = w }
}

// WithOutputWeights overrides the weights of the edges from the node being
// added to the named output data nodes.
func WithOutputWeights(w map[string]float64) NodeOption {
	return func(c *nodeConfig) { c.outWeights = w }
}

// WithNodeDescription documents the node.
func WithNodeDescription(s string) NodeOption {
	return func(c *nodeConfig) { c.description = s }
}

// IncludeDefaults imports the child dispatcher's defaults into the parent
// when adding a sub-dispatcher node. Imported defaults are removed from the
// child so the first write still wins.
func IncludeDefaults() NodeOption {
	return func(c *nodeConfig) { c.includeDfl = true }
}

// AddData adds a data node and returns its id. An empty id auto-generates
// an unused one. Reserved ids are special-cased: StartID carries no
// default, SinkID waits for all inputs and merges with Bypass, SelfID
// defaults to the dispatcher itself, PlotID attaches the given callback.
//
// Adding an id already bound to a function node fails with ErrKindMismatch.
func (d *Dispatcher) AddData(id string, opts ...NodeOption) (string, error) {
	var cfg nodeConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	switch id {
	case StartID:
		cfg.hasDefault = false
	case SinkID:
		cfg.waitInputs = true
		if cfg.merge == nil {
			cfg.merge = BypassMerge
		}
	case SelfID:
		cfg.defValue, cfg.hasDefault = d, true
	case "":
		id = d.unusedID("unknown")
	}

	if n, ok := d.nodes[id]; ok && n.Kind != KindData {
		return "", fmt.Errorf("add data %q: %w", id, ErrKindMismatch)
	}

	n := &Node{
		ID:          id,
		Kind:        KindData,
		Index:       d.nextIndex,
		WaitInputs:  cfg.waitInputs,
		Wildcard:    cfg.wildcard,
		Merge:       cfg.merge,
		Callback:    cfg.callback,
		Filters:     cfg.filters,
		RemoteLinks: cfg.links,
		Weight:      cfg.weight,
		Description: cfg.description,
	}
	d.nextIndex++
	d.addNode(n)

	if cfg.hasDefault {
		if err := d.SetDefault(id, cfg.defValue, cfg.initialDist); err != nil {
			return "", err
		}
	}
	return id, nil
}

// AddFunction adds a function node and returns its id. An empty id falls
// back to the function's name; either way the id is made unique by
// suffixing "<n>" if taken. Omitted inputs get a synthetic edge from
// StartID; omitted outputs flow into SinkID. Input and output data nodes
// are created implicitly when absent.
func (d *Dispatcher) AddFunction(id string, fn Func, inputs, outputs []string, opts ...NodeOption) (string, error) {
	if fn == nil {
		return "", fmt.Errorf("add function %q: %w", id, ErrMissingFunction)
	}
	var cfg nodeConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if id == "" {
		id = funcName(fn)
	}
	return d.addFunctionNode(&Node{
		Kind:        KindFunction,
		Function:    fn,
		Domain:      cfg.domain,
		Filters:     cfg.filters,
		Weight:      cfg.weight,
		Description: cfg.description,
	}, id, inputs, outputs, cfg.inWeights, cfg.outWeights, 1)
}

// AddDispatcher nests child as a sub-dispatcher node. The inputs map routes
// parent data ids to child data ids, the outputs map routes child data ids
// back to parent data ids; both are set-valued. Remote links are installed
// on the child's referenced data nodes, and IncludeDefaults imports the
// child's defaults up (deleting them from the child).
func (d *Dispatcher) AddDispatcher(id string, child *Dispatcher, inputs, outputs map[string][]string, opts ...NodeOption) (string, error) {
	if child == nil || len(inputs) == 0 || len(outputs) == 0 {
		return "", fmt.Errorf("add dispatcher %q: %w", id, ErrBadIOMap)
	}
	for k, v := range inputs {
		if len(v) == 0 {
			return "", fmt.Errorf("add dispatcher %q: input %q maps to nothing: %w", id, k, ErrBadIOMap)
		}
	}
	parents := map[string]bool{}
	for k, v := range outputs {
		if len(v) == 0 {
			return "", fmt.Errorf("add dispatcher %q: output %q maps to nothing: %w", id, k, ErrBadIOMap)
		}
		for _, p := range v {
			parents[p] = true
		}
	}

	var cfg nodeConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if id == "" {
		id = child.Name
		if id == "" {
			id = "unknown"
		}
	}
	if cfg.description == "" {
		cfg.description = child.Description
	}

	// Input edges of a sub-dispatcher node default to weight zero: entering
	// a nested model costs nothing unless the caller says otherwise.
	inWeights := map[string]float64{}
	for k := range inputs {
		inWeights[k] = 0
	}
	for k, w := range cfg.inWeights {
		inWeights[k] = w
	}

	n := &Node{
		Kind:        KindDispatcher,
		Sub:         child,
		InputsMap:   cloneIOMap(inputs),
		OutputsMap:  cloneIOMap(outputs),
		SubDomain:   cfg.mapDomain,
		Weight:      cfg.weight,
		Description: cfg.description,
	}
	id, err := d.addFunctionNode(n, id, sortedKeys(inputs), sortedKeys(parents), inWeights, cfg.outWeights, 1)
	if err != nil {
		return "", err
	}

	// Install remote links on the child side: parent-facing links on the
	// child ids the inputs map feeds, child-facing links on the child ids
	// the outputs map drains.
	for _, p := range sortedKeys(inputs) {
		for _, c := range inputs[p] {
			if child.HasNode(c) {
				_ = child.SetRemoteLink(c, RemoteLink{Dsp: d, DataID: p, Direction: LinkParent})
			}
		}
	}
	for _, c := range sortedKeys(outputs) {
		if !child.HasNode(c) {
			continue
		}
		for _, p := range outputs[c] {
			_ = child.SetRemoteLink(c, RemoteLink{Dsp: d, DataID: p, Direction: LinkChild})
		}
	}

	if cfg.includeDfl {
		d.importDefaults(id, child, inputs)
	}
	return id, nil
}

// importDefaults moves child defaults up through the inputs map. The child
// copy is deleted so that a value written by the parent is not overwritten
// by a stale child default.
func (d *Dispatcher) importDefaults(id string, child *Dispatcher, inputs map[string][]string) {
	for _, p := range sortedKeys(inputs) {
		cs := inputs[p]
		dfl, ok := child.defaults[cs[0]]
		if !ok {
			continue
		}
		if !d.HasNode(p) {
			if _, err := d.AddData(p); err != nil {
				continue
			}
		}
		_ = d.SetDefault(p, dfl.Value, dfl.InitialDist)
		for _, c := range cs {
			delete(child.defaults, c)
		}
	}
}

// addFunctionNode finishes a function-flavored node: resolves dummy I/O,
// uniquifies the id, materializes missing data nodes, and wires the edges.
func (d *Dispatcher) addFunctionNode(n *Node, id string, inputs, outputs []string, inW, outW map[string]float64, defaultInWeight float64) (string, error) {
	if len(inputs) == 0 {
		if !d.HasNode(StartID) {
			if _, err := d.AddData(StartID); err != nil {
				return "", err
			}
		}
		inputs = []string{StartID}
	}
	if len(outputs) == 0 {
		if !d.HasNode(SinkID) {
			if _, err := d.AddData(SinkID); err != nil {
				return "", err
			}
		}
		outputs = []string{SinkID}
	}

	for _, ids := range [][]string{inputs, outputs} {
		for _, v := range ids {
			if x, ok := d.nodes[v]; ok && x.Kind != KindData {
				return "", fmt.Errorf("add function %q: edge endpoint %q: %w", id, v, ErrKindMismatch)
			}
		}
	}

	id = d.unusedID(id)
	n.ID = id
	n.Index = d.nextIndex
	d.nextIndex++
	n.Inputs = append([]string(nil), inputs...)
	n.Outputs = append([]string(nil), outputs...)
	d.addNode(n)

	for _, v := range inputs {
		if !d.HasNode(v) {
			if _, err := d.AddData(v); err != nil {
				return "", err
			}
		}
		w := defaultInWeight
		if ow, ok := inW[v]; ok {
			w = ow
		}
		d.addEdge(v, id, w)
	}
	for _, v := range outputs {
		if v == SinkID && !d.HasNode(SinkID) {
			if _, err := d.AddData(SinkID); err != nil {
				return "", err
			}
		}
		if !d.HasNode(v) {
			if _, err := d.AddData(v); err != nil {
				return "", err
			}
		}
		w := 1.0
		if ow, ok := outW[v]; ok {
			w = ow
		}
		d.addEdge(id, v, w)
	}
	return id, nil
}

// DataSpec, FuncSpec and SubSpec are the batch forms consumed by
// AddFromLists.
type DataSpec struct {
	ID      string
	Options []NodeOption
}

type FuncSpec struct {
	ID       string
	Function Func
	Inputs   []string
	Outputs  []string
	Options  []NodeOption
}

type SubSpec struct {
	ID      string
	Dsp     *Dispatcher
	Inputs  map[string][]string
	Outputs map[string][]string
	Options []NodeOption
}

// AddFromLists adds multiple data, function and sub-dispatcher nodes in one
// call and returns the three id lists.
func (d *Dispatcher) AddFromLists(data []DataSpec, funcs []FuncSpec, subs []SubSpec) (dataIDs, funcIDs, subIDs []string, err error) {
	for _, s := range data {
		id, err := d.AddData(s.ID, s.Options...)
		if err != nil {
			return nil, nil, nil, err
		}
		dataIDs = append(dataIDs, id)
	}
	for _, s := range funcs {
		id, err := d.AddFunction(s.ID, s.Function, s.Inputs, s.Outputs, s.Options...)
		if err != nil {
			return nil, nil, nil, err
		}
		funcIDs = append(funcIDs, id)
	}
	for _, s := range subs {
		id, err := d.AddDispatcher(s.ID, s.Dsp, s.Inputs, s.Outputs, s.Options...)
		if err != nil {
			return nil, nil, nil, err
		}
		subIDs = append(subIDs, id)
	}
	return dataIDs, funcIDs, subIDs, nil
}

// SetDefault sets the default value of a data node and the distance at
// which it is seeded.
func (d *Dispatcher) SetDefault(id string, value any, initialDist float64) error {
	n, ok := d.nodes[id]
	if !ok || n.Kind != KindData {
		return fmt.Errorf("set default %q: %w", id, ErrNotDataNode)
	}
	d.defaults[id] = Default{Value: value, InitialDist: initialDist}
	return nil
}

// RemoveDefault removes a data node's default value.
func (d *Dispatcher) RemoveDefault(id string) error {
	n, ok := d.nodes[id]
	if !ok || n.Kind != KindData {
		return fmt.Errorf("remove default %q: %w", id, ErrNotDataNode)
	}
	delete(d.defaults, id)
	return nil
}

// Defaults returns the default values keyed by data id.
func (d *Dispatcher) Defaults() map[string]Default {
	out := make(map[string]Default, len(d.defaults))
	for k, v := range d.defaults {
		out[k] = v
	}
	return out
}

// SetRemoteLink appends a remote link to a data node, skipping exact
// duplicates.
func (d *Dispatcher) SetRemoteLink(id string, link RemoteLink) error {
	n, ok := d.nodes[id]
	if !ok {
		if id == SinkID {
			if _, err := d.AddData(SinkID); err != nil {
				return err
			}
			n = d.nodes[id]
		} else {
			return fmt.Errorf("set remote link %q: %w", id, ErrNotDataNode)
		}
	}
	if n.Kind != KindData {
		return fmt.Errorf("set remote link %q: %w", id, ErrNotDataNode)
	}
	for _, l := range n.RemoteLinks {
		if l == link {
			return nil
		}
	}
	n.RemoteLinks = append(n.RemoteLinks, link)
	return nil
}

// ClearRemoteLinks removes a data node's remote links in the given
// direction.
func (d *Dispatcher) ClearRemoteLinks(id string, dir LinkDirection) error {
	n, ok := d.nodes[id]
	if !ok || n.Kind != KindData {
		return fmt.Errorf("clear remote links %q: %w", id, ErrNotDataNode)
	}
	kept := n.RemoteLinks[:0]
	for _, l := range n.RemoteLinks {
		if l.Direction != dir {
			kept = append(kept, l)
		}
	}
	n.RemoteLinks = kept
	if len(n.RemoteLinks) == 0 {
		n.RemoteLinks = nil
	}
	return nil
}

// GetNode returns the node record for id.
func (d *Dispatcher) GetNode(id string) (*Node, bool) {
	n, ok := d.nodes[id]
	return n, ok
}

// HasNode reports whether id exists in the graph.
func (d *Dispatcher) HasNode(id string) bool {
	_, ok := d.nodes[id]
	return ok
}

// Nodes returns all node ids in lexical order.
func (d *Dispatcher) Nodes() []string { return sortedKeys(d.nodes) }

// DataNodes returns the data node records keyed by id.
func (d *Dispatcher) DataNodes() map[string]*Node { return d.nodesOfKind(KindData) }

// FunctionNodes returns the plain function node records keyed by id.
func (d *Dispatcher) FunctionNodes() map[string]*Node { return d.nodesOfKind(KindFunction) }

// SubDspNodes returns the sub-dispatcher node records keyed by id.
func (d *Dispatcher) SubDspNodes() map[string]*Node { return d.nodesOfKind(KindDispatcher) }

func (d *Dispatcher) nodesOfKind(k Kind) map[string]*Node {
	out := map[string]*Node{}
	for id, n := range d.nodes {
		if n.Kind == k {
			out[id] = n
		}
	}
	return out
}

// Successors returns the successor ids of a node, ordered by creation
// index (the canonical fan-out order).
func (d *Dispatcher) Successors(id string) []string { return d.neighbors(d.succ, id) }

// Predecessors returns the predecessor ids of a node, ordered by creation
// index.
func (d *Dispatcher) Predecessors(id string) []string { return d.neighbors(d.pred, id) }

func (d *Dispatcher) neighbors(adj map[string]map[string]*Edge, id string) []string {
	m := adj[id]
	ids := make([]string, 0, len(m))
	for k := range m {
		ids = append(ids, k)
	}
	sort.Slice(ids, func(i, j int) bool { return d.nodes[ids[i]].Index < d.nodes[ids[j]].Index })
	return ids
}

// GetEdge returns the edge record from u to v.
func (d *Dispatcher) GetEdge(u, v string) (*Edge, bool) {
	e, ok := d.succ[u][v]
	return e, ok
}

// LastSolution returns the solution of the most recent Dispatch call, for
// introspection.
func (d *Dispatcher) LastSolution() *Solution { return d.last }

// Stopper returns the cancellation signal used by this dispatcher's
// dispatches when no per-call stopper is given.
func (d *Dispatcher) Stopper() *Stopper { return d.stopper }

// CopyStructure returns an empty Dispatcher with the same settings (name,
// raises, stopper, emitter, metrics) and none of the nodes.
func (d *Dispatcher) CopyStructure(opts ...Option) *Dispatcher {
	c := New(opts...)
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.Description == "" {
		c.Description = d.Description
	}
	c.Raises = d.Raises
	c.stopper = d.stopper
	if c.emitter == nil {
		c.emitter = d.emitter
	}
	if c.metrics == nil {
		c.metrics = d.metrics
	}
	return c
}

// Copy returns a structural clone of the dispatcher: nodes, edges and
// defaults are copied, while function values and nested dispatchers are
// shared with the original.
func (d *Dispatcher) Copy() *Dispatcher {
	c := d.CopyStructure()
	c.nextIndex = d.nextIndex
	for id, n := range d.nodes {
		c.nodes[id] = n.clone()
	}
	for u, m := range d.succ {
		for v, e := range m {
			c.addEdge(u, v, e.Weight)
		}
	}
	for k, v := range d.defaults {
		c.defaults[k] = v
	}
	return c
}

// GetSubDsp returns the sub-dispatcher induced by the given node bunch,
// minus the given edges. Function nodes that lose any input or every
// output are dropped, then isolated nodes are dropped; defaults of the
// retained data nodes are preserved.
func (d *Dispatcher) GetSubDsp(nodeBunch []string, removeEdges [][2]string) *Dispatcher {
	keep := map[string]bool{}
	for _, id := range nodeBunch {
		if d.HasNode(id) {
			keep[id] = true
		}
	}
	drop := map[[2]string]bool{}
	for _, e := range removeEdges {
		drop[e] = true
	}

	sub := d.CopyStructure()
	sub.nextIndex = d.nextIndex
	for id := range keep {
		sub.nodes[id] = d.nodes[id].clone()
	}
	for u := range keep {
		for v, e := range d.succ[u] {
			if keep[v] && !drop[[2]string{u, v}] {
				sub.addEdge(u, v, e.Weight)
			}
		}
	}

	// Function nodes missing any input are unusable in the sub-graph.
	for _, id := range sortedKeys(sub.nodes) {
		n := sub.nodes[id]
		if n.Kind == KindData {
			continue
		}
		complete := true
		for _, in := range n.Inputs {
			if _, ok := sub.pred[id][in]; !ok {
				complete = false
				break
			}
		}
		if !complete {
			sub.removeNode(id)
		}
	}
	// Then function nodes that lost every output.
	for _, id := range sortedKeys(sub.nodes) {
		n := sub.nodes[id]
		if n.Kind != KindData && len(sub.succ[id]) == 0 {
			sub.removeNode(id)
		}
	}
	// Finally isolates.
	for _, id := range sortedKeys(sub.nodes) {
		if len(sub.succ[id]) == 0 && len(sub.pred[id]) == 0 {
			sub.removeNode(id)
		}
	}

	for k, v := range d.defaults {
		if _, ok := sub.nodes[k]; ok {
			sub.defaults[k] = v
		}
	}
	return sub
}

// GetSubDspFromWorkflow returns the sub-dispatcher induced by a
// breadth-first search over the given workflow graph from the source
// nodes. With reverse true the search walks predecessors, which yields the
// subgraph that can contribute to the sources. A nil workflow uses the
// last solution's.
func (d *Dispatcher) GetSubDspFromWorkflow(sources []string, wf *Workflow, reverse bool) *Dispatcher {
	if wf == nil {
		if d.last == nil {
			return d.CopyStructure()
		}
		wf = d.last.Workflow
	}

	sub := d.CopyStructure()
	sub.nextIndex = d.nextIndex
	family := map[string]bool{}
	queue := []string{}

	neighbors := func(id string) []string {
		if reverse {
			return wf.Predecessors(id)
		}
		return wf.Successors(id)
	}

	visit := func(id string) {
		if family[id] || !d.HasNode(id) {
			return
		}
		family[id] = true
		sub.nodes[id] = d.nodes[id].clone()
		if dfl, ok := d.defaults[id]; ok {
			sub.defaults[id] = dfl
		}
		queue = append(queue, id)
	}

	srcs := append([]string(nil), sources...)
	sort.Strings(srcs)
	for _, s := range srcs {
		if wf.HasNode(s) {
			visit(s)
		}
	}

	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]
		for _, child := range neighbors(parent) {
			if !reverse {
				// Forward walks cross a function only once all of its
				// inputs are in the family.
				if n, ok := d.nodes[child]; ok && n.Kind != KindData {
					ready := true
					for _, in := range n.Inputs {
						if !family[in] {
							ready = false
							break
						}
					}
					if !ready {
						continue
					}
				}
			}
			visit(child)
			u, v := parent, child
			if reverse {
				u, v = child, parent
			}
			if e, ok := d.succ[u][v]; ok {
				sub.addEdge(u, v, e.Weight)
			}
		}
		if !reverse {
			// A function just admitted needs all of its input edges, not
			// only the one that admitted it.
			if n, ok := sub.nodes[parent]; ok && n.Kind != KindData {
				for _, in := range n.Inputs {
					if family[in] {
						if e, ok := d.succ[in][parent]; ok {
							sub.addEdge(in, parent, e.Weight)
						}
					}
				}
			}
		}
	}
	return sub
}

func (d *Dispatcher) addNode(n *Node) {
	d.nodes[n.ID] = n
	if d.succ[n.ID] == nil {
		d.succ[n.ID] = map[string]*Edge{}
	}
	if d.pred[n.ID] == nil {
		d.pred[n.ID] = map[string]*Edge{}
	}
}

func (d *Dispatcher) addEdge(u, v string, weight float64) {
	if d.succ[u] == nil {
		d.succ[u] = map[string]*Edge{}
	}
	if d.pred[v] == nil {
		d.pred[v] = map[string]*Edge{}
	}
	e := &Edge{Weight: weight}
	d.succ[u][v] = e
	d.pred[v][u] = e
}

func (d *Dispatcher) removeNode(id string) {
	for v := range d.succ[id] {
		delete(d.pred[v], id)
	}
	for u := range d.pred[id] {
		delete(d.succ[u], id)
	}
	delete(d.succ, id)
	delete(d.pred, id)
	delete(d.nodes, id)
	delete(d.defaults, id)
}

// edgeLength is the cost of traversing an edge: its weight plus the
// destination node's weight.
func edgeLength(e *Edge, dst *Node) float64 {
	return e.Weight + dst.Weight
}

// unusedID returns guess if free, otherwise guess suffixed with the first
// free "<n>".
func (d *Dispatcher) unusedID(guess string) string {
	if guess == "" {
		guess = "unknown"
	}
	if !d.HasNode(guess) {
		return guess
	}
	for i := 0; ; i++ {
		id := fmt.Sprintf("%s<%d>", guess, i)
		if !d.HasNode(id) {
			return id
		}
	}
}

// funcName derives a node id from the function's symbol name, trimming the
// package path.
func funcName(fn Func) string {
	name := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()).Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, "."); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(name, "-fm")
	if name == "" {
		return "unknown"
	}
	return name
}
