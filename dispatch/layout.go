package dispatch

import "encoding/json"

// Layout is the serializable structure of a dispatcher: nodes, edges and
// defaults, with nested dispatchers inlined. Function values are not
// serializable and are omitted; a layout documents and persists the shape
// of a model, it does not rebuild a runnable one.
type Layout struct {
	Name        string                   `json:"name,omitempty"`
	Description string                   `json:"description,omitempty"`
	Nodes       []LayoutNode             `json:"nodes"`
	Edges       []LayoutEdge             `json:"edges"`
	Defaults    map[string]LayoutDefault `json:"defaults,omitempty"`
}

// LayoutNode is one node of a serialized layout.
type LayoutNode struct {
	ID          string              `json:"id"`
	Kind        string              `json:"kind"`
	Index       int                 `json:"index"`
	Weight      float64             `json:"weight,omitempty"`
	WaitInputs  bool                `json:"wait_inputs,omitempty"`
	Wildcard    bool                `json:"wildcard,omitempty"`
	Inputs      []string            `json:"inputs,omitempty"`
	Outputs     []string            `json:"outputs,omitempty"`
	InputsMap   map[string][]string `json:"inputs_map,omitempty"`
	OutputsMap  map[string][]string `json:"outputs_map,omitempty"`
	Description string              `json:"description,omitempty"`
	Sub         *Layout             `json:"sub,omitempty"`
}

// LayoutEdge is one edge of a serialized layout.
type LayoutEdge struct {
	From   string  `json:"from"`
	To     string  `json:"to"`
	Weight float64 `json:"weight"`
}

// LayoutDefault is a serialized default value. Values that do not survive
// JSON are rendered as their string form.
type LayoutDefault struct {
	Value       any     `json:"value"`
	InitialDist float64 `json:"initial_dist,omitempty"`
}

// Layout captures the dispatcher's structure.
func (d *Dispatcher) Layout() Layout {
	l := Layout{
		Name:        d.Name,
		Description: d.Description,
		Defaults:    map[string]LayoutDefault{},
	}
	for _, id := range d.Nodes() {
		n := d.nodes[id]
		ln := LayoutNode{
			ID:          id,
			Kind:        n.Kind.String(),
			Index:       n.Index,
			Weight:      n.Weight,
			WaitInputs:  n.WaitInputs,
			Wildcard:    n.Wildcard,
			Description: n.Description,
		}
		if n.Kind != KindData {
			ln.Inputs = append([]string(nil), n.Inputs...)
			ln.Outputs = append([]string(nil), n.Outputs...)
		}
		if n.Kind == KindDispatcher {
			ln.InputsMap = cloneIOMap(n.InputsMap)
			ln.OutputsMap = cloneIOMap(n.OutputsMap)
			sub := n.Sub.Layout()
			ln.Sub = &sub
		}
		l.Nodes = append(l.Nodes, ln)
	}
	for _, u := range d.Nodes() {
		for _, v := range d.neighbors(d.succ, u) {
			l.Edges = append(l.Edges, LayoutEdge{From: u, To: v, Weight: d.succ[u][v].Weight})
		}
	}
	for _, id := range sortedKeys(d.defaults) {
		dfl := d.defaults[id]
		v := dfl.Value
		if !jsonable(v) {
			v = stringify(v)
		}
		l.Defaults[id] = LayoutDefault{Value: v, InitialDist: dfl.InitialDist}
	}
	return l
}

// MarshalLayout serializes the dispatcher's structure and defaults to
// JSON.
func (d *Dispatcher) MarshalLayout() ([]byte, error) {
	return json.Marshal(d.Layout())
}

func jsonable(v any) bool {
	_, err := json.Marshal(v)
	return err == nil
}

func stringify(v any) string {
	type stringer interface{ String() string }
	if s, ok := v.(stringer); ok {
		return s.String()
	}
	return "<opaque>"
}
