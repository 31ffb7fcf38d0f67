// Package netgraph assembles Layer nodes into a directed acyclic graph,
// schedules forward/backward execution in topological order, and owns
// parameter (de)serialization for a whole network.
package netgraph

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/milosgajdos83/cn24/cnerr"
	"github.com/milosgajdos83/cn24/layer"
	"github.com/milosgajdos83/cn24/tensor"
)

// ParMagic identifies a parameter-serialization stream, matching the
// original C++ implementation's "PAR" file marker.
const ParMagic uint64 = 0x00524150 // "PAR\0" little-endian, matching spec.md's u64 model-file magic

// InputConnection binds one of a node's inputs to another node's output
// buffer. BackpropEnabled false makes this edge a gradient barrier: the
// upstream node's delta is never written through this connection.
type InputConnection struct {
	SourceNode      string
	OutputIndex     int
	BackpropEnabled bool
}

// Node is a single NetGraph vertex: a name, the Layer it runs, and the
// connections describing where its inputs come from.
type Node struct {
	Name     string
	Layer    layer.Layer
	Inputs   []InputConnection
	IsInput  bool
	IsOutput bool

	outputs []*tensor.CombinedTensor
}

// Outputs returns the node's allocated output buffers, valid after
// Initialize.
func (n *Node) Outputs() []*tensor.CombinedTensor { return n.outputs }

// NetGraph is a mutable DAG of Nodes plus a cached topological order.
type NetGraph struct {
	nodes       map[string]*Node
	insertOrder []string // AddNode insertion sequence, topoSort's DFS root list
	order       []string
	ordered     bool

	isTesting bool
}

func New() *NetGraph {
	return &NetGraph{nodes: make(map[string]*Node)}
}

// AddNode appends a node. The topological order is invalidated and
// recomputed lazily on next Initialize/FeedForward/etc.
func (g *NetGraph) AddNode(n *Node) error {
	if _, exists := g.nodes[n.Name]; exists {
		return fmt.Errorf("netgraph: duplicate node name %q: %w", n.Name, cnerr.ErrWiring)
	}
	g.nodes[n.Name] = n
	g.insertOrder = append(g.insertOrder, n.Name)
	g.ordered = false
	return nil
}

func (g *NetGraph) Node(name string) (*Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// topoSort computes a stable topological order: nodes are visited in the
// order they were inserted (AddNode's call sequence), and a node is only
// emitted once all of its upstream dependencies have been emitted (DFS
// post-order). Rooting the traversal on insertion order rather than name
// order means that within one topological layer, nodes execute in the
// order they were added to the graph.
func (g *NetGraph) topoSort() ([]string, error) {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(g.nodes))
	order := make([]string, 0, len(g.nodes))

	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case black:
			return nil
		case gray:
			return fmt.Errorf("netgraph: cycle detected at node %q: %w", name, cnerr.ErrWiring)
		}
		color[name] = gray
		node, ok := g.nodes[name]
		if !ok {
			return fmt.Errorf("netgraph: unresolved node reference %q: %w", name, cnerr.ErrWiring)
		}
		for _, in := range node.Inputs {
			if err := visit(in.SourceNode); err != nil {
				return err
			}
		}
		color[name] = black
		order = append(order, name)
		return nil
	}

	for _, name := range g.insertOrder {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// sortStrings is a tiny insertion sort — avoids pulling in "sort" for a
// handful of node names and keeps iteration order fully deterministic
// independent of map seeding.
func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func (g *NetGraph) ensureOrder() error {
	if g.ordered {
		return nil
	}
	order, err := g.topoSort()
	if err != nil {
		return err
	}
	g.order = order
	g.ordered = true
	return nil
}

func (g *NetGraph) resolveInputs(n *Node) ([]*tensor.CombinedTensor, error) {
	inputs := make([]*tensor.CombinedTensor, len(n.Inputs))
	for i, conn := range n.Inputs {
		src, ok := g.nodes[conn.SourceNode]
		if !ok {
			return nil, fmt.Errorf("netgraph: node %q references unknown source %q: %w", n.Name, conn.SourceNode, cnerr.ErrWiring)
		}
		if conn.OutputIndex < 0 || conn.OutputIndex >= len(src.outputs) {
			return nil, fmt.Errorf("netgraph: node %q input %d out of range on %q: %w", n.Name, conn.OutputIndex, conn.SourceNode, cnerr.ErrWiring)
		}
		inputs[i] = src.outputs[conn.OutputIndex]
	}
	return inputs, nil
}

// Initialize topologically sorts the graph, then runs CreateOutputs,
// Connect, and OnLayerConnect across nodes in that order, so a layer's
// on_layer_connect hook always sees already-connected downstream layers.
func (g *NetGraph) Initialize() error {
	if err := g.ensureOrder(); err != nil {
		return err
	}
	status := layer.NetStatus{IsTesting: g.isTesting}

	for _, name := range g.order {
		n := g.nodes[name]
		inputs, err := g.resolveInputs(n)
		if err != nil {
			return err
		}
		outputs, err := n.Layer.CreateOutputs(inputs)
		if err != nil {
			return fmt.Errorf("netgraph: create_outputs failed on %q: %w", name, err)
		}
		if err := n.Layer.Connect(inputs, outputs, status); err != nil {
			return fmt.Errorf("netgraph: connect failed on %q: %w", name, err)
		}
		n.outputs = outputs
	}

	// on_layer_connect runs after every node is connected so a hinting
	// layer can inspect the concrete downstream layers that consume it.
	for _, name := range g.order {
		n := g.nodes[name]
		hinter, ok := n.Layer.(layer.WeightInitHinter)
		if !ok {
			continue
		}
		downstream := g.downstreamLayers(name)
		if err := hinter.OnLayerConnect(downstream); err != nil {
			return fmt.Errorf("netgraph: on_layer_connect failed on %q: %w", name, err)
		}
	}
	return nil
}

func (g *NetGraph) downstreamLayers(name string) []layer.Layer {
	var out []layer.Layer
	for _, n := range g.nodes {
		for _, in := range n.Inputs {
			if in.SourceNode == name {
				out = append(out, n.Layer)
				break
			}
		}
	}
	return out
}

// InitializeWeights invokes each layer's WeightInitializer hook, if
// present, with a per-node seed derived from the graph's node order so
// re-running initialization is reproducible for a given seed.
func (g *NetGraph) InitializeWeights(seed int64) error {
	if err := g.ensureOrder(); err != nil {
		return err
	}
	for i, name := range g.order {
		n := g.nodes[name]
		initer, ok := n.Layer.(layer.WeightInitializer)
		if !ok {
			continue
		}
		if err := initer.InitializeWeights(seed + int64(i)); err != nil {
			return fmt.Errorf("netgraph: initialize_weights failed on %q: %w", name, err)
		}
	}
	return nil
}

// FeedForward runs Forward on every node (or, if subset is non-empty, only
// the named nodes) in topological order.
func (g *NetGraph) FeedForward(subset ...string) error {
	if err := g.ensureOrder(); err != nil {
		return err
	}
	want := toSet(subset)
	for _, name := range g.order {
		if len(want) > 0 && !want[name] {
			continue
		}
		if err := g.nodes[name].Layer.Forward(); err != nil {
			return fmt.Errorf("netgraph: forward failed on %q: %w", name, err)
		}
	}
	return nil
}

// BackPropagate runs Backward in reverse topological order. Each node's
// Backward receives one flag per input, taken from that input connection's
// BackpropEnabled; gradient-barrier edges (BackpropEnabled=false) suppress
// delta accumulation into that specific source.
func (g *NetGraph) BackPropagate() error {
	if err := g.ensureOrder(); err != nil {
		return err
	}
	for i := len(g.order) - 1; i >= 0; i-- {
		n := g.nodes[g.order[i]]
		flags := make([]bool, len(n.Inputs))
		for j, in := range n.Inputs {
			flags[j] = in.BackpropEnabled
		}
		if err := n.Layer.Backward(flags); err != nil {
			return fmt.Errorf("netgraph: backward failed on %q: %w", n.Name, err)
		}
	}
	return nil
}

func toSet(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// GetInputNodes returns nodes flagged IsInput.
func (g *NetGraph) GetInputNodes() []*Node {
	var out []*Node
	for _, name := range g.sortedNames() {
		if g.nodes[name].IsInput {
			out = append(out, g.nodes[name])
		}
	}
	return out
}

// GetOutputNodes returns nodes flagged IsOutput.
func (g *NetGraph) GetOutputNodes() []*Node {
	var out []*Node
	for _, name := range g.sortedNames() {
		if g.nodes[name].IsOutput {
			out = append(out, g.nodes[name])
		}
	}
	return out
}

// GetDefaultOutputNode returns the first output node in topological order,
// or nil if none is marked.
func (g *NetGraph) GetDefaultOutputNode() *Node {
	if err := g.ensureOrder(); err != nil {
		return nil
	}
	for _, name := range g.order {
		if g.nodes[name].IsOutput {
			return g.nodes[name]
		}
	}
	return nil
}

// NodeNames returns every node name in deterministic sorted order.
func (g *NetGraph) NodeNames() []string {
	return g.sortedNames()
}

func (g *NetGraph) sortedNames() []string {
	names := make([]string, 0, len(g.nodes))
	for n := range g.nodes {
		names = append(names, n)
	}
	sortStrings(names)
	return names
}

// SetIsTesting propagates the testing-mode flag to every already-connected
// layer's Base.Status; subsequent Initialize calls also pick it up for
// newly connected layers.
func (g *NetGraph) SetIsTesting(testing bool) {
	g.isTesting = testing
	for _, n := range g.nodes {
		if setter, ok := n.Layer.(interface{ SetTesting(bool) }); ok {
			setter.SetTesting(testing)
		}
	}
}

func skipSet(names []string) map[string]bool { return toSet(names) }

// SerializeParameters writes the PAR stream: magic, then for every
// non-skipped node with parameters, (name length, parameter count, name,
// each parameter tensor).
func (g *NetGraph) SerializeParameters(w io.Writer, skipNodes []string) error {
	if err := g.ensureOrder(); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, ParMagic); err != nil {
		return err
	}
	skip := skipSet(skipNodes)
	for _, name := range g.order {
		if skip[name] {
			continue
		}
		n := g.nodes[name]
		params := n.Layer.Parameters()
		if len(params) == 0 {
			continue
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(name))); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(params))); err != nil {
			return err
		}
		if _, err := bw.WriteString(name); err != nil {
			return err
		}
		for _, p := range params {
			if err := p.Data.Serialize(bw); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// DeserializeParameters reads a PAR stream produced by SerializeParameters
// and copies each tensor's contents into the matching node's parameters by
// name. Nodes present in skipNodes, or absent from the graph, are skipped
// over (their bytes are still consumed from the stream).
func (g *NetGraph) DeserializeParameters(r io.Reader, skipNodes []string) error {
	var magic uint64
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return fmt.Errorf("netgraph: reading PAR magic: %w", err)
	}
	if magic != ParMagic {
		return fmt.Errorf("netgraph: bad PAR magic %#x: %w", magic, cnerr.ErrIO)
	}
	skip := skipSet(skipNodes)
	for {
		var nameLen, paramCount uint32
		if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if err := binary.Read(r, binary.LittleEndian, &paramCount); err != nil {
			return err
		}
		nameBytes := make([]byte, nameLen)
		if _, err := io.ReadFull(r, nameBytes); err != nil {
			return err
		}
		name := string(nameBytes)

		node, ok := g.nodes[name]
		var params []*tensor.CombinedTensor
		if ok && !skip[name] {
			params = node.Layer.Parameters()
		}
		for i := 0; i < int(paramCount); i++ {
			t, err := tensor.Deserialize(r)
			if err != nil {
				return fmt.Errorf("netgraph: deserializing parameter %d of %q: %w", i, name, err)
			}
			if i < len(params) {
				if err := params[i].Data.ResizeToMatch(t); err != nil {
					return fmt.Errorf("netgraph: parameter %d of %q shape mismatch: %w", i, name, err)
				}
				copy(params[i].Data.Data(), t.Data())
			}
		}
	}
}
