package netgraph

import (
	"bytes"
	"testing"

	"github.com/milosgajdos83/cn24/layer"
	"github.com/milosgajdos83/cn24/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLayer is a minimal layer.Layer used only to exercise NetGraph's
// wiring, scheduling and (de)serialization without depending on any real
// layer kind's shape rules.
type fakeLayer struct {
	name    string
	param   *tensor.CombinedTensor
	forward func()
}

func newFakeLayer(t *testing.T, name string, withParam bool) *fakeLayer {
	t.Helper()
	l := &fakeLayer{name: name}
	if withParam {
		p, err := tensor.NewCombinedTensor(1, 1, 1, 1)
		require.NoError(t, err)
		l.param = p
	}
	return l
}

func (l *fakeLayer) CreateOutputs(inputs []*tensor.CombinedTensor) ([]*tensor.CombinedTensor, error) {
	out, err := tensor.NewCombinedTensor(1, 1, 1, 1)
	if err != nil {
		return nil, err
	}
	return []*tensor.CombinedTensor{out}, nil
}

func (l *fakeLayer) Connect(inputs, outputs []*tensor.CombinedTensor, status layer.NetStatus) error {
	return nil
}

func (l *fakeLayer) Forward() error {
	if l.forward != nil {
		l.forward()
	}
	return nil
}

func (l *fakeLayer) Backward(backpropInput []bool) error { return nil }

func (l *fakeLayer) Parameters() []*tensor.CombinedTensor {
	if l.param == nil {
		return nil
	}
	return []*tensor.CombinedTensor{l.param}
}

func (l *fakeLayer) Capabilities() layer.Capabilities { return layer.Capabilities{} }

func buildChain(t *testing.T) *NetGraph {
	t.Helper()
	g := New()
	a := &Node{Name: "a", Layer: newFakeLayer(t, "a", true), IsInput: true}
	b := &Node{Name: "b", Layer: newFakeLayer(t, "b", false), Inputs: []InputConnection{{SourceNode: "a", BackpropEnabled: true}}}
	c := &Node{Name: "c", Layer: newFakeLayer(t, "c", true), Inputs: []InputConnection{{SourceNode: "b", BackpropEnabled: true}}, IsOutput: true}
	require.NoError(t, g.AddNode(c))
	require.NoError(t, g.AddNode(a))
	require.NoError(t, g.AddNode(b))
	return g
}

func TestTopoSortRespectsDependencies(t *testing.T) {
	g := buildChain(t)
	order, err := g.topoSort()
	require.NoError(t, err)

	pos := make(map[string]int, len(order))
	for i, n := range order {
		pos[n] = i
	}
	assert.Less(t, pos["a"], pos["b"])
	assert.Less(t, pos["b"], pos["c"])
}

func TestTopoSortDetectsCycle(t *testing.T) {
	g := New()
	x := &Node{Name: "x", Layer: newFakeLayer(t, "x", false), Inputs: []InputConnection{{SourceNode: "y"}}}
	y := &Node{Name: "y", Layer: newFakeLayer(t, "y", false), Inputs: []InputConnection{{SourceNode: "x"}}}
	require.NoError(t, g.AddNode(x))
	require.NoError(t, g.AddNode(y))

	_, err := g.topoSort()
	assert.Error(t, err)
}

func TestTopoSortSameDepthFollowsInsertionOrderNotNameOrder(t *testing.T) {
	g := New()
	z := &Node{Name: "z", Layer: newFakeLayer(t, "z", false)}
	m := &Node{Name: "m", Layer: newFakeLayer(t, "m", false)}
	require.NoError(t, g.AddNode(z))
	require.NoError(t, g.AddNode(m))

	order, err := g.topoSort()
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "m"}, order)
}

func TestAddNodeDuplicateNameErrors(t *testing.T) {
	g := New()
	n := &Node{Name: "dup", Layer: newFakeLayer(t, "dup", false)}
	require.NoError(t, g.AddNode(n))
	err := g.AddNode(&Node{Name: "dup", Layer: newFakeLayer(t, "dup", false)})
	assert.Error(t, err)
}

func TestInitializeAndFeedForwardRunsInOrder(t *testing.T) {
	g := buildChain(t)
	require.NoError(t, g.Initialize())

	var ran []string
	for _, name := range g.NodeNames() {
		name := name
		g.nodes[name].Layer.(*fakeLayer).forward = func() { ran = append(ran, name) }
	}
	require.NoError(t, g.FeedForward())

	assert.Equal(t, []string{"a", "b", "c"}, ran)
}

func TestNodeNamesSortedDeterministically(t *testing.T) {
	g := buildChain(t)
	assert.Equal(t, []string{"a", "b", "c"}, g.NodeNames())
}

func TestGetInputAndOutputNodes(t *testing.T) {
	g := buildChain(t)
	inputs := g.GetInputNodes()
	outputs := g.GetOutputNodes()
	require.Len(t, inputs, 1)
	require.Len(t, outputs, 1)
	assert.Equal(t, "a", inputs[0].Name)
	assert.Equal(t, "c", outputs[0].Name)
}

func TestSerializeDeserializeParametersRoundTrip(t *testing.T) {
	g := buildChain(t)
	require.NoError(t, g.Initialize())

	g.nodes["a"].Layer.(*fakeLayer).param.Data.Data()[0] = 42
	g.nodes["c"].Layer.(*fakeLayer).param.Data.Data()[0] = -7

	var buf bytes.Buffer
	require.NoError(t, g.SerializeParameters(&buf, nil))

	g2 := buildChain(t)
	require.NoError(t, g2.Initialize())
	require.NoError(t, g2.DeserializeParameters(&buf, nil))

	assert.Equal(t, tensor.Datum(42), g2.nodes["a"].Layer.(*fakeLayer).param.Data.Data()[0])
	assert.Equal(t, tensor.Datum(-7), g2.nodes["c"].Layer.(*fakeLayer).param.Data.Data()[0])
}

func TestDeserializeParametersRejectsBadMagic(t *testing.T) {
	g := buildChain(t)
	require.NoError(t, g.Initialize())

	buf := bytes.NewBuffer([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	err := g.DeserializeParameters(buf, nil)
	assert.Error(t, err)
}

func TestLegacyParameterMigrationAppliesPositionally(t *testing.T) {
	var legacyStream bytes.Buffer
	t1, err := tensor.New(1, 1, 1, 1)
	require.NoError(t, err)
	t1.Data()[0] = 100
	require.NoError(t, t1.Serialize(&legacyStream))

	t2, err := tensor.New(1, 1, 1, 1)
	require.NoError(t, err)
	t2.Data()[0] = 200
	require.NoError(t, t2.Serialize(&legacyStream))

	params, order, err := LoadLegacyParameters(&legacyStream)
	require.NoError(t, err)
	require.Len(t, order, 2)

	g := buildChain(t) // nodes a and c each carry one parameter
	require.NoError(t, g.Initialize())
	require.NoError(t, g.ApplyLegacyParameters(params, order))

	assert.Equal(t, tensor.Datum(100), g.nodes["a"].Layer.(*fakeLayer).param.Data.Data()[0])
	assert.Equal(t, tensor.Datum(200), g.nodes["c"].Layer.(*fakeLayer).param.Data.Data()[0])
}
