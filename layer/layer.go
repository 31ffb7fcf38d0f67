// Package layer implements the differentiable graph nodes: the Layer
// abstraction plus its canonical implementations (convolution, pooling,
// nonlinearities, structural reshaping layers, normalization, dropout,
// YOLO detection, and the loss/statistics layers).
//
// The source's deep class hierarchy (Layer -> SimpleLayer ->
// ConvolutionLayer (+) SupportsDropoutLayer) is replaced by a flat set of
// concrete layer kinds behind one interface, plus a small capability table
// -- see the "Polymorphic layer hierarchy" design note.
package layer

import "github.com/milosgajdos83/cn24/tensor"

// NetStatus carries graph-wide execution flags a layer's behavior depends
// on, namely whether the current pass is training or testing.
type NetStatus struct {
	IsTesting bool
}

// Capabilities is the small trait-like table each layer reports about
// itself. NetGraph does not read it; the graph uses interface assertions
// (e.g. WeightInitHinter) for per-layer hooks.
type Capabilities struct {
	GradientSafe bool
	OpenCLAware  bool
	DynamicAware bool
	IsLoss       bool
}

// Layer is the polymorphic computation-graph node: given input buffer
// shapes it allocates its outputs (CreateOutputs), wires and sizes its
// internal scratch state (Connect), then on every mini-batch reads inputs
// and writes output data (Forward) and reads output deltas to accumulate
// input and parameter deltas (Backward).
type Layer interface {
	// CreateOutputs validates input shapes for this layer kind and
	// returns freshly allocated (but unconnected) output tensors.
	CreateOutputs(inputs []*tensor.CombinedTensor) ([]*tensor.CombinedTensor, error)

	// Connect stores the input/output references, computes derived
	// dimensions and allocates parameters and scratch buffers. outputs
	// must match what CreateOutputs would have produced.
	Connect(inputs, outputs []*tensor.CombinedTensor, status NetStatus) error

	// Forward reads inputs and writes outputs' Data.
	Forward() error

	// Backward reads outputs' Delta and writes/accumulates inputs' Delta
	// (unless backprop is disabled on that connection) plus the layer's
	// own parameter deltas.
	Backward(backpropInput []bool) error

	// Parameters returns the CombinedTensors this layer owns and trains.
	// The graph never owns these; they are destroyed with the layer.
	Parameters() []*tensor.CombinedTensor

	// Capabilities reports this layer's capability flags.
	Capabilities() Capabilities
}

// WeightInitHinter is implemented by layers that want to bias their weight
// initialization variance based on the downstream layer's nonlinearity
// (Xavier for Tanh/Sigmoid successors, He for ReLU successors). NetGraph
// calls OnLayerConnect after Connect has run across the whole graph in
// topological order, letting a downstream layer's init hint flow upstream.
type WeightInitHinter interface {
	OnLayerConnect(downstream []Layer) error
}

// WeightInitializer is implemented by layers that own trainable parameters
// and need (re)initialization independent of Connect, e.g. when the
// trainer resets optimizer state.
type WeightInitializer interface {
	InitializeWeights(seed int64) error
}

// LossLayer is implemented by layers that contribute a scalar loss term,
// e.g. Error, MultiClassError, YOLOLossLayer.
type LossLayer interface {
	Layer
	Loss() float64
}

// Base holds the fields common to every concrete layer: its resolved input
// and output buffers after Connect. Concrete layer types embed Base and
// add their own parameters and scratch state.
type Base struct {
	Inputs  []*tensor.CombinedTensor
	Outputs []*tensor.CombinedTensor
	Status  NetStatus
}

// Capabilities returns the zero-value capability table; layers with
// nontrivial capabilities override this method.
func (b *Base) Capabilities() Capabilities {
	return Capabilities{}
}

// Parameters returns nil; layers with trainable parameters override this
// method.
func (b *Base) Parameters() []*tensor.CombinedTensor {
	return nil
}

// SetTesting updates the testing-mode flag on an already-connected layer,
// letting NetGraph toggle Dropout/stat behavior between epochs without a
// full re-Connect.
func (b *Base) SetTesting(testing bool) {
	b.Status.IsTesting = testing
}
