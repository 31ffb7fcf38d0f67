package layer

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/milosgajdos83/cn24/cnerr"
	"github.com/milosgajdos83/cn24/tensor"
	"github.com/milosgajdos83/cn24/tensormath"
)

// FullyConnected(N, seed): forward is a GEMM of the flattened input against
// a (N x flatIn) weight matrix plus a broadcast bias; backward mirrors
// Convolution's adjoint GEMMs without the im2col step.
type FullyConnected struct {
	Base

	N    int
	Seed int64

	weights *tensor.CombinedTensor // N x flatIn
	bias    *tensor.CombinedTensor // 1 x N

	samples, flatIn int
	initHint        string
}

func NewFullyConnected(n int, seed int64) *FullyConnected {
	return &FullyConnected{N: n, Seed: seed}
}

func (f *FullyConnected) CreateOutputs(inputs []*tensor.CombinedTensor) ([]*tensor.CombinedTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("fully_connected: expected 1 input, got %d: %w", len(inputs), cnerr.ErrShape)
	}
	s, _, _, _ := inputs[0].Data.Shape()
	out, err := tensor.NewCombinedTensor(s, 1, 1, f.N)
	if err != nil {
		return nil, err
	}
	return []*tensor.CombinedTensor{out}, nil
}

func (f *FullyConnected) Connect(inputs, outputs []*tensor.CombinedTensor, status NetStatus) error {
	want, err := f.CreateOutputs(inputs)
	if err != nil {
		return err
	}
	if len(outputs) != 1 || !outputs[0].Data.SameShape(want[0].Data) {
		return fmt.Errorf("fully_connected: connect/create_outputs shape mismatch: %w", cnerr.ErrWiring)
	}
	f.Base.Inputs, f.Base.Outputs, f.Base.Status = inputs, outputs, status
	s, m, h, w := inputs[0].Data.Shape()
	f.samples = s
	f.flatIn = m * h * w
	weights, err := tensor.NewCombinedTensor(1, 1, f.N, f.flatIn)
	if err != nil {
		return err
	}
	bias, err := tensor.NewCombinedTensor(1, 1, 1, f.N)
	if err != nil {
		return err
	}
	f.weights, f.bias = weights, bias
	return f.InitializeWeights(f.Seed)
}

func (f *FullyConnected) OnLayerConnect(downstream []Layer) error {
	for _, d := range downstream {
		if nl, ok := d.(*NonLinearity); ok {
			f.initHint = nl.Kind
			return f.InitializeWeights(f.Seed)
		}
	}
	return nil
}

func (f *FullyConnected) InitializeWeights(seed int64) error {
	rng := rand.New(rand.NewSource(seed))
	fanIn, fanOut := f.flatIn, f.N
	var bound float64
	switch f.initHint {
	case "relu", "leaky_relu":
		bound = math.Sqrt(2.0 / float64(fanIn))
	case "tanh", "sigmoid":
		bound = math.Sqrt(6.0 / float64(fanIn+fanOut))
	default:
		bound = 1.0 / math.Sqrt(float64(fanIn))
	}
	data := f.weights.Data.Data()
	for i := range data {
		data[i] = tensor.Datum((rng.Float64()*2 - 1) * bound)
	}
	f.bias.Data.Clear(0)
	f.weights.ZeroDelta()
	f.bias.ZeroDelta()
	return nil
}

func (f *FullyConnected) Forward() error {
	in := f.Inputs[0].Data.Data()
	out := f.Outputs[0].Data.Data()
	w := f.weights.Data.Data()
	bias := f.bias.Data.Data()

	raw := make([]tensor.Datum, f.samples*f.N)
	// out = in * W^T, computed here as
	// GEMM(in[samples x flatIn], W[N x flatIn]^T) laid out sample-major.
	if err := tensormath.GEMM(in, f.samples, f.flatIn, w, f.N, f.flatIn, raw, f.samples, f.N, 1, 0, false, true); err != nil {
		return err
	}
	for s := 0; s < f.samples; s++ {
		for n := 0; n < f.N; n++ {
			out[s*f.N+n] = raw[s*f.N+n] + bias[n]
		}
	}
	return nil
}

func (f *FullyConnected) Backward(backpropInput []bool) error {
	outDelta := f.Outputs[0].Delta.Data()
	in := f.Inputs[0].Data.Data()
	wDelta := f.weights.Delta.Data()
	bDelta := f.bias.Delta.Data()

	for n := 0; n < f.N; n++ {
		var sum tensor.Datum
		for s := 0; s < f.samples; s++ {
			sum += outDelta[s*f.N+n]
		}
		bDelta[n] += sum
	}

	// dW = outDelta^T * in  (N x flatIn)
	if err := tensormath.GEMM(outDelta, f.samples, f.N, in, f.samples, f.flatIn, wDelta, f.N, f.flatIn, 1, 1, true, false); err != nil {
		return err
	}

	if len(backpropInput) == 0 || backpropInput[0] {
		inDelta := f.Inputs[0].Delta.Data()
		w := f.weights.Data.Data()
		// dIn = outDelta * W  (samples x flatIn)
		raw := make([]tensor.Datum, f.samples*f.flatIn)
		if err := tensormath.GEMM(outDelta, f.samples, f.N, w, f.N, f.flatIn, raw, f.samples, f.flatIn, 1, 0, false, false); err != nil {
			return err
		}
		for i := range inDelta {
			inDelta[i] += raw[i]
		}
	}
	return nil
}

func (f *FullyConnected) Parameters() []*tensor.CombinedTensor {
	return []*tensor.CombinedTensor{f.weights, f.bias}
}
