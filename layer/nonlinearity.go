package layer

import (
	"fmt"
	"math"

	"github.com/milosgajdos83/cn24/cnerr"
	"github.com/milosgajdos83/cn24/tensor"
)

// NonLinearity implements Tanh, Sigmoid, ReLU, LeakyReLU (slope 0.1) and
// Softmax, grounded on the teacher's matrix-apply closures in
// pkg/matrix/functions.go generalized to tensor-wide loops. Tanh/Sigmoid
// backward reuse the already-computed output in the closed-form
// sigma'(x) = sigma(x)(1-sigma(x)); ReLU's derivative at 0 is taken as 0;
// Softmax normalizes per-sample across the flattened output.
type NonLinearity struct {
	Base

	Kind string // "tanh" | "sigmoid" | "relu" | "leaky_relu" | "softmax"
}

const leakyReLUSlope = 0.1

func NewNonLinearity(kind string) *NonLinearity {
	return &NonLinearity{Kind: kind}
}

func (n *NonLinearity) CreateOutputs(inputs []*tensor.CombinedTensor) ([]*tensor.CombinedTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("nonlinearity: expected 1 input: %w", cnerr.ErrShape)
	}
	s, m, h, w := inputs[0].Data.Shape()
	out, err := tensor.NewCombinedTensor(s, m, h, w)
	if err != nil {
		return nil, err
	}
	return []*tensor.CombinedTensor{out}, nil
}

func (n *NonLinearity) Connect(inputs, outputs []*tensor.CombinedTensor, status NetStatus) error {
	want, err := n.CreateOutputs(inputs)
	if err != nil {
		return err
	}
	if len(outputs) != 1 || !outputs[0].Data.SameShape(want[0].Data) {
		return fmt.Errorf("nonlinearity: connect/create_outputs shape mismatch: %w", cnerr.ErrWiring)
	}
	switch n.Kind {
	case "tanh", "sigmoid", "relu", "leaky_relu", "softmax":
	default:
		return fmt.Errorf("nonlinearity: unsupported kind %q: %w", n.Kind, cnerr.ErrConfig)
	}
	n.Base.Inputs, n.Base.Outputs, n.Base.Status = inputs, outputs, status
	return nil
}

func (n *NonLinearity) Forward() error {
	in := n.Inputs[0].Data.Data()
	out := n.Outputs[0].Data.Data()
	switch n.Kind {
	case "tanh":
		for i, v := range in {
			out[i] = tensor.Datum(math.Tanh(float64(v)))
		}
	case "sigmoid":
		for i, v := range in {
			out[i] = sigmoid(v)
		}
	case "relu":
		for i, v := range in {
			if v > 0 {
				out[i] = v
			} else {
				out[i] = 0
			}
		}
	case "leaky_relu":
		for i, v := range in {
			if v > 0 {
				out[i] = v
			} else {
				out[i] = v * leakyReLUSlope
			}
		}
	case "softmax":
		n.forwardSoftmax(in, out)
	}
	return nil
}

func (n *NonLinearity) forwardSoftmax(in, out []tensor.Datum) {
	s, _, _, _ := n.Inputs[0].Data.Shape()
	perSample := len(in) / maxInt1(s)
	for si := 0; si < s; si++ {
		base := si * perSample
		maxV := in[base]
		for i := 1; i < perSample; i++ {
			if in[base+i] > maxV {
				maxV = in[base+i]
			}
		}
		var sum float64
		for i := 0; i < perSample; i++ {
			e := math.Exp(float64(in[base+i] - maxV))
			out[base+i] = tensor.Datum(e)
			sum += e
		}
		for i := 0; i < perSample; i++ {
			out[base+i] = tensor.Datum(float64(out[base+i]) / sum)
		}
	}
}

func maxInt1(s int) int {
	if s < 1 {
		return 1
	}
	return s
}

func sigmoid(x tensor.Datum) tensor.Datum {
	return tensor.Datum(1.0 / (1.0 + math.Exp(-float64(x))))
}

func (n *NonLinearity) Backward(backpropInput []bool) error {
	if len(backpropInput) > 0 && !backpropInput[0] {
		return nil
	}
	outDelta := n.Outputs[0].Delta.Data()
	out := n.Outputs[0].Data.Data()
	in := n.Inputs[0].Data.Data()
	inDelta := n.Inputs[0].Delta.Data()

	switch n.Kind {
	case "tanh":
		for i := range inDelta {
			inDelta[i] += outDelta[i] * (1 - out[i]*out[i])
		}
	case "sigmoid":
		for i := range inDelta {
			inDelta[i] += outDelta[i] * out[i] * (1 - out[i])
		}
	case "softmax":
		// Full per-sample Jacobian: dx_k = y_k * (dy_k - sum_j dy_j*y_j).
		s, _, _, _ := n.Inputs[0].Data.Shape()
		perSample := len(out) / maxInt1(s)
		for si := 0; si < s; si++ {
			base := si * perSample
			var dot tensor.Datum
			for k := 0; k < perSample; k++ {
				dot += outDelta[base+k] * out[base+k]
			}
			for k := 0; k < perSample; k++ {
				inDelta[base+k] += out[base+k] * (outDelta[base+k] - dot)
			}
		}
	case "relu":
		for i := range inDelta {
			if in[i] > 0 {
				inDelta[i] += outDelta[i]
			}
		}
	case "leaky_relu":
		for i := range inDelta {
			if in[i] > 0 {
				inDelta[i] += outDelta[i]
			} else {
				inDelta[i] += outDelta[i] * leakyReLUSlope
			}
		}
	}
	return nil
}
