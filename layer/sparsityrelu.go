package layer

import (
	"fmt"
	"math"

	"github.com/milosgajdos83/cn24/cnerr"
	"github.com/milosgajdos83/cn24/tensor"
)

// SparsityReLU is a learned-affine exponential-linear unit with a sparsity
// regularizer, recovered from original_source's
// src/net/SparsityReLULayer.cpp per the spec's Open Question on `lambda`
// vs `kl_loss_weight`/`other_loss_weight`: both terms are kept distinct,
// never collapsed.
//
// Forward: y = a*x+b+alpha when a*x+b >= 0, else alpha*exp((a*x+b)/alpha),
// where a,b are the layer's two trainable scalar parameters.
//
// KLLossWeight multiplies a KL-divergence-style sparsity regularizer on
// (a,b), normalized by the number of elements per sample.
// OtherLossWeight multiplies a second, unnormalized regularizer on the raw
// activation sum. Both are written into the (a,b) parameter deltas during
// Backward, replacing their previous contents; neither changes the input gradient itself beyond the
// ordinary chain rule through the affine+exponential transform.
type SparsityReLU struct {
	Base

	Alpha           float64
	Lambda          float64
	KLLossWeight    float64
	OtherLossWeight float64

	weights *tensor.CombinedTensor // [a, b]

	elements, samples int
}

func NewSparsityReLU(alpha, lambda, klLossWeight, otherLossWeight float64) *SparsityReLU {
	return &SparsityReLU{Alpha: alpha, Lambda: lambda, KLLossWeight: klLossWeight, OtherLossWeight: otherLossWeight}
}

func (l *SparsityReLU) CreateOutputs(inputs []*tensor.CombinedTensor) ([]*tensor.CombinedTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("sparsity_relu: expected 1 input: %w", cnerr.ErrShape)
	}
	s, m, h, w := inputs[0].Data.Shape()
	out, err := tensor.NewCombinedTensor(s, m, h, w)
	if err != nil {
		return nil, err
	}
	return []*tensor.CombinedTensor{out}, nil
}

func (l *SparsityReLU) Connect(inputs, outputs []*tensor.CombinedTensor, status NetStatus) error {
	want, err := l.CreateOutputs(inputs)
	if err != nil {
		return err
	}
	if len(outputs) != 1 || !outputs[0].Data.SameShape(want[0].Data) {
		return fmt.Errorf("sparsity_relu: connect/create_outputs shape mismatch: %w", cnerr.ErrWiring)
	}
	l.Base.Inputs, l.Base.Outputs, l.Base.Status = inputs, outputs, status
	l.elements = inputs[0].Data.Elements()
	l.samples, _, _, _ = inputs[0].Data.Shape()
	weights, err := tensor.NewCombinedTensor(1, 2, 1, 1)
	if err != nil {
		return err
	}
	weights.Data.Data()[0] = 1.0
	weights.Data.Data()[1] = 0.0
	l.weights = weights
	return nil
}

func (l *SparsityReLU) Forward() error {
	a := l.weights.Data.Data()[0]
	b := l.weights.Data.Data()[1]
	in := l.Inputs[0].Data.Data()
	out := l.Outputs[0].Data.Data()
	for i, x := range in {
		t := float64(a)*float64(x) + float64(b)
		if t >= 0 {
			out[i] = tensor.Datum(t + l.Alpha)
		} else {
			out[i] = tensor.Datum(l.Alpha * math.Exp(t/l.Alpha))
		}
	}
	return nil
}

func (l *SparsityReLU) Backward(backpropInput []bool) error {
	a := float64(l.weights.Data.Data()[0])
	b := float64(l.weights.Data.Data()[1])
	in := l.Inputs[0].Data.Data()
	outDelta := l.Outputs[0].Delta.Data()
	inDelta := l.Inputs[0].Delta.Data()

	var aDeltaKL, bDeltaKL, aDeltaOther, bDeltaOther float64
	propagate := len(backpropInput) == 0 || backpropInput[0]

	invElementsPerSample := 1.0
	if l.elements > 0 && l.samples > 0 {
		invElementsPerSample = 1.0 / float64(l.elements/l.samples)
	}

	for i, x := range in {
		xf := float64(x)
		t := a*xf + b
		inputDeltaFactor := a

		aDeltaKL -= 1.0 / a

		if t >= 0 {
			aDeltaKL += l.Lambda * xf
			bDeltaKL += l.Lambda
			aDeltaOther += xf
			bDeltaOther += 1
		} else {
			e := math.Exp(t / l.Alpha)
			inputDeltaFactor *= e
			aDeltaKL -= (xf / l.Alpha) - l.Lambda*xf*e
			bDeltaKL += (-1.0 / l.Alpha) + l.Lambda*e
			aDeltaOther += xf * e
			bDeltaOther += e
		}

		if propagate {
			inDelta[i] += tensor.Datum(float64(outDelta[i]) * inputDeltaFactor)
		}
	}

	wDelta := l.weights.Delta.Data()
	wDelta[0] = tensor.Datum(invElementsPerSample*l.KLLossWeight*aDeltaKL + l.OtherLossWeight*aDeltaOther)
	wDelta[1] = tensor.Datum(invElementsPerSample*l.KLLossWeight*bDeltaKL + l.OtherLossWeight*bDeltaOther)
	return nil
}

func (l *SparsityReLU) Parameters() []*tensor.CombinedTensor {
	return []*tensor.CombinedTensor{l.weights}
}
