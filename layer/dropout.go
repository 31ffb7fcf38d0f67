package layer

import (
	"fmt"
	"math/rand"

	"github.com/milosgajdos83/cn24/cnerr"
	"github.com/milosgajdos83/cn24/tensor"
)

// Dropout(fraction) multiplies each activation independently by
// Bernoulli(1-fraction)/(1-fraction) during training; during testing it
// passes through unchanged. The per-sample mask is stored for backward and
// is deterministic given the layer's PRNG seed.
type Dropout struct {
	Base

	Fraction float64
	Seed     int64

	rng  *rand.Rand
	mask []tensor.Datum
}

func NewDropout(fraction float64, seed int64) *Dropout {
	return &Dropout{Fraction: fraction, Seed: seed}
}

func (d *Dropout) CreateOutputs(inputs []*tensor.CombinedTensor) ([]*tensor.CombinedTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("dropout: expected 1 input: %w", cnerr.ErrShape)
	}
	s, m, h, w := inputs[0].Data.Shape()
	out, err := tensor.NewCombinedTensor(s, m, h, w)
	if err != nil {
		return nil, err
	}
	return []*tensor.CombinedTensor{out}, nil
}

func (d *Dropout) Connect(inputs, outputs []*tensor.CombinedTensor, status NetStatus) error {
	want, err := d.CreateOutputs(inputs)
	if err != nil {
		return err
	}
	if len(outputs) != 1 || !outputs[0].Data.SameShape(want[0].Data) {
		return fmt.Errorf("dropout: connect/create_outputs shape mismatch: %w", cnerr.ErrWiring)
	}
	d.Base.Inputs, d.Base.Outputs, d.Base.Status = inputs, outputs, status
	d.rng = rand.New(rand.NewSource(d.Seed))
	d.mask = make([]tensor.Datum, inputs[0].Data.Elements())
	return nil
}

func (d *Dropout) Forward() error {
	in := d.Inputs[0].Data.Data()
	out := d.Outputs[0].Data.Data()
	if d.Status.IsTesting {
		copy(out, in)
		return nil
	}
	keep := 1.0 - d.Fraction
	scale := tensor.Datum(1)
	if keep > 0 {
		scale = tensor.Datum(1.0 / keep)
	}
	for i, v := range in {
		if d.rng.Float64() < keep {
			d.mask[i] = scale
			out[i] = v * scale
		} else {
			d.mask[i] = 0
			out[i] = 0
		}
	}
	return nil
}

func (d *Dropout) Backward(backpropInput []bool) error {
	if len(backpropInput) > 0 && !backpropInput[0] {
		return nil
	}
	outDelta := d.Outputs[0].Delta.Data()
	inDelta := d.Inputs[0].Delta.Data()
	if d.Status.IsTesting {
		for i := range inDelta {
			inDelta[i] += outDelta[i]
		}
		return nil
	}
	for i := range inDelta {
		inDelta[i] += outDelta[i] * d.mask[i]
	}
	return nil
}
