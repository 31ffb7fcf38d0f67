package layer

import (
	"fmt"

	"github.com/milosgajdos83/cn24/cnerr"
	"github.com/milosgajdos83/cn24/tensor"
	"github.com/milosgajdos83/cn24/tensormath"
)

// InputDownSampling(rW,rH) block-averages its input. Backward is
// prohibited: this layer is only valid before the first trainable layer,
// so it signals a fatal error if invoked with backprop enabled.
type InputDownSampling struct {
	Base

	RW, RH int

	s, m, h, w int
}

func NewInputDownSampling(rw, rh int) *InputDownSampling {
	return &InputDownSampling{RW: rw, RH: rh}
}

func (d *InputDownSampling) CreateOutputs(inputs []*tensor.CombinedTensor) ([]*tensor.CombinedTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("input_downsampling: expected 1 input: %w", cnerr.ErrShape)
	}
	s, m, h, w := inputs[0].Data.Shape()
	if h%d.RH != 0 || w%d.RW != 0 {
		return nil, fmt.Errorf("input_downsampling: input %dx%d not divisible by region %dx%d: %w", h, w, d.RH, d.RW, cnerr.ErrShape)
	}
	out, err := tensor.NewCombinedTensor(s, m, h/d.RH, w/d.RW)
	if err != nil {
		return nil, err
	}
	return []*tensor.CombinedTensor{out}, nil
}

func (d *InputDownSampling) Connect(inputs, outputs []*tensor.CombinedTensor, status NetStatus) error {
	want, err := d.CreateOutputs(inputs)
	if err != nil {
		return err
	}
	if len(outputs) != 1 || !outputs[0].Data.SameShape(want[0].Data) {
		return fmt.Errorf("input_downsampling: connect/create_outputs shape mismatch: %w", cnerr.ErrWiring)
	}
	d.Base.Inputs, d.Base.Outputs, d.Base.Status = inputs, outputs, status
	d.s, d.m, d.h, d.w = inputs[0].Data.Shape()
	return nil
}

func (d *InputDownSampling) Forward() error {
	tensormath.DOWN(d.Inputs[0].Data.Data(), d.s, d.m, d.h, d.w, d.Outputs[0].Data.Data(), d.RW, d.RH, 1)
	return nil
}

// Backward must never be called with backprop enabled on its single input
// connection; InputDownSampling only ever precedes the first trainable
// layer, where backprop is disabled by construction.
func (d *InputDownSampling) Backward(backpropInput []bool) error {
	if len(backpropInput) > 0 && backpropInput[0] {
		return fmt.Errorf("input_downsampling: backward called with backprop enabled: %w", cnerr.ErrState)
	}
	return nil
}
