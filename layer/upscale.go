package layer

import (
	"fmt"

	"github.com/milosgajdos83/cn24/cnerr"
	"github.com/milosgajdos83/cn24/tensor"
	"github.com/milosgajdos83/cn24/tensormath"
)

// Upscale(rW,rH) nearest-neighbour upsamples; backward sums each gradient
// block back down via tensormath.DOWN (block average scaled by rW*rH).
type Upscale struct {
	Base

	RW, RH int

	s, m, h, w int
}

func NewUpscale(rw, rh int) *Upscale {
	return &Upscale{RW: rw, RH: rh}
}

func (u *Upscale) CreateOutputs(inputs []*tensor.CombinedTensor) ([]*tensor.CombinedTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("upscale: expected 1 input: %w", cnerr.ErrShape)
	}
	s, m, h, w := inputs[0].Data.Shape()
	out, err := tensor.NewCombinedTensor(s, m, h*u.RH, w*u.RW)
	if err != nil {
		return nil, err
	}
	return []*tensor.CombinedTensor{out}, nil
}

func (u *Upscale) Connect(inputs, outputs []*tensor.CombinedTensor, status NetStatus) error {
	want, err := u.CreateOutputs(inputs)
	if err != nil {
		return err
	}
	if len(outputs) != 1 || !outputs[0].Data.SameShape(want[0].Data) {
		return fmt.Errorf("upscale: connect/create_outputs shape mismatch: %w", cnerr.ErrWiring)
	}
	u.Base.Inputs, u.Base.Outputs, u.Base.Status = inputs, outputs, status
	u.s, u.m, u.h, u.w = inputs[0].Data.Shape()
	return nil
}

func (u *Upscale) Forward() error {
	tensormath.UP(u.Inputs[0].Data.Data(), u.s, u.m, u.h, u.w, u.Outputs[0].Data.Data(), u.RW, u.RH, 1)
	return nil
}

func (u *Upscale) Backward(backpropInput []bool) error {
	if len(backpropInput) > 0 && !backpropInput[0] {
		return nil
	}
	scratch := make([]tensor.Datum, u.s*u.m*u.h*u.w)
	tensormath.DOWN(u.Outputs[0].Delta.Data(), u.s, u.m, u.h*u.RH, u.w*u.RW, scratch, u.RW, u.RH, tensor.Datum(u.RW*u.RH))
	inDelta := u.Inputs[0].Delta.Data()
	for i := range inDelta {
		inDelta[i] += scratch[i]
	}
	return nil
}
