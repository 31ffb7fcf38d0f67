package layer

import (
	"fmt"

	"github.com/milosgajdos83/cn24/cnerr"
	"github.com/milosgajdos83/cn24/tensor"
)

// Resize(borderX,borderY) zero-pads its input so the output is
// (H+borderY, W+borderX), placing the input at the centre offset
// (borderX/2, borderY/2). Backward clears the input delta and copies back
// the interior of the output delta.
type Resize struct {
	Base

	BorderX, BorderY int

	s, m, h, w int
	offX, offY int
}

func NewResize(borderX, borderY int) *Resize {
	return &Resize{BorderX: borderX, BorderY: borderY}
}

func (r *Resize) CreateOutputs(inputs []*tensor.CombinedTensor) ([]*tensor.CombinedTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("resize: expected 1 input: %w", cnerr.ErrShape)
	}
	s, m, h, w := inputs[0].Data.Shape()
	out, err := tensor.NewCombinedTensor(s, m, h+r.BorderY, w+r.BorderX)
	if err != nil {
		return nil, err
	}
	return []*tensor.CombinedTensor{out}, nil
}

func (r *Resize) Connect(inputs, outputs []*tensor.CombinedTensor, status NetStatus) error {
	want, err := r.CreateOutputs(inputs)
	if err != nil {
		return err
	}
	if len(outputs) != 1 || !outputs[0].Data.SameShape(want[0].Data) {
		return fmt.Errorf("resize: connect/create_outputs shape mismatch: %w", cnerr.ErrWiring)
	}
	r.Base.Inputs, r.Base.Outputs, r.Base.Status = inputs, outputs, status
	r.s, r.m, r.h, r.w = inputs[0].Data.Shape()
	r.offX, r.offY = r.BorderX/2, r.BorderY/2
	return nil
}

func (r *Resize) Forward() error {
	in := r.Inputs[0].Data
	out := r.Outputs[0].Data
	out.Clear(0)
	for s := 0; s < r.s; s++ {
		for m := 0; m < r.m; m++ {
			for y := 0; y < r.h; y++ {
				for x := 0; x < r.w; x++ {
					out.Set(s, m, y+r.offY, x+r.offX, in.At(s, m, y, x))
				}
			}
		}
	}
	return nil
}

func (r *Resize) Backward(backpropInput []bool) error {
	if len(backpropInput) > 0 && !backpropInput[0] {
		return nil
	}
	inDelta := r.Inputs[0].Delta
	outDelta := r.Outputs[0].Delta
	inDelta.Clear(0)
	for s := 0; s < r.s; s++ {
		for m := 0; m < r.m; m++ {
			for y := 0; y < r.h; y++ {
				for x := 0; x < r.w; x++ {
					inDelta.Set(s, m, y, x, outDelta.At(s, m, y+r.offY, x+r.offX))
				}
			}
		}
	}
	return nil
}
