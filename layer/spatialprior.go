package layer

import (
	"fmt"

	"github.com/milosgajdos83/cn24/cnerr"
	"github.com/milosgajdos83/cn24/tensor"
)

// SpatialPrior appends two feature maps to the input carrying normalized
// x and y coordinates in [0,1]. Backward passes the upstream gradient
// through unchanged for the original maps; the coordinate maps have no
// upstream gradient to propagate.
type SpatialPrior struct {
	Base

	s, m, h, w int
}

func NewSpatialPrior() *SpatialPrior { return &SpatialPrior{} }

func (p *SpatialPrior) CreateOutputs(inputs []*tensor.CombinedTensor) ([]*tensor.CombinedTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("spatial_prior: expected 1 input: %w", cnerr.ErrShape)
	}
	s, m, h, w := inputs[0].Data.Shape()
	out, err := tensor.NewCombinedTensor(s, m+2, h, w)
	if err != nil {
		return nil, err
	}
	return []*tensor.CombinedTensor{out}, nil
}

func (p *SpatialPrior) Connect(inputs, outputs []*tensor.CombinedTensor, status NetStatus) error {
	want, err := p.CreateOutputs(inputs)
	if err != nil {
		return err
	}
	if len(outputs) != 1 || !outputs[0].Data.SameShape(want[0].Data) {
		return fmt.Errorf("spatial_prior: connect/create_outputs shape mismatch: %w", cnerr.ErrWiring)
	}
	p.Base.Inputs, p.Base.Outputs, p.Base.Status = inputs, outputs, status
	p.s, p.m, p.h, p.w = inputs[0].Data.Shape()
	return nil
}

func (p *SpatialPrior) Forward() error {
	in := p.Inputs[0].Data
	out := p.Outputs[0].Data
	for s := 0; s < p.s; s++ {
		for m := 0; m < p.m; m++ {
			for y := 0; y < p.h; y++ {
				for x := 0; x < p.w; x++ {
					out.Set(s, m, y, x, in.At(s, m, y, x))
				}
			}
		}
		for y := 0; y < p.h; y++ {
			for x := 0; x < p.w; x++ {
				xNorm := tensor.Datum(0)
				yNorm := tensor.Datum(0)
				if p.w > 1 {
					xNorm = tensor.Datum(x) / tensor.Datum(p.w-1)
				}
				if p.h > 1 {
					yNorm = tensor.Datum(y) / tensor.Datum(p.h-1)
				}
				out.Set(s, p.m, y, x, xNorm)
				out.Set(s, p.m+1, y, x, yNorm)
			}
		}
	}
	return nil
}

func (p *SpatialPrior) Backward(backpropInput []bool) error {
	if len(backpropInput) > 0 && !backpropInput[0] {
		return nil
	}
	outDelta := p.Outputs[0].Delta
	inDelta := p.Inputs[0].Delta
	for s := 0; s < p.s; s++ {
		for m := 0; m < p.m; m++ {
			for y := 0; y < p.h; y++ {
				for x := 0; x < p.w; x++ {
					inDelta.Set(s, m, y, x, inDelta.At(s, m, y, x)+outDelta.At(s, m, y, x))
				}
			}
		}
	}
	return nil
}
