package layer

import (
	"fmt"

	"github.com/milosgajdos83/cn24/cnerr"
	"github.com/milosgajdos83/cn24/tensor"
)

// Concat joins its inputs along the width dimension: forward is a block
// copy, backward the symmetric split.
type Concat struct {
	Base

	s, m, h  int
	widths   []int
}

func NewConcat() *Concat { return &Concat{} }

func (c *Concat) CreateOutputs(inputs []*tensor.CombinedTensor) ([]*tensor.CombinedTensor, error) {
	if len(inputs) < 1 {
		return nil, fmt.Errorf("concat: expected at least 1 input: %w", cnerr.ErrShape)
	}
	s, m, h, w := inputs[0].Data.Shape()
	total := w
	for _, in := range inputs[1:] {
		is, im, ih, iw := in.Data.Shape()
		if is != s || im != m || ih != h {
			return nil, fmt.Errorf("concat: input shape mismatch: %w", cnerr.ErrShape)
		}
		total += iw
	}
	out, err := tensor.NewCombinedTensor(s, m, h, total)
	if err != nil {
		return nil, err
	}
	return []*tensor.CombinedTensor{out}, nil
}

func (c *Concat) Connect(inputs, outputs []*tensor.CombinedTensor, status NetStatus) error {
	want, err := c.CreateOutputs(inputs)
	if err != nil {
		return err
	}
	if len(outputs) != 1 || !outputs[0].Data.SameShape(want[0].Data) {
		return fmt.Errorf("concat: connect/create_outputs shape mismatch: %w", cnerr.ErrWiring)
	}
	c.Base.Inputs, c.Base.Outputs, c.Base.Status = inputs, outputs, status
	c.s, c.m, c.h, _ = inputs[0].Data.Shape()
	c.widths = make([]int, len(inputs))
	for i, in := range inputs {
		_, _, _, w := in.Data.Shape()
		c.widths[i] = w
	}
	return nil
}

func (c *Concat) Forward() error {
	out := c.Outputs[0].Data
	offset := 0
	for i, in := range c.Inputs {
		id := in.Data
		for s := 0; s < c.s; s++ {
			for m := 0; m < c.m; m++ {
				for h := 0; h < c.h; h++ {
					for x := 0; x < c.widths[i]; x++ {
						out.Set(s, m, h, offset+x, id.At(s, m, h, x))
					}
				}
			}
		}
		offset += c.widths[i]
	}
	return nil
}

func (c *Concat) Backward(backpropInput []bool) error {
	outDelta := c.Outputs[0].Delta
	offset := 0
	for i, in := range c.Inputs {
		if len(backpropInput) > i && !backpropInput[i] {
			offset += c.widths[i]
			continue
		}
		id := in.Delta
		for s := 0; s < c.s; s++ {
			for m := 0; m < c.m; m++ {
				for h := 0; h < c.h; h++ {
					for x := 0; x < c.widths[i]; x++ {
						id.Set(s, m, h, x, id.At(s, m, h, x)+outDelta.At(s, m, h, offset+x))
					}
				}
			}
		}
		offset += c.widths[i]
	}
	return nil
}

// Concatenation joins its inputs along the map dimension.
type Concatenation struct {
	Base

	s, h, w int
	mapsIn  []int
}

func NewConcatenation() *Concatenation { return &Concatenation{} }

func (c *Concatenation) CreateOutputs(inputs []*tensor.CombinedTensor) ([]*tensor.CombinedTensor, error) {
	if len(inputs) < 1 {
		return nil, fmt.Errorf("concatenation: expected at least 1 input: %w", cnerr.ErrShape)
	}
	s, m, h, w := inputs[0].Data.Shape()
	total := m
	for _, in := range inputs[1:] {
		is, im, ih, iw := in.Data.Shape()
		if is != s || ih != h || iw != w {
			return nil, fmt.Errorf("concatenation: input shape mismatch: %w", cnerr.ErrShape)
		}
		total += im
	}
	out, err := tensor.NewCombinedTensor(s, total, h, w)
	if err != nil {
		return nil, err
	}
	return []*tensor.CombinedTensor{out}, nil
}

func (c *Concatenation) Connect(inputs, outputs []*tensor.CombinedTensor, status NetStatus) error {
	want, err := c.CreateOutputs(inputs)
	if err != nil {
		return err
	}
	if len(outputs) != 1 || !outputs[0].Data.SameShape(want[0].Data) {
		return fmt.Errorf("concatenation: connect/create_outputs shape mismatch: %w", cnerr.ErrWiring)
	}
	c.Base.Inputs, c.Base.Outputs, c.Base.Status = inputs, outputs, status
	c.s, _, c.h, c.w = inputs[0].Data.Shape()
	c.mapsIn = make([]int, len(inputs))
	for i, in := range inputs {
		_, m, _, _ := in.Data.Shape()
		c.mapsIn[i] = m
	}
	return nil
}

func (c *Concatenation) Forward() error {
	out := c.Outputs[0].Data
	offset := 0
	for i, in := range c.Inputs {
		id := in.Data
		for s := 0; s < c.s; s++ {
			for m := 0; m < c.mapsIn[i]; m++ {
				for y := 0; y < c.h; y++ {
					for x := 0; x < c.w; x++ {
						out.Set(s, offset+m, y, x, id.At(s, m, y, x))
					}
				}
			}
		}
		offset += c.mapsIn[i]
	}
	return nil
}

func (c *Concatenation) Backward(backpropInput []bool) error {
	outDelta := c.Outputs[0].Delta
	offset := 0
	for i, in := range c.Inputs {
		if len(backpropInput) > i && !backpropInput[i] {
			offset += c.mapsIn[i]
			continue
		}
		id := in.Delta
		for s := 0; s < c.s; s++ {
			for m := 0; m < c.mapsIn[i]; m++ {
				for y := 0; y < c.h; y++ {
					for x := 0; x < c.w; x++ {
						id.Set(s, m, y, x, id.At(s, m, y, x)+outDelta.At(s, offset+m, y, x))
					}
				}
			}
		}
		offset += c.mapsIn[i]
	}
	return nil
}
