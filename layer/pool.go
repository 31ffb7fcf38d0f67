package layer

import (
	"fmt"

	"github.com/milosgajdos83/cn24/cnerr"
	"github.com/milosgajdos83/cn24/tensor"
	"github.com/milosgajdos83/cn24/tensormath"
)

// SimpleMaxPooling(rH,rW): non-overlapping rH x rW blocks, input spatial
// dims must be divisible by the region. Backward scatters gradient to the
// recorded per-output argmax index only.
type SimpleMaxPooling struct {
	Base

	RH, RW int

	s, m, h, w   int
	hOut, wOut   int
	argmax       []int // flat input offset per (s,m,oy,ox)
}

func NewSimpleMaxPooling(rh, rw int) *SimpleMaxPooling {
	return &SimpleMaxPooling{RH: rh, RW: rw}
}

func (p *SimpleMaxPooling) CreateOutputs(inputs []*tensor.CombinedTensor) ([]*tensor.CombinedTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("max_pooling: expected 1 input: %w", cnerr.ErrShape)
	}
	s, m, h, w := inputs[0].Data.Shape()
	if h%p.RH != 0 || w%p.RW != 0 {
		return nil, fmt.Errorf("max_pooling: input %dx%d not divisible by region %dx%d: %w", h, w, p.RH, p.RW, cnerr.ErrShape)
	}
	out, err := tensor.NewCombinedTensor(s, m, h/p.RH, w/p.RW)
	if err != nil {
		return nil, err
	}
	return []*tensor.CombinedTensor{out}, nil
}

func (p *SimpleMaxPooling) Connect(inputs, outputs []*tensor.CombinedTensor, status NetStatus) error {
	want, err := p.CreateOutputs(inputs)
	if err != nil {
		return err
	}
	if len(outputs) != 1 || !outputs[0].Data.SameShape(want[0].Data) {
		return fmt.Errorf("max_pooling: connect/create_outputs shape mismatch: %w", cnerr.ErrWiring)
	}
	p.Base.Inputs, p.Base.Outputs, p.Base.Status = inputs, outputs, status
	p.s, p.m, p.h, p.w = inputs[0].Data.Shape()
	_, _, p.hOut, p.wOut = outputs[0].Data.Shape()
	p.argmax = make([]int, p.s*p.m*p.hOut*p.wOut)
	return nil
}

func (p *SimpleMaxPooling) Forward() error {
	in := p.Inputs[0].Data
	out := p.Outputs[0].Data
	for s := 0; s < p.s; s++ {
		for m := 0; m < p.m; m++ {
			for oy := 0; oy < p.hOut; oy++ {
				for ox := 0; ox < p.wOut; ox++ {
					best := tensor.Datum(0)
					bestOff := -1
					for y := 0; y < p.RH; y++ {
						for x := 0; x < p.RW; x++ {
							iy, ix := oy*p.RH+y, ox*p.RW+x
							v := in.At(s, m, iy, ix)
							if bestOff < 0 || v > best {
								best = v
								bestOff = ((s*p.m+m)*p.h+iy)*p.w + ix
							}
						}
					}
					idx := ((s*p.m+m)*p.hOut+oy)*p.wOut + ox
					p.argmax[idx] = bestOff
					out.Set(s, m, oy, ox, best)
				}
			}
		}
	}
	return nil
}

func (p *SimpleMaxPooling) Backward(backpropInput []bool) error {
	if len(backpropInput) > 0 && !backpropInput[0] {
		return nil
	}
	outDelta := p.Outputs[0].Delta
	inDelta := p.Inputs[0].Delta.Data()
	for s := 0; s < p.s; s++ {
		for m := 0; m < p.m; m++ {
			for oy := 0; oy < p.hOut; oy++ {
				for ox := 0; ox < p.wOut; ox++ {
					idx := ((s*p.m+m)*p.hOut+oy)*p.wOut + ox
					inDelta[p.argmax[idx]] += outDelta.At(s, m, oy, ox)
				}
			}
		}
	}
	return nil
}

// AdvancedMaxPooling(rH,rW,strideH,strideW): output spatial is the usual
// conv-style ⌊(Hin-rH)/strideH⌋+1; overlapping windows may scatter
// gradient contributions from multiple output cells into the same input
// position, which sum.
type AdvancedMaxPooling struct {
	Base

	RH, RW, StrideH, StrideW int

	s, m, h, w int
	hOut, wOut int
	argmax     []int
}

func NewAdvancedMaxPooling(rh, rw, strideH, strideW int) *AdvancedMaxPooling {
	return &AdvancedMaxPooling{RH: rh, RW: rw, StrideH: strideH, StrideW: strideW}
}

func (p *AdvancedMaxPooling) CreateOutputs(inputs []*tensor.CombinedTensor) ([]*tensor.CombinedTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("advanced_max_pooling: expected 1 input: %w", cnerr.ErrShape)
	}
	s, m, h, w := inputs[0].Data.Shape()
	hOut := tensormath.OutSize(h, p.RH, p.StrideH, 0)
	wOut := tensormath.OutSize(w, p.RW, p.StrideW, 0)
	if hOut <= 0 || wOut <= 0 {
		return nil, fmt.Errorf("advanced_max_pooling: non-positive output spatial size: %w", cnerr.ErrShape)
	}
	out, err := tensor.NewCombinedTensor(s, m, hOut, wOut)
	if err != nil {
		return nil, err
	}
	return []*tensor.CombinedTensor{out}, nil
}

func (p *AdvancedMaxPooling) Connect(inputs, outputs []*tensor.CombinedTensor, status NetStatus) error {
	want, err := p.CreateOutputs(inputs)
	if err != nil {
		return err
	}
	if len(outputs) != 1 || !outputs[0].Data.SameShape(want[0].Data) {
		return fmt.Errorf("advanced_max_pooling: connect/create_outputs shape mismatch: %w", cnerr.ErrWiring)
	}
	p.Base.Inputs, p.Base.Outputs, p.Base.Status = inputs, outputs, status
	p.s, p.m, p.h, p.w = inputs[0].Data.Shape()
	_, _, p.hOut, p.wOut = outputs[0].Data.Shape()
	p.argmax = make([]int, p.s*p.m*p.hOut*p.wOut)
	return nil
}

func (p *AdvancedMaxPooling) Forward() error {
	in := p.Inputs[0].Data
	out := p.Outputs[0].Data
	for s := 0; s < p.s; s++ {
		for m := 0; m < p.m; m++ {
			for oy := 0; oy < p.hOut; oy++ {
				for ox := 0; ox < p.wOut; ox++ {
					best := tensor.Datum(0)
					bestOff := -1
					for y := 0; y < p.RH; y++ {
						iy := oy*p.StrideH + y
						if iy >= p.h {
							continue
						}
						for x := 0; x < p.RW; x++ {
							ix := ox*p.StrideW + x
							if ix >= p.w {
								continue
							}
							v := in.At(s, m, iy, ix)
							if bestOff < 0 || v > best {
								best = v
								bestOff = ((s*p.m+m)*p.h+iy)*p.w + ix
							}
						}
					}
					idx := ((s*p.m+m)*p.hOut+oy)*p.wOut + ox
					p.argmax[idx] = bestOff
					out.Set(s, m, oy, ox, best)
				}
			}
		}
	}
	return nil
}

func (p *AdvancedMaxPooling) Backward(backpropInput []bool) error {
	if len(backpropInput) > 0 && !backpropInput[0] {
		return nil
	}
	outDelta := p.Outputs[0].Delta
	inDelta := p.Inputs[0].Delta.Data()
	for s := 0; s < p.s; s++ {
		for m := 0; m < p.m; m++ {
			for oy := 0; oy < p.hOut; oy++ {
				for ox := 0; ox < p.wOut; ox++ {
					idx := ((s*p.m+m)*p.hOut+oy)*p.wOut + ox
					inDelta[p.argmax[idx]] += outDelta.At(s, m, oy, ox)
				}
			}
		}
	}
	return nil
}
