package layer

import (
	"fmt"

	"github.com/milosgajdos83/cn24/cnerr"
	"github.com/milosgajdos83/cn24/tensor"
)

// Sum element-wise adds two identically-shaped inputs; backward copies the
// single output delta to each input delta.
type Sum struct {
	Base
}

func NewSum() *Sum { return &Sum{} }

func (s *Sum) CreateOutputs(inputs []*tensor.CombinedTensor) ([]*tensor.CombinedTensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("sum: expected 2 inputs, got %d: %w", len(inputs), cnerr.ErrShape)
	}
	if !inputs[0].Data.SameShape(inputs[1].Data) {
		return nil, fmt.Errorf("sum: input shape mismatch: %w", cnerr.ErrShape)
	}
	ss, m, h, w := inputs[0].Data.Shape()
	out, err := tensor.NewCombinedTensor(ss, m, h, w)
	if err != nil {
		return nil, err
	}
	return []*tensor.CombinedTensor{out}, nil
}

func (s *Sum) Connect(inputs, outputs []*tensor.CombinedTensor, status NetStatus) error {
	want, err := s.CreateOutputs(inputs)
	if err != nil {
		return err
	}
	if len(outputs) != 1 || !outputs[0].Data.SameShape(want[0].Data) {
		return fmt.Errorf("sum: connect/create_outputs shape mismatch: %w", cnerr.ErrWiring)
	}
	s.Base.Inputs, s.Base.Outputs, s.Base.Status = inputs, outputs, status
	return nil
}

func (s *Sum) Forward() error {
	a := s.Inputs[0].Data.Data()
	b := s.Inputs[1].Data.Data()
	out := s.Outputs[0].Data.Data()
	for i := range out {
		out[i] = a[i] + b[i]
	}
	return nil
}

func (s *Sum) Backward(backpropInput []bool) error {
	outDelta := s.Outputs[0].Delta.Data()
	for i, in := range s.Inputs {
		if len(backpropInput) > i && !backpropInput[i] {
			continue
		}
		d := in.Delta.Data()
		for j := range d {
			d[j] += outDelta[j]
		}
	}
	return nil
}
