package layer

import (
	"fmt"

	"github.com/milosgajdos83/cn24/cnerr"
	"github.com/milosgajdos83/cn24/tensor"
)

// Flatten shadow-reshapes its input to (S,1,1,M*H*W). Both Data and Delta
// are shadowed, so Forward/Backward are no-ops: the shared buffer already
// carries whatever the upstream/downstream layer wrote.
type Flatten struct {
	Base
}

func NewFlatten() *Flatten { return &Flatten{} }

func (f *Flatten) CreateOutputs(inputs []*tensor.CombinedTensor) ([]*tensor.CombinedTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("flatten: expected 1 input: %w", cnerr.ErrShape)
	}
	s, m, h, w := inputs[0].Data.Shape()
	data, err := tensor.New(0, 0, 0, 0)
	if err != nil {
		return nil, err
	}
	if err := data.Shadow(inputs[0].Data, s, 1, 1, m*h*w); err != nil {
		return nil, err
	}
	delta, err := tensor.New(0, 0, 0, 0)
	if err != nil {
		return nil, err
	}
	if err := delta.Shadow(inputs[0].Delta, s, 1, 1, m*h*w); err != nil {
		return nil, err
	}
	return []*tensor.CombinedTensor{{Data: data, Delta: delta}}, nil
}

func (f *Flatten) Connect(inputs, outputs []*tensor.CombinedTensor, status NetStatus) error {
	if len(outputs) != 1 {
		return fmt.Errorf("flatten: expected 1 output: %w", cnerr.ErrWiring)
	}
	f.Base.Inputs, f.Base.Outputs, f.Base.Status = inputs, outputs, status
	return nil
}

func (f *Flatten) Forward() error  { return nil }
func (f *Flatten) Backward([]bool) error { return nil }
