package optimizer

import (
	"testing"

	"github.com/milosgajdos83/cn24/tensor"
	"github.com/stretchr/testify/require"
)

func newParam(t *testing.T, weight, grad tensor.Datum) *tensor.CombinedTensor {
	t.Helper()
	p, err := tensor.NewCombinedTensor(1, 1, 1, 1)
	require.NoError(t, err)
	p.Data.Data()[0] = weight
	p.Delta.Data()[0] = grad
	return p
}

func TestLearningRateAtNoDecay(t *testing.T) {
	hp := Hyperparameters{LearningRate: 0.1}
	require.Equal(t, 0.1, hp.LearningRateAt(100))
}

func TestLearningRateAtDecays(t *testing.T) {
	hp := Hyperparameters{LearningRate: 0.1, Gamma: 0.0001, Exponent: 0.75}
	r0 := hp.LearningRateAt(0)
	r100 := hp.LearningRateAt(10000)
	require.InDelta(t, 0.1, r0, 1e-9)
	require.Less(t, r100, r0)
}

func TestSGDStepMovesWeightAgainstGradient(t *testing.T) {
	p := newParam(t, 1.0, 2.0)
	sgd := NewSGD(Hyperparameters{LearningRate: 0.1})

	require.NoError(t, sgd.Step([]*tensor.CombinedTensor{p}, 1.0, 0))

	// w -= lr*grad with zero momentum/regularization.
	require.InDelta(t, 1.0-0.1*2.0, float64(p.Data.Data()[0]), 1e-6)
	require.Equal(t, tensor.Datum(0), p.Delta.Data()[0])
}

func TestSGDStepZeroGradientLeavesWeightUnchanged(t *testing.T) {
	p := newParam(t, 5.0, 0.0)
	sgd := NewSGD(Hyperparameters{LearningRate: 0.1, Momentum: 0.9})

	require.NoError(t, sgd.Step([]*tensor.CombinedTensor{p}, 1.0, 0))
	require.InDelta(t, 5.0, float64(p.Data.Data()[0]), 1e-6)
}

func TestAdamStepMovesWeightAgainstGradient(t *testing.T) {
	p := newParam(t, 1.0, 1.0)
	adam := NewAdam(Hyperparameters{LearningRate: 0.1})

	require.NoError(t, adam.Step([]*tensor.CombinedTensor{p}, 1.0, 0))

	require.Less(t, float64(p.Data.Data()[0]), 1.0)
	require.Equal(t, tensor.Datum(0), p.Delta.Data()[0])
}

func TestAdamDefaultsFillWhenUnset(t *testing.T) {
	adam := NewAdam(Hyperparameters{LearningRate: 0.001})
	require.Equal(t, 0.9, adam.Beta1)
	require.Equal(t, 0.999, adam.Beta2)
	require.Equal(t, 1e-8, adam.Epsilon)
}
