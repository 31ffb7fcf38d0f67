// Package optimizer implements the two parameter-update rules CN24 trains
// with: SGD with momentum, and Adam. An Optimizer is blind to graph
// structure -- it only ever sees a flat list of CombinedTensors (data =
// weights, delta = accumulated gradient) plus the current step index.
package optimizer

import (
	"math"

	"github.com/milosgajdos83/cn24/tensor"
)

// Hyperparameters groups the trainer-configured knobs that feed into an
// optimizer's learning-rate schedule and regularization terms.
type Hyperparameters struct {
	LearningRate float64
	Gamma        float64 // learning-rate decay rate
	Exponent     float64 // learning-rate decay exponent
	L1Weight     float64
	L2Weight     float64

	Momentum float64 // SGD only

	Beta1, Beta2, Epsilon float64 // Adam only
}

// LearningRateAt applies the inverse-decay schedule eta(t) = lr /
// (1+gamma*t)^exponent.
func (h Hyperparameters) LearningRateAt(step int) float64 {
	if h.Gamma == 0 {
		return h.LearningRate
	}
	return h.LearningRate / math.Pow(1+h.Gamma*float64(step), h.Exponent)
}

// Optimizer updates a set of parameter CombinedTensors given the current
// step index, then zeros their deltas in preparation for the next forward
// pass. llr is a per-layer local-learning-rate multiplier.
type Optimizer interface {
	Step(params []*tensor.CombinedTensor, llr float64, step int) error
}

// sign returns -1, 0 or 1.
func sign(v tensor.Datum) tensor.Datum {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// SGD is momentum-accelerated stochastic gradient descent. It carries one
// velocity tensor per distinct parameter tensor, keyed by pointer identity,
// so the same Optimizer instance can be reused across Step calls for the
// life of a NetGraph.
type SGD struct {
	Hyperparameters

	velocity map[*tensor.Tensor]*tensor.Tensor
}

func NewSGD(hp Hyperparameters) *SGD {
	return &SGD{Hyperparameters: hp, velocity: make(map[*tensor.Tensor]*tensor.Tensor)}
}

func (o *SGD) velocityFor(p *tensor.CombinedTensor) (*tensor.Tensor, error) {
	v, ok := o.velocity[p.Data]
	if ok && v.SameShape(p.Data) {
		return v, nil
	}
	s, m, h, w := p.Data.Shape()
	v, err := tensor.New(s, m, h, w)
	if err != nil {
		return nil, err
	}
	o.velocity[p.Data] = v
	return v, nil
}

func (o *SGD) Step(params []*tensor.CombinedTensor, llr float64, step int) error {
	lr := o.LearningRateAt(step) * llr
	for _, p := range params {
		v, err := o.velocityFor(p)
		if err != nil {
			return err
		}
		w := p.Data.Data()
		d := p.Delta.Data()
		vd := v.Data()
		for i := range w {
			grad := d[i] + tensor.Datum(o.L1Weight)*sign(w[i]) + tensor.Datum(o.L2Weight)*w[i]
			vd[i] = tensor.Datum(o.Momentum)*vd[i] - tensor.Datum(lr)*grad
			w[i] += vd[i]
			d[i] = 0
		}
	}
	return nil
}

// Adam implements bias-corrected Adam, carrying first- and second-moment
// tensors per parameter, keyed by pointer identity like SGD's velocity.
type Adam struct {
	Hyperparameters

	m map[*tensor.Tensor]*tensor.Tensor
	v map[*tensor.Tensor]*tensor.Tensor
}

func NewAdam(hp Hyperparameters) *Adam {
	if hp.Beta1 == 0 {
		hp.Beta1 = 0.9
	}
	if hp.Beta2 == 0 {
		hp.Beta2 = 0.999
	}
	if hp.Epsilon == 0 {
		hp.Epsilon = 1e-8
	}
	return &Adam{Hyperparameters: hp, m: make(map[*tensor.Tensor]*tensor.Tensor), v: make(map[*tensor.Tensor]*tensor.Tensor)}
}

func (o *Adam) stateFor(store map[*tensor.Tensor]*tensor.Tensor, p *tensor.CombinedTensor) (*tensor.Tensor, error) {
	t, ok := store[p.Data]
	if ok && t.SameShape(p.Data) {
		return t, nil
	}
	s, mm, h, w := p.Data.Shape()
	t, err := tensor.New(s, mm, h, w)
	if err != nil {
		return nil, err
	}
	store[p.Data] = t
	return t, nil
}

func (o *Adam) Step(params []*tensor.CombinedTensor, llr float64, step int) error {
	t := float64(step + 1)
	biasCorr1 := 1 - math.Pow(o.Beta1, t)
	biasCorr2 := 1 - math.Pow(o.Beta2, t)
	lr := o.LearningRate * llr

	for _, p := range params {
		mt, err := o.stateFor(o.m, p)
		if err != nil {
			return err
		}
		vt, err := o.stateFor(o.v, p)
		if err != nil {
			return err
		}
		w := p.Data.Data()
		d := p.Delta.Data()
		md := mt.Data()
		vd := vt.Data()
		for i := range w {
			grad := float64(d[i]) + o.L1Weight*float64(sign(w[i])) + o.L2Weight*float64(w[i])
			md[i] = tensor.Datum(o.Beta1*float64(md[i]) + (1-o.Beta1)*grad)
			vd[i] = tensor.Datum(o.Beta2*float64(vd[i]) + (1-o.Beta2)*grad*grad)
			mHat := float64(md[i]) / biasCorr1
			vHat := float64(vd[i]) / biasCorr2
			w[i] -= tensor.Datum(lr * mHat / (math.Sqrt(vHat) + o.Epsilon))
			d[i] = 0
		}
	}
	return nil
}
