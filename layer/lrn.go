package layer

import (
	"fmt"
	"math"

	"github.com/milosgajdos83/cn24/cnerr"
	"github.com/milosgajdos83/cn24/tensor"
)

// LocalResponseNormalization(size,alpha,beta,method) divides each
// activation by (1 + (alpha/N)*sum(x_j^2))^beta, where the sum runs over a
// neighbourhood either across channels at the same pixel, or within a
// single channel's spatial window, depending on Method.
type LocalResponseNormalization struct {
	Base

	Size         int
	Alpha, Beta  float64
	Method       string // "across_channels" | "within_channel"

	s, m, h, w int
	divisor    []tensor.Datum // cached per-element (1+...)^beta, reused in backward
}

func NewLocalResponseNormalization(size int, alpha, beta float64, method string) *LocalResponseNormalization {
	return &LocalResponseNormalization{Size: size, Alpha: alpha, Beta: beta, Method: method}
}

func (l *LocalResponseNormalization) CreateOutputs(inputs []*tensor.CombinedTensor) ([]*tensor.CombinedTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("lrn: expected 1 input: %w", cnerr.ErrShape)
	}
	s, m, h, w := inputs[0].Data.Shape()
	out, err := tensor.NewCombinedTensor(s, m, h, w)
	if err != nil {
		return nil, err
	}
	return []*tensor.CombinedTensor{out}, nil
}

func (l *LocalResponseNormalization) Connect(inputs, outputs []*tensor.CombinedTensor, status NetStatus) error {
	want, err := l.CreateOutputs(inputs)
	if err != nil {
		return err
	}
	if len(outputs) != 1 || !outputs[0].Data.SameShape(want[0].Data) {
		return fmt.Errorf("lrn: connect/create_outputs shape mismatch: %w", cnerr.ErrWiring)
	}
	if l.Method != "across_channels" && l.Method != "within_channel" {
		return fmt.Errorf("lrn: unsupported method %q: %w", l.Method, cnerr.ErrConfig)
	}
	l.Base.Inputs, l.Base.Outputs, l.Base.Status = inputs, outputs, status
	l.s, l.m, l.h, l.w = inputs[0].Data.Shape()
	l.divisor = make([]tensor.Datum, l.s*l.m*l.h*l.w)
	return nil
}

func (l *LocalResponseNormalization) neighbourhoodSum(in *tensor.Tensor, s, m, y, x int) float64 {
	half := l.Size / 2
	var sum float64
	if l.Method == "across_channels" {
		for j := m - half; j <= m+half; j++ {
			if j < 0 || j >= l.m {
				continue
			}
			v := float64(in.At(s, j, y, x))
			sum += v * v
		}
		return sum
	}
	for dy := -half; dy <= half; dy++ {
		yy := y + dy
		if yy < 0 || yy >= l.h {
			continue
		}
		for dx := -half; dx <= half; dx++ {
			xx := x + dx
			if xx < 0 || xx >= l.w {
				continue
			}
			v := float64(in.At(s, m, yy, xx))
			sum += v * v
		}
	}
	return sum
}

func (l *LocalResponseNormalization) Forward() error {
	in := l.Inputs[0].Data
	out := l.Outputs[0].Data
	for s := 0; s < l.s; s++ {
		for m := 0; m < l.m; m++ {
			for y := 0; y < l.h; y++ {
				for x := 0; x < l.w; x++ {
					sum := l.neighbourhoodSum(in, s, m, y, x)
					div := math.Pow(1+(l.Alpha/float64(l.Size))*sum, l.Beta)
					idx := ((s*l.m+m)*l.h+y)*l.w + x
					l.divisor[idx] = tensor.Datum(div)
					out.Set(s, m, y, x, tensor.Datum(float64(in.At(s, m, y, x))/div))
				}
			}
		}
	}
	return nil
}

// Backward uses the analytic derivative of x/(1+(alpha/N)*sum(x_j^2))^beta
// with respect to every x_j in the neighbourhood; it must match a
// finite-difference gradient within 20% tolerance per the gradient
// correctness property.
func (l *LocalResponseNormalization) Backward(backpropInput []bool) error {
	if len(backpropInput) > 0 && !backpropInput[0] {
		return nil
	}
	in := l.Inputs[0].Data
	outDelta := l.Outputs[0].Delta
	inDelta := l.Inputs[0].Delta
	half := l.Size / 2

	for s := 0; s < l.s; s++ {
		for m := 0; m < l.m; m++ {
			for y := 0; y < l.h; y++ {
				for x := 0; x < l.w; x++ {
					idx := ((s*l.m+m)*l.h+y)*l.w + x
					div := float64(l.divisor[idx])
					od := float64(outDelta.At(s, m, y, x))
					xi := float64(in.At(s, m, y, x))

					// d(out_i)/d(x_j) = [i==j]/div - (2*alpha/N)*beta*x_i*x_j*div^(-1-1/beta),
					// from the quotient rule on out_i = x_i/div with div = (1+(alpha/N)*sum(x^2))^beta.
					direct := 1.0/div - xi*l.Beta*math.Pow(div, -1.0/l.Beta-1)*2*l.Alpha/float64(l.Size)*xi
					inDelta.Set(s, m, y, x, inDelta.At(s, m, y, x)+tensor.Datum(od*direct))

					if l.Method == "across_channels" {
						for j := m - half; j <= m+half; j++ {
							if j < 0 || j >= l.m || j == m {
								continue
							}
							xj := float64(in.At(s, j, y, x))
							cross := -xi * l.Beta * math.Pow(div, -1.0/l.Beta-1) * 2 * l.Alpha / float64(l.Size) * xj
							inDelta.Set(s, j, y, x, inDelta.At(s, j, y, x)+tensor.Datum(od*cross))
						}
					} else {
						for dy := -half; dy <= half; dy++ {
							yy := y + dy
							if yy < 0 || yy >= l.h {
								continue
							}
							for dx := -half; dx <= half; dx++ {
								xx := x + dx
								if xx < 0 || xx >= l.w || (dx == 0 && dy == 0) {
									continue
								}
								xj := float64(in.At(s, m, yy, xx))
								cross := -xi * l.Beta * math.Pow(div, -1.0/l.Beta-1) * 2 * l.Alpha / float64(l.Size) * xj
								inDelta.Set(s, m, yy, xx, inDelta.At(s, m, yy, xx)+tensor.Datum(od*cross))
							}
						}
					}
				}
			}
		}
	}
	return nil
}
