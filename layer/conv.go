package layer

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/milosgajdos83/cn24/cnerr"
	"github.com/milosgajdos83/cn24/tensor"
	"github.com/milosgajdos83/cn24/tensormath"
)

// Convolution is the canonical Conv(kH,kW,K_out,stride,pad,group,seed)
// layer: forward lowers the input through IM2COL then a GEMM against the
// weight matrix plus a broadcast bias; backward runs the adjoint GEMMs for
// the input and weight gradients and a sum for the bias gradient.
//
// group > 1 partitions the input and output maps into `group` disjoint
// slices, each convolved independently -- a block-diagonal weight matrix
// expressed as `group` independent GEMMs rather than materialized densely.
type Convolution struct {
	Base

	KH, KW         int
	KOut           int
	StrideH, StrideW int
	PadH, PadW     int
	Group          int
	Seed           int64

	weights *tensor.CombinedTensor // KOut x (Cin/group * KH * KW), per group
	bias    *tensor.CombinedTensor // KOut x 1

	cIn, h, w   int
	hOut, wOut  int
	samples     int
	colBuf      []tensor.Datum
	colDeltaBuf []tensor.Datum

	// initHint is set by OnLayerConnect: "tanh"/"sigmoid" -> Xavier,
	// "relu"/"leaky_relu" -> He, "" -> Xavier default.
	initHint string
}

func NewConvolution(kH, kW, kOut, strideH, strideW, padH, padW, group int, seed int64) *Convolution {
	if group < 1 {
		group = 1
	}
	if strideH < 1 {
		strideH = 1
	}
	if strideW < 1 {
		strideW = 1
	}
	return &Convolution{KH: kH, KW: kW, KOut: kOut, StrideH: strideH, StrideW: strideW, PadH: padH, PadW: padW, Group: group, Seed: seed}
}

func (c *Convolution) CreateOutputs(inputs []*tensor.CombinedTensor) ([]*tensor.CombinedTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("convolution: expected 1 input, got %d: %w", len(inputs), cnerr.ErrShape)
	}
	s, cIn, h, w := inputs[0].Data.Shape()
	if cIn%c.Group != 0 || c.KOut%c.Group != 0 {
		return nil, fmt.Errorf("convolution: group %d must divide both input maps %d and output maps %d: %w", c.Group, cIn, c.KOut, cnerr.ErrShape)
	}
	hOut := tensormath.OutSize(h, c.KH, c.StrideH, c.PadH)
	wOut := tensormath.OutSize(w, c.KW, c.StrideW, c.PadW)
	if hOut <= 0 || wOut <= 0 {
		return nil, fmt.Errorf("convolution: non-positive output spatial size %dx%d: %w", hOut, wOut, cnerr.ErrShape)
	}
	out, err := tensor.NewCombinedTensor(s, c.KOut, hOut, wOut)
	if err != nil {
		return nil, err
	}
	return []*tensor.CombinedTensor{out}, nil
}

func (c *Convolution) Connect(inputs, outputs []*tensor.CombinedTensor, status NetStatus) error {
	want, err := c.CreateOutputs(inputs)
	if err != nil {
		return err
	}
	if len(outputs) != 1 || !outputs[0].Data.SameShape(want[0].Data) {
		return fmt.Errorf("convolution: connect/create_outputs shape mismatch: %w", cnerr.ErrWiring)
	}
	c.Base.Inputs, c.Base.Outputs, c.Base.Status = inputs, outputs, status
	c.samples, c.cIn, c.h, c.w = inputs[0].Data.Shape()
	_, _, c.hOut, c.wOut = outputs[0].Data.Shape()

	cInPerGroup := c.cIn / c.Group
	kOutPerGroup := c.KOut / c.Group
	weights, err := tensor.NewCombinedTensor(1, c.Group, kOutPerGroup, cInPerGroup*c.KH*c.KW)
	if err != nil {
		return err
	}
	bias, err := tensor.NewCombinedTensor(1, 1, 1, c.KOut)
	if err != nil {
		return err
	}
	c.weights, c.bias = weights, bias
	c.colBuf = make([]tensor.Datum, cInPerGroup*c.KH*c.KW*c.samples*c.hOut*c.wOut)
	c.colDeltaBuf = make([]tensor.Datum, len(c.colBuf))
	return c.InitializeWeights(c.Seed)
}

// OnLayerConnect lets a downstream nonlinearity bias this layer's weight
// init variance: Xavier fan-in/fan-out for Tanh/Sigmoid successors, He
// fan-in for ReLU/LeakyReLU successors.
func (c *Convolution) OnLayerConnect(downstream []Layer) error {
	for _, d := range downstream {
		if nl, ok := d.(*NonLinearity); ok {
			c.initHint = nl.Kind
			return c.InitializeWeights(c.Seed)
		}
	}
	return nil
}

func (c *Convolution) InitializeWeights(seed int64) error {
	rng := rand.New(rand.NewSource(seed))
	cInPerGroup := c.cIn / c.Group
	fanIn := cInPerGroup * c.KH * c.KW
	fanOut := (c.KOut / c.Group) * c.KH * c.KW

	var bound float64
	switch c.initHint {
	case "relu", "leaky_relu":
		bound = math.Sqrt(2.0 / float64(fanIn))
	case "tanh", "sigmoid":
		bound = math.Sqrt(6.0 / float64(fanIn+fanOut))
	default:
		bound = 1.0 / math.Sqrt(float64(fanIn))
	}
	data := c.weights.Data.Data()
	for i := range data {
		data[i] = tensor.Datum((rng.Float64()*2 - 1) * bound)
	}
	c.bias.Data.Clear(0)
	c.weights.ZeroDelta()
	c.bias.ZeroDelta()
	return nil
}

func (c *Convolution) Forward() error {
	in := c.Inputs[0].Data
	out := c.Outputs[0].Data
	cInPerGroup := c.cIn / c.Group
	kOutPerGroup := c.KOut / c.Group
	colRows := cInPerGroup * c.KH * c.KW
	colCols := c.samples * c.hOut * c.wOut

	for g := 0; g < c.Group; g++ {
		groupIn := sliceGroupInput(in, c.samples, c.cIn, c.h, c.w, g, cInPerGroup)
		tensormath.IM2COL(groupIn, c.samples, cInPerGroup, c.h, c.w, c.colBuf, c.KH, c.KW, c.StrideH, c.StrideW, c.PadH, c.PadW)

		wBase := g * kOutPerGroup * colRows
		wSlice := c.weights.Data.Data()[wBase : wBase+kOutPerGroup*colRows]
		outSlice := make([]tensor.Datum, kOutPerGroup*colCols)
		if err := tensormath.GEMM(wSlice, kOutPerGroup, colRows, c.colBuf, colRows, colCols, outSlice, kOutPerGroup, colCols, 1, 0, false, false); err != nil {
			return err
		}
		scatterGroupOutput(out, outSlice, c.samples, c.KOut, c.hOut, c.wOut, g, kOutPerGroup, c.bias.Data.Data()[g*kOutPerGroup:(g+1)*kOutPerGroup])
	}
	return nil
}

func (c *Convolution) Backward(backpropInput []bool) error {
	outDelta := c.Outputs[0].Delta
	inDelta := c.Inputs[0].Delta
	cInPerGroup := c.cIn / c.Group
	kOutPerGroup := c.KOut / c.Group
	colRows := cInPerGroup * c.KH * c.KW
	colCols := c.samples * c.hOut * c.wOut

	wDelta := c.weights.Delta.Data()
	bDelta := c.bias.Delta.Data()

	for g := 0; g < c.Group; g++ {
		odSample := sliceGroupInput(outDelta, c.samples, c.KOut, c.hOut, c.wOut, g, kOutPerGroup)
		// Reorder (sample, map, pixel) into the (map, sample*pixel) layout of
		// the IM2COL column matrix that the GEMMs below pair it with.
		hw := c.hOut * c.wOut
		odSlice := make([]tensor.Datum, len(odSample))
		for si := 0; si < c.samples; si++ {
			for ko := 0; ko < kOutPerGroup; ko++ {
				copy(odSlice[ko*colCols+si*hw:ko*colCols+(si+1)*hw], odSample[(si*kOutPerGroup+ko)*hw:(si*kOutPerGroup+ko+1)*hw])
			}
		}

		for ko := 0; ko < kOutPerGroup; ko++ {
			var sum tensor.Datum
			for i := ko * colCols; i < (ko+1)*colCols; i++ {
				sum += odSlice[i]
			}
			bDelta[g*kOutPerGroup+ko] += sum
		}

		groupIn := sliceGroupInput(c.Inputs[0].Data, c.samples, c.cIn, c.h, c.w, g, cInPerGroup)
		tensormath.IM2COL(groupIn, c.samples, cInPerGroup, c.h, c.w, c.colBuf, c.KH, c.KW, c.StrideH, c.StrideW, c.PadH, c.PadW)

		wgBase := g * kOutPerGroup * colRows
		wGradSlice := wDelta[wgBase : wgBase+kOutPerGroup*colRows]
		if err := tensormath.GEMM(odSlice, kOutPerGroup, colCols, c.colBuf, colRows, colCols, wGradSlice, kOutPerGroup, colRows, 1, 1, false, true); err != nil {
			return err
		}

		if len(backpropInput) == 0 || (len(backpropInput) > 0 && backpropInput[0]) {
			wBase := g * kOutPerGroup * colRows
			wSlice := c.weights.Data.Data()[wBase : wBase+kOutPerGroup*colRows]
			for i := range c.colDeltaBuf {
				c.colDeltaBuf[i] = 0
			}
			if err := tensormath.GEMM(wSlice, kOutPerGroup, colRows, odSlice, kOutPerGroup, colCols, c.colDeltaBuf, colRows, colCols, 1, 0, true, false); err != nil {
				return err
			}
			groupInDelta := make([]tensor.Datum, c.samples*cInPerGroup*c.h*c.w)
			tensormath.COL2IM(c.colDeltaBuf, c.samples, cInPerGroup, c.h, c.w, groupInDelta, c.KH, c.KW, c.StrideH, c.StrideW, c.PadH, c.PadW)
			addGroupInput(inDelta, groupInDelta, c.samples, c.cIn, c.h, c.w, g, cInPerGroup)
		}
	}
	return nil
}

func (c *Convolution) Parameters() []*tensor.CombinedTensor {
	return []*tensor.CombinedTensor{c.weights, c.bias}
}

// sliceGroupInput extracts the contiguous-per-sample slice of `count` maps
// starting at group*count out of a (S, totalMaps, H, W) tensor's flat data.
func sliceGroupInput(t *tensor.Tensor, s, totalMaps, h, w, group, count int) []tensor.Datum {
	out := make([]tensor.Datum, s*count*h*w)
	data := t.Data()
	for si := 0; si < s; si++ {
		srcBase := (si*totalMaps + group*count) * h * w
		dstBase := si * count * h * w
		copy(out[dstBase:dstBase+count*h*w], data[srcBase:srcBase+count*h*w])
	}
	return out
}

func scatterGroupOutput(t *tensor.Tensor, src []tensor.Datum, s, totalMaps, h, w, group, count int, bias []tensor.Datum) {
	data := t.Data()
	for si := 0; si < s; si++ {
		for m := 0; m < count; m++ {
			dstBase := (si*totalMaps + group*count + m) * h * w
			srcBase := m*s*h*w + si*h*w
			for i := 0; i < h*w; i++ {
				data[dstBase+i] = src[srcBase+i] + bias[m]
			}
		}
	}
}

func addGroupInput(t *tensor.Tensor, src []tensor.Datum, s, totalMaps, h, w, group, count int) {
	data := t.Data()
	for si := 0; si < s; si++ {
		dstBase := (si*totalMaps + group*count) * h * w
		srcBase := si * count * h * w
		for i := 0; i < count*h*w; i++ {
			data[dstBase+i] += src[srcBase+i]
		}
	}
}
