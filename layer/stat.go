package layer

import (
	"fmt"
	"math"

	"github.com/milosgajdos83/cn24/cnerr"
	"github.com/milosgajdos83/cn24/tensor"
)

// Error is a squared-error loss between a prediction and a label tensor of
// identical shape, optionally scaled per-element by a weight tensor (the
// usual regression/segmentation criterion).
type Error struct {
	Base

	loss float64
}

func NewError() *Error { return &Error{} }

func (e *Error) Capabilities() Capabilities { return Capabilities{IsLoss: true} }

func (e *Error) CreateOutputs(inputs []*tensor.CombinedTensor) ([]*tensor.CombinedTensor, error) {
	if len(inputs) < 2 {
		return nil, fmt.Errorf("error: expected prediction+label inputs: %w", cnerr.ErrShape)
	}
	if !inputs[0].Data.SameShape(inputs[1].Data) {
		return nil, fmt.Errorf("error: prediction/label shape mismatch: %w", cnerr.ErrShape)
	}
	out, err := tensor.NewCombinedTensor(1, 1, 1, 1)
	if err != nil {
		return nil, err
	}
	return []*tensor.CombinedTensor{out}, nil
}

func (e *Error) Connect(inputs, outputs []*tensor.CombinedTensor, status NetStatus) error {
	if _, err := e.CreateOutputs(inputs); err != nil {
		return err
	}
	if len(outputs) != 1 {
		return fmt.Errorf("error: expected 1 output: %w", cnerr.ErrWiring)
	}
	e.Base.Inputs, e.Base.Outputs, e.Base.Status = inputs, outputs, status
	return nil
}

func (e *Error) Loss() float64 { return e.loss }

func (e *Error) weight(i int) float64 {
	if len(e.Inputs) > 2 {
		return float64(e.Inputs[2].Data.Data()[i])
	}
	return 1
}

func (e *Error) Forward() error {
	pred := e.Inputs[0].Data.Data()
	label := e.Inputs[1].Data.Data()
	predDelta := e.Inputs[0].Delta.Data()

	var sum float64
	for i := range pred {
		w := e.weight(i)
		d := float64(pred[i] - label[i])
		sum += w * d * d
		predDelta[i] += tensor.Datum(2 * w * d)
	}
	e.loss = sum
	e.Outputs[0].Data.Set(0, 0, 0, 0, tensor.Datum(sum))
	return nil
}

func (e *Error) Backward(backpropInput []bool) error { return nil }

// MultiClassError is cross-entropy loss over a one-hot/soft label
// distribution along the map axis, typically following a softmax
// NonLinearity.
type MultiClassError struct {
	Base

	loss float64
}

func NewMultiClassError() *MultiClassError { return &MultiClassError{} }

func (e *MultiClassError) Capabilities() Capabilities { return Capabilities{IsLoss: true} }

func (e *MultiClassError) CreateOutputs(inputs []*tensor.CombinedTensor) ([]*tensor.CombinedTensor, error) {
	if len(inputs) < 2 {
		return nil, fmt.Errorf("multiclass_error: expected prediction+label inputs: %w", cnerr.ErrShape)
	}
	if !inputs[0].Data.SameShape(inputs[1].Data) {
		return nil, fmt.Errorf("multiclass_error: prediction/label shape mismatch: %w", cnerr.ErrShape)
	}
	out, err := tensor.NewCombinedTensor(1, 1, 1, 1)
	if err != nil {
		return nil, err
	}
	return []*tensor.CombinedTensor{out}, nil
}

func (e *MultiClassError) Connect(inputs, outputs []*tensor.CombinedTensor, status NetStatus) error {
	if _, err := e.CreateOutputs(inputs); err != nil {
		return err
	}
	if len(outputs) != 1 {
		return fmt.Errorf("multiclass_error: expected 1 output: %w", cnerr.ErrWiring)
	}
	e.Base.Inputs, e.Base.Outputs, e.Base.Status = inputs, outputs, status
	return nil
}

func (e *MultiClassError) Loss() float64 { return e.loss }

const epsilon = 1e-7

func (e *MultiClassError) Forward() error {
	pred := e.Inputs[0].Data.Data()
	label := e.Inputs[1].Data.Data()
	predDelta := e.Inputs[0].Delta.Data()

	var sum float64
	for i := range pred {
		p := math.Max(float64(pred[i]), epsilon)
		t := float64(label[i])
		sum -= t * math.Log(p)
		predDelta[i] += tensor.Datum(-t / p)
	}
	e.loss = sum
	e.Outputs[0].Data.Set(0, 0, 0, 0, tensor.Datum(sum))
	return nil
}

func (e *MultiClassError) Backward(backpropInput []bool) error { return nil }

// ConfusionMatrix accumulates a class x class matrix of (predicted, actual)
// counts for classification tasks until Reset is called.
type ConfusionMatrix struct {
	Base

	Classes int
	matrix  []int // row-major [actual][predicted]
}

func NewConfusionMatrix(classes int) *ConfusionMatrix {
	return &ConfusionMatrix{Classes: classes, matrix: make([]int, classes*classes)}
}

func (c *ConfusionMatrix) Capabilities() Capabilities { return Capabilities{} }

func (c *ConfusionMatrix) CreateOutputs(inputs []*tensor.CombinedTensor) ([]*tensor.CombinedTensor, error) {
	if len(inputs) < 2 {
		return nil, fmt.Errorf("confusion_matrix: expected prediction+label inputs: %w", cnerr.ErrShape)
	}
	out, err := tensor.NewCombinedTensor(1, 1, 1, 1)
	if err != nil {
		return nil, err
	}
	return []*tensor.CombinedTensor{out}, nil
}

func (c *ConfusionMatrix) Connect(inputs, outputs []*tensor.CombinedTensor, status NetStatus) error {
	if _, err := c.CreateOutputs(inputs); err != nil {
		return err
	}
	c.Base.Inputs, c.Base.Outputs, c.Base.Status = inputs, outputs, status
	return nil
}

// Reset clears the accumulated matrix.
func (c *ConfusionMatrix) Reset() {
	for i := range c.matrix {
		c.matrix[i] = 0
	}
}

func (c *ConfusionMatrix) At(actual, predicted int) int {
	return c.matrix[actual*c.Classes+predicted]
}

func (c *ConfusionMatrix) Forward() error {
	pred := c.Inputs[0].Data
	label := c.Inputs[1].Data
	s, m, h, w := pred.Shape()
	for si := 0; si < s; si++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				predClass, actualClass := 0, 0
				var bestPred, bestLabel tensor.Datum
				for mm := 0; mm < m; mm++ {
					if v := pred.At(si, mm, y, x); mm == 0 || v > bestPred {
						bestPred, predClass = v, mm
					}
					if v := label.At(si, mm, y, x); mm == 0 || v > bestLabel {
						bestLabel, actualClass = v, mm
					}
				}
				c.matrix[actualClass*c.Classes+predClass]++
			}
		}
	}
	return nil
}

func (c *ConfusionMatrix) Backward(backpropInput []bool) error { return nil }

// BinaryStat tracks true/false positive/negative counts for a
// binary_segmentation task, thresholding predictions at 0.5.
type BinaryStat struct {
	Base

	TruePositive, TrueNegative, FalsePositive, FalseNegative int
}

func NewBinaryStat() *BinaryStat { return &BinaryStat{} }

func (b *BinaryStat) Capabilities() Capabilities { return Capabilities{} }

func (b *BinaryStat) CreateOutputs(inputs []*tensor.CombinedTensor) ([]*tensor.CombinedTensor, error) {
	if len(inputs) < 2 {
		return nil, fmt.Errorf("binary_stat: expected prediction+label inputs: %w", cnerr.ErrShape)
	}
	out, err := tensor.NewCombinedTensor(1, 1, 1, 1)
	if err != nil {
		return nil, err
	}
	return []*tensor.CombinedTensor{out}, nil
}

func (b *BinaryStat) Connect(inputs, outputs []*tensor.CombinedTensor, status NetStatus) error {
	if _, err := b.CreateOutputs(inputs); err != nil {
		return err
	}
	b.Base.Inputs, b.Base.Outputs, b.Base.Status = inputs, outputs, status
	return nil
}

func (b *BinaryStat) Reset() {
	b.TruePositive, b.TrueNegative, b.FalsePositive, b.FalseNegative = 0, 0, 0, 0
}

func (b *BinaryStat) Forward() error {
	pred := b.Inputs[0].Data.Data()
	label := b.Inputs[1].Data.Data()
	for i := range pred {
		p := pred[i] >= 0.5
		t := label[i] >= 0.5
		switch {
		case p && t:
			b.TruePositive++
		case !p && !t:
			b.TrueNegative++
		case p && !t:
			b.FalsePositive++
		default:
			b.FalseNegative++
		}
	}
	return nil
}

func (b *BinaryStat) Backward(backpropInput []bool) error { return nil }

// DetectionStat accumulates per-class true/false positive counts for object
// detection tasks by matching the input CombinedTensor's decoded boxes
// (from YOLODetectionLayer's metadata) against ground-truth boxes in the
// label CombinedTensor's metadata, at a configurable IoU threshold.
type DetectionStat struct {
	Base

	IoUThreshold float64

	TruePositive, FalsePositive, FalseNegative map[int]int
}

func NewDetectionStat(iouThreshold float64) *DetectionStat {
	return &DetectionStat{
		IoUThreshold:  iouThreshold,
		TruePositive:  make(map[int]int),
		FalsePositive: make(map[int]int),
		FalseNegative: make(map[int]int),
	}
}

func (d *DetectionStat) Capabilities() Capabilities { return Capabilities{DynamicAware: true} }

func (d *DetectionStat) CreateOutputs(inputs []*tensor.CombinedTensor) ([]*tensor.CombinedTensor, error) {
	if len(inputs) < 2 {
		return nil, fmt.Errorf("detection_stat: expected prediction+label inputs: %w", cnerr.ErrShape)
	}
	out, err := tensor.NewCombinedTensor(1, 1, 1, 1)
	if err != nil {
		return nil, err
	}
	return []*tensor.CombinedTensor{out}, nil
}

func (d *DetectionStat) Connect(inputs, outputs []*tensor.CombinedTensor, status NetStatus) error {
	if _, err := d.CreateOutputs(inputs); err != nil {
		return err
	}
	d.Base.Inputs, d.Base.Outputs, d.Base.Status = inputs, outputs, status
	return nil
}

func (d *DetectionStat) Reset() {
	d.TruePositive = make(map[int]int)
	d.FalsePositive = make(map[int]int)
	d.FalseNegative = make(map[int]int)
}

func (d *DetectionStat) Forward() error {
	pred := d.Inputs[0]
	label := d.Inputs[1]
	for si := range pred.Meta {
		matched := make([]bool, 0)
		if si < len(label.Meta) {
			matched = make([]bool, len(label.Meta[si].Boxes))
		}
		for _, box := range pred.Meta[si].Boxes {
			bestIoU, bestIdx := -1.0, -1
			if si < len(label.Meta) {
				for gi, gt := range label.Meta[si].Boxes {
					if gt.Class != box.Class || matched[gi] {
						continue
					}
					if iou := box.IntersectionOverUnion(gt); iou > bestIoU {
						bestIoU, bestIdx = iou, gi
					}
				}
			}
			if bestIdx >= 0 && bestIoU >= d.IoUThreshold {
				matched[bestIdx] = true
				d.TruePositive[box.Class]++
			} else {
				d.FalsePositive[box.Class]++
			}
		}
		if si < len(label.Meta) {
			for gi, gt := range label.Meta[si].Boxes {
				if !matched[gi] {
					d.FalseNegative[gt.Class]++
				}
			}
		}
	}
	return nil
}

func (d *DetectionStat) Backward(backpropInput []bool) error { return nil }
