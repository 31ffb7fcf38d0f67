package layer

import (
	"testing"

	"github.com/milosgajdos83/cn24/boundingbox"
	"github.com/milosgajdos83/cn24/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// connectYOLODetection wires a 1-box, 2-class detection layer over a 1x1
// grid and returns the connected layer plus its input/output tensors.
func connectYOLODetection(t *testing.T) (*YOLODetectionLayer, *tensor.CombinedTensor, *tensor.CombinedTensor) {
	t.Helper()
	// 5 maps per box (dx,dy,sqrt(w),sqrt(h),iou) + 2 classes = 7 maps.
	in, err := tensor.NewCombinedTensor(1, 7, 1, 1)
	require.NoError(t, err)
	y := NewYOLODetectionLayer(1, 1, 1, 0.1, false)
	outs, err := y.CreateOutputs([]*tensor.CombinedTensor{in})
	require.NoError(t, err)
	require.NoError(t, y.Connect([]*tensor.CombinedTensor{in}, outs, NetStatus{}))
	return y, in, outs[0]
}

func TestYOLODetectionConnectInfersClassCount(t *testing.T) {
	y, _, _ := connectYOLODetection(t)
	assert.Equal(t, 2, y.classes)
}

func TestYOLODetectionConnectRejectsTooFewMaps(t *testing.T) {
	in, err := tensor.NewCombinedTensor(1, 3, 1, 1)
	require.NoError(t, err)
	y := NewYOLODetectionLayer(1, 1, 1, 0.1, false)
	outs, err := y.CreateOutputs([]*tensor.CombinedTensor{in})
	require.NoError(t, err)
	err = y.Connect([]*tensor.CombinedTensor{in}, outs, NetStatus{})
	assert.Error(t, err)
}

func TestYOLODetectionForwardReadsPackedPerBoxLayout(t *testing.T) {
	y, in, out := connectYOLODetection(t)

	// box: dx=0.5, dy=0.5, sqrt(w)=0.4, sqrt(h)=0.4, iou=0.9; class 1 wins.
	in.Data.Set(0, 0, 0, 0, 0.5)
	in.Data.Set(0, 1, 0, 0, 0.5)
	in.Data.Set(0, 2, 0, 0, 0.4)
	in.Data.Set(0, 3, 0, 0, 0.4)
	in.Data.Set(0, 4, 0, 0, 0.9)
	in.Data.Set(0, 5, 0, 0, 0.1) // class 0
	in.Data.Set(0, 6, 0, 0, 0.8) // class 1

	require.NoError(t, y.Forward())

	require.Len(t, out.Meta[0].Boxes, 1)
	box := out.Meta[0].Boxes[0]
	assert.Equal(t, 1, box.Class)
	assert.InDelta(t, 0.5, box.X, 1e-6)
	assert.InDelta(t, 0.5, box.Y, 1e-6)
	assert.InDelta(t, 0.16, box.W, 1e-6)
	assert.InDelta(t, 0.16, box.H, 1e-6)
}

func TestYOLODetectionForwardDropsBelowConfidenceThreshold(t *testing.T) {
	y, in, out := connectYOLODetection(t)
	in.Data.Set(0, 4, 0, 0, 0.05) // below the 0.1 threshold
	require.NoError(t, y.Forward())
	assert.Empty(t, out.Meta[0].Boxes)
}

func connectYOLOLoss(t *testing.T) (*YOLOLossLayer, *tensor.CombinedTensor, *tensor.CombinedTensor) {
	t.Helper()
	in, err := tensor.NewCombinedTensor(1, 7, 1, 1)
	require.NoError(t, err)
	labels, err := tensor.NewCombinedTensor(1, 1, 1, 1)
	require.NoError(t, err)
	y := NewYOLOLossLayer(1, 1, 1, 1.0, 1.0, 0.5)
	outs, err := y.CreateOutputs([]*tensor.CombinedTensor{in, labels})
	require.NoError(t, err)
	require.NoError(t, y.Connect([]*tensor.CombinedTensor{in, labels}, outs, NetStatus{}))
	return y, in, labels
}

func TestYOLOLossAssignedExactPredictionHasZeroLoss(t *testing.T) {
	y, in, labels := connectYOLOLoss(t)
	labels.EnsureMeta(1)
	labels.Meta[0] = tensor.PerSampleMeta{Boxes: []boundingbox.BoundingBox{
		{X: 0.5, Y: 0.5, W: 0.16, H: 0.16, Class: 1},
	}}

	in.Data.Set(0, 0, 0, 0, 0.5)
	in.Data.Set(0, 1, 0, 0, 0.5)
	in.Data.Set(0, 2, 0, 0, 0.4)
	in.Data.Set(0, 3, 0, 0, 0.4)
	in.Data.Set(0, 4, 0, 0, 1.0)
	in.Data.Set(0, 5, 0, 0, 0.0) // class 0
	in.Data.Set(0, 6, 0, 0, 1.0) // class 1 (matches target exactly)

	require.NoError(t, y.Forward())
	assert.InDelta(t, 0.0, y.Loss(), 1e-9)
}

func TestYOLOLossPenalizesUnassignedObjectness(t *testing.T) {
	y, in, labels := connectYOLOLoss(t)
	labels.EnsureMeta(1) // no ground-truth boxes: every predictor is unassigned

	in.Data.Set(0, 4, 0, 0, 0.6) // predicted iou/objectness for the lone box

	require.NoError(t, y.Forward())
	iou := float64(tensor.Datum(0.6)) // the value as stored in the float32 tensor
	assert.InDelta(t, 0.5*iou*iou, y.Loss(), 1e-9)
	assert.InDelta(t, float64(tensor.Datum(2*0.5*iou)), float64(in.Delta.At(0, 4, 0, 0)), 1e-9)
}
