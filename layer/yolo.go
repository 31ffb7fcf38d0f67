package layer

import (
	"fmt"
	"math"

	"github.com/milosgajdos83/cn24/boundingbox"
	"github.com/milosgajdos83/cn24/cnerr"
	"github.com/milosgajdos83/cn24/tensor"
)

// YOLODetectionLayer decodes a network's raw final tensor into per-cell
// bounding boxes with objectness and class scores, writing the emitted
// boxes into the output's per-sample metadata slot. It is otherwise an
// identity transform on the data: backward is a pure pass-through of
// gradients, because training loss is computed by the separate
// YOLOLossLayer against the same raw tensor.
//
// Per spec.md's layout, a sample's H*V spatial grid (width=HorizontalCells,
// height=VerticalCells) carries, map-wise:
//
//	[0, 5B)      (dx,dy,sqrt(w),sqrt(h),iou) per box, 5 maps each
//	[5B, 5B+C)   class distribution, shared across boxes in the cell
//
// with C inferred as the total map count minus 5*BoxesPerCell.
type YOLODetectionLayer struct {
	Base

	HorizontalCells, VerticalCells, BoxesPerCell int
	ConfidenceThreshold                          float64
	DoNMS                                        bool

	classes int
}

func NewYOLODetectionLayer(hCells, vCells, boxesPerCell int, confidenceThreshold float64, doNMS bool) *YOLODetectionLayer {
	return &YOLODetectionLayer{HorizontalCells: hCells, VerticalCells: vCells, BoxesPerCell: boxesPerCell, ConfidenceThreshold: confidenceThreshold, DoNMS: doNMS}
}

func (y *YOLODetectionLayer) Capabilities() Capabilities {
	return Capabilities{DynamicAware: true}
}

func (y *YOLODetectionLayer) CreateOutputs(inputs []*tensor.CombinedTensor) ([]*tensor.CombinedTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("yolo_detection: expected 1 input: %w", cnerr.ErrShape)
	}
	s, m, h, w := inputs[0].Data.Shape()
	if w != y.HorizontalCells || h != y.VerticalCells {
		return nil, fmt.Errorf("yolo_detection: input grid %dx%d does not match %dx%d: %w", w, h, y.HorizontalCells, y.VerticalCells, cnerr.ErrShape)
	}
	out, err := tensor.NewCombinedTensor(s, m, h, w)
	if err != nil {
		return nil, err
	}
	out.IsDynamic = true
	return []*tensor.CombinedTensor{out}, nil
}

func (y *YOLODetectionLayer) Connect(inputs, outputs []*tensor.CombinedTensor, status NetStatus) error {
	want, err := y.CreateOutputs(inputs)
	if err != nil {
		return err
	}
	if len(outputs) != 1 || !outputs[0].Data.SameShape(want[0].Data) {
		return fmt.Errorf("yolo_detection: connect/create_outputs shape mismatch: %w", cnerr.ErrWiring)
	}
	_, m, _, _ := inputs[0].Data.Shape()
	y.classes = m - 5*y.BoxesPerCell
	if y.classes < 0 {
		return fmt.Errorf("yolo_detection: map count %d too small for %d boxes per cell: %w", m, y.BoxesPerCell, cnerr.ErrShape)
	}
	y.Base.Inputs, y.Base.Outputs, y.Base.Status = inputs, outputs, status
	return nil
}

func (y *YOLODetectionLayer) Forward() error {
	in := y.Inputs[0].Data
	out := y.Outputs[0].Data
	copy(out.Data(), in.Data())

	s, _, _, _ := in.Shape()
	y.Outputs[0].EnsureMeta(s)

	H, V, B, C := y.HorizontalCells, y.VerticalCells, y.BoxesPerCell, y.classes
	for si := 0; si < s; si++ {
		var boxes []boundingbox.BoundingBox
		for vcell := 0; vcell < V; vcell++ {
			for hcell := 0; hcell < H; hcell++ {
				classProbs := make([]float64, C)
				for c := 0; c < C; c++ {
					classProbs[c] = float64(in.At(si, 5*B+c, vcell, hcell))
				}
				bestClass, bestProb := argmax(classProbs)
				for b := 0; b < B; b++ {
					base := b * 5
					iou := float64(in.At(si, base+4, vcell, hcell))
					if iou <= y.ConfidenceThreshold {
						continue
					}
					dx := float64(in.At(si, base+0, vcell, hcell))
					dy := float64(in.At(si, base+1, vcell, hcell))
					sw := float64(in.At(si, base+2, vcell, hcell))
					sh := float64(in.At(si, base+3, vcell, hcell))

					box := boundingbox.BoundingBox{
						X:     (float64(hcell) + dx) / float64(H),
						Y:     (float64(vcell) + dy) / float64(V),
						W:     sw * sw,
						H:     sh * sh,
						Score: iou * bestProb,
						Class: bestClass,
					}
					boxes = append(boxes, box)
				}
			}
		}
		if y.DoNMS {
			boxes = boundingbox.NMS(boxes)
		}
		y.Outputs[0].Meta[si] = tensor.PerSampleMeta{Boxes: boxes}
	}
	return nil
}

func argmax(v []float64) (int, float64) {
	if len(v) == 0 {
		return 0, 0
	}
	best, bestVal := 0, v[0]
	for i := 1; i < len(v); i++ {
		if v[i] > bestVal {
			best, bestVal = i, v[i]
		}
	}
	return best, bestVal
}

func (y *YOLODetectionLayer) Backward(backpropInput []bool) error {
	if len(backpropInput) > 0 && !backpropInput[0] {
		return nil
	}
	outDelta := y.Outputs[0].Delta.Data()
	inDelta := y.Inputs[0].Delta.Data()
	for i := range inDelta {
		inDelta[i] += outDelta[i]
	}
	return nil
}

// YOLOLossLayer compares the raw prediction tensor (the same layout
// YOLODetectionLayer decodes) against per-sample ground-truth boxes carried
// in its second input's metadata. Ground truth boxes are assigned to the
// grid cell containing their centre and, within that cell, to whichever
// predictor currently has the highest IoU against them. Assigned predictors
// are pushed toward the ground-truth coordinates and toward IoU 1;
// unassigned predictors are pushed toward IoU 0. The label input's tensor
// data itself is unused, only its metadata.
type YOLOLossLayer struct {
	Base

	HorizontalCells, VerticalCells, BoxesPerCell int
	CoordWeight, ObjectWeight, NoObjectWeight    float64

	classes int
	loss    float64
}

func NewYOLOLossLayer(hCells, vCells, boxesPerCell int, coordWeight, objectWeight, noObjectWeight float64) *YOLOLossLayer {
	return &YOLOLossLayer{
		HorizontalCells: hCells, VerticalCells: vCells, BoxesPerCell: boxesPerCell,
		CoordWeight: coordWeight, ObjectWeight: objectWeight, NoObjectWeight: noObjectWeight,
	}
}

func (y *YOLOLossLayer) Capabilities() Capabilities {
	return Capabilities{IsLoss: true, DynamicAware: true}
}

func (y *YOLOLossLayer) CreateOutputs(inputs []*tensor.CombinedTensor) ([]*tensor.CombinedTensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("yolo_loss: expected 2 inputs (predictions, labels): %w", cnerr.ErrShape)
	}
	out, err := tensor.NewCombinedTensor(1, 1, 1, 1)
	if err != nil {
		return nil, err
	}
	return []*tensor.CombinedTensor{out}, nil
}

func (y *YOLOLossLayer) Connect(inputs, outputs []*tensor.CombinedTensor, status NetStatus) error {
	if len(inputs) != 2 {
		return fmt.Errorf("yolo_loss: expected 2 inputs (predictions, labels): %w", cnerr.ErrShape)
	}
	if len(outputs) != 1 {
		return fmt.Errorf("yolo_loss: expected 1 output: %w", cnerr.ErrWiring)
	}
	_, m, h, w := inputs[0].Data.Shape()
	if w != y.HorizontalCells || h != y.VerticalCells {
		return fmt.Errorf("yolo_loss: input grid %dx%d does not match %dx%d: %w", w, h, y.HorizontalCells, y.VerticalCells, cnerr.ErrShape)
	}
	y.classes = m - 5*y.BoxesPerCell
	if y.classes < 0 {
		return fmt.Errorf("yolo_loss: map count %d too small for %d boxes per cell: %w", m, y.BoxesPerCell, cnerr.ErrShape)
	}
	y.Base.Inputs, y.Base.Outputs, y.Base.Status = inputs, outputs, status
	return nil
}

func (y *YOLOLossLayer) Loss() float64 { return y.loss }

// assignment records, for one ground-truth box, which cell and predictor
// it was matched to.
type yoloAssignment struct {
	vcell, hcell, box int
	gt                boundingbox.BoundingBox
	iou               float64
}

func (y *YOLOLossLayer) predictedBox(in *tensor.Tensor, si, vcell, hcell, b int) boundingbox.BoundingBox {
	H, V := y.HorizontalCells, y.VerticalCells
	base := b * 5
	dx := float64(in.At(si, base+0, vcell, hcell))
	dy := float64(in.At(si, base+1, vcell, hcell))
	sw := float64(in.At(si, base+2, vcell, hcell))
	sh := float64(in.At(si, base+3, vcell, hcell))
	return boundingbox.BoundingBox{
		X: (float64(hcell) + dx) / float64(H),
		Y: (float64(vcell) + dy) / float64(V),
		W: sw * sw,
		H: sh * sh,
	}
}

func (y *YOLOLossLayer) Forward() error {
	in := y.Inputs[0].Data
	inDelta := y.Inputs[0].Delta
	labels := y.Inputs[1]
	s, _, _, _ := in.Shape()
	H, V, B := y.HorizontalCells, y.VerticalCells, y.BoxesPerCell

	inDelta.Clear(0)
	var totalLoss float64

	for si := 0; si < s; si++ {
		assigned := make(map[[2]int]bool) // (cellIdx, box) -> true
		var assignments []yoloAssignment

		if si < len(labels.Meta) {
			for _, gt := range labels.Meta[si].Boxes {
				hcell := clampIdx(int(gt.X*float64(H)), H)
				vcell := clampIdx(int(gt.Y*float64(V)), V)
				bestBox, bestIoU := 0, -1.0
				for b := 0; b < B; b++ {
					pred := y.predictedBox(in, si, vcell, hcell, b)
					iou := pred.IntersectionOverUnion(gt)
					if iou > bestIoU {
						bestBox, bestIoU = b, iou
					}
				}
				assigned[[2]int{vcell*H + hcell, bestBox}] = true
				assignments = append(assignments, yoloAssignment{vcell: vcell, hcell: hcell, box: bestBox, gt: gt, iou: bestIoU})
			}
		}

		for _, a := range assignments {
			base := a.box * 5
			dx := float64(in.At(si, base+0, a.vcell, a.hcell))
			dy := float64(in.At(si, base+1, a.vcell, a.hcell))
			sw := float64(in.At(si, base+2, a.vcell, a.hcell))
			sh := float64(in.At(si, base+3, a.vcell, a.hcell))
			iou := float64(in.At(si, base+4, a.vcell, a.hcell))

			gdx := a.gt.X*float64(H) - float64(a.hcell)
			gdy := a.gt.Y*float64(V) - float64(a.vcell)
			gsw := math.Sqrt(math.Max(a.gt.W, 0))
			gsh := math.Sqrt(math.Max(a.gt.H, 0))

			coordErr := (dx-gdx)*(dx-gdx) + (dy-gdy)*(dy-gdy) + (sw-gsw)*(sw-gsw) + (sh-gsh)*(sh-gsh)
			objErr := (iou - 1) * (iou - 1)
			totalLoss += y.CoordWeight*coordErr + y.ObjectWeight*objErr

			inDelta.Set(si, base+0, a.vcell, a.hcell, tensor.Datum(2*y.CoordWeight*(dx-gdx)))
			inDelta.Set(si, base+1, a.vcell, a.hcell, tensor.Datum(2*y.CoordWeight*(dy-gdy)))
			inDelta.Set(si, base+2, a.vcell, a.hcell, tensor.Datum(2*y.CoordWeight*(sw-gsw)))
			inDelta.Set(si, base+3, a.vcell, a.hcell, tensor.Datum(2*y.CoordWeight*(sh-gsh)))
			inDelta.Set(si, base+4, a.vcell, a.hcell, tensor.Datum(2*y.ObjectWeight*(iou-1)))

			if a.gt.Class >= 0 && a.gt.Class < y.classes {
				for c := 0; c < y.classes; c++ {
					p := float64(in.At(si, 5*B+c, a.vcell, a.hcell))
					target := 0.0
					if c == a.gt.Class {
						target = 1.0
					}
					totalLoss += (p - target) * (p - target)
					inDelta.Set(si, 5*B+c, a.vcell, a.hcell, tensor.Datum(2*(p-target)))
				}
			}
		}

		for vcell := 0; vcell < V; vcell++ {
			for hcell := 0; hcell < H; hcell++ {
				for b := 0; b < B; b++ {
					if assigned[[2]int{vcell*H + hcell, b}] {
						continue
					}
					base := b * 5
					iou := float64(in.At(si, base+4, vcell, hcell))
					totalLoss += y.NoObjectWeight * iou * iou
					inDelta.Set(si, base+4, vcell, hcell, tensor.Datum(2*y.NoObjectWeight*iou))
				}
			}
		}
	}

	y.loss = totalLoss
	y.Outputs[0].Data.Set(0, 0, 0, 0, tensor.Datum(totalLoss))
	return nil
}

func (y *YOLOLossLayer) Backward(backpropInput []bool) error {
	return nil
}

func clampIdx(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}
