// Package boundingbox implements the BoundingBox geometry algebra shared by
// the detection label encoder and the YOLO layers: intersection, union,
// IoU, and non-maximum suppression.
//
// Coordinates are center-based: (X,Y) is the box center, (W,H) its extent,
// matching the original CN24 convention recovered from
// include/cn24/util/BoundingBox.h.
package boundingbox

import "sort"

// BoundingBox is a single detected or ground-truth box, normalized to
// [0,1] image coordinates when produced by the dataset pipeline.
type BoundingBox struct {
	X, Y, W, H float64
	Score      float64
	Class      int

	// Flag1 is scratch space used during assignment calculations; callers
	// must reset it to false after use. Flag2 is set by certain datasets
	// and must never be changed downstream.
	Flag1, Flag2 bool
}

// New constructs a BoundingBox from center coordinates and extent.
func New(x, y, w, h float64) BoundingBox {
	return BoundingBox{X: x, Y: y, W: w, H: h}
}

// Overlap1D returns the 1-D overlap length of two centered intervals.
func Overlap1D(center1, size1, center2, size2 float64) float64 {
	left1 := center1 - size1/2.0
	left2 := center2 - size2/2.0
	innerLeft := left1
	if left2 > innerLeft {
		innerLeft = left2
	}
	right1 := center1 + size1/2.0
	right2 := center2 + size2/2.0
	innerRight := right1
	if right2 < innerRight {
		innerRight = right2
	}
	return innerRight - innerLeft
}

// Intersection returns the intersection area of two boxes, or 0 when they
// do not overlap on either axis.
func (b BoundingBox) Intersection(o BoundingBox) float64 {
	h := Overlap1D(b.X, b.W, o.X, o.W)
	v := Overlap1D(b.Y, b.H, o.Y, o.H)
	if h < 0 || v < 0 {
		return 0
	}
	return h * v
}

// Union returns the union area of two boxes.
func (b BoundingBox) Union(o BoundingBox) float64 {
	inter := b.Intersection(o)
	return b.W*b.H + o.W*o.H - inter
}

// IntersectionOverUnion returns the IoU of two boxes.
func (b BoundingBox) IntersectionOverUnion(o BoundingBox) float64 {
	union := b.Union(o)
	if union == 0 {
		return 0
	}
	return b.Intersection(o) / union
}

// NMS performs non-maximum suppression in place semantics: it returns a new
// slice containing the surviving boxes. Boxes are considered in descending
// score order; for each pair of same-class boxes with IoU > 0.5 the lower
// score is zeroed, and zero-scored boxes are dropped at the end.
func NMS(boxes []BoundingBox) []BoundingBox {
	sorted := make([]BoundingBox, len(boxes))
	copy(sorted, boxes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})
	for i := 0; i < len(sorted); i++ {
		if sorted[i].Score == 0 {
			continue
		}
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j].Score == 0 || sorted[j].Class != sorted[i].Class {
				continue
			}
			if sorted[i].IntersectionOverUnion(sorted[j]) > 0.5 {
				sorted[j].Score = 0
			}
		}
	}
	out := sorted[:0]
	for _, b := range sorted {
		if b.Score != 0 {
			out = append(out, b)
		}
	}
	return out
}
